// Package core provides shared constants, configuration and helpers for the vitals CLI.
package core

import (
	"os"
	"path/filepath"
)

// Remote source defaults
const (
	DefaultBaseURL         = "https://fhir-open-api.smarthealthit.org"
	DefaultIdentifierLabel = "SMART Hospital MRN"
	EnvPrefix              = "VITALS"
)

// Date formats
const (
	DateFmt = "2006-01-02"
)

// Window of interest used when no --start/--stop is given.
const (
	DefaultStartDate = "2005-01-01"
	DefaultStopDate  = "2007-01-01"
)

// Report defaults
const (
	DefaultMinCount = 50
)

// Cache backends
const (
	CacheBackendFilesystem = "filesystem"
	CacheBackendRedis      = "redis"
)

// CacheRoot returns the default cache directory path.
func CacheRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".vitals", "cache")
}

// Version is the current CLI version.
const Version = "0.3.0"
