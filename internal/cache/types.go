// Package cache provides the durable read-through cache for patient data
// and the Manager that fills it from the remote source.
//
// # Overview
//
// Values are JSON documents addressed by a Key, an ordered list of path
// segments. The filesystem backend stores each value at
// <root>/<segment>/.../<segment>, e.g.
//
//	~/.vitals/cache/patients/list
//	~/.vitals/cache/vitals/1032702
//
// # Read-through
//
// Callers always try Get first. On a miss they fetch from the remote
// source, Set the result and return it. There is no existence check, no
// delete and no expiry: an entry, once written, is served until someone
// removes it by hand.
//
// # Misses
//
// A lookup misses when nothing was written, when the backend cannot read
// the entry, when the stored payload does not decode, or when the cache is
// disabled. Lookup reports which of these happened; undecodable payloads
// are logged and counted separately so a corrupt store is visible.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// KeySeparator joins key segments into a storage location.
const KeySeparator = "/"

var (
	// ErrInvalidKey is returned for keys that could alias another key's location.
	ErrInvalidKey = errors.New("cache: key is invalid")

	// ErrStorage wraps every failure to durably write an entry.
	ErrStorage = errors.New("cache: storage failure")
)

// Key is an ordered sequence of non-empty segments. Two keys are equal iff
// their segments are equal.
type Key []string

// NewKey validates segments and returns them as a Key.
func NewKey(segments ...string) (Key, error) {
	k := Key(segments)
	if err := k.Validate(); err != nil {
		return nil, err
	}
	return k, nil
}

// MustKey is NewKey for keys built from trusted segments. It panics on an
// invalid key.
func MustKey(segments ...string) Key {
	k, err := NewKey(segments...)
	if err != nil {
		panic(err)
	}
	return k
}

// Validate rejects keys whose segments are empty or could escape or alias
// another location.
func (k Key) Validate() error {
	if len(k) == 0 {
		return fmt.Errorf("%w: no segments", ErrInvalidKey)
	}
	for i, seg := range k {
		switch {
		case seg == "":
			return fmt.Errorf("%w: segment %d is empty", ErrInvalidKey, i)
		case seg == "." || seg == "..":
			return fmt.Errorf("%w: segment %d is %q", ErrInvalidKey, i, seg)
		case strings.Contains(seg, KeySeparator):
			return fmt.Errorf("%w: segment %q contains %q", ErrInvalidKey, seg, KeySeparator)
		case strings.ContainsRune(seg, 0):
			return fmt.Errorf("%w: segment %d contains NUL", ErrInvalidKey, i)
		}
	}
	return nil
}

// String joins the segments with KeySeparator.
func (k Key) String() string {
	return strings.Join(k, KeySeparator)
}

// Backend is the interface for cache storage backends.
// The default implementation is FilesystemBackend which stores JSON files on disk.
type Backend interface {
	// Read returns the stored bytes for key. Absent and unreadable entries
	// both report false.
	Read(ctx context.Context, key Key) ([]byte, bool)

	// Write persists data under key before returning, replacing any
	// previous value.
	Write(ctx context.Context, key Key, data []byte) error

	// Location returns where key is stored (for debugging).
	Location(key Key) string
}

// Outcome classifies a lookup.
type Outcome int

const (
	OutcomeHit Outcome = iota
	OutcomeAbsent
	OutcomeCorrupt
	OutcomeDisabled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeHit:
		return "hit"
	case OutcomeAbsent:
		return "absent"
	case OutcomeCorrupt:
		return "corrupt"
	case OutcomeDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}
