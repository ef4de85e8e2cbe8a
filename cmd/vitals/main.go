// Package main provides the entry point for the vitals CLI.
package main

import (
	"github.com/colthorp/vitals-cli-go/internal/cli"
)

func main() {
	cli.Execute()
}
