// Package main is the entry point for the cronguard binary.
package main

import (
	"os"

	"github.com/cronnarc/cronguard/cmd/cronguard/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
