// Package main is the entry point for the recarr application.
package main

import (
	"os"

	"github.com/jmylchreest/recarr/cmd/recarr/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
