// Package main is the entry point for the mindney CLI.
package main

import (
	"fmt"
	"os"

	"github.com/mindney/mindney-go/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
