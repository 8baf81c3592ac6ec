// Package main is the entry point for the nabcore CLI.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "nabcore:", err)
		os.Exit(1)
	}
}
