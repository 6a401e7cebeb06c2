// Package main is the entry point for the lappd event reconstruction daemon.
package main

import (
	"os"

	"firestige.xyz/lappd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
