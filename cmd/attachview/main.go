// Package main provides the entry point for the attachview CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/attachview/cmd/attachview/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
