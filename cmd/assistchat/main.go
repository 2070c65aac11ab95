// Package main provides the entry point for the assistchat CLI.
package main

import (
	"os"

	"github.com/RyugoHori/AssistChat-Portfolio/cmd/assistchat/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
