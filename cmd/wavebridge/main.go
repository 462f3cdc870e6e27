// Package main provides the wavebridge CLI.
//
// Usage:
//
//	wavebridge [flags] <command> [args]
//
// Commands:
//
//	serve   - Run the HTTP bridge to the acoustic modem
//	send    - Transmit one message to an in-process wallet peer
//	version - Print build information
package main

import (
	"fmt"
	"os"

	"github.com/gibberwallet/wavebridge/cmd/wavebridge/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
