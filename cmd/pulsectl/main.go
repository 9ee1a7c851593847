// Command pulsectl runs admin tasks against a Pulse entity store: moving data
// between backends, exporting backups, issuing tokens and reading the phase.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
