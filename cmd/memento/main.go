// Package main implements the memento CLI: a filesystem watcher that feeds
// the Sync Coordinator, plus operator commands for checkpoints, rollback,
// and a quick read of the knowledge graph's size.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
