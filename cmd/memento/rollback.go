package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var rollbackSince string

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Restore every entity changed after a point in time to its prior version",
	Long: `rollback is a cold-start operation: unlike a live "memento watch" process's
in-memory compensation log, this command has no record of what changed, so
it restores any entity whose lastModified falls after --since to its most
recent version at or before that time, using the History Manager's version
log directly (§9 decision).`,
	RunE: runRollback,
}

func init() {
	rollbackCmd.Flags().StringVar(&rollbackSince, "since", "", "RFC3339 timestamp; roll back every change after this point")
	rollbackCmd.MarkFlagRequired("since")
}

func runRollback(cmd *cobra.Command, args []string) error {
	cutoff, err := time.Parse(time.RFC3339, rollbackSince)
	if err != nil {
		return fmt.Errorf("--since: %w", err)
	}

	p, err := openPipeline()
	if err != nil {
		return err
	}
	defer p.Close()

	candidates, err := p.entities.ListAll()
	if err != nil {
		return err
	}

	touched, err := p.historyMgr.RollbackSince(candidates, cutoff)
	if err != nil {
		return err
	}

	fmt.Printf("rolled back %d entit(y/ies) to their state as of %s\n", touched, cutoff)
	return nil
}
