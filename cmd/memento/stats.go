package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print entity, relationship, and version counts for this workspace",
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	p, err := openPipeline()
	if err != nil {
		return err
	}
	defer p.Close()

	stats, err := p.reads.Stats()
	if err != nil {
		return err
	}

	fmt.Printf("workspace:     %s\n", workspace)
	fmt.Printf("entities:      %d\n", stats.Entities)
	fmt.Printf("relationships: %d\n", stats.Relationships)
	fmt.Printf("vectors:       %d (dimension %d, %d stale)\n", stats.Vectors.Count, stats.Vectors.Dimension, stats.Vectors.Stale)
	return nil
}
