package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vocagent/vocagent/api/store"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := store.Open(cfg.Database.Path)
			if err != nil {
				return fmt.Errorf("open durable log: %w", err)
			}
			defer s.Close()

			if err := s.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Printf("schema applied to %s\n", cfg.Database.Path)
			return nil
		},
	}
}
