package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vocagent/vocagent/api/store"
)

func inviteCmd() *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "invite",
		Short: "Mint single-use invite codes",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := store.Open(cfg.Database.Path)
			if err != nil {
				return fmt.Errorf("open durable log: %w", err)
			}
			defer s.Close()

			codes, err := s.MintInviteCodes(cmd.Context(), count)
			if err != nil {
				return err
			}
			for _, code := range codes {
				fmt.Println(code)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of codes to mint")
	return cmd
}
