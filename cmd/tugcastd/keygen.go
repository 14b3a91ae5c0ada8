package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tugtool/tugcast/internal/authgate"
)

func keygenCmd() *cobra.Command {
	var projectDir string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a standalone auth token and print its /auth URL",
		Long:  "Generates a token using the same scheme the daemon uses for its pending token at startup. The token is not registered with a running daemon: its /auth endpoint accepts only the pending token it printed at startup.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(projectDir)
			if err != nil {
				return err
			}

			token, err := authgate.GenerateToken()
			if err != nil {
				return fmt.Errorf("generate token: %w", err)
			}

			fmt.Printf("http://%s:%d/auth?token=%s\n", cfg.BindHost, cfg.BindPort, token)
			return nil
		},
	}
	cmd.Flags().StringVar(&projectDir, "project-dir", "", "project directory (default: detected)")
	return cmd
}
