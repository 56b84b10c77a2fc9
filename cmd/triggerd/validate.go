package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"triggerd/internal/app"
	"triggerd/internal/config"
)

func validateCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a config file and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.ValidateConfig(cfgPath)
			if err != nil {
				return err
			}
			server, err := cfg.Server.Resolve()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: ok (%s)\n", cfgPath, config.Format(cfgPath))
			fmt.Fprintf(out, "  listen:        %s%s\n", server.Addr, server.WSPath)
			fmt.Fprintf(out, "  api token:     %s\n", tokenStatus(server.Token))
			fmt.Fprintf(out, "  static timers: %d\n", len(cfg.Timers.Static))
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "./triggerd.yaml", "path to config (json or yaml)")
	return cmd
}

func tokenStatus(token string) string {
	if token == "" {
		return "not set"
	}
	return "set"
}
