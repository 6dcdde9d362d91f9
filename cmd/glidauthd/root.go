package main

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for the glidauthd CLI.
func NewRootCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:           "glidauthd",
		Short:         "glidauth session and authentication service",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file path")

	cmd.AddCommand(NewServeCmd(&configFile))
	cmd.AddCommand(NewMigrateCmd(&configFile))
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// NewVersionCmd creates the version subcommand.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println(version)
		},
	}
}
