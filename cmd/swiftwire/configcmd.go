package main

import (
	"fmt"

	"github.com/danmuck/swiftwire/internal/config"
	"github.com/spf13/cobra"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Generate or validate config files",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init <server|client> [path]",
		Short: "Write a default config file, or print it when no path is given",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				out, err := config.Template(args[0])
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), out)
				return nil
			}
			if err := config.WriteTemplate(args[1], args[0], force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s config to %s\n", args[0], args[1])
			return nil
		},
	}
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")

	validateCmd := &cobra.Command{
		Use:   "validate <server|client> <path>",
		Short: "Load a config file and report problems",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			switch args[0] {
			case "server":
				_, err = config.LoadServerConfig(args[1])
			case "client":
				_, err = config.LoadClientConfig(args[1])
			default:
				err = fmt.Errorf("unknown config kind: %s", args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "validated %s config at %s\n", args[0], args[1])
			return nil
		},
	}

	cmd.AddCommand(initCmd, validateCmd)
	return cmd
}
