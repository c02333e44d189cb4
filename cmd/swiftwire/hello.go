package main

import (
	"fmt"

	"github.com/danmuck/swiftwire/internal/client"
	"github.com/danmuck/swiftwire/internal/config"
	"github.com/spf13/cobra"
)

type helloFlags struct {
	configPath string
	host       string
	port       uint16
	clientID   uint64
	attempts   int
}

func helloCmd() *cobra.Command {
	var flags helloFlags
	cmd := &cobra.Command{
		Use:   "hello",
		Short: "Connect, send HELLO and print the HELLO_ACK",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveClientConfig(cmd, flags)
			if err != nil {
				return err
			}
			c, ack, err := client.Dial(cmd.Context(), cfg.Client, cfg.Host, cfg.Port, cfg.ClientID)
			if err != nil {
				return err
			}
			defer c.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "HELLO_ACK: id=%d status=%d\n", ack.ClientID, ack.Status)
			return nil
		},
	}
	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "", "client config file (TOML)")
	cmd.Flags().StringVar(&flags.host, "host", config.DefaultClientHost, "server host")
	cmd.Flags().Uint16VarP(&flags.port, "port", "p", config.DefaultPort, "server port")
	cmd.Flags().Uint64Var(&flags.clientID, "client-id", config.DefaultClientID, "client id sent in HELLO")
	cmd.Flags().IntVar(&flags.attempts, "attempts", 1, "connect attempts before giving up (0 retries forever)")
	return cmd
}

func resolveClientConfig(cmd *cobra.Command, flags helloFlags) (config.ClientConfig, error) {
	cfg := config.DefaultClientConfig()
	if flags.configPath != "" {
		loaded, err := config.LoadClientConfig(flags.configPath)
		if err != nil {
			return config.ClientConfig{}, err
		}
		cfg = loaded
	}
	fromFlags := flags.configPath == ""
	if fromFlags || cmd.Flags().Changed("host") {
		cfg.Host = flags.host
	}
	if fromFlags || cmd.Flags().Changed("port") {
		cfg.Port = flags.port
	}
	if fromFlags || cmd.Flags().Changed("client-id") {
		cfg.ClientID = flags.clientID
	}
	if fromFlags || cmd.Flags().Changed("attempts") {
		cfg.Client.MaxConnectAttempts = flags.attempts
	}
	return cfg, cfg.Validate()
}
