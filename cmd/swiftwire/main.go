package main

import (
	"context"
	"fmt"
	"os"

	"github.com/danmuck/swiftwire/internal/logging"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	logging.ConfigureRuntime()
	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "swiftwire: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "swiftwire",
		Short:         "Length-prefixed TCP protocol server and client",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}
	root.AddCommand(
		serveCmd(),
		helloCmd(),
		configCmd(),
	)
	return root
}
