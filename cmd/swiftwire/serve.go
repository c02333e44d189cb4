package main

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/danmuck/swiftwire/internal/admin"
	"github.com/danmuck/swiftwire/internal/config"
	"github.com/danmuck/swiftwire/internal/server"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type serveFlags struct {
	configPath string
	host       string
	port       uint16
	adminAddr  string
}

func serveCmd() *cobra.Command {
	var flags serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept connections and answer HELLO frames",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveServerConfig(cmd, flags)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "", "server config file (TOML)")
	cmd.Flags().StringVar(&flags.host, "host", config.DefaultServerHost, "listen host")
	cmd.Flags().Uint16VarP(&flags.port, "port", "p", config.DefaultPort, "listen port")
	cmd.Flags().StringVar(&flags.adminAddr, "admin", "", "admin HTTP address (empty disables)")
	return cmd
}

// resolveServerConfig layers explicitly set flags over the config file over
// the defaults.
func resolveServerConfig(cmd *cobra.Command, flags serveFlags) (config.ServerConfig, error) {
	cfg := config.DefaultServerConfig()
	if flags.configPath != "" {
		loaded, err := config.LoadServerConfig(flags.configPath)
		if err != nil {
			return config.ServerConfig{}, err
		}
		cfg = loaded
	}
	if cmd.Flags().Changed("host") || flags.configPath == "" {
		cfg.Host = flags.host
	}
	if cmd.Flags().Changed("port") || flags.configPath == "" {
		cfg.Port = flags.port
	}
	if cmd.Flags().Changed("admin") {
		cfg.AdminAddr = flags.adminAddr
	}
	return cfg, cfg.Validate()
}

func runServe(ctx context.Context, cfg config.ServerConfig) error {
	runtime.GOMAXPROCS(cfg.Session.Threads)

	srv, err := server.Listen(ctx, cfg.Addr(), cfg.Session)
	if err != nil {
		return err
	}
	log.Info().
		Str("addr", srv.Addr().String()).
		Int("threads", cfg.Session.Threads).
		Msg("swiftwire serving")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx)
	})
	if cfg.AdminAddr != "" {
		api := admin.New(srv.Addr().String(), srv, cfg.CorsOrigins)
		g.Go(func() error {
			return api.Serve(gctx, cfg.AdminAddr)
		})
	}
	err = g.Wait()
	if cerr := srv.Close(); err == nil {
		err = cerr
	}
	log.Info().Msg("swiftwire stopped")
	return err
}
