package main

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/swiftwire/internal/protocol/session"
	"github.com/danmuck/swiftwire/internal/server"
	"github.com/danmuck/swiftwire/internal/testutil/testlog"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestHelloPrintsAck(t *testing.T) {
	testlog.Start(t)
	srv, err := server.Listen(context.Background(), "127.0.0.1:0", session.DefaultConfig())
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = srv.Serve(context.Background()) }()
	defer srv.Close()

	port := srv.Addr().(*net.TCPAddr).Port
	out, err := execute(t, "hello", "--host", "127.0.0.1", "--port", fmt.Sprint(port), "--client-id", "42")
	if err != nil {
		t.Fatalf("hello: %v", err)
	}
	if strings.TrimSpace(out) != "HELLO_ACK: id=42 status=0" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestHelloReportsConnectFailure(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	if _, err := execute(t, "hello", "--host", "127.0.0.1", "--port", fmt.Sprint(port)); err == nil {
		t.Fatalf("expected connect failure")
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "server.toml")
	if _, err := execute(t, "config", "init", "server", path); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("stat: %v", err)
	}
	out, err := execute(t, "config", "validate", "server", path)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out, "validated server config") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestServeFlagsOverrideConfigFile(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "server.toml")
	if err := os.WriteFile(path, []byte("port = 9100\nidle_timeout = \"5s\"\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cmd := serveCmd()
	if err := cmd.ParseFlags([]string{"--config", path, "--host", "127.0.0.1"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	flags := serveFlags{configPath: path, host: "127.0.0.1", port: 9000}
	cfg, err := resolveServerConfig(cmd, flags)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Host != "127.0.0.1" || cfg.Port != 9100 || cfg.Session.IdleTimeout != 5*time.Second {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestRunServeStopsOnCancel(t *testing.T) {
	testlog.Start(t)
	cfg, err := resolveServerConfig(serveCmd(), serveFlags{host: "127.0.0.1", port: 0})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runServe(ctx, cfg) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("serve did not stop")
	}
}
