package main

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/janisto/message-server/internal/config"
	applog "github.com/janisto/message-server/internal/platform/logging"
	"github.com/janisto/message-server/internal/server"
)

// Version can be overridden at build time: -ldflags "-X main.Version=1.2.3"
var Version = "dev"

func newRootCmd(exitCode *int) *cobra.Command {
	var envFile string
	cmd := &cobra.Command{
		Use:          "server",
		Short:        "Serve the ENV_MESSAGE text on port " + strconv.Itoa(config.Port),
		Version:      Version,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		Run: func(*cobra.Command, []string) {
			*exitCode = run(envFile)
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", "", "dotenv file loaded before ENV_MESSAGE is resolved")
	return cmd
}

func main() {
	code := 0
	if err := newRootCmd(&code).Execute(); err != nil {
		os.Exit(2)
	}
	os.Exit(code)
}

// run returns the process exit code so deferred log flushing happens before exit.
func run(envFile string) int {
	ctx := context.Background()
	defer func() { _ = applog.Sync() }()
	if err := applog.Err(); err != nil {
		applog.LogError(ctx, "logger init error", err)
	}

	cfg, err := config.Load(envFile)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		applog.LogWarn(ctx, "env file not found", zap.String("envFile", envFile), zap.Error(err))
	case err != nil:
		applog.LogError(ctx, "config load failed", err, zap.String("envFile", envFile))
		return 1
	}

	srv := server.New(cfg)
	ln, err := server.Listen(srv.Addr)
	if err != nil {
		applog.LogError(ctx, "listen failed", err, zap.String("addr", srv.Addr))
		return 1
	}
	applog.LogInfo(ctx, "serving on port "+strconv.Itoa(cfg.Port),
		zap.Int("port", cfg.Port),
		zap.String("addr", ln.Addr().String()),
		zap.String("version", Version),
		zap.Int("messageBytes", len(cfg.Message)),
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := server.Run(ctx, srv, ln); err != nil {
		applog.LogError(context.Background(), "server error", err)
		return 1
	}
	applog.LogInfo(context.Background(), "server exited")
	return 0
}
