package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/mchmarny/loanscore/pkg/api"
	"github.com/mchmarny/loanscore/pkg/config"
	"github.com/mchmarny/loanscore/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	urfave "github.com/urfave/cli/v3"
)

const (
	serverShutdownWaitSeconds = 5
	serverMaxHeaderBytes      = 20

	portFlagName     = "port"
	addressFlagName  = "address"
	dbDriverFlagName = "db-driver"
	dbFlagName       = "db"
)

func dbFlags() []urfave.Flag {
	return []urfave.Flag{
		&urfave.StringFlag{
			Name:  dbDriverFlagName,
			Usage: "Database driver [sqlite, postgres] (default: from config)",
		},
		&urfave.StringFlag{
			Name:  dbFlagName,
			Usage: "Database DSN or sqlite file path (default: from config)",
		},
	}
}

func newServerCmd() *urfave.Command {
	flags := []urfave.Flag{
		&urfave.IntFlag{
			Name:  portFlagName,
			Usage: "Port on which the server will listen (default: from config)",
		},
		&urfave.StringFlag{
			Name:  addressFlagName,
			Usage: "Address on which the server will listen (default: from config)",
		},
	}
	return &urfave.Command{
		Name:    "server",
		Aliases: []string{"serve"},
		Usage:   "Start the loan API server",
		Action:  cmdStartServer,
		Flags:   append(flags, dbFlags()...),
	}
}

func applyServerFlags(cmd *urfave.Command, cfg *config.Config) {
	if cmd.IsSet(portFlagName) {
		cfg.Server.Port = cmd.Int(portFlagName)
	}
	if v := cmd.String(addressFlagName); v != "" {
		cfg.Server.Address = v
	}
	applyDBFlags(cmd, cfg)
}

func applyDBFlags(cmd *urfave.Command, cfg *config.Config) {
	if v := cmd.String(dbDriverFlagName); v != "" {
		cfg.DB.Driver = v
	}
	if v := cmd.String(dbFlagName); v != "" {
		cfg.DB.DSN = v
	}
}

func cmdStartServer(ctx context.Context, cmd *urfave.Command) error {
	st, err := getState(ctx)
	if err != nil {
		return err
	}
	cfg := st.cfg
	applyServerFlags(cmd, cfg)

	slog.SetDefault(logging.NewServerLogger(os.Stderr, cfg.Log.Format, cfg.Log.Level))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	b, err := openBackend(ctx, cfg, reg)
	if err != nil {
		return err
	}
	defer b.Close()

	tm, err := newTokenManager(st)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := api.Options{Gatherer: reg}
	if rl := cfg.Server.RateLimit; rl.RPS > 0 {
		opts.Limiter = api.NewRateLimiter(ctx, rl.RPS, rl.Burst)
	}

	address := net.JoinHostPort(cfg.Server.Address, strconv.Itoa(cfg.Server.Port))
	s := &http.Server{
		Addr:           address,
		Handler:        api.NewRouter(b.service, tm, opts),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: 1 << serverMaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("server started",
		"address", fmt.Sprintf("http://%s", address),
		"db", cfg.DB.Driver,
		"model", cfg.Model.Command,
		"max_concurrency", cfg.Model.MaxConcurrency)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("error starting server: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownWaitSeconds*time.Second)
	defer cancel()

	if err := s.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("error shutting down server", "error", err)
	}
	slog.Info("server stopped")
	return nil
}
