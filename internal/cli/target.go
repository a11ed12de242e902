package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wesleyorama2/counterload/internal/target"
)

func newTargetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "target",
		Short: "Serve the in-memory counter service",
		Long: `Target serves the counter API the load test is aimed at:

  POST /counter/{id}   record a click
  GET  /stats/{id}     clicks in a time range (JSON body {"tsFrom", "tsTo"})
  GET  /healthz        liveness
  GET  /metrics        Prometheus request metrics

Counters listed with --fail-id answer 500, which makes the run's
http_req_failed rate predictable.`,
		Example: `  counterload target
  counterload target --addr :9090 --fail-id 50 --latency 20ms`,
		RunE: runTarget,
	}

	cmd.Flags().String("addr", ":8080", "Listen address")
	cmd.Flags().IntSlice("fail-id", nil, "Counter id that answers 500 (repeatable)")
	cmd.Flags().Duration("latency", 0, "Delay added to every counter request")
	cmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")

	return cmd
}

func runTarget(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	failIDs, _ := cmd.Flags().GetIntSlice("fail-id")
	latency, _ := cmd.Flags().GetDuration("latency")
	levelName, _ := cmd.Flags().GetString("log-level")

	logger, err := newLogger(levelName)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	srv := target.NewServer(target.Config{
		Addr:    addr,
		FailIDs: failIDs,
		Latency: latency,
		Logger:  logger,
	}, nil)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return srv.ListenAndServe(ctx)
}

func newLogger(levelName string) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(levelName)
	if err != nil {
		return nil, fmt.Errorf("invalid --log-level: %w", err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}
