package main

import (
	"context"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	ctrl "sigs.k8s.io/controller-runtime"

	stepcmd "github.com/telekom/tekton-step/pkg/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runSafely(ctx, os.Args[1:], run, os.Stderr)
	stop()
	if code != 0 {
		os.Exit(code)
	}
}

func runSafely(ctx context.Context, args []string, runner func(context.Context, []string) int, errWriter io.Writer) (exitCode int) {
	defer func() {
		if r := recover(); r != nil {
			_, _ = fmt.Fprintf(errWriter, "panic recovered: %v\n%s", r, debug.Stack())
			exitCode = 1
		}
	}()
	return runner(ctx, args)
}

func run(ctx context.Context, args []string) int {
	cfg := stepcmd.DefaultConfig()
	cfg.Context = ctx
	cfg.NewLogger = func(debug bool) *zap.Logger {
		zl := setupLogger(debug)
		zap.ReplaceGlobals(zl)
		// Ensure controller-runtime uses our zap logger
		ctrl.SetLogger(zapr.NewLogger(zl))
		return zl
	}

	root := stepcmd.NewRootCommand(cfg)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		stepcmd.PrintError(root, err)
		return 1
	}
	return 0
}

func setupLogger(debug bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	// Disable automatic stacktraces for non-fatal levels to avoid noisy traces in WARN/INFO logs
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.UTC().Format(time.RFC3339))
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.OutputPaths = []string{"stderr"}
	logger, err := cfg.Build()
	if err != nil {
		stdlog.Fatalf("failed to set up logger: %v", err)
	}
	return logger
}
