package observability

import (
	"io"
	"log/slog"
	"os"

	"github.com/intelletix/sudbury-directory/internal/config"
)

// SetupLogger configures a JSON slog logger with environment fields.
func SetupLogger(cfg config.Config) *slog.Logger {
	return newLogger(os.Stdout, cfg.IsDev(), cfg.OTELServiceName, cfg.Environment(), cfg.Version)
}

// SetupClientLogger configures the chat client logger. It writes to stderr so
// the conversation on stdout stays readable.
func SetupClientLogger(cfg config.ClientConfig) *slog.Logger {
	return newLogger(os.Stderr, false, "sudbury-chat", cfg.AppEnv, "")
}

func newLogger(w io.Writer, debug bool, service, env, version string) *slog.Logger {
	opts := &slog.HandlerOptions{}
	// In dev, show debug level; in prod, default to info
	if debug {
		opts.Level = slog.LevelDebug
	}
	h := slog.NewJSONHandler(w, opts)
	attrs := []any{
		slog.String("service", service),
		slog.String("env", env),
	}
	if version != "" {
		attrs = append(attrs, slog.String("version", version))
	}
	return slog.New(h).With(attrs...)
}
