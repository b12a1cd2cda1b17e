package obs

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/kuitang/flowcheck/internal/logutil"
)

type correlationContextKey struct{}

// Correlation carries per-run and per-request correlation identifiers.
type Correlation struct {
	RunID     string
	Attempt   int
	Step      string
	RequestID string
}

var (
	loggerMu sync.RWMutex
	logger   *slog.Logger
	level    = new(slog.LevelVar)
)

// Init configures the global structured logger.
func Init() {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if logger != nil {
		return
	}
	logger = newLogger(os.Stderr)
	slog.SetDefault(logger)
}

// SetLevel changes the minimum level of the global logger.
func SetLevel(l slog.Level) {
	level.Set(l)
}

// ParseLevel maps debug/info/warn/error to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetOutputForTests overrides the global logger output for tests.
func SetOutputForTests(w io.Writer) func() {
	loggerMu.Lock()
	prev := logger
	prevLevel := level.Level()
	level.Set(slog.LevelDebug)
	logger = newLogger(w)
	slog.SetDefault(logger)
	loggerMu.Unlock()

	return func() {
		loggerMu.Lock()
		defer loggerMu.Unlock()
		level.Set(prevLevel)
		if prev != nil {
			logger = prev
		} else {
			logger = newLogger(os.Stderr)
		}
		slog.SetDefault(logger)
	}
}

func newLogger(w io.Writer) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, attr slog.Attr) slog.Attr {
			if attr.Key == slog.TimeKey {
				t, ok := attr.Value.Any().(time.Time)
				if ok {
					return slog.String(slog.TimeKey, t.UTC().Format(time.RFC3339Nano))
				}
			}
			if logutil.IsSensitiveLogField(attr.Key) {
				return slog.String(attr.Key, "[REDACTED]")
			}
			return attr
		},
	})
	return slog.New(handler)
}

func globalLogger() *slog.Logger {
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()
	if l != nil {
		return l
	}
	Init()
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

// Pkg returns a logger tagged with package name.
func Pkg(pkg string) *slog.Logger {
	return globalLogger().With("pkg", pkg)
}

// From returns a logger with correlation fields from context.
func From(ctx context.Context) *slog.Logger {
	l := globalLogger()
	attrs := correlationAttrs(CorrelationFromContext(ctx))
	if len(attrs) == 0 {
		return l
	}
	return l.With(attrs...)
}

// WithRun stores run_id and attempt in context.
func WithRun(ctx context.Context, runID string, attempt int) context.Context {
	corr := CorrelationFromContext(ctx)
	corr.RunID = strings.TrimSpace(runID)
	corr.Attempt = attempt
	return context.WithValue(ctx, correlationContextKey{}, corr)
}

// WithStep stores the current flow step in context.
func WithStep(ctx context.Context, step string) context.Context {
	corr := CorrelationFromContext(ctx)
	corr.Step = strings.TrimSpace(step)
	return context.WithValue(ctx, correlationContextKey{}, corr)
}

// WithRequestID stores request_id in context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	corr := CorrelationFromContext(ctx)
	corr.RequestID = strings.TrimSpace(requestID)
	return context.WithValue(ctx, correlationContextKey{}, corr)
}

// RunIDFromContext returns run_id from context, or "unknown".
func RunIDFromContext(ctx context.Context) string {
	corr := CorrelationFromContext(ctx)
	if corr.RunID == "" {
		return "unknown"
	}
	return corr.RunID
}

// CorrelationFromContext returns correlation fields from context.
func CorrelationFromContext(ctx context.Context) Correlation {
	if ctx == nil {
		return Correlation{}
	}
	corr, ok := ctx.Value(correlationContextKey{}).(Correlation)
	if !ok {
		return Correlation{}
	}
	return corr
}

func correlationAttrs(corr Correlation) []any {
	attrs := make([]any, 0, 8)
	if corr.RunID != "" {
		attrs = append(attrs, "run_id", corr.RunID)
	}
	if corr.Attempt > 0 {
		attrs = append(attrs, "attempt", corr.Attempt)
	}
	if corr.Step != "" {
		attrs = append(attrs, "step", corr.Step)
	}
	if corr.RequestID != "" {
		attrs = append(attrs, "request_id", corr.RequestID)
	}
	return attrs
}

func newRequestID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "req-fallback"
	}
	return "req-" + hex.EncodeToString(buf)
}
