package fastfair

// Logger receives diagnostics from the tree and pool layers. The method
// set is slog-shaped, so a *slog.Logger satisfies it as-is; adapters for
// zap and logrus live in the logger package.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
}

// NopLogger drops everything. It is the default when no logger is
// configured.
type NopLogger struct{}

func (NopLogger) Error(string, ...any) {}

func (NopLogger) Warn(string, ...any) {}

func (NopLogger) Info(string, ...any) {}
