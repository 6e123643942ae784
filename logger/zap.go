package logger

import (
	"go.uber.org/zap"

	"fastfair"
)

// zapAdapter forwards through zap's sugared interface, which takes the
// same alternating key/value args fastfair.Logger emits.
type zapAdapter struct {
	base *zap.SugaredLogger
}

// NewZap adapts a zap.Logger to fastfair.Logger.
func NewZap(zl *zap.Logger) fastfair.Logger {
	return &zapAdapter{base: zl.Sugar()}
}

func (z *zapAdapter) Error(msg string, args ...any) {
	z.base.Errorw(msg, args...)
}

func (z *zapAdapter) Warn(msg string, args ...any) {
	z.base.Warnw(msg, args...)
}

func (z *zapAdapter) Info(msg string, args ...any) {
	z.base.Infow(msg, args...)
}
