package reqorch

import "go.uber.org/zap"

// ZapLogger adapts *zap.SugaredLogger to the Logger interface, for
// services that already standardize on go.uber.org/zap.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger wraps an existing *zap.Logger. Passing nil uses
// zap.NewProduction (falling back to a no-op core if that fails to
// construct, which only happens under an unwritable working directory).
func NewZapLogger(base *zap.Logger) *ZapLogger {
	if base == nil {
		if z, err := zap.NewProduction(); err == nil {
			base = z
		} else {
			base = zap.NewNop()
		}
	}
	return &ZapLogger{sugar: base.Sugar()}
}

func (z *ZapLogger) Debug(msg string, fields ...any) { z.sugar.Debugw(msg, fields...) }
func (z *ZapLogger) Info(msg string, fields ...any)  { z.sugar.Infow(msg, fields...) }
func (z *ZapLogger) Warn(msg string, fields ...any)  { z.sugar.Warnw(msg, fields...) }
func (z *ZapLogger) Error(msg string, fields ...any) { z.sugar.Errorw(msg, fields...) }
