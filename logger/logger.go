// Package logger bridges common logging libraries to fastfair.Logger.
//
// fastfair.Logger is slog-shaped, so the standard library's *slog.Logger
// needs no adapter at all. For zap and logrus, wrap the logger you already
// have:
//
//	zl, _ := zap.NewProduction()
//	db, err := fastfair.Open("tree.pool",
//	    fastfair.WithLogger(logger.NewZap(zl)))
package logger
