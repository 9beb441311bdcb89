// Package log provides structured logging for pitline components.
//
// Construct a Logger once at process start and pass it down explicitly:
//
//	logger := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	    log.WithOutput(log.NewConsoleOutput()),
//	)
//	logger.Info("queue opened", log.Str("location", loc), log.Int("waiting", n))
//
// Sub-components receive a derived logger via With/WithComponent. Stdlib
// log output (Pebble uses it) can be routed through RedirectStdLog.
package log
