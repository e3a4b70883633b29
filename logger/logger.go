// Package logger implements an interface behind which a third party, levelled
// logger can sit. This abstraction allows us to readily swap out the logger
// used and to pass it down throughout the capsule program without changing
// the logger being a massive task.
//
// Capsules' logging needs are fairly basic, it really only needs DEBUG level
// logs for the --verbose flag. Unlike a single task runner invocation, one
// build pipeline typically drives many distinct capsule ids (compile, test,
// package, ...) through the same binary across many separate processes, so
// every log line this package emits is scoped to the capsule id handling it
// via Named, letting operators grep a shared CI log for one capsule's
// decisions without the orchestrator itself formatting that prefix by hand.
package logger

import "go.uber.org/zap"

// Logger is the interface behind which a debug logger can sit.
type Logger interface {
	// Sync flushes the logs to stderr
	Sync() error
	// Debug outputs a debug level log line
	Debug(format string, args ...any)
}

// ZapLogger is a Logger that uses zap under the hood.
type ZapLogger struct {
	inner *zap.SugaredLogger
}

// NewZapLogger builds and returns a ZapLogger gated at DEBUG when verbose is
// true and INFO otherwise, matching the --verbose flag's only two states.
func NewZapLogger(verbose bool) (*ZapLogger, error) {
	level := zap.InfoLevel
	if verbose {
		level = zap.DebugLevel
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.DisableCaller = true
	logger, err := cfg.Build(zap.IncreaseLevel(level))
	if err != nil {
		return nil, err
	}
	sugar := logger.Sugar()

	return &ZapLogger{inner: sugar}, nil
}

// Named returns a ZapLogger whose log lines are tagged with capsuleID, so
// that debug output from one invocation of the wrapper can be told apart
// from another's when a pipeline runs several capsules (e.g. compile and
// test) through the same log stream. An empty capsuleID returns z unchanged.
func (z *ZapLogger) Named(capsuleID string) *ZapLogger {
	if capsuleID == "" {
		return z
	}
	return &ZapLogger{inner: z.inner.Named(capsuleID)}
}

// Sync flushes the logs.
func (z *ZapLogger) Sync() error {
	return z.inner.Sync()
}

// Debug outputs a debug level log line, a newline is automatically added.
func (z *ZapLogger) Debug(format string, args ...any) {
	z.inner.Debugf(format, args...)
}
