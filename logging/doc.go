// Package logging provides the minimal Logger interface used throughout
// verimesh together with concrete adapters.
//
//   - Logger: Debug/Info/Warn/Error with alternating key/value arguments
//   - NewZapLogger: production logger backed by go.uber.org/zap
//   - NewSlogAdapter: bridge for hosts already standardized on log/slog
//   - NoOpLogger: default for library use and tests
//
// Usage:
//
//	logger, err := logging.NewZapLogger(logging.Config{Level: "info", Format: "json"})
//	if err != nil {
//		return err
//	}
//	defer logger.Sync()
//	mesh := verimesh.New(func(o *verimesh.Options) { o.Logger = logger })
package logging
