// Package logging provides the minimal logging interface used by the
// scheduler and its collaborators, plus adapters over log/slog.
//
// The Logger interface keeps callers free of any particular backend:
//
//	logger := logging.New(logging.Config{Level: logging.LogLevelDebug, Format: "text"})
//	sched := taskflow.NewScheduler(taskflow.WithLogger(logger))
//
// NoOpLogger discards everything and is the default when no logger is set.
package logging
