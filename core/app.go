// Package core holds the shared types passed between the rootstock runtime
// and extension callbacks: the process context, the error-reporting sink,
// and panic capture.
package core

import (
	"database/sql"
	"log/slog"
)

// App is the process context handed to every listener, hook, task, and
// teardown callback. It is a cheap, copyable handle to shared process
// state. Runtime components never construct an App; the host application
// builds one at startup and the runtime forwards it.
type App struct {
	// Logger is the process-wide structured logger.
	Logger *slog.Logger

	// DB is the shared database handle, if the host has one.
	DB *sql.DB

	// InstanceID identifies this process instance within a fleet.
	InstanceID string

	// Primary marks the single instance responsible for singleton
	// background work.
	Primary bool

	// DataDir is the host's writable data directory.
	DataDir string
}

// Log returns the app logger, falling back to slog.Default.
func (a *App) Log() *slog.Logger {
	if a == nil || a.Logger == nil {
		return slog.Default()
	}
	return a.Logger
}

// IsPrimary reports whether this instance runs singleton background tasks.
func (a *App) IsPrimary() bool {
	return a != nil && a.Primary
}
