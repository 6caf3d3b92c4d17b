// Package rootstock is the in-process extension runtime of a multi-tenant
// server-management control plane. It is the substrate extensions graft
// onto at startup: they subscribe listeners to typed event buses, bind
// priority-ordered hooks around entity lifecycle operations, register
// supervised background tasks and graceful-shutdown teardowns, and
// persist their own configuration in a namespaced settings store, all
// without the core system referencing any specific extension.
//
// Subpackages:
//
//	registry - generic handle-keyed listener registry
//	bus      - asynchronous, bounded, fault-isolated event distribution
//	hook     - ordered, vetoing lifecycle interception
//	task     - background task supervision and shutdown coordination
//	settings - flat namespaced key/value settings (de)serialization
package rootstock

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/petal-labs/rootstock/core"
	"github.com/petal-labs/rootstock/settings"
	"github.com/petal-labs/rootstock/task"
)

// Version is the rootstock release version.
const Version = "0.3.0"

// Extension is one independently packaged extension module. Register is
// called once at load time; it wires the extension's listeners, hooks,
// tasks, teardowns, and settings into the runtime.
type Extension interface {
	Name() string
	Register(rt *Runtime) error
}

// Config configures a Runtime.
type Config struct {
	// App is the host-constructed process context.
	App *core.App

	// Sink receives contained faults from buses, tasks, and teardowns.
	// Defaults to a core.LogSink over the app logger.
	Sink core.ErrorSink

	// SettingsBackend persists the flat settings map. Defaults to an
	// in-memory backend.
	SettingsBackend settings.Backend
}

// Runtime aggregates the per-process extension runtime components. The
// host constructs exactly one Runtime at startup and passes it by shared
// reference; there is no global instance.
type Runtime struct {
	App        *core.App
	Hub        *Hub
	Supervisor *task.Supervisor
	Shutdown   *task.Shutdown
	Settings   *settings.Store

	sink core.ErrorSink
}

// New builds a runtime from the given configuration.
func New(cfg Config) *Runtime {
	app := cfg.App
	if app == nil {
		app = &core.App{}
	}
	sink := cfg.Sink
	if sink == nil {
		sink = core.LogSink{Logger: app.Log()}
	}
	backend := cfg.SettingsBackend
	if backend == nil {
		backend = settings.NewMemoryBackend()
	}

	return &Runtime{
		App: app,
		Hub: NewHub(),
		Supervisor: task.NewSupervisor(task.SupervisorConfig{
			App:    app,
			Logger: app.Log(),
			Sink:   sink,
		}),
		Shutdown: task.NewShutdown(task.ShutdownConfig{
			Logger: app.Log(),
			Sink:   sink,
		}),
		Settings: settings.NewStore(backend),
		sink:     sink,
	}
}

// Sink returns the runtime's error sink, for wiring into buses the host
// creates itself.
func (r *Runtime) Sink() core.ErrorSink {
	return r.sink
}

// LoadExtensions loads the settings store and registers each extension
// in order. A failing extension aborts the load: a control plane with a
// half-registered extension is worse than one that refuses to start.
func (r *Runtime) LoadExtensions(ctx context.Context, exts ...Extension) error {
	if err := r.Settings.Load(ctx); err != nil {
		return err
	}
	for _, ext := range exts {
		if err := ext.Register(r); err != nil {
			return fmt.Errorf("rootstock: register extension %s: %w", ext.Name(), err)
		}
		r.App.Log().Info("extension registered", slog.String("extension", ext.Name()))
	}
	return nil
}

// Close tears the runtime down: background task loops are cancelled,
// shutdown handlers run (on every instance, best effort), then all buses
// stop dispatching.
func (r *Runtime) Close(ctx context.Context) {
	r.Supervisor.Close()
	r.Shutdown.Run(ctx, r.App)
	r.Hub.Close()
}
