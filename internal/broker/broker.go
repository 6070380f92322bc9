// Package broker wires the listener, hub, plugin supervisor and optional
// admin API and init file watcher into one running broker.
//
// Startup order matters: the socket is bound before any plugin is spawned,
// so every plugin can connect as soon as it starts. Shutdown runs the other
// way: the listener stops accepting and reading, the hub delivers what is
// still queued and closes every connection, then the plugins are terminated.
package broker

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/codefionn/cylonn/internal/admin"
	"github.com/codefionn/cylonn/internal/config"
	"github.com/codefionn/cylonn/internal/hub"
	"github.com/codefionn/cylonn/internal/initfile"
	"github.com/codefionn/cylonn/internal/initwatch"
	"github.com/codefionn/cylonn/internal/listener"
	"github.com/codefionn/cylonn/internal/logger"
	"github.com/codefionn/cylonn/internal/pidfile"
	"github.com/codefionn/cylonn/internal/plugin"
)

// AdminSuffix is appended to the broker socket path to form the admin
// socket path.
const AdminSuffix = ".admin"

// Broker is one broker instance.
type Broker struct {
	cfg        *config.Config
	socketPath string
	events     chan listener.Event
	listener   *listener.Listener
	hub        *hub.Hub
	supervisor *plugin.Supervisor
}

// New prepares a broker for the plugins in file. Nothing is bound or
// spawned until Run.
func New(cfg *config.Config, file *initfile.File, opts ...plugin.Option) *Broker {
	socketPath := SocketPath(cfg.ScratchDir)
	events := make(chan listener.Event, cfg.EventQueueSize)

	return &Broker{
		cfg:        cfg,
		socketPath: socketPath,
		events:     events,
		listener:   listener.New(socketPath, events),
		hub:        hub.New(hub.WithWriteTimeout(cfg.WriteTimeout())),
		supervisor: plugin.NewSupervisor(file.Entries, opts...),
	}
}

// SocketPath returns a fresh socket path under dir.
func SocketPath(dir string) string {
	return filepath.Join(dir, "cylonn-"+uuid.NewString()+".sock")
}

// SocketPath returns the path plugins connect to.
func (b *Broker) SocketPath() string {
	return b.socketPath
}

// AdminPath returns the admin API socket path.
func (b *Broker) AdminPath() string {
	return b.socketPath + AdminSuffix
}

// Clients returns a snapshot of the connected clients.
func (b *Broker) Clients(ctx context.Context) ([]hub.ClientInfo, error) {
	return b.hub.Clients(ctx, b.listener)
}

// Plugins returns the status of every plugin.
func (b *Broker) Plugins() []plugin.Status {
	return b.supervisor.Snapshot()
}

// ReloadPlugin restarts the named plugin.
func (b *Broker) ReloadPlugin(name string) error {
	return b.supervisor.Reload(name)
}

// UnloadPlugin stops the named plugin.
func (b *Broker) UnloadPlugin(name string) error {
	return b.supervisor.Unload(name)
}

// Run binds the socket, spawns the plugins and serves until ctx is
// cancelled or a component fails. Binding errors are returned before
// anything is spawned.
func (b *Broker) Run(ctx context.Context) error {
	if err := b.listener.Listen(); err != nil {
		return err
	}

	if b.cfg.PidFile != "" {
		pf := pidfile.New(b.cfg.PidFile)
		if err := pf.Acquire(); err != nil {
			b.abort()
			return err
		}
		defer func() {
			if err := pf.Remove(); err != nil {
				logger.Warn("broker: %v", err)
			}
		}()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		b.hub.Run(b.events)
		return nil
	})
	g.Go(func() error {
		return b.listener.Serve(gctx)
	})

	if b.cfg.AdminEnabled {
		srv := admin.NewServer(b.AdminPath(), b)
		g.Go(func() error {
			return srv.Serve(gctx)
		})
	}

	if b.cfg.WatchInit {
		w := initwatch.New(b.cfg.InitPath, b.cfg.Mode(), b.supervisor)
		g.Go(func() error {
			return w.Run(gctx)
		})
	}

	logger.Info("broker: listening on %s", b.socketPath)
	if err := b.supervisor.LoadAll(b.socketPath); err != nil {
		logger.Warn("broker: some plugins failed to start")
	}

	err := g.Wait()
	if serr := b.supervisor.Shutdown(b.cfg.ShutdownGrace()); serr != nil {
		logger.Warn("broker: plugin shutdown: %v", serr)
	}
	if err != nil {
		return fmt.Errorf("broker: %w", err)
	}
	logger.Info("broker: stopped")
	return nil
}

// abort releases the bound socket when Run fails before serving.
func (b *Broker) abort() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = b.listener.Serve(ctx)
}
