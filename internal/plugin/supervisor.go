package plugin

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/codefionn/cylonn/internal/consts"
	"github.com/codefionn/cylonn/internal/initfile"
	"github.com/codefionn/cylonn/internal/logger"
)

// ErrUnknownPlugin is returned for names the supervisor does not manage.
var ErrUnknownPlugin = errors.New("unknown plugin")

// Supervisor manages the plugins declared in the init file. It is safe for
// concurrent use.
type Supervisor struct {
	opts []Option

	mu         sync.Mutex
	socketPath string
	order      []string
	plugins    map[string]*Plugin
}

// NewSupervisor creates a supervisor for entries. Nothing is spawned until
// LoadAll.
func NewSupervisor(entries []initfile.Entry, opts ...Option) *Supervisor {
	s := &Supervisor{
		opts:    opts,
		plugins: make(map[string]*Plugin, len(entries)),
	}
	for _, e := range entries {
		if _, ok := s.plugins[e.Name]; ok {
			continue
		}
		s.order = append(s.order, e.Name)
		s.plugins[e.Name] = New(e.Name, e.Command, opts...)
	}
	return s
}

// LoadAll spawns every plugin with socketPath. A plugin that fails to start
// is logged and skipped; all failures are returned joined.
func (s *Supervisor) LoadAll(socketPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.socketPath = socketPath
	var errs []error
	for _, name := range s.order {
		if err := s.plugins[name].Load(socketPath); err != nil {
			logger.Error("%v", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Reload restarts the named plugin.
func (s *Supervisor) Reload(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.plugins[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPlugin, name)
	}
	return p.Reload(s.socketPath)
}

// Unload stops the named plugin. It stays known and can be reloaded.
func (s *Supervisor) Unload(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.plugins[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPlugin, name)
	}
	return p.Unload()
}

// Reconcile makes the managed set match entries: removed plugins are
// unloaded, plugins whose command changed are restarted with the new
// command and new plugins are loaded. Unchanged plugins keep running.
func (s *Supervisor) Reconcile(entries []initfile.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[string]string, len(entries))
	order := make([]string, 0, len(entries))
	for _, e := range entries {
		if _, dup := wanted[e.Name]; dup {
			continue
		}
		wanted[e.Name] = e.Command
		order = append(order, e.Name)
	}

	var errs []error
	for _, name := range s.order {
		if _, keep := wanted[name]; keep {
			continue
		}
		if err := s.plugins[name].Unload(); err != nil {
			errs = append(errs, err)
		}
		delete(s.plugins, name)
		logger.Info("plugin %s: removed", name)
	}

	for _, name := range order {
		command := wanted[name]
		old, ok := s.plugins[name]
		if ok && old.Command() == command {
			continue
		}
		if ok {
			if err := old.Unload(); err != nil {
				errs = append(errs, err)
			}
			logger.Info("plugin %s: command changed", name)
		}

		p := New(name, command, s.opts...)
		s.plugins[name] = p
		if s.socketPath == "" {
			continue
		}
		if err := p.Load(s.socketPath); err != nil {
			logger.Error("%v", err)
			errs = append(errs, err)
		}
	}

	s.order = order
	return errors.Join(errs...)
}

// Snapshot returns the status of every plugin in declaration order.
func (s *Supervisor) Snapshot() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Status, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.plugins[name].Status())
	}
	return out
}

// Shutdown sends SIGTERM to every running plugin and waits up to grace for
// each process group to exit. Groups still alive afterwards get SIGKILL.
func (s *Supervisor) Shutdown(grace time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	var stopping []*process
	for _, name := range s.order {
		proc, err := s.plugins[name].stop(unix.SIGTERM)
		if err != nil {
			errs = append(errs, err)
		}
		if proc != nil {
			stopping = append(stopping, proc)
		}
	}

	deadline := time.Now().Add(grace)
	for _, proc := range stopping {
		if proc.wait(time.Until(deadline)) {
			continue
		}
		logger.Warn("plugin pid %d ignored SIGTERM, killing its process group", proc.pid)
		if err := proc.signal(unix.SIGKILL); err != nil {
			errs = append(errs, fmt.Errorf("kill pid %d: %w", proc.pid, err))
			continue
		}
		if !proc.wait(consts.Timeout5Seconds) {
			errs = append(errs, fmt.Errorf("pid %d: process group survived SIGKILL", proc.pid))
		}
	}
	return errors.Join(errs...)
}
