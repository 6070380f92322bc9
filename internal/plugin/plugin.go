// Package plugin spawns and supervises plugin processes.
//
// A plugin is launched as
//
//	sh -c "<command> <socket path>"
//
// with the broker's stdin, stdout and stderr, in its own process group.
// The plugin is expected to connect back to the socket path it receives.
package plugin

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/codefionn/cylonn/internal/logger"
)

// ErrAlreadyRunning is returned by Load when the plugin already has a live
// process handle.
var ErrAlreadyRunning = errors.New("plugin already running")

// SpawnError reports that a plugin command could not be started.
type SpawnError struct {
	Plugin string
	Err    error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("plugin %s: spawn failed: %v", e.Plugin, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// DefaultShell runs plugin commands.
const DefaultShell = "/bin/sh"

type options struct {
	shell  string
	stdin  *os.File
	stdout *os.File
	stderr *os.File
}

// Option configures how plugin processes are spawned.
type Option func(*options)

// WithShell replaces DefaultShell.
func WithShell(path string) Option {
	return func(o *options) { o.shell = path }
}

// WithStdio overrides the inherited standard streams. Nil values keep the
// broker's own stream. The files are handed to every spawned process as
// descriptors, so one set can be shared by all plugins.
func WithStdio(stdin, stdout, stderr *os.File) Option {
	return func(o *options) {
		if stdin != nil {
			o.stdin = stdin
		}
		if stdout != nil {
			o.stdout = stdout
		}
		if stderr != nil {
			o.stderr = stderr
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		shell:  DefaultShell,
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Status is a point-in-time view of a plugin.
type Status struct {
	Name     string    `json:"name"`
	Command  string    `json:"command"`
	Running  bool      `json:"running"`
	PID      int       `json:"pid,omitempty"`
	Started  time.Time `json:"started,omitempty"`
	Exited   bool      `json:"exited"`
	ExitCode int       `json:"exit_code,omitempty"`
}

// Plugin is a named command with at most one live process.
type Plugin struct {
	name    string
	command string
	opts    options

	mu      sync.Mutex
	running bool
	proc    *process
}

// New creates a stopped plugin.
func New(name, command string, opts ...Option) *Plugin {
	return &Plugin{
		name:    name,
		command: command,
		opts:    buildOptions(opts),
	}
}

// Name returns the plugin name.
func (p *Plugin) Name() string { return p.name }

// Command returns the shell command without the socket argument.
func (p *Plugin) Command() string { return p.command }

// Load spawns the plugin, passing socketPath as its last argument.
func (p *Plugin) Load(socketPath string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("plugin %s: %w", p.name, ErrAlreadyRunning)
	}

	cmd := exec.Command(p.opts.shell, "-c", p.command+" "+socketPath)
	cmd.Stdin = p.opts.stdin
	cmd.Stdout = p.opts.stdout
	cmd.Stderr = p.opts.stderr

	proc, err := startProcess(cmd)
	if err != nil {
		return &SpawnError{Plugin: p.name, Err: err}
	}

	p.proc = proc
	p.running = true
	logger.Info("plugin %s: started pid %d", p.name, proc.pid)
	return nil
}

// Unload sends SIGTERM to the plugin's process group and forgets its
// process. It does not wait for the group to exit. Unloading a stopped plugin is a no-op.
func (p *Plugin) Unload() error {
	_, err := p.stop(unix.SIGTERM)
	return err
}

// Reload unloads and then loads the plugin.
func (p *Plugin) Reload(socketPath string) error {
	if err := p.Unload(); err != nil {
		logger.Warn("plugin %s: unload during reload: %v", p.name, err)
	}
	return p.Load(socketPath)
}

// Running reports whether the plugin was loaded and not unloaded since.
// The process itself may have exited; see Exited.
func (p *Plugin) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Exited reports whether the current process has been reaped.
func (p *Plugin) Exited() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.proc != nil && p.proc.exited()
}

// Status returns a snapshot of the plugin.
func (p *Plugin) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := Status{Name: p.name, Command: p.command, Running: p.running}
	if p.proc != nil {
		st.PID = p.proc.pid
		st.Started = p.proc.started
		if p.proc.exited() {
			st.Exited = true
			st.ExitCode = p.proc.exitCode
		}
	}
	return st
}

// stop signals the live process and detaches it from the plugin. The
// returned process, if any, can be waited on.
func (p *Plugin) stop(sig unix.Signal) (*process, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running || p.proc == nil {
		return nil, nil
	}

	proc := p.proc
	p.proc = nil
	p.running = false

	if err := proc.signal(sig); err != nil {
		return proc, fmt.Errorf("plugin %s: signal %v: %w", p.name, sig, err)
	}
	logger.Info("plugin %s: sent %v to pid %d", p.name, sig, proc.pid)
	return proc, nil
}
