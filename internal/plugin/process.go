package plugin

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// groupPollInterval paces wait while group members outlive the leader.
const groupPollInterval = 20 * time.Millisecond

// process is one spawned plugin command. done is closed by the reaper once
// Wait returns; err and exitCode are valid after that.
type process struct {
	cmd      *exec.Cmd
	pid      int
	pgid     int
	started  time.Time
	done     chan struct{}
	err      error
	exitCode int
}

// configureProcessGroup puts the shell and everything it forks into a fresh
// process group so one signal reaches the whole plugin.
func configureProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

func startProcess(cmd *exec.Cmd) (*process, error) {
	configureProcessGroup(cmd)
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	proc := &process{
		cmd:     cmd,
		pid:     cmd.Process.Pid,
		started: time.Now(),
		done:    make(chan struct{}),
	}
	if pgid, err := unix.Getpgid(proc.pid); err == nil {
		proc.pgid = pgid
	}
	go proc.reap()
	return proc, nil
}

func (p *process) reap() {
	defer close(p.done)

	err := p.cmd.Wait()
	p.err = err
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		p.exitCode = 0
	case errors.As(err, &exitErr):
		p.exitCode = exitErr.ExitCode()
	default:
		p.exitCode = -1
	}
}

func (p *process) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// signal delivers sig to the process group, or to the process alone when
// the group is unknown. Members of the group can outlive the shell, so the
// group is signalled even after the leader was reaped. A group or process
// that is already gone is not an error.
func (p *process) signal(sig unix.Signal) error {
	var err error
	switch {
	case p.pgid > 0:
		err = unix.Kill(-p.pgid, sig)
	case p.exited():
		return nil
	default:
		err = p.cmd.Process.Signal(sig)
	}
	if errors.Is(err, unix.ESRCH) || errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// groupAlive reports whether any member of the process group still runs.
// Zombies left for another reaper do not count. Without a known group it
// falls back to the leader.
func (p *process) groupAlive() bool {
	if p.pgid <= 0 {
		return !p.exited()
	}
	if errors.Is(unix.Kill(-p.pgid, 0), unix.ESRCH) {
		return false
	}

	entries, err := os.ReadDir("/proc")
	if err != nil {
		return true
	}
	seen := false
	for _, entry := range entries {
		if _, err := strconv.Atoi(entry.Name()); err != nil {
			continue
		}
		state, pgrp, ok := readStat(entry.Name())
		if !ok {
			continue
		}
		seen = true
		if pgrp == p.pgid && state != 'Z' {
			return true
		}
	}
	return !seen
}

// readStat returns the state and process group of pid from /proc.
func readStat(pid string) (state byte, pgrp int, ok bool) {
	data, err := os.ReadFile("/proc/" + pid + "/stat")
	if err != nil {
		return 0, 0, false
	}
	// Fields after the parenthesised command name: state ppid pgrp ...
	i := bytes.LastIndexByte(data, ')')
	if i < 0 {
		return 0, 0, false
	}
	fields := strings.Fields(string(data[i+1:]))
	if len(fields) < 3 || len(fields[0]) != 1 {
		return 0, 0, false
	}
	pgrp, err = strconv.Atoi(fields[2])
	if err != nil {
		return 0, 0, false
	}
	return fields[0][0], pgrp, true
}

// wait blocks until the leader is reaped and the rest of its group is gone,
// or timeout passes.
func (p *process) wait(timeout time.Duration) bool {
	if timeout <= 0 {
		return p.exited() && !p.groupAlive()
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-p.done:
	case <-timer.C:
		return false
	}

	ticker := time.NewTicker(groupPollInterval)
	defer ticker.Stop()
	for p.groupAlive() {
		select {
		case <-ticker.C:
		case <-timer.C:
			return false
		}
	}
	return true
}
