package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
)

// DaemonState is what a daemon's pid file says about it.
type DaemonState string

// Daemon states reported by DaemonStatus.
const (
	StatusRunning DaemonState = "running" // pid file names a live process
	StatusStopped DaemonState = "stopped" // no pid file
	StatusStale   DaemonState = "stale"   // pid file outlived its process
)

// WritePIDFile records pid in path, one line, owner-readable only.
func WritePIDFile(path string, pid int) error {
	line := strconv.Itoa(pid) + "\n"
	if err := os.WriteFile(path, []byte(line), 0o600); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

// ReadPIDFile returns the pid stored in path. A missing file surfaces as
// os.ErrNotExist.
func ReadPIDFile(path string) (int, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // path comes from the runtime config
	if err != nil {
		return 0, fmt.Errorf("read pid file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("pid file %s holds %q", path, strings.TrimSpace(string(raw)))
	}
	return pid, nil
}

// RemovePIDFile deletes path; an already missing file is fine.
func RemovePIDFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove pid file: %w", err)
	}
	return nil
}

// processAlive reports whether pid exists. EPERM still means a live process
// owned by someone else.
func processAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

// DaemonStatus reads the daemon's pid file and checks the process behind it.
// The pid is 0 when the daemon is stopped.
func DaemonStatus(pidPath string) (DaemonState, int, error) {
	pid, err := ReadPIDFile(pidPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return StatusStopped, 0, nil
	case err != nil:
		return StatusStopped, 0, err
	case !processAlive(pid):
		return StatusStale, pid, nil
	default:
		return StatusRunning, pid, nil
	}
}

// SignalDaemon sends sig to the daemon recorded in pidPath.
func SignalDaemon(pidPath string, sig syscall.Signal) error {
	status, pid, err := DaemonStatus(pidPath)
	if err != nil {
		return err
	}
	if status != StatusRunning {
		return fmt.Errorf("daemon not running (%s)", status)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process %d: %w", pid, err)
	}
	if err := proc.Signal(sig); err != nil {
		return fmt.Errorf("send %s to PID %d: %w", sig, pid, err)
	}
	return nil
}

// claimPIDFile refuses to start when another instance is alive, then
// records this process.
func claimPIDFile(pidPath string) error {
	status, pid, err := DaemonStatus(pidPath)
	if err != nil {
		return err
	}
	if status == StatusRunning && pid != os.Getpid() {
		return fmt.Errorf("already running (PID %d)", pid)
	}
	return WritePIDFile(pidPath, os.Getpid())
}

// SetupSignalHandler installs a SIGTERM/SIGINT handler that cancels the
// returned context. When onReload is set, SIGHUP calls it. The cleanup
// function removes the PID file; callers should defer it.
func SetupSignalHandler(parent context.Context, pidPath string, onReload func()) (shutdownCtx context.Context, cleanup func()) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	hupCh := make(chan os.Signal, 1)
	if onReload != nil {
		signal.Notify(hupCh, syscall.SIGHUP)
	}

	go func() {
		defer signal.Stop(sigCh)
		defer signal.Stop(hupCh)
		for {
			select {
			case <-sigCh:
				cancel()
				return
			case <-hupCh:
				onReload()
			case <-ctx.Done():
				return
			}
		}
	}()

	cleanup = func() {
		cancel()
		_ = RemovePIDFile(pidPath)
	}

	return ctx, cleanup
}
