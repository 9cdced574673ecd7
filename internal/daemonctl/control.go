package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"

	"rmcloud/internal/config"
)

// ErrNotRunning indicates no server holds the data directory lock.
var ErrNotRunning = errors.New("rmcloud server not running")

const pollInterval = 100 * time.Millisecond

// ProcessState describes the server owning a data directory.
type ProcessState struct {
	Running  bool   `json:"running"`
	PID      int    `json:"pid,omitempty"`
	LockPath string `json:"lock_path"`
	PIDPath  string `json:"pid_path"`
}

// StopResult captures the stop outcome.
type StopResult struct {
	PID        int
	ForcedKill bool
}

// ProcessInfo reports whether a server holds the lock for cfg's data
// directory and, when recorded, its pid.
func ProcessInfo(cfg *config.Config) (ProcessState, error) {
	state := ProcessState{LockPath: cfg.LockPath(), PIDPath: cfg.PIDPath()}

	held, err := lockHeld(state.LockPath)
	if err != nil {
		return state, err
	}
	state.Running = held
	if !held {
		return state, nil
	}

	pid, err := ReadPID(state.PIDPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return state, err
	}
	state.PID = pid
	return state, nil
}

// Stop sends SIGTERM to the running server and waits up to grace for it to
// release its lock, escalating to SIGKILL afterwards.
func Stop(ctx context.Context, cfg *config.Config, grace time.Duration) (StopResult, error) {
	state, err := ProcessInfo(cfg)
	if err != nil {
		return StopResult{}, err
	}
	if !state.Running {
		return StopResult{}, ErrNotRunning
	}
	if state.PID <= 0 {
		return StopResult{}, fmt.Errorf("server is running but %s has no pid", state.PIDPath)
	}
	if state.PID == os.Getpid() {
		return StopResult{}, fmt.Errorf("refusing to signal current process (pid %d)", state.PID)
	}

	result := StopResult{PID: state.PID}
	if err := unix.Kill(state.PID, syscall.SIGTERM); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return result, nil
		}
		return result, fmt.Errorf("signal server process %d: %w", state.PID, err)
	}
	if err := waitForRelease(ctx, state.LockPath, grace); err == nil {
		return result, nil
	} else if ctx.Err() != nil {
		return result, err
	}

	if err := unix.Kill(state.PID, syscall.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return result, fmt.Errorf("kill server process %d: %w", state.PID, err)
	}
	result.ForcedKill = true
	if err := os.Remove(state.PIDPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return result, fmt.Errorf("remove pid file %q: %w", state.PIDPath, err)
	}
	return result, nil
}

// ReadPID parses the pid file at path.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("pid file %q does not contain a pid", path)
	}
	return pid, nil
}

// lockHeld probes the lock without keeping it.
func lockHeld(path string) (bool, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	lock := flock.New(path)
	acquired, err := lock.TryLock()
	if err != nil {
		return false, fmt.Errorf("probe lock %s: %w", path, err)
	}
	if acquired {
		_ = lock.Unlock()
		return false, nil
	}
	return true, nil
}

func waitForRelease(ctx context.Context, lockPath string, grace time.Duration) error {
	deadline := time.Now().Add(grace)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		held, err := lockHeld(lockPath)
		if err != nil {
			return err
		}
		if !held {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("server still running after %s", grace)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
