package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Status represents the current state of a supervised daemon.
type Status string

const (
	StatusStopped Status = "stopped"
	StatusRunning Status = "running"
	StatusBackoff Status = "backoff"
	StatusFailed  Status = "failed"
)

// Config holds configuration for a supervised daemon.
type Config struct {
	// Name is a human-readable identifier for logging.
	Name string

	// Binary is the path to the executable.
	Binary string

	// Args are command-line arguments to pass to the binary.
	Args []string

	// RestartBackoff produces the delay before each restart after an
	// unexpected exit. A backoff.Stop delay gives up and leaves the
	// daemon in StatusFailed. Nil disables restarts.
	RestartBackoff func() backoff.BackOff

	// GracefulTimeout is how long Stop waits after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration

	// OnExit is called after every exit, expected or not.
	OnExit func(err error)
}

// Logger defines the logging interface for the supervisor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ErrAlreadyRunning is returned by Start when the daemon is already supervised.
var ErrAlreadyRunning = errors.New("process: already running")

// Manager supervises one long-running child process.
type Manager struct {
	config Config
	logger Logger

	mu            sync.RWMutex
	cmd           *exec.Cmd
	status        Status
	restartCount  int
	lastError     error
	startTime     time.Time
	stopRequested bool
	done          chan struct{}
}

// NewManager creates a supervisor. Nothing is started until Start.
func NewManager(cfg Config) *Manager {
	if cfg.GracefulTimeout == 0 {
		cfg.GracefulTimeout = 5 * time.Second
	}
	return &Manager{
		config: cfg,
		logger: noopLogger{},
		status: StatusStopped,
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// Start launches the daemon and supervises it until Stop or ctx is done.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.status == StatusRunning || m.status == StatusBackoff {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, m.config.Name)
	}
	m.stopRequested = false
	m.restartCount = 0
	m.done = make(chan struct{})
	m.mu.Unlock()

	cmd, err := m.launch(ctx)
	if err != nil {
		m.mu.Lock()
		m.status = StatusFailed
		m.lastError = err
		close(m.done)
		m.mu.Unlock()
		return err
	}

	go m.supervise(ctx, cmd)
	return nil
}

// launch starts one instance of the daemon in its own process group.
func (m *Manager) launch(ctx context.Context) (*exec.Cmd, error) {
	cmd := exec.CommandContext(ctx, m.config.Binary, m.config.Args...) //nolint:gosec // binary comes from node.yaml
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", m.config.Name, err)
	}

	m.mu.Lock()
	m.cmd = cmd
	m.status = StatusRunning
	m.startTime = time.Now()
	m.mu.Unlock()

	go m.captureOutput("stdout", stdout)
	go m.captureOutput("stderr", stderr)

	m.logger.Info("process started", "name", m.config.Name, "pid", cmd.Process.Pid)
	return cmd, nil
}

// captureOutput logs the daemon's output line by line at debug level.
func (m *Manager) captureOutput(stream string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		m.logger.Debug("process output", "name", m.config.Name, "stream", stream, "line", scanner.Text())
	}
}

// supervise waits for exits and restarts per RestartBackoff.
func (m *Manager) supervise(ctx context.Context, cmd *exec.Cmd) {
	defer close(m.done)

	var policy backoff.BackOff
	if m.config.RestartBackoff != nil {
		policy = m.config.RestartBackoff()
	}

	for {
		err := cmd.Wait()

		m.mu.Lock()
		stopRequested := m.stopRequested
		m.lastError = err
		m.mu.Unlock()

		if m.config.OnExit != nil {
			m.config.OnExit(err)
		}

		if stopRequested || ctx.Err() != nil {
			m.setStatus(StatusStopped)
			m.logger.Info("process stopped", "name", m.config.Name)
			return
		}

		m.logger.Warn("process exited unexpectedly", "name", m.config.Name, "error", err)

		if policy == nil {
			m.setStatus(StatusFailed)
			return
		}
		delay := policy.NextBackOff()
		if delay == backoff.Stop {
			m.logger.Error("restart budget exhausted", "name", m.config.Name, "restarts", m.RestartCount())
			m.setStatus(StatusFailed)
			return
		}

		m.mu.Lock()
		m.status = StatusBackoff
		m.restartCount++
		m.mu.Unlock()

		m.logger.Info("restarting process", "name", m.config.Name, "delay", delay)

		select {
		case <-ctx.Done():
			m.setStatus(StatusStopped)
			return
		case <-time.After(delay):
		}

		m.mu.RLock()
		stopRequested = m.stopRequested
		m.mu.RUnlock()
		if stopRequested {
			m.setStatus(StatusStopped)
			return
		}

		next, err := m.launch(ctx)
		if err != nil {
			m.logger.Error("failed to restart process", "name", m.config.Name, "error", err)
			m.mu.Lock()
			m.lastError = err
			m.status = StatusFailed
			m.mu.Unlock()
			return
		}
		cmd = next
	}
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
}

// Stop sends SIGTERM to the daemon's process group, escalating to SIGKILL
// after GracefulTimeout. Safe to call when not running.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.done == nil || m.status == StatusStopped || m.status == StatusFailed {
		m.mu.Unlock()
		return nil
	}
	m.stopRequested = true
	cmd := m.cmd
	done := m.done
	status := m.status
	m.mu.Unlock()

	// In backoff there is no live process; the supervisor notices
	// stopRequested when its delay elapses.
	if status == StatusBackoff || cmd == nil || cmd.Process == nil {
		return nil
	}

	pid := cmd.Process.Pid
	m.logger.Info("stopping process", "name", m.config.Name, "pid", pid)

	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		m.logger.Warn("failed to send SIGTERM", "name", m.config.Name, "error", err)
	}

	select {
	case <-done:
		return nil
	case <-time.After(m.config.GracefulTimeout):
		m.logger.Warn("graceful shutdown timeout, sending SIGKILL", "name", m.config.Name)
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("killing process group %s: %w", m.config.Name, err)
	}
	<-done
	return nil
}

// Status returns the current status of the daemon.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// IsRunning returns true if the daemon is currently running.
func (m *Manager) IsRunning() bool {
	return m.Status() == StatusRunning
}

// RestartCount returns how many times the daemon has been restarted since Start.
func (m *Manager) RestartCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.restartCount
}

// Stats is a snapshot of the supervised daemon for status reporting.
type Stats struct {
	Name         string        `json:"name"`
	Status       Status        `json:"status"`
	PID          int           `json:"pid,omitempty"`
	Uptime       time.Duration `json:"uptime,omitempty"`
	RestartCount int           `json:"restart_count"`
	LastError    string        `json:"last_error,omitempty"`
}

// Stats returns current statistics for the daemon.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		Name:         m.config.Name,
		Status:       m.status,
		RestartCount: m.restartCount,
	}
	if m.status == StatusRunning && m.cmd != nil && m.cmd.Process != nil {
		stats.PID = m.cmd.Process.Pid
		stats.Uptime = time.Since(m.startTime)
	}
	if m.lastError != nil {
		stats.LastError = m.lastError.Error()
	}
	return stats
}
