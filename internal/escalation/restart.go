package escalation

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/nerrad567/gray-logic-node/internal/infrastructure/config"
)

// ExitCodeRestart is the exit status used to ask the service manager for a
// restart (EX_TEMPFAIL). Pair with Restart=on-failure in the unit file.
const ExitCodeRestart = 75

// commandGrace is how long the process lingers after a reboot command
// before exiting on its own.
const commandGrace = 10 * time.Second

// Restarter replaces or ends the current process. On success Restart does
// not return.
type Restarter interface {
	Restart(reason string) error
}

// platformRestarter implements the three reset modes. Its syscalls are
// fields so tests can observe them.
type platformRestarter struct {
	mode    string
	command []string
	logger  Logger

	exit   func(code int)
	exec   func(argv0 string, argv []string, envv []string) error
	run    func(ctx context.Context, name string, args ...string) error
	sleep  func(time.Duration)
	binary func() (string, error)
}

// NewRestarter builds the Restarter for cfg.Mode: "exit" exits with
// ExitCodeRestart, "reexec" replaces the process image with a fresh copy of
// the binary, "command" runs cfg.Command (e.g. systemctl reboot).
func NewRestarter(cfg config.ResetConfig, logger Logger) (Restarter, error) {
	if logger == nil {
		logger = noopLogger{}
	}
	switch cfg.Mode {
	case "exit", "reexec":
	case "command":
		if len(cfg.Command) == 0 {
			return nil, fmt.Errorf("%w: command mode without a command", ErrUnknownMode)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, cfg.Mode)
	}
	return &platformRestarter{
		mode:    cfg.Mode,
		command: cfg.Command,
		logger:  logger,
		exit:    os.Exit,
		exec:    syscall.Exec,
		run: func(ctx context.Context, name string, args ...string) error {
			return exec.CommandContext(ctx, name, args...).Run() //nolint:gosec // command comes from node.yaml
		},
		sleep:  time.Sleep,
		binary: os.Executable,
	}, nil
}

func (r *platformRestarter) Restart(reason string) error {
	r.logger.Warn("restarting device", "mode", r.mode, "reason", reason)

	switch r.mode {
	case "reexec":
		if err := r.reexec(); err != nil {
			r.logger.Error("re-exec failed, exiting instead", "error", err)
		}
	case "command":
		if err := r.runCommand(); err != nil {
			r.logger.Error("restart command failed, exiting instead", "error", err)
		} else {
			// The command is expected to take the machine down.
			r.sleep(commandGrace)
		}
	}

	r.exit(ExitCodeRestart)
	return ErrRestartReturned
}

func (r *platformRestarter) reexec() error {
	bin, err := r.binary()
	if err != nil {
		return fmt.Errorf("locating binary: %w", err)
	}
	return r.exec(bin, os.Args, os.Environ())
}

func (r *platformRestarter) runCommand() error {
	ctx, cancel := context.WithTimeout(context.Background(), commandGrace)
	defer cancel()
	return r.run(ctx, r.command[0], r.command[1:]...)
}
