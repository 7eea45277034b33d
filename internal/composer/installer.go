package composer

import (
	"context"
	"io"
	"log/slog"

	"github.com/schaermu/devsettings/internal/shell"
)

// DefaultBinary is the composer executable looked up on PATH
const DefaultBinary = "composer"

// Installer runs composer so the lock file and vendor directory follow the
// rewritten require-dev section.
type Installer struct {
	runner shell.Runner
	binary string
	dir    string
	logger *slog.Logger
}

// NewInstaller creates an installer running binary in the project directory
func NewInstaller(runner shell.Runner, binary, dir string, logger *slog.Logger) *Installer {
	if binary == "" {
		binary = DefaultBinary
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Installer{runner: runner, binary: binary, dir: dir, logger: logger}
}

// Install runs `composer update <pkgs> --dev --no-interaction`.
// It returns nil when there is nothing to install.
func (i *Installer) Install(ctx context.Context, packages []string) *shell.Result {
	return i.run(ctx, "update", packages)
}

// Remove runs `composer remove <pkgs> --dev --no-interaction`.
// It returns nil when there is nothing to remove.
func (i *Installer) Remove(ctx context.Context, packages []string) *shell.Result {
	return i.run(ctx, "remove", packages)
}

func (i *Installer) run(ctx context.Context, action string, packages []string) *shell.Result {
	if len(packages) == 0 {
		return nil
	}

	args := make([]string, 0, len(packages)+3)
	args = append(args, action)
	args = append(args, packages...)
	args = append(args, "--dev", "--no-interaction")

	i.logger.Info("running composer", "action", action, "packages", packages)
	res := i.runner.Exec(ctx, i.dir, i.binary, args...)
	if !res.OK() {
		i.logger.Error("composer command failed",
			"action", action,
			"exit_code", res.ExitCode,
			"error", res.Err)
	}
	return &res
}
