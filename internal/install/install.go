// Package install installs the dependencies of a repository.
package install

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/simplesurance/deployd/internal/cfg"
	"github.com/simplesurance/deployd/internal/logfields"
	"github.com/simplesurance/deployd/internal/shell"
)

const loggerName = "installer"

type runFunc func(ctx context.Context, dir string, env map[string]string, argv []string) ([]byte, error)

// Installer runs the install command of a repository in its working copy.
type Installer struct {
	logger *zap.Logger
	run    runFunc
}

func New() *Installer {
	return &Installer{
		logger: zap.L().Named(loggerName),
		run:    shell.Run,
	}
}

// InstallDependencies runs the InstallCommand of repo in repo.Path.
// If no install command is configured, nil is returned.
func (i *Installer) InstallDependencies(ctx context.Context, repo *cfg.Repository) error {
	logger := i.logger.With(logfields.Repository(repo.Name))

	if len(repo.InstallCommand) == 0 {
		logger.Debug("no install command configured, skipping dependency installation")
		return nil
	}

	logger.Info(
		"installing dependencies",
		logfields.Event("dependency_installation_started"),
		zap.Strings("command", repo.InstallCommand),
	)

	out, err := i.run(ctx, repo.Path, nil, repo.InstallCommand)
	if err != nil {
		logger.Warn(
			"installing dependencies failed",
			logfields.Event("dependency_installation_failed"),
			zap.ByteString("output", out),
			zap.Error(err),
		)
		return fmt.Errorf("installing dependencies failed: %w", err)
	}

	logger.Info(
		"dependencies installed",
		logfields.Event("dependency_installation_succeeded"),
	)
	logger.Debug("install command output", zap.ByteString("output", out))

	return nil
}
