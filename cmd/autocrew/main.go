// Package main is the entry point for the autocrew CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/runoshun/autocrew/internal/app"
	"github.com/runoshun/autocrew/internal/cli"
	"github.com/runoshun/autocrew/internal/domain"
)

// version is set at build time using -ldflags.
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	// Get current working directory
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}

	// Create dependency injection container
	container, err := app.New(cwd)
	if err != nil {
		// Allow running without git repo for help/version/status
		if errors.Is(err, domain.ErrNotGitRepository) {
			return runWithoutContainer(err)
		}
		return fmt.Errorf("failed to initialize: %w", err)
	}

	// Create and execute root command
	rootCmd := cli.NewRootCommand(container, version)
	err = rootCmd.ExecuteContext(context.Background())
	if closeErr := container.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

// runWithoutContainer handles cases where git repo is not found.
// This allows help, version, and status to work without a git repository.
func runWithoutContainer(gitErr error) error {
	if !canRunWithoutGit(os.Args[1:]) {
		return gitErr
	}
	return cli.NewRootCommand(nil, version).ExecuteContext(context.Background())
}

func canRunWithoutGit(args []string) bool {
	if len(args) == 0 {
		return true
	}
	switch args[0] {
	case "help", "status", "completion":
		return true
	}
	for _, arg := range args {
		if arg == "--version" || arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}
