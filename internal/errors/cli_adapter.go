package errors

import (
	"fmt"
	"log/slog"
	"os"
)

// CLIErrorAdapter handles error presentation and exit code determination for
// the docdaemon CLI. Each distinct startup failure kind maps to a documented
// exit code so supervisors can tell them apart.
type CLIErrorAdapter struct {
	verbose bool
	logger  *slog.Logger
}

// NewCLIErrorAdapter creates a new CLI error adapter.
func NewCLIErrorAdapter(verbose bool, logger *slog.Logger) *CLIErrorAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIErrorAdapter{
		verbose: verbose,
		logger:  logger,
	}
}

// ExitCodeFor determines the appropriate exit code for an error.
func (a *CLIErrorAdapter) ExitCodeFor(err error) int {
	if err == nil {
		return 0
	}

	if de, ok := err.(*DaemonError); ok {
		return a.exitCodeFromDaemon(de)
	}

	return 1
}

// exitCodeFromDaemon maps DaemonError categories to exit codes.
func (a *CLIErrorAdapter) exitCodeFromDaemon(err *DaemonError) int {
	switch err.Category {
	case CategoryValidation:
		return 2 // Invalid usage
	case CategoryPermission:
		return 5 // Caller not permitted to use the container runtime
	case CategoryConfig:
		return 7 // Configuration error (autobuild config missing/invalid)
	case CategoryImage:
		return 9 // Build image not imported
	case CategoryGit, CategoryNotify:
		return 8 // External system error
	case CategoryBuild, CategoryContainer, CategoryFileSystem:
		return 11 // Build error
	case CategoryRuntime:
		return 12 // Runtime error
	case CategoryInternal:
		return 10 // Internal error
	default:
		return 1 // General error
	}
}

// FormatError formats an error for user-friendly display.
func (a *CLIErrorAdapter) FormatError(err error) string {
	if err == nil {
		return ""
	}

	if de, ok := err.(*DaemonError); ok {
		if a.verbose {
			return de.Error()
		}
		switch de.Category {
		case CategoryConfig, CategoryValidation, CategoryPermission, CategoryImage:
			return de.Message
		default:
			return fmt.Sprintf("%s: %s", de.Category, de.Message)
		}
	}

	return fmt.Sprintf("Error: %v", err)
}

// HandleError processes an error and exits the program with appropriate code.
func (a *CLIErrorAdapter) HandleError(err error) {
	if err == nil {
		return
	}

	exitCode := a.ExitCodeFor(err)
	message := a.FormatError(err)

	if a.shouldLog(err) {
		a.logger.Error("fatal", slog.String("error", err.Error()), slog.Int("exit_code", exitCode))
	}

	fmt.Fprintf(os.Stderr, "%s\n", message)
	os.Exit(exitCode)
}

// shouldLog determines if an error should be logged.
func (a *CLIErrorAdapter) shouldLog(err error) bool {
	if a.verbose {
		return true
	}

	if de, ok := err.(*DaemonError); ok {
		return de.Category == CategoryInternal ||
			de.Category == CategoryRuntime ||
			de.Severity == SeverityFatal
	}

	return true
}
