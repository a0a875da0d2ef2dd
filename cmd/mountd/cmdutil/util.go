// Package cmdutil provides shared utilities for mountd commands.
package cmdutil

import (
	"fmt"
	"io"
	"strings"

	"github.com/marmos91/mountd/internal/cli/output"
	"github.com/marmos91/mountd/internal/cli/prompt"
	"github.com/marmos91/mountd/pkg/config"
	"github.com/marmos91/mountd/pkg/store"
)

// Flags stores global flag values accessible by subcommands.
var Flags = &GlobalFlags{}

// GlobalFlags holds the global flag values.
type GlobalFlags struct {
	ConfigFile string
	NodeID     string
	LogLevel   string
}

// LoadConfig loads the configuration and applies global flag overrides.
// Missing config files fall back to defaults.
func LoadConfig() (*config.Config, error) {
	cfg, err := config.Load(Flags.ConfigFile)
	if err != nil {
		return nil, err
	}
	applyFlagOverrides(cfg)
	return cfg, nil
}

// MustLoadConfig loads the configuration, failing with instructions when
// no config file exists.
func MustLoadConfig() (*config.Config, error) {
	cfg, err := config.MustLoad(Flags.ConfigFile)
	if err != nil {
		return nil, err
	}
	applyFlagOverrides(cfg)
	return cfg, nil
}

// applyFlagOverrides layers --node-id and --log-level over the loaded file.
func applyFlagOverrides(cfg *config.Config) {
	if Flags.NodeID != "" {
		cfg.Node.ID = Flags.NodeID
	}
	if Flags.LogLevel != "" {
		cfg.Logging.Level = strings.ToUpper(Flags.LogLevel)
	}
}

// OpenStore opens the mount ledger database from configuration.
// The caller owns the returned store and must Close it.
func OpenStore(cfg *config.Config) (*store.Store, error) {
	st, err := store.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}
	return st, nil
}

// PrintOutput prints data in the requested format. Table and CSV formats
// use the renderer; JSON and YAML marshal the data value directly. For
// table format, emptyMsg is shown instead of an empty table.
func PrintOutput(w io.Writer, formatStr string, data any, isEmpty bool, emptyMsg string, table output.TableRenderer) error {
	format, err := output.ParseFormat(formatStr)
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(w, data)
	case output.FormatYAML:
		return output.PrintYAML(w, data)
	case output.FormatCSV:
		return output.PrintCSV(w, table)
	default:
		if isEmpty {
			_, _ = fmt.Fprintln(w, emptyMsg)
			return nil
		}
		return output.PrintTable(w, table)
	}
}

// HandleAbort checks if error is an abort (Ctrl+C) and prints a message.
// Returns nil for abort (user cancelled), otherwise returns the original error.
func HandleAbort(err error) error {
	if prompt.IsAborted(err) {
		fmt.Println("\nAborted.")
		return nil
	}
	return err
}

// BoolToYesNo converts a boolean to "yes" or "no" string.
func BoolToYesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// EmptyOr returns the value if not empty, otherwise returns the fallback.
// Useful for table display where empty fields should show "-".
func EmptyOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
