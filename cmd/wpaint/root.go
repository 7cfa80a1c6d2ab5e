package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/neboloop/wplace-painter/internal/config"
	"github.com/neboloop/wplace-painter/internal/crashlog"
	"github.com/neboloop/wplace-painter/internal/defaults"
	"github.com/neboloop/wplace-painter/internal/editor"
	"github.com/neboloop/wplace-painter/internal/keyring"
	"github.com/neboloop/wplace-painter/internal/logging"
)

// ErrEditorClosed means the editor was closed without saving a usable
// configuration.
var ErrEditorClosed = errors.New("configuration editor closed without saving")

// setup prepares the data directory and logging for every command.
func setup(cmd *cobra.Command, args []string) error {
	if dataDir != "" {
		defaults.SetDataDir(dataDir)
	}
	if _, err := defaults.EnsureDataDir(); err != nil {
		return fmt.Errorf("failed to initialize data directory: %w", err)
	}
	if err := logging.Setup(logging.Options{
		Verbose: verbose,
		Dir:     defaults.LogsDir(),
		Console: os.Stderr,
	}); err != nil {
		return err
	}
	crashlog.Init(defaults.LogsDir())
	return nil
}

func teardown() {
	logging.Close()
}

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		if parent.Err() == nil {
			logging.Warnf("shutting down...")
		}
	}()
	return ctx, cancel
}

// editFunc opens the editor and reports whether it saved.
type editFunc func(cfg *config.Config, path string) (bool, error)

var openEditor editFunc = editor.Run

// loadConfig reads the document and fills tokens from the keychain.
func loadConfig(path string, lookup config.TokenLookup) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ResolveTokens(lookup); err != nil {
		return nil, err
	}
	return cfg, nil
}

// draftConfig returns whatever can be parsed from path so the editor can
// start from it.
func draftConfig(path string) *config.Config {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	cfg, err := config.Parse(data)
	if err != nil {
		return nil
	}
	return cfg
}

// prepareConfig loads the configuration. A missing or invalid document
// opens the editor until it saves a valid one or is closed.
func prepareConfig(path string, lookup config.TokenLookup, edit editFunc) (*config.Config, error) {
	for {
		cfg, err := loadConfig(path, lookup)
		if err == nil {
			return cfg, nil
		}
		if !config.IsConfigError(err) {
			return nil, err
		}

		logging.Warnf("configuration problem: %v; opening the editor", err)
		saved, editErr := edit(draftConfig(path), path)
		if editErr != nil {
			return nil, editErr
		}
		if !saved {
			return nil, fmt.Errorf("%w: %w", ErrEditorClosed, err)
		}
	}
}

func tokenLookup(identifier string) (string, error) {
	return keyring.GetToken(identifier)
}

// selectUser picks the --user flag or the first configured user.
func selectUser(cfg *config.Config, identifier string) (config.User, error) {
	if identifier == "" {
		return cfg.Users[0], nil
	}
	u, ok := cfg.User(identifier)
	if !ok {
		return config.User{}, fmt.Errorf("no user %q in config", identifier)
	}
	return u, nil
}
