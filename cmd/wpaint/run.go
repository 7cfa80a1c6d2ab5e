package cli

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/neboloop/wplace-painter/internal/browser"
	"github.com/neboloop/wplace-painter/internal/config"
	"github.com/neboloop/wplace-painter/internal/defaults"
	"github.com/neboloop/wplace-painter/internal/logging"
	"github.com/neboloop/wplace-painter/internal/notify"
	"github.com/neboloop/wplace-painter/internal/paint"
	"github.com/neboloop/wplace-painter/internal/purchase"
	"github.com/neboloop/wplace-painter/internal/resolver"
	"github.com/neboloop/wplace-painter/internal/template"
	"github.com/neboloop/wplace-painter/internal/updater"
	"github.com/neboloop/wplace-painter/internal/wplace"
)

// RunCmd creates the run command
func RunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Paint for every configured user (default)",
		RunE:  runPaint,
	}
}

// checkTemplates fails when a user's template image is not in place.
func checkTemplates(cfg *config.Config) error {
	for _, u := range cfg.Users {
		path := defaults.TemplatePath(u.Template.FileID)
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("%w: user %s expects %s", template.ErrTemplateMissing, u.Identifier, path)
		}
	}
	return nil
}

func headlessOverride(cfg *config.Config) bool {
	if v, err := strconv.ParseBool(os.Getenv("WPAINT_HEADLESS")); err == nil {
		return v
	}
	return cfg.Headless
}

// browserConfig builds the browser settings from the document and the
// WPAINT_HEADLESS, WPAINT_CHROME_PATH and WPAINT_NO_SANDBOX overrides.
func browserConfig(cfg *config.Config) browser.Config {
	bc := browser.DefaultConfig()
	bc.Engine = string(cfg.Engine())
	bc.Headless = headlessOverride(cfg)
	bc.Proxy = cfg.Proxy
	bc.ExecutablePath = os.Getenv("WPAINT_CHROME_PATH")
	if v, err := strconv.ParseBool(os.Getenv("WPAINT_NO_SANDBOX")); err == nil {
		bc.NoSandbox = v
	}
	return bc
}

func runPaint(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	path := defaults.ConfigPath()
	cfg, err := prepareConfig(path, tokenLookup, openEditor)
	if err != nil {
		return err
	}
	if err := checkTemplates(cfg); err != nil {
		return err
	}

	zoom, err := paint.ParseZoom(os.Getenv("WPAINT_ZOOM"))
	if err != nil {
		return err
	}

	manager := browser.GetManager()
	if err := manager.Start(browserConfig(cfg)); err != nil {
		return err
	}
	defer manager.Stop()

	store := config.NewStore(cfg)
	watcher, err := config.NewWatcher(path, store, tokenLookup)
	if err != nil {
		logging.Warnf("config changes will need a restart: %v", err)
	} else {
		go watcher.Run(ctx)
	}
	store.Subscribe(func(next *config.Config) {
		if next.Engine() != cfg.Engine() || next.Proxy != cfg.Proxy {
			logging.Warnf("browser and proxy changes apply after a restart")
		}
	})

	go updater.NewBackgroundChecker(nil, Commit, func(res *updater.Result) {
		updater.LogNotify(res)
		notify.Send("wpaint update available", res.Message)
	}).Run(ctx)

	painter := paint.New(&wplace.Client{Driver: manager}, manager, resolver.New(defaults.ChunksDir()), store)
	painter.Purchaser = purchase.NewClient(cfg.Proxy)
	painter.Zoom = zoom
	painter.OnQuit = func(identifier string, err error) {
		notify.Send("wpaint: "+identifier+" stopped", err.Error())
	}

	logging.Infof("painting for %d user(s) with %s", len(cfg.Users), cfg.Engine())
	err = painter.RunAll(ctx)
	if ctx.Err() != nil {
		return nil
	}
	if errors.Is(err, paint.ErrShouldQuit) {
		logging.Errorf("all paint loops stopped: %v", err)
	}
	return err
}
