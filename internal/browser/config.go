package browser

import (
	"fmt"
	"net/url"
)

// Config selects and tunes the browser engine.
type Config struct {
	// Engine is one of chromium, firefox, webkit or chrome.
	Engine string `json:"engine"`

	// Headless forces every page to run without UI. When false, painting
	// pages are headed and API fetches stay headless.
	Headless bool `json:"headless,omitempty"`

	// Proxy is an HTTP proxy URL applied to the browser.
	Proxy string `json:"proxy,omitempty"`

	// ExecutablePath overrides auto-detection of Chrome.
	ExecutablePath string `json:"executablePath,omitempty"`

	// NoSandbox disables Chrome sandbox (needed in some containers).
	NoSandbox bool `json:"noSandbox,omitempty"`
}

// DefaultConfig returns the default browser configuration.
func DefaultConfig() Config {
	return Config{Engine: EngineChromium}
}

// ResolveConfig applies defaults and validates cfg. For the chrome engine
// it locates the executable.
func ResolveConfig(cfg Config) (Config, error) {
	if cfg.Engine == "" {
		cfg.Engine = EngineChromium
	}
	switch cfg.Engine {
	case EngineChromium, EngineFirefox, EngineWebKit:
	case EngineChrome:
		exe, err := FindChromeExecutable(cfg.ExecutablePath)
		if err != nil {
			return cfg, err
		}
		if exe == nil {
			return cfg, fmt.Errorf("no Chrome installation found; install Chrome or choose another browser")
		}
		cfg.ExecutablePath = exe.Path
	default:
		return cfg, fmt.Errorf("unknown browser engine: %s", cfg.Engine)
	}

	if cfg.Proxy != "" {
		u, err := url.Parse(cfg.Proxy)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return cfg, fmt.Errorf("invalid proxy url: %q", cfg.Proxy)
		}
	}
	return cfg, nil
}
