// Package browser drives a real browser for the painter. Two drivers share
// one interface: playwright-go for chromium, firefox and webkit, and
// chromedp for an installed Google Chrome.
package browser

import "time"

// Engine names accepted by Config.Engine.
const (
	EngineChromium = "chromium"
	EngineFirefox  = "firefox"
	EngineWebKit   = "webkit"
	// EngineChrome drives a locally installed Chrome over CDP.
	EngineChrome = "chrome"
)

// UserAgent is sent by headless API fetches.
const UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36"

// Default timeouts
const (
	DefaultNavigateTimeout = 60 * time.Second
	DefaultActionTimeout   = 30 * time.Second
	DefaultPollInterval    = time.Second
)

// Viewports used by the painter.
var (
	// PaintViewport is the window used while painting.
	PaintViewport = Viewport{Width: 1280, Height: 720}
	// FetchViewport is the window used for headless API fetches.
	FetchViewport = Viewport{Width: 1920, Height: 1080}
)
