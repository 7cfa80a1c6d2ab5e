// Package updater checks whether a newer build of the painter has been
// pushed upstream.
package updater

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/tidwall/gjson"

	"github.com/neboloop/wplace-painter/internal/logging"
)

const (
	Owner  = "wyf7685"
	Repo   = "wplace-auto-painter-pw"
	Branch = "master"

	// HTTP timeout for the update check
	timeout = 10 * time.Second
)

// Result contains the outcome of an update check.
type Result struct {
	Available     bool   `json:"available"`
	CurrentCommit string `json:"current_commit"`
	LatestCommit  string `json:"latest_commit"`
	Message       string `json:"message,omitempty"`
	CommittedAt   string `json:"committed_at,omitempty"`
	URL           string `json:"url,omitempty"`
}

// Checker queries the GitHub commits API.
type Checker struct {
	// BaseURL defaults to https://api.github.com.
	BaseURL string
	Client  *http.Client
}

func (c *Checker) commitURL() string {
	base := c.BaseURL
	if base == "" {
		base = "https://api.github.com"
	}
	return fmt.Sprintf("%s/repos/%s/%s/commits/%s", strings.TrimRight(base, "/"), Owner, Repo, Branch)
}

// Known reports whether commit identifies a real build.
func Known(commit string) bool {
	commit = strings.TrimSpace(commit)
	return commit != "" && commit != "dev" && commit != "unknown"
}

// Check compares the head of the upstream branch with currentCommit.
func (c *Checker) Check(ctx context.Context, currentCommit string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.commitURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("updater: create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "wpaint/"+short(currentCommit))

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("updater: fetch commit: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("updater: GitHub API returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("updater: read response: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("updater: malformed response")
	}

	doc := gjson.ParseBytes(body)
	latest := doc.Get("sha").String()
	if latest == "" {
		return nil, fmt.Errorf("updater: response has no sha")
	}
	msg, _, _ := strings.Cut(doc.Get("commit.message").String(), "\n")

	return &Result{
		Available:     Known(currentCommit) && !sameCommit(latest, currentCommit),
		CurrentCommit: currentCommit,
		LatestCommit:  latest,
		Message:       msg,
		CommittedAt:   doc.Get("commit.committer.date").String(),
		URL:           doc.Get("html_url").String(),
	}, nil
}

// sameCommit accepts an abbreviated build commit.
func sameCommit(latest, current string) bool {
	current = strings.ToLower(strings.TrimSpace(current))
	return len(current) >= 7 && strings.HasPrefix(strings.ToLower(latest), current)
}

func short(commit string) string {
	if len(commit) > 7 {
		return commit[:7]
	}
	return commit
}

// NotifyFunc is called when a new commit is detected.
type NotifyFunc func(result *Result)

// LogNotify warns on the console about a new build.
func LogNotify(result *Result) {
	logging.Warnf("[updater] new version available: %s -> %s %s", short(result.CurrentCommit), short(result.LatestCommit), result.Message)
	logging.Warnf("[updater] pull the latest code (git pull) or download the newest build and restart")
}

// BackgroundChecker checks every hour on the hour and notifies once per
// new commit.
type BackgroundChecker struct {
	checker      *Checker
	commit       string
	notify       NotifyFunc
	spec         string
	lastNotified string
	mu           sync.Mutex
}

// NewBackgroundChecker creates a checker for the build commit. A nil notify
// logs a warning.
func NewBackgroundChecker(checker *Checker, commit string, notify NotifyFunc) *BackgroundChecker {
	if checker == nil {
		checker = &Checker{}
	}
	if notify == nil {
		notify = LogNotify
	}
	return &BackgroundChecker{
		checker: checker,
		commit:  commit,
		notify:  notify,
		spec:    "@hourly",
	}
}

// Run schedules the check and blocks until ctx is cancelled. Builds without
// a known commit return immediately.
func (b *BackgroundChecker) Run(ctx context.Context) {
	if !Known(b.commit) {
		logging.Debugf("[updater] build commit unknown, update checks disabled")
		return
	}

	c := cron.New()
	if _, err := c.AddFunc(b.spec, func() { b.check(ctx) }); err != nil {
		logging.Warnf("[updater] invalid schedule %q: %v", b.spec, err)
		return
	}
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
}

// check performs a single update check and notifies if a new commit is found
// that we haven't already notified about.
func (b *BackgroundChecker) check(ctx context.Context) {
	result, err := b.checker.Check(ctx, b.commit)
	if err != nil {
		logging.Warnf("[updater] update check failed: %v", err)
		return
	}
	if !result.Available {
		logging.Debugf("[updater] up to date (%s)", short(b.commit))
		return
	}

	b.mu.Lock()
	alreadyNotified := b.lastNotified == result.LatestCommit
	if !alreadyNotified {
		b.lastNotified = result.LatestCommit
	}
	b.mu.Unlock()

	if !alreadyNotified {
		b.notify(result)
	}
}
