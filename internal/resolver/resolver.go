// Package resolver finds the names under which the site's bundle exposes
// its paint functions. The bundle is minified and its identifiers change
// with every deploy, so they are looked up in freshly downloaded chunks.
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/neboloop/wplace-painter/internal/browser"
	"github.com/neboloop/wplace-painter/internal/logging"
)

const (
	// SiteURL is the page the chunk list is read from.
	SiteURL = "https://wplace.live"

	etagFile      = "etag.json"
	maxDownloads  = 8
	immutablePath = "/_app/immutable/"
)

// ErrPatternMissing means the bundle no longer looks the way the painter
// expects. Painting cannot continue until the patterns are updated.
var ErrPatternMissing = errors.New("paint function pattern not found")

var (
	chunkPattern   = regexp.MustCompile(`_app/immutable/(.+?)\.js`)
	paintPattern   = regexp.MustCompile(`await\s+([a-zA-Z0-9_$]+)\.paint\s*\(`)
	workerPattern  = regexp.MustCompile(`function ([a-zA-Z0-9_$]+)\([a-zA-Z0-9_$]+\)\{const .+=Math.random\(\)`)
	identifierExpr = `[a-zA-Z0-9_$]+`
)

const workerMarker = "navigator.serviceWorker.controller"

// Names are the resolved entry points, in the order the paint button
// script expects them.
type Names struct {
	PaintName   string
	PaintChunk  string
	WorkerName  string
	WorkerChunk string
}

// Slice returns [paintName, paintChunkURL, workerName, workerChunkURL].
func (n Names) Slice() []string {
	return []string{n.PaintName, n.PaintChunk, n.WorkerName, n.WorkerChunk}
}

// Resolver downloads the site's JS chunks into Dir and searches them.
type Resolver struct {
	// Dir caches chunks and their ETags.
	Dir string
	// Site overrides SiteURL.
	Site string
	// HTTP defaults to http.DefaultClient.
	HTTP *http.Client

	mu sync.Mutex
}

// New returns a resolver caching into dir.
func New(dir string) *Resolver {
	return &Resolver{Dir: dir}
}

func (r *Resolver) site() string {
	if r.Site != "" {
		return strings.TrimRight(r.Site, "/")
	}
	return SiteURL
}

func (r *Resolver) client() *http.Client {
	if r.HTTP != nil {
		return r.HTTP
	}
	return http.DefaultClient
}

// ChunkURL returns the public address of a chunk.
func (r *Resolver) ChunkURL(chunk string) string {
	return r.site() + immutablePath + chunk
}

// Resolve refreshes the chunk cache and looks up both entry points.
// Calls are serialized since they share the cache directory.
func (r *Resolver) Resolve(ctx context.Context) (Names, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(r.Dir, 0755); err != nil {
		return Names{}, fmt.Errorf("failed to create chunk dir: %w", err)
	}
	if err := r.prepare(ctx); err != nil {
		return Names{}, err
	}

	var names Names
	var err error
	if names.PaintName, names.PaintChunk, err = r.findPaint(); err != nil {
		return Names{}, err
	}
	if names.WorkerName, names.WorkerChunk, err = r.findWorker(); err != nil {
		return Names{}, err
	}
	return names, nil
}

func (r *Resolver) get(ctx context.Context, url string, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("User-Agent", browser.UserAgent)
	return r.client().Do(req)
}

// listChunks reads the chunk names referenced by the index page.
func (r *Resolver) listChunks(ctx context.Context) (map[string]bool, error) {
	resp, err := r.get(ctx, r.site()+"/", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch index: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch index: HTTP %d", resp.StatusCode)
	}
	html, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}

	chunks := make(map[string]bool)
	for _, m := range chunkPattern.FindAllStringSubmatch(string(html), -1) {
		name := m[1] + ".js"
		if strings.Contains(name, "..") {
			continue
		}
		chunks[name] = true
	}
	return chunks, nil
}

func (r *Resolver) prepare(ctx context.Context) error {
	chunks, err := r.listChunks(ctx)
	if err != nil {
		return err
	}
	etags := r.loadETags()

	for name := range etags {
		if !chunks[name] {
			delete(etags, name)
			os.Remove(r.chunkPath(name))
			logging.Debugf("[resolver] removed obsolete chunk %s", name)
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxDownloads)
	for name := range chunks {
		mu.Lock()
		etag := etags[name]
		mu.Unlock()

		g.Go(func() error {
			newTag, err := r.download(gctx, name, etag)
			if err != nil {
				return err
			}
			if newTag != "" {
				mu.Lock()
				etags[name] = newTag
				mu.Unlock()
			}
			return nil
		})
	}
	err = g.Wait()
	// keep whatever was downloaded even when one chunk failed
	if saveErr := r.saveETags(etags); saveErr != nil && err == nil {
		err = saveErr
	}
	if err != nil {
		return fmt.Errorf("failed to download chunks: %w", err)
	}
	logging.Debugf("[resolver] %d chunks up to date", len(chunks))
	return nil
}

// download fetches one chunk unless the cached copy is current. It returns
// the new ETag, or "" when nothing changed.
func (r *Resolver) download(ctx context.Context, name, etag string) (string, error) {
	path := r.chunkPath(name)
	header := http.Header{}
	if info, err := os.Stat(path); etag != "" && err == nil && info.Size() > 0 {
		header.Set("If-None-Match", etag)
	}

	resp, err := r.get(ctx, r.ChunkURL(name), header)
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return "", nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s: HTTP %d", name, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, body, 0644); err != nil {
		return "", err
	}
	return resp.Header.Get("ETag"), nil
}

func (r *Resolver) chunkPath(name string) string {
	return filepath.Join(r.Dir, filepath.FromSlash(name))
}

func (r *Resolver) loadETags() map[string]string {
	etags := make(map[string]string)
	data, err := os.ReadFile(filepath.Join(r.Dir, etagFile))
	if err != nil {
		return etags
	}
	if err := json.Unmarshal(data, &etags); err != nil {
		logging.Warnf("[resolver] ignoring corrupt %s: %v", etagFile, err)
		return make(map[string]string)
	}
	return etags
}

func (r *Resolver) saveETags(etags map[string]string) error {
	data, err := json.Marshal(etags)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(r.Dir, etagFile), data, 0644)
}

// glob returns matching files in a stable order.
func (r *Resolver) glob(pattern string) []string {
	files, _ := filepath.Glob(filepath.Join(r.Dir, pattern))
	sort.Strings(files)
	return files
}

// chunkName turns a path inside Dir back into a chunk name.
func (r *Resolver) chunkName(path string) (string, error) {
	rel, err := filepath.Rel(r.Dir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%w: chunk %s outside cache", ErrPatternMissing, path)
	}
	return filepath.ToSlash(rel), nil
}

// findPaint locates the object whose paint method the page awaits and the
// chunk it is imported from.
func (r *Resolver) findPaint() (string, string, error) {
	for _, file := range r.glob(filepath.Join("nodes", "*.js")) {
		data, err := os.ReadFile(file)
		if err != nil {
			continue
		}
		content := string(data)
		m := paintPattern.FindStringSubmatch(content)
		if m == nil {
			continue
		}

		imp := regexp.MustCompile(`import\s*\{[^}]*?\b(` + identifierExpr + `)\s+as\s+` +
			regexp.QuoteMeta(m[1]) + `[^}]*?\}\s*from\s*["']([^"']+)["'];`)
		im := imp.FindStringSubmatch(content)
		if im == nil {
			return "", "", fmt.Errorf("%w: import source for %s", ErrPatternMissing, m[1])
		}
		name, err := r.chunkName(filepath.Join(filepath.Dir(file), filepath.FromSlash(im[2])))
		if err != nil {
			return "", "", err
		}
		return im[1], r.ChunkURL(name), nil
	}
	return "", "", fmt.Errorf("%w: paint function object", ErrPatternMissing)
}

// findWorker locates the exported wrapper that posts paintPixels to the
// service worker.
func (r *Resolver) findWorker() (string, string, error) {
	for _, file := range r.glob(filepath.Join("*", "*.js")) {
		data, err := os.ReadFile(file)
		if err != nil {
			continue
		}
		content := string(data)
		if !strings.Contains(content, workerMarker) {
			continue
		}
		m := workerPattern.FindStringSubmatch(content)
		if m == nil {
			continue
		}

		wrapper := regexp.MustCompile(`function (` + identifierExpr + `)\(` + identifierExpr + `\)\s*\{return ` +
			regexp.QuoteMeta(m[1]) + `\(\{type:\s*['"]paintPixels['"],data:\s*q\}\)\}`)
		wm := wrapper.FindStringSubmatch(content)
		if wm == nil {
			return "", "", fmt.Errorf("%w: wrapper for %s", ErrPatternMissing, m[1])
		}

		export := regexp.MustCompile(`export\s*\{[^}]*?\b,?` + regexp.QuoteMeta(wm[1]) +
			`\s+as\s+(` + identifierExpr + `)[^}]*?\};`)
		em := export.FindStringSubmatch(content)
		if em == nil {
			return "", "", fmt.Errorf("%w: export of %s", ErrPatternMissing, wm[1])
		}
		name, err := r.chunkName(file)
		if err != nil {
			return "", "", err
		}
		return em[1], r.ChunkURL(name), nil
	}
	return "", "", fmt.Errorf("%w: service worker function", ErrPatternMissing)
}
