// Package defaults resolves the data directory and provides the embedded
// page scripts. The scripts are copied to <data_dir>/assets on first run so
// they can be edited without rebuilding.
//
// Layout:
//
//	data/
//	├── config.json
//	├── template.png          (legacy single template)
//	├── templates/<file_id>.png
//	├── assets/page_init.js
//	├── assets/paint_btn.js
//	└── js_chunks/            (resolver cache)
//
// Override with WPAINT_DATA_DIR environment variable or --data-dir.
package defaults

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

//go:embed dotwpaint/*
var defaultFiles embed.FS

const (
	ConfigFileName   = "config.json"
	LegacyTemplate   = "template.png"
	TemplatesDirName = "templates"
	AssetsDirName    = "assets"
	ChunksDirName    = "js_chunks"
	LogsDirName      = "logs"
)

var (
	overrideMu  sync.RWMutex
	overrideDir string
)

// SetDataDir overrides the data directory for the rest of the process.
func SetDataDir(dir string) {
	overrideMu.Lock()
	defer overrideMu.Unlock()
	overrideDir = dir
}

// DataDir returns the data directory. Resolution order: SetDataDir,
// WPAINT_DATA_DIR, ./data.
func DataDir() string {
	overrideMu.RLock()
	dir := overrideDir
	overrideMu.RUnlock()
	if dir != "" {
		return dir
	}
	if dir := os.Getenv("WPAINT_DATA_DIR"); dir != "" {
		return dir
	}
	return "data"
}

// ConfigPath returns <data_dir>/config.json.
func ConfigPath() string {
	return filepath.Join(DataDir(), ConfigFileName)
}

// TemplatesDir returns <data_dir>/templates.
func TemplatesDir() string {
	return filepath.Join(DataDir(), TemplatesDirName)
}

// TemplatePath returns the image path for a template file id. An empty id
// selects the legacy <data_dir>/template.png.
func TemplatePath(fileID string) string {
	if fileID == "" {
		return filepath.Join(DataDir(), LegacyTemplate)
	}
	return filepath.Join(TemplatesDir(), fileID+".png")
}

// ChunksDir returns <data_dir>/js_chunks.
func ChunksDir() string {
	return filepath.Join(DataDir(), ChunksDirName)
}

// LogsDir returns the log directory. Logs live next to the data directory,
// not inside it.
func LogsDir() string {
	return filepath.Join(filepath.Dir(filepath.Clean(DataDir())), LogsDirName)
}

// EnsureDataDir creates the data directory tree and copies default assets
// that are missing.
func EnsureDataDir() (string, error) {
	dir := DataDir()
	for _, sub := range []string{"", TemplatesDirName, ChunksDirName} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return "", fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	if err := copyDefaults(dir, false); err != nil {
		return "", err
	}
	return dir, nil
}

// Reset replaces the on-disk assets with the embedded ones.
func Reset(dir string) error {
	return copyDefaults(dir, true)
}

// copyDefaults copies embedded default files to the data directory.
// If overwrite is true, existing files are replaced.
func copyDefaults(dir string, overwrite bool) error {
	return fs.WalkDir(defaultFiles, "dotwpaint", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == "dotwpaint" {
			return nil
		}

		// embed.FS always uses forward slashes
		relPath := strings.TrimPrefix(path, "dotwpaint/")
		destPath := filepath.Join(dir, filepath.FromSlash(relPath))

		if d.IsDir() {
			return os.MkdirAll(destPath, 0755)
		}

		if !overwrite {
			if _, err := os.Stat(destPath); err == nil {
				return nil
			}
		}

		data, err := defaultFiles.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read embedded %s: %w", path, err)
		}
		if err := os.WriteFile(destPath, data, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", destPath, err)
		}
		return nil
	})
}

// Asset returns a page script by name (without extension). A copy in
// <data_dir>/assets wins over the embedded one.
func Asset(name string) (string, error) {
	onDisk := filepath.Join(DataDir(), AssetsDirName, name+".js")
	if data, err := os.ReadFile(onDisk); err == nil {
		return string(data), nil
	}
	data, err := defaultFiles.ReadFile("dotwpaint/" + AssetsDirName + "/" + name + ".js")
	if err != nil {
		return "", fmt.Errorf("asset %s: %w", name, err)
	}
	return string(data), nil
}

// ListDefaults returns the names of all embedded default files.
func ListDefaults() ([]string, error) {
	var files []string
	err := fs.WalkDir(defaultFiles, "dotwpaint", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, strings.TrimPrefix(path, "dotwpaint/"))
		}
		return nil
	})
	return files, err
}
