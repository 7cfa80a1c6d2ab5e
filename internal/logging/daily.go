package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const dayLayout = "2006-01-02"

// DailyFile is an io.Writer appending to <dir>/YYYY-MM-DD.log. The file is
// reopened on the first write of a new day.
type DailyFile struct {
	dir string
	now func() time.Time

	mu  sync.Mutex
	day string
	f   *os.File
}

// NewDailyFile returns a writer for dir. A nil now uses time.Now.
func NewDailyFile(dir string, now func() time.Time) *DailyFile {
	if now == nil {
		now = time.Now
	}
	return &DailyFile{dir: dir, now: now}
}

// Path returns the file the next write goes to.
func (d *DailyFile) Path() string {
	return filepath.Join(d.dir, d.now().Format(dayLayout)+".log")
}

func (d *DailyFile) open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rotate(d.now().Format(dayLayout))
}

// rotate must be called with mu held.
func (d *DailyFile) rotate(day string) error {
	if d.f != nil && d.day == day {
		return nil
	}
	if err := os.MkdirAll(d.dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(d.dir, day+".log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	if d.f != nil {
		d.f.Close()
	}
	d.f = f
	d.day = day
	return nil
}

func (d *DailyFile) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.rotate(d.now().Format(dayLayout)); err != nil {
		return 0, err
	}
	return d.f.Write(p)
}

// Close closes the current file. A later Write reopens it.
func (d *DailyFile) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		return nil
	}
	err := d.f.Close()
	d.f = nil
	return err
}
