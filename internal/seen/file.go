package seen

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileLog keeps the window in a plain-text file, one signature per line,
// oldest first. The file is rewritten in full on every Mark.
type FileLog struct {
	path   string
	window int

	mu    sync.Mutex
	order []string
	index map[string]struct{}
}

// OpenFileLog loads path if it exists. A missing file is an empty window.
func OpenFileLog(path string) (*FileLog, error) {
	return openFileLog(path, Window)
}

func openFileLog(path string, window int) (*FileLog, error) {
	l := &FileLog{
		path:   path,
		window: window,
		index:  make(map[string]struct{}),
	}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open signature log: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		sig := strings.TrimSpace(sc.Text())
		if sig == "" {
			continue
		}
		if _, dup := l.index[sig]; dup {
			continue
		}
		l.order = append(l.order, sig)
		l.index[sig] = struct{}{}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read signature log: %w", err)
	}
	l.trim()
	return l, nil
}

func (l *FileLog) Has(_ context.Context, sig string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.index[sig]
	return ok, nil
}

func (l *FileLog) Mark(_ context.Context, sig string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.index[sig]; ok {
		return nil
	}
	l.order = append(l.order, sig)
	l.index[sig] = struct{}{}
	l.trim()
	return l.persist()
}

// Len is the number of signatures currently retained.
func (l *FileLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.order)
}

func (l *FileLog) trim() {
	if len(l.order) <= l.window {
		return
	}
	drop := len(l.order) - l.window
	for _, sig := range l.order[:drop] {
		delete(l.index, sig)
	}
	l.order = append([]string(nil), l.order[drop:]...)
}

// persist writes the window to a temp file and renames it over the log.
func (l *FileLog) persist() error {
	dir := filepath.Dir(l.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(l.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp signature log: %w", err)
	}
	w := bufio.NewWriter(tmp)
	for _, sig := range l.order {
		w.WriteString(sig)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write signature log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close signature log: %w", err)
	}
	if err := os.Rename(tmp.Name(), l.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace signature log: %w", err)
	}
	return nil
}
