// file.go implements a file-backed keystore that reloads the master secret
// when the file changes on disk, so infrastructure tooling (Kubernetes secret
// mounts, Vault agent templates) can rotate the secret without a restart.
package keystore

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/JoeLogavina/METENZI-B2B-sub007/internal/safego"
)

// File reads the master secret from a file. The first non-empty line is the
// active secret; subsequent lines are retired secrets, most recent first.
type File struct {
	path    string
	watcher *fsnotify.Watcher

	mu       sync.RWMutex
	current  string
	previous []string
}

// NewFile loads the secret file and starts watching it for changes.
func NewFile(path string) (*File, error) {
	f := &File{path: path}
	if err := f.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("keystore: failed to create watcher: %w", err)
	}
	// Watch the directory, not the file: secret mounts replace the file via
	// rename, which drops a watch placed directly on the inode.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("keystore: failed to watch %s: %w", filepath.Dir(path), err)
	}
	f.watcher = watcher

	safego.Go(func() { f.watch() })
	return f, nil
}

// Current returns the active master secret.
func (f *File) Current() (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.current == "" {
		return "", ErrNoSecret
	}
	return f.current, nil
}

// Previous returns retired secrets, most recent first.
func (f *File) Previous() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]string(nil), f.previous...)
}

// Close stops watching the secret file.
func (f *File) Close() error {
	if f.watcher != nil {
		return f.watcher.Close()
	}
	return nil
}

func (f *File) watch() {
	for {
		select {
		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(f.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := f.reload(); err != nil {
				slog.Error("keystore: reload after change failed, keeping previous secret", "path", f.path, "error", err)
				continue
			}
			slog.Info("keystore: master secret reloaded", "path", f.path)
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("keystore: watcher error", "error", err)
		}
	}
}

func (f *File) reload() error {
	file, err := os.Open(f.path)
	if err != nil {
		return fmt.Errorf("keystore: failed to open secret file: %w", err)
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("keystore: failed to read secret file: %w", err)
	}
	if len(lines) == 0 {
		return ErrNoSecret
	}
	if len(lines[0]) < MinSecretLength {
		return ErrSecretTooShort
	}

	f.mu.Lock()
	f.current = lines[0]
	f.previous = lines[1:]
	f.mu.Unlock()
	return nil
}
