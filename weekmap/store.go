package weekmap

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Store holds the current Table and swaps it when the document changes.
type Store struct {
	path    string
	current atomic.Pointer[Table]
	logger  *slog.Logger
}

// NewStore returns a Store serving a fixed table.
func NewStore(t *Table) *Store {
	s := &Store{logger: slog.Default()}
	s.current.Store(t)
	return s
}

// OpenStore loads the document at path. An empty path serves Default().
func OpenStore(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{path: path, logger: logger}
	if path == "" {
		s.current.Store(Default())
		return s, nil
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Table returns the table currently in effect.
func (s *Store) Table() *Table { return s.current.Load() }

// Path returns the document path, or "" for the embedded default.
func (s *Store) Path() string { return s.path }

// Reload re-reads the document. On error the previous table stays active.
func (s *Store) Reload() error {
	if s.path == "" {
		return nil
	}
	t, err := Load(s.path)
	if err != nil {
		return err
	}
	s.current.Store(t)
	s.logger.Info("week map loaded",
		slog.String("path", s.path),
		slog.Int("weeks", t.Len()),
		slog.String("start_date", t.StartDate().Format(dateLayout)),
	)
	return nil
}

// Watch reloads the document whenever it is written or replaced, until
// ctx is done. The parent directory is watched so editors that save by
// rename are picked up.
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		return fmt.Errorf("week map: nothing to watch, no path configured")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("week map: create watcher: %w", err)
	}
	target := filepath.Clean(s.path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("week map: watch %s: %w", filepath.Dir(target), err)
	}

	go func() {
		defer func() { _ = watcher.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create) {
					continue
				}
				if err := s.Reload(); err != nil {
					s.logger.Warn("week map reload failed, keeping previous table",
						slog.String("path", s.path), slog.Any("err", err))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("week map watcher error", slog.Any("err", err))
			}
		}
	}()
	return nil
}
