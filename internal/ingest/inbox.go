package ingest

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/VerdantVibes/coupon-scraper/internal/candidates"
)

// DoneDir is where processed code files are moved, inside the inbox.
const DoneDir = "done"

// Allowed extensions for code files (lowercase, without '.').
var codeFileExts = map[string]struct{}{
	"json": {},
	"txt":  {},
}

// Submission is one code file dropped into the inbox: <site>.json or <site>.txt.
type Submission struct {
	Site  string
	Codes []string
	Path  string
}

type InboxConfig struct {
	Dir         string
	InitialScan bool          // emit files already present at start
	Debounce    time.Duration // coalesce write bursts of one file
}

// WatchInbox emits a Submission for every code file written to cfg.Dir. Files are
// moved to <Dir>/done/ once read, so each one is submitted once. Unreadable files
// are reported on the error channel and left in place.
func WatchInbox(ctx context.Context, cfg InboxConfig, logger *slog.Logger) (<-chan Submission, <-chan error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Dir == "" {
		return nil, nil, errors.New("no inbox directory provided")
	}
	if err := os.MkdirAll(filepath.Join(cfg.Dir, DoneDir), 0o755); err != nil {
		return nil, nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Error("failed to create fsnotify watcher", "error", err)
		return nil, nil, err
	}
	if err := w.Add(cfg.Dir); err != nil {
		_ = w.Close()
		return nil, nil, err
	}

	subCh := make(chan Submission, 64)
	errCh := make(chan error, 16)
	in := &inbox{cfg: cfg, logger: logger, subCh: subCh, errCh: errCh, pending: map[string]*time.Timer{}}

	if cfg.InitialScan {
		entries, err := os.ReadDir(cfg.Dir)
		if err != nil {
			_ = w.Close()
			return nil, nil, err
		}
		for _, e := range entries {
			if e.Type().IsRegular() {
				in.schedule(ctx, filepath.Join(cfg.Dir, e.Name()))
			}
		}
	}

	go func() {
		defer close(subCh)
		defer close(errCh)
		defer in.wait()
		defer func() {
			if err := w.Close(); err != nil {
				logger.Warn("failed to close watcher", "error", err)
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-w.Events:
				if !ok {
					return
				}
				if e.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
					in.schedule(ctx, e.Name)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Error("watcher error", "error", err)
				in.report(err)
			}
		}
	}()

	return subCh, errCh, nil
}

type inbox struct {
	cfg    InboxConfig
	logger *slog.Logger
	subCh  chan<- Submission
	errCh  chan<- error

	mu      sync.Mutex
	pending map[string]*time.Timer
	wg      sync.WaitGroup
}

// schedule reads path after the debounce window; a later event for the same path
// restarts the window.
func (in *inbox) schedule(ctx context.Context, path string) {
	if !isCodeFile(path) {
		return
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	if t, ok := in.pending[path]; ok && t.Stop() {
		in.wg.Done()
	}
	in.wg.Add(1)
	in.pending[path] = time.AfterFunc(in.cfg.Debounce, func() {
		defer in.wg.Done()
		in.mu.Lock()
		delete(in.pending, path)
		in.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		in.submit(ctx, path)
	})
}

func (in *inbox) submit(ctx context.Context, path string) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return // already moved
	}
	codes, err := candidates.LoadCodesFile(path)
	if err != nil {
		in.logger.Warn("unreadable code file", "path", path, "error", err)
		in.report(err)
		return
	}
	done := filepath.Join(in.cfg.Dir, DoneDir, filepath.Base(path))
	if err := os.Rename(path, done); err != nil {
		in.logger.Warn("failed to move code file", "path", path, "error", err)
		in.report(err)
		return
	}
	sub := Submission{Site: siteFromFile(path), Codes: codes, Path: done}
	in.logger.Info("code file received", "site", sub.Site, "codes", len(codes))
	select {
	case in.subCh <- sub:
	case <-ctx.Done():
	}
}

func (in *inbox) report(err error) {
	select {
	case in.errCh <- err:
	default:
	}
}

func (in *inbox) wait() {
	in.mu.Lock()
	for path, t := range in.pending {
		if t.Stop() {
			in.wg.Done()
		}
		delete(in.pending, path)
	}
	in.mu.Unlock()
	in.wg.Wait()
}

func isCodeFile(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(base)), ".")
	_, ok := codeFileExts[ext]
	return ok
}

// siteFromFile maps "shop.example.json" to "shop.example".
func siteFromFile(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
