package watcher

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/setevik/logsentinel/internal/event"
	"github.com/setevik/logsentinel/internal/ingest"
)

// FileSource tails JSONL files in a directory. Only complete lines are
// consumed; a partially written line is read once its newline arrives.
type FileSource struct {
	dir       string
	pattern   string
	fromStart bool

	mu      sync.Mutex
	offsets map[string]int64
	cancel  context.CancelFunc
}

// NewFileSource watches dir for files whose base name matches the glob
// pattern. When fromStart is false, content present at startup is skipped.
func NewFileSource(dir, pattern string, fromStart bool) *FileSource {
	return &FileSource{
		dir:       dir,
		pattern:   pattern,
		fromStart: fromStart,
		offsets:   make(map[string]int64),
	}
}

func (f *FileSource) Events(ctx context.Context) (<-chan event.LogEvent, error) {
	if _, err := filepath.Match(f.pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid watch pattern %q: %w", f.pattern, err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	if err := w.Add(f.dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching %s: %w", f.dir, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	f.mu.Lock()
	f.cancel = cancel
	f.mu.Unlock()

	existing, _ := filepath.Glob(filepath.Join(f.dir, f.pattern))
	if !f.fromStart {
		f.skipExisting(existing)
	}

	ch := make(chan event.LogEvent, 64)

	go func() {
		defer close(ch)
		defer w.Close()

		if f.fromStart {
			for _, p := range existing {
				f.drain(ctx, p, ch)
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					slog.Warn("fsnotify event channel closed", "dir", f.dir)
					return
				}
				if !f.matches(ev.Name) {
					continue
				}
				switch {
				case ev.Op&(fsnotify.Write|fsnotify.Create) != 0:
					f.drain(ctx, ev.Name, ch)
				case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
					f.forget(ev.Name)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("fsnotify error", "dir", f.dir, "error", err)
			}
		}
	}()

	slog.Info("file watcher started", "dir", f.dir, "pattern", f.pattern, "from_start", f.fromStart)
	return ch, nil
}

func (f *FileSource) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		f.cancel()
	}
}

func (f *FileSource) matches(path string) bool {
	ok, _ := filepath.Match(f.pattern, filepath.Base(path))
	return ok
}

// skipExisting moves the offset of files seen for the first time to their
// end. A restarted source resumes known files where it left off.
func (f *FileSource) skipExisting(paths []string) {
	for _, p := range paths {
		f.mu.Lock()
		_, known := f.offsets[p]
		f.mu.Unlock()
		if known {
			continue
		}
		if fi, err := os.Stat(p); err == nil {
			f.setOffset(p, fi.Size())
		}
	}
}

func (f *FileSource) forget(path string) {
	f.mu.Lock()
	delete(f.offsets, path)
	f.mu.Unlock()
}

func (f *FileSource) offset(path string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offsets[path]
}

func (f *FileSource) setOffset(path string, off int64) {
	f.mu.Lock()
	f.offsets[path] = off
	f.mu.Unlock()
}

// drain reads every complete line appended to path since the last call.
func (f *FileSource) drain(ctx context.Context, path string, ch chan<- event.LogEvent) {
	file, err := os.Open(path)
	if err != nil {
		slog.Debug("cannot open watched file", "path", path, "error", err)
		return
	}
	defer file.Close()

	fi, err := file.Stat()
	if err != nil {
		return
	}
	off := f.offset(path)
	if fi.Size() < off {
		slog.Info("watched file truncated, rereading", "path", path, "old_offset", off, "size", fi.Size())
		off = 0
	}
	if _, err := file.Seek(off, io.SeekStart); err != nil {
		slog.Debug("seek failed", "path", path, "error", err)
		return
	}

	r := bufio.NewReaderSize(file, 64*1024)
	for {
		line, err := r.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			break // incomplete trailing line stays unread
		}
		if err != nil {
			slog.Warn("reading watched file", "path", path, "error", err)
			break
		}
		off += int64(len(line))

		ev, ok := parseLine(line)
		if !ok {
			continue
		}
		select {
		case ch <- ev:
		case <-ctx.Done():
			f.setOffset(path, off)
			return
		}
	}
	f.setOffset(path, off)
}

// parseLine decodes one JSON line; lines without a timestamp are stamped
// with the arrival time.
func parseLine(line []byte) (event.LogEvent, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return event.LogEvent{}, false
	}
	ev, coerced, err := ingest.ParseJSONLine(line, time.Now())
	if err != nil {
		slog.Debug("skipping invalid log line", "error", err)
		return event.LogEvent{}, false
	}
	if coerced {
		slog.Debug("log line has unparseable timestamp", "id", ev.ID)
	}
	return ev, true
}
