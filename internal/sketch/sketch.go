// Package sketch is the file-system queue producer: it lists and streams
// G-code sketches from a fixed root directory into a Machine's command
// queue, one line at a time, backpressured against max_queue_length rather
// than failing outright. It watches the root directory with fsnotify so
// HTTP listing requests never need to re-scan the filesystem.
package sketch

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/plotterfw/motioncore/internal/machine"
	"go.uber.org/zap"
)

// enqueuePollPeriod is how often a streaming producer retries Enqueue while
// the queue is at max_queue_length, per §4.9.
const enqueuePollPeriod = 50 * time.Millisecond

// TestRoutineName is the fixed sketch name played by plotter/test. Per
// §9(b), the original's test entry point relied on an ambient machine
// reference instead of taking one as a parameter; Reader.PlayTest threads
// it explicitly instead of reproducing that bug.
const TestRoutineName = "test_routine.gcode"

// Reader streams sketches from root and keeps a live listing of its
// contents.
type Reader struct {
	root string
	log  *zap.Logger

	mu      sync.RWMutex
	names   map[string]struct{}
	watcher *fsnotify.Watcher
}

// NewReader creates the sketch root directory if missing, takes an initial
// listing, and starts watching it for changes.
func NewReader(root string, log *zap.Logger) (*Reader, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("sketch root %q: %w", root, err)
	}

	r := &Reader{root: root, log: log, names: map[string]struct{}{}}
	if err := r.scan(); err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("sketch directory watcher: %w", err)
	}
	if err := w.Add(root); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch sketch root %q: %w", root, err)
	}
	r.watcher = w
	go r.watchLoop()

	return r, nil
}

func (r *Reader) scan() error {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return fmt.Errorf("read sketch root: %w", err)
	}
	names := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names[e.Name()] = struct{}{}
		}
	}
	r.mu.Lock()
	r.names = names
	r.mu.Unlock()
	return nil
}

func (r *Reader) watchLoop() {
	for {
		select {
		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename|fsnotify.Write) != 0 {
				if err := r.scan(); err != nil && r.log != nil {
					r.log.Warn("rescan sketch directory", zap.Error(err))
				}
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			if r.log != nil {
				r.log.Warn("sketch directory watcher error", zap.Error(err))
			}
		}
	}
}

// Close stops the directory watcher.
func (r *Reader) Close() error {
	if r.watcher != nil {
		return r.watcher.Close()
	}
	return nil
}

// List returns the current sketch filenames, sorted.
func (r *Reader) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.names))
	for n := range r.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Exists strips any path component from sketchName (a defense against path
// traversal the original callback applies before its directory-listing
// check) and reports whether the resulting basename names a known sketch.
func (r *Reader) Exists(sketchName string) (base string, ok bool) {
	base = filepath.Base(sketchName)
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok = r.names[base]
	return base, ok
}

// Session is a cancellable streaming playback of one sketch into a
// Machine's queue. It satisfies dispatcher.Session.
type Session struct {
	ID     string
	Sketch string

	cancel context.CancelFunc
	done   chan struct{}
}

// Cancel stops the streaming goroutine; Wait returns once it has.
func (s *Session) Cancel() { s.cancel() }

// Wait blocks until the session's streaming goroutine returns.
func (s *Session) Wait() { <-s.done }

// Play starts a session streaming sketchName's lines into m's queue. If
// workspaces is non-empty, the sketch is replayed once per listed work
// coordinate system index (1-based into machine.WCSIdentifiers, skipping
// G53): a CS-select line is enqueued, then the whole sketch, for each
// index in turn — the natural reading of "append current_cs or each of a
// supplied workspace list" as a per-workspace repeat rather than a single
// pass. With no workspaces, the sketch streams once under whatever CS is
// already active. Either way, a single M104 (eject) line is enqueued at
// the very end of the session.
func (r *Reader) Play(ctx context.Context, m *machine.Machine, sketchName string, workspaces []int) (*Session, error) {
	base, ok := r.Exists(sketchName)
	if !ok {
		return nil, fmt.Errorf("sketch not found: %q", base)
	}

	sessCtx, cancel := context.WithCancel(ctx)
	sess := &Session{ID: uuid.NewString(), Sketch: base, cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(sess.done)
		defer cancel()
		if err := r.stream(sessCtx, m, base, workspaces); err != nil && sessCtx.Err() == nil {
			if r.log != nil {
				r.log.Warn("sketch playback failed", zap.String("session", sess.ID), zap.String("sketch", base), zap.Error(err))
			}
			m.AppendInfo(fmt.Sprintf("sketch %q failed: %v", base, err))
		}
	}()
	return sess, nil
}

// PlayTest starts a session reading the fixed test routine sketch.
func (r *Reader) PlayTest(ctx context.Context, m *machine.Machine) (*Session, error) {
	return r.Play(ctx, m, TestRoutineName, nil)
}

func (r *Reader) stream(ctx context.Context, m *machine.Machine, base string, workspaces []int) error {
	wcsIdentifiers := machine.WCSIdentifiers[1:] // skip G53, the machine CS

	passes := 1
	if len(workspaces) > 0 {
		passes = len(workspaces)
	}

	for pass := 0; pass < passes; pass++ {
		if len(workspaces) > 0 {
			idx := workspaces[pass]
			if idx < 1 || idx > len(wcsIdentifiers) {
				return fmt.Errorf("invalid workspace index: %d", idx)
			}
			if err := enqueueBlocking(ctx, m, wcsIdentifiers[idx-1]); err != nil {
				return err
			}
		}
		if err := r.streamOnce(ctx, m, base); err != nil {
			return err
		}
	}

	return enqueueBlocking(ctx, m, "M104")
}

func (r *Reader) streamOnce(ctx context.Context, m *machine.Machine, base string) error {
	f, err := os.Open(filepath.Join(r.root, base))
	if err != nil {
		return fmt.Errorf("open sketch %q: %w", base, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if err := enqueueBlocking(ctx, m, line); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// enqueueBlocking retries Enqueue on a 50ms poll until it succeeds or ctx is
// canceled, the backpressure contract every queue producer except the
// direct plotter/gcode HTTP callback must honor.
func enqueueBlocking(ctx context.Context, m *machine.Machine, line string) error {
	for {
		if m.Enqueue(line) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(enqueuePollPeriod):
		}
	}
}
