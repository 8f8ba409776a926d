package agent

import (
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher polls a directory of agent definition files and calls a callback
// when the loaded set changes. Polling (not fsnotify) keeps the dependency
// surface small; definitions change rarely and a few stats per interval are
// cheap. A directory that fails to load keeps the previous set.
type Watcher struct {
	dir      string
	interval time.Duration
	onChange func(old, new []*Agent)

	mu      sync.Mutex
	current []*Agent

	// last known directory state for change detection
	lastStat [sha256.Size]byte
	lastHash [sha256.Size]byte

	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads the definitions in dir and starts polling for changes in
// a background goroutine. onChange runs outside the watcher lock with the
// previous and new agent sets; it may be nil.
func NewWatcher(dir string, onChange func(old, new []*Agent), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		dir:      dir,
		interval: 5 * time.Second,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	statSig, err := w.statSignature()
	if err != nil {
		return nil, fmt.Errorf("agent: watcher initial scan: %w", err)
	}
	agents, hash, err := w.loadAndHash()
	if err != nil {
		return nil, fmt.Errorf("agent: watcher initial load: %w", err)
	}
	w.current = agents
	w.lastStat = statSig
	w.lastHash = hash

	go w.poll()
	return w, nil
}

// Current returns the most recently loaded valid agent set.
func (w *Watcher) Current() []*Agent {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop stops the directory watcher.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
}

// poll runs in a background goroutine, checking the directory periodically.
func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

// check re-scans the directory and, when the definitions changed and still
// load cleanly, swaps the current set and invokes the callback. On a load
// failure the warning repeats each poll until the files are fixed.
func (w *Watcher) check() {
	// Quick stat pass first to avoid reading unchanged files.
	statSig, err := w.statSignature()
	if err != nil {
		slog.Warn("agent watcher: cannot scan directory", "dir", w.dir, "err", err)
		return
	}

	w.mu.Lock()
	unchanged := statSig == w.lastStat
	w.mu.Unlock()
	if unchanged {
		return
	}

	agents, hash, err := w.loadAndHash()
	if err != nil {
		slog.Warn("agent watcher: failed to load definitions", "dir", w.dir, "err", err)
		return
	}

	w.mu.Lock()
	if hash == w.lastHash {
		// Files were touched but the definitions are identical.
		w.lastStat = statSig
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current = agents
	w.lastStat = statSig
	w.lastHash = hash
	w.mu.Unlock()

	slog.Info("agent watcher: definitions reloaded", "dir", w.dir, "agents", len(agents))

	// Invoke the callback outside the lock so it can safely call Current().
	if w.onChange != nil {
		w.onChange(old, agents)
	}
}

// statSignature hashes the names, sizes and modification times of the
// definition files. Matching signatures mean the directory is unchanged.
func (w *Watcher) statSignature() ([sha256.Size]byte, error) {
	var zero [sha256.Size]byte

	paths, err := definitionPaths(w.dir)
	if err != nil {
		return zero, err
	}

	h := sha256.New()
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return zero, err
		}
		fmt.Fprintf(h, "%s|%d|%d\n", p, info.Size(), info.ModTime().UnixNano())
	}

	var sig [sha256.Size]byte
	h.Sum(sig[:0])
	return sig, nil
}

// loadAndHash reads every definition file, hashes the combined contents and
// parses the set with [LoadDir]. The hash catches touch-only changes that
// bump mtimes without altering any definition.
func (w *Watcher) loadAndHash() ([]*Agent, [sha256.Size]byte, error) {
	var zero [sha256.Size]byte

	paths, err := definitionPaths(w.dir)
	if err != nil {
		return nil, zero, err
	}

	h := sha256.New()
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, zero, err
		}
		fmt.Fprintf(h, "%s\n", p)
		h.Write(data)
	}
	var hash [sha256.Size]byte
	h.Sum(hash[:0])

	agents, err := LoadDir(w.dir)
	if err != nil {
		return nil, zero, err
	}
	return agents, hash, nil
}
