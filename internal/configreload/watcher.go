// Package configreload watches the config directory for changes,
// validates the new configuration, and broadcasts a reload signal on the
// bus.
package configreload

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileWatcher abstracts over how a change to the tracked config files is
// detected: kernel-notify where available, polling otherwise, and a
// test-driven fake in unit tests.
type FileWatcher interface {
	// Events returns a channel that receives a value whenever a watched
	// file is modified. The channel is closed when Close is called.
	Events() <-chan struct{}
	Close() error
}

// FsnotifyWatcher watches the tracked filenames for write and create
// events using the host's native filesystem notification.
type FsnotifyWatcher struct {
	watcher *fsnotify.Watcher
	out     chan struct{}
	done    chan struct{}
}

// NewFsnotifyWatcher watches dir, filtering events down to the given
// filenames (base.yaml, the secrets file, etc).
func NewFsnotifyWatcher(dir string, filenames []string) (*FsnotifyWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}

	tracked := make(map[string]bool, len(filenames))
	for _, f := range filenames {
		tracked[f] = true
	}

	fw := &FsnotifyWatcher{watcher: w, out: make(chan struct{}, 1), done: make(chan struct{})}
	go fw.loop(tracked)
	return fw, nil
}

func (fw *FsnotifyWatcher) loop(tracked map[string]bool) {
	defer close(fw.out)
	for {
		select {
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			base := baseName(event.Name)
			if len(tracked) > 0 && !tracked[base] {
				continue
			}
			select {
			case fw.out <- struct{}{}:
			default:
			}
		case _, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
		case <-fw.done:
			return
		}
	}
}

func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}

func (fw *FsnotifyWatcher) Events() <-chan struct{} { return fw.out }

func (fw *FsnotifyWatcher) Close() error {
	close(fw.done)
	return fw.watcher.Close()
}

// PollingWatcher polls at a fixed interval, notifying on any tick. The
// reloader itself compares hashes to decide whether anything changed.
type PollingWatcher struct {
	out  chan struct{}
	stop chan struct{}
}

// NewPollingWatcher ticks every interval until Close is called.
func NewPollingWatcher(interval time.Duration) *PollingWatcher {
	pw := &PollingWatcher{out: make(chan struct{}, 1), stop: make(chan struct{})}
	go pw.loop(interval)
	return pw
}

func (pw *PollingWatcher) loop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer close(pw.out)
	for {
		select {
		case <-ticker.C:
			select {
			case pw.out <- struct{}{}:
			default:
			}
		case <-pw.stop:
			return
		}
	}
}

func (pw *PollingWatcher) Events() <-chan struct{} { return pw.out }

func (pw *PollingWatcher) Close() error {
	close(pw.stop)
	return nil
}

// FakeWatcher is test-only: Trigger() drives a reload check explicitly
// instead of relying on a wall clock or real filesystem events.
type FakeWatcher struct {
	out  chan struct{}
	stop chan struct{}
}

// NewFakeWatcher builds a FakeWatcher with no automatic triggering.
func NewFakeWatcher() *FakeWatcher {
	return &FakeWatcher{out: make(chan struct{}, 1), stop: make(chan struct{})}
}

// Trigger fires one event, as if a watched file had just changed.
func (fw *FakeWatcher) Trigger(ctx context.Context) {
	select {
	case fw.out <- struct{}{}:
	case <-ctx.Done():
	case <-fw.stop:
	}
}

func (fw *FakeWatcher) Events() <-chan struct{} { return fw.out }

func (fw *FakeWatcher) Close() error {
	close(fw.stop)
	close(fw.out)
	return nil
}
