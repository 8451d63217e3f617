package configreload

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/blackforestdev/njord-quant-sub000/internal/bus"
	"github.com/blackforestdev/njord-quant-sub000/pkg/observability"
	"gopkg.in/yaml.v3"
)

// ReloadTopic is the bus topic a successful reload is broadcast on.
const ReloadTopic = "controller.reload"

// reloadSignal is the payload published on ReloadTopic.
type reloadSignal struct {
	Service     string `json:"service"`
	TimestampNs int64  `json:"timestamp_ns"`
}

// TrackedFiles are the config files whose concatenated, sorted-order
// bytes form the hash a Reloader watches for changes.
var TrackedFiles = []string{"base.yaml", "secrets.enc.yaml"}

// Reloader watches a config directory, validates changed configuration,
// and publishes a reload signal on success.
type Reloader struct {
	dir     string
	watcher FileWatcher
	bus     bus.Bus
	logger  *observability.Logger
	journal string

	mu         sync.Mutex
	lastHash   string
	haveHashed bool

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewReloader builds a Reloader rooted at dir, appending journal lines to
// journalPath.
func NewReloader(dir string, watcher FileWatcher, b bus.Bus, journalPath string, logger *observability.Logger) *Reloader {
	return &Reloader{dir: dir, watcher: watcher, bus: b, journal: journalPath, logger: logger}
}

// Start launches the watch loop. The first successful hash computation
// is stored but does not emit a reload signal.
func (r *Reloader) Start(ctx context.Context) {
	r.stopChan = make(chan struct{})
	r.wg.Add(1)
	go r.loop(ctx)
}

// Stop halts the watch loop and closes the underlying watcher.
func (r *Reloader) Stop() error {
	if r.stopChan != nil {
		close(r.stopChan)
	}
	r.wg.Wait()
	return r.watcher.Close()
}

func (r *Reloader) loop(ctx context.Context) {
	defer r.wg.Done()
	r.checkForChange(ctx, "")

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopChan:
			return
		case _, ok := <-r.watcher.Events():
			if !ok {
				return
			}
			r.checkForChange(ctx, "")
		}
	}
}

// checkForChange recomputes the hash and, if different from the last
// observed hash, validates and publishes a reload. service is the
// target service name, or "" for a broadcast reload to every service.
func (r *Reloader) checkForChange(ctx context.Context, service string) {
	newHash, err := r.computeHash()
	if err != nil {
		r.warn(ctx, "compute config hash", err)
		return
	}

	r.mu.Lock()
	oldHash := r.lastHash
	first := !r.haveHashed
	unchanged := r.haveHashed && oldHash == newHash
	r.mu.Unlock()

	if unchanged {
		return
	}

	if first {
		r.mu.Lock()
		r.lastHash = newHash
		r.haveHashed = true
		r.mu.Unlock()
		if r.logger != nil {
			r.logger.Info(ctx, "configreload: initial hash computed", map[string]interface{}{"hash": newHash})
		}
		return
	}

	if err := r.validate(); err != nil {
		r.warn(ctx, "config validation failed, reload not signalled", err)
		return
	}

	r.mu.Lock()
	r.lastHash = newHash
	r.mu.Unlock()

	if err := r.appendJournal(oldHash, newHash); err != nil {
		r.warn(ctx, "append reload journal", err)
	}

	r.publish(ctx, service, newHash)
}

// computeHash sorts TrackedFiles' present entries lexically and hashes
// their concatenated bytes.
func (r *Reloader) computeHash() (string, error) {
	names := append([]string(nil), TrackedFiles...)
	sort.Strings(names)

	h := sha256.New()
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(r.dir, name))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return "", err
		}
		h.Write(data)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// validate parses base.yaml through the standard YAML loader; a parse
// failure means the reload is recovered, not surfaced, leaving the
// previous configuration in place.
func (r *Reloader) validate() error {
	data, err := os.ReadFile(filepath.Join(r.dir, "base.yaml"))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var generic map[string]interface{}
	return yaml.Unmarshal(data, &generic)
}

func (r *Reloader) appendJournal(oldHash, newHash string) error {
	f, err := os.OpenFile(r.journal, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	oldField := oldHash
	if oldField == "" {
		oldField = "initial"
	}

	w := bufio.NewWriter(f)
	if _, err := fmt.Fprintf(w, "%d\t%s\t%s\tconfig_changed\n", time.Now().UnixNano(), oldField, newHash); err != nil {
		return err
	}
	return w.Flush()
}

func (r *Reloader) publish(ctx context.Context, service string, newHash string) {
	if service == "" {
		service = "*"
	}
	signal := reloadSignal{Service: service, TimestampNs: time.Now().UnixNano()}
	payload, err := json.Marshal(signal)
	if err != nil {
		r.warn(ctx, "marshal reload signal", err)
		return
	}
	if err := r.bus.Publish(ctx, ReloadTopic, payload); err != nil {
		r.warn(ctx, "publish reload signal", err)
	}
}

func (r *Reloader) warn(ctx context.Context, msg string, err error) {
	if r.logger != nil {
		r.logger.Warn(ctx, "configreload: "+msg, map[string]interface{}{"error": err.Error()})
	}
}
