package configreload

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/blackforestdev/njord-quant-sub000/internal/bus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReloaderSkipsInitialHashThenSignalsOnChange(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.yaml")
	require.NoError(t, os.WriteFile(base, []byte("server:\n  port: 9100\n"), 0o644))

	b := bus.NewMemoryBus()
	defer b.Close()
	ctx := context.Background()
	sub, err := b.Subscribe(ctx, ReloadTopic)
	require.NoError(t, err)

	fw := NewFakeWatcher()
	journal := filepath.Join(dir, "reload.journal")
	r := NewReloader(dir, fw, b, journal, nil)
	r.Start(ctx)
	defer r.Stop()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-sub.C:
		t.Fatal("initial hash computation must not publish a reload signal")
	default:
	}

	require.NoError(t, os.WriteFile(base, []byte("server:\n  port: 9200\n"), 0o644))
	go fw.Trigger(ctx)

	select {
	case msg := <-sub.C:
		assert.Contains(t, string(msg.Payload), `"service":"*"`)
	case <-time.After(time.Second):
		t.Fatal("expected reload signal after config change")
	}

	data, err := os.ReadFile(journal)
	require.NoError(t, err)
	assert.Contains(t, string(data), "config_changed")
}

func TestReloaderDoesNotSignalOnInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.yaml")
	require.NoError(t, os.WriteFile(base, []byte("server:\n  port: 9100\n"), 0o644))

	b := bus.NewMemoryBus()
	defer b.Close()
	ctx := context.Background()
	sub, err := b.Subscribe(ctx, ReloadTopic)
	require.NoError(t, err)

	fw := NewFakeWatcher()
	r := NewReloader(dir, fw, b, filepath.Join(dir, "reload.journal"), nil)
	r.Start(ctx)
	defer r.Stop()

	time.Sleep(20 * time.Millisecond)

	require.NoError(t, os.WriteFile(base, []byte("not: [valid yaml"), 0o644))
	go fw.Trigger(ctx)

	select {
	case <-sub.C:
		t.Fatal("invalid config must not trigger a reload signal")
	case <-time.After(100 * time.Millisecond):
	}
}
