package retention

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/blackforestdev/njord-quant-sub000/internal/aggregator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCronSyntax(t *testing.T) {
	assert.NoError(t, ValidateCronSyntax("*/5 * * * *"))
	assert.NoError(t, ValidateCronSyntax("0 0 1,15 * *"))
	assert.Error(t, ValidateCronSyntax("not a cron"))
	assert.Error(t, ValidateCronSyntax("* * * *"))
}

func TestLoadPolicySortsTiersAndValidatesResolution(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
tiers:
  - resolution: 1h
    retention_days: 30
  - resolution: 1m
    retention_days: 1
compress_after_days: 7
`), 0o644))

	p, err := LoadPolicy(path)
	require.NoError(t, err)
	require.Len(t, p.Tiers, 2)
	assert.Equal(t, "1m", p.Tiers[0].Resolution)
	assert.Equal(t, "1h", p.Tiers[1].Resolution)
}

func TestLoadPolicyRejectsUnknownResolution(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
tiers:
  - resolution: 3m
    retention_days: 1
`), 0o644))

	_, err := LoadPolicy(path)
	assert.Error(t, err)
}

func TestApplyRetentionDownsamplesAgedFile(t *testing.T) {
	dir := t.TempDir()
	jw, err := aggregator.NewJournalWriter(dir)
	require.NoError(t, err)

	old := time.Now().AddDate(0, 0, -3)
	val := 7.0
	rec := aggregator.Record{TimestampNs: old.UnixNano(), MetricName: "njord_x", MetricType: "gauge", Value: &val, IntervalSeconds: 60}
	require.NoError(t, jw.Append(rec, "1m"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	oldPath := filepath.Join(dir, entries[0].Name())
	require.NoError(t, os.Chtimes(oldPath, old, old))

	policy := Policy{
		Tiers: []Tier{
			{Resolution: "1m", RetentionDays: 1},
			{Resolution: "5m", RetentionDays: 30},
		},
		CompressAfter: 365,
	}
	eng := NewEngine(dir, policy, nil)
	counts, err := eng.ApplyRetention()
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Downsampled)
	assert.Equal(t, 0, counts.Failed)

	_, err = os.Stat(oldPath)
	assert.True(t, os.IsNotExist(err))
}
