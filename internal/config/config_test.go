package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "missing.hujson"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadParsesCommentedHuJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.hujson")
	content := `{
  // tuned up after a week of flaky SD cards in the field
  "fram_flush_watermark_records": 16,
  "sd_flush_period_ms": 10000,
  "node_id": "node-field-7",
}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, uint32(16), cfg.FramFlushWatermarkRecords)
	require.Equal(t, 10000, cfg.SDFlushPeriodMs)
	require.Equal(t, "node-field-7", cfg.NodeID)
}

func TestValidateRejectsOutOfRangeTunables(t *testing.T) {
	cfg := Default()
	cfg.LogPeriodMs = 1
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.FramFlushWatermarkRecords = 0
	require.Error(t, cfg.Validate())
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.json")

	cfg := Default()
	cfg.NodeID = "roundtrip-node"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "roundtrip-node", loaded.NodeID)
}

func TestEffectiveReturnsIndependentCopy(t *testing.T) {
	cfg := Default()
	eff := cfg.Effective()
	eff.NodeID = "mutated"
	require.NotEqual(t, cfg.NodeID, eff.NodeID)
}
