package config

import "testing"

func TestConfig_NilReceiverReturnsDefaults(t *testing.T) {
	var c *Config

	if got := c.GetFileIO(); got != FileIOMmap {
		t.Errorf("GetFileIO() = %v, want %v", got, FileIOMmap)
	}
	if got := c.GetSplit(); got != defaultSplit {
		t.Errorf("GetSplit() = %d, want %d", got, defaultSplit)
	}
	if got := c.GetChunkSize(); got != defaultChunkSize {
		t.Errorf("GetChunkSize() = %d, want %d", got, defaultChunkSize)
	}
	if got := c.GetUpdateInterval(); got != defaultUpdateInterval {
		t.Errorf("GetUpdateInterval() = %v, want %v", got, defaultUpdateInterval)
	}
	if got := c.GetTempfileSuffix(); got != defaultTempfileSuffix {
		t.Errorf("GetTempfileSuffix() = %q, want %q", got, defaultTempfileSuffix)
	}
	if got := c.GetDownloader(); got != defaultDownloader {
		t.Errorf("GetDownloader() = %q, want %q", got, defaultDownloader)
	}
	if c.GetDebug() {
		t.Error("GetDebug() should default to false")
	}
}

func TestConfig_ZeroValueReturnsDefaults(t *testing.T) {
	c := &Config{}
	if got := c.GetSplit(); got != defaultSplit {
		t.Errorf("GetSplit() = %d, want %d", got, defaultSplit)
	}
	if got := c.GetDir(); got != defaultDir {
		t.Errorf("GetDir() = %q, want %q", got, defaultDir)
	}
}

func TestConfig_CustomValuesAreReturned(t *testing.T) {
	c := &Config{Split: 32, ChunkSize: 1024, Debug: true}
	if got := c.GetSplit(); got != 32 {
		t.Errorf("GetSplit() = %d, want 32", got)
	}
	if got := c.GetChunkSize(); got != 1024 {
		t.Errorf("GetChunkSize() = %d, want 1024", got)
	}
	if !c.GetDebug() {
		t.Error("GetDebug() should be true")
	}
}

func TestOverlay_AppliesOptionsWithoutMutatingOriginal(t *testing.T) {
	c := &Config{Split: 4}
	overlaid := c.Overlay(map[string]any{"split": float64(8), "debug": true})

	if c.GetSplit() != 4 {
		t.Errorf("original config mutated: GetSplit() = %d, want 4", c.GetSplit())
	}
	if overlaid.GetSplit() != 8 {
		t.Errorf("overlaid.GetSplit() = %d, want 8", overlaid.GetSplit())
	}
	if !overlaid.GetDebug() {
		t.Error("overlaid.GetDebug() should be true")
	}
}

func TestOverlay_IgnoresUnknownKeys(t *testing.T) {
	c := &Config{}
	overlaid := c.Overlay(map[string]any{"nonsense": 123})
	if overlaid.GetSplit() != defaultSplit {
		t.Errorf("unknown key should not affect known fields")
	}
}
