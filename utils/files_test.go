package utils

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeSubdir(t *testing.T) {
	base := t.TempDir()
	abs, err := filepath.Abs(base)
	require.NoError(t, err)

	got, err := SafeSubdir(base, "stabilityai/sdxl")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(abs, "stabilityai", "sdxl"), got)

	got, err = SafeSubdir(base, "/")
	require.NoError(t, err)
	assert.Equal(t, abs, got)

	_, err = SafeSubdir(base, "../outside")
	assert.Error(t, err)
	_, err = SafeSubdir(base, "models/../../outside")
	assert.Error(t, err)
}

func TestDownloadName(t *testing.T) {
	assert.Equal(t, "variation_1.png", DownloadName("variation", 0, "image/png"))
	assert.Equal(t, "variation_3.jpg", DownloadName("variation", 2, "image/jpeg"))
	assert.Equal(t, "comparison.png", DownloadName("comparison", -1, ""))
	assert.Equal(t, "image.png", DownloadName("  ", -1, "image/png"))
}

func TestNewJobID(t *testing.T) {
	a, b := NewJobID(), NewJobID()
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}
