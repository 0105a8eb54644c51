package rules

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-alerts/internal/model"
)

func newTestFileStore(t *testing.T) *FileStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	s, err := NewFileStore(path)
	require.NoError(t, err)
	return s
}

func TestFileStore_SeedsDefaults(t *testing.T) {
	t.Parallel()
	s := newTestFileStore(t)

	rules, err := s.Rules()
	require.NoError(t, err)
	assert.Equal(t, DefaultRules(), rules)
}

func TestFileStore_SetThresholdPersists(t *testing.T) {
	t.Parallel()
	s := newTestFileStore(t)

	updated, err := s.SetThreshold("conversion-70", 80)
	require.NoError(t, err)
	assert.InDelta(t, 80, updated.Threshold, 0.001)

	rules, err := s.Rules()
	require.NoError(t, err)
	for _, r := range rules {
		if r.ID == "conversion-70" {
			assert.InDelta(t, 80, r.Threshold, 0.001)
			return
		}
	}
	t.Fatal("rule conversion-70 not found after update")
}

func TestFileStore_SetEnabled(t *testing.T) {
	t.Parallel()
	s := newTestFileStore(t)

	updated, err := s.SetEnabled("drift-2pct", false)
	require.NoError(t, err)
	assert.False(t, updated.Enabled)
}

func TestFileStore_MarkTriggeredPersists(t *testing.T) {
	t.Parallel()
	s := newTestFileStore(t)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.MarkTriggered("conversion-70", at))

	rules, err := s.Rules()
	require.NoError(t, err)
	for _, r := range rules {
		if r.ID == "conversion-70" {
			require.NotNil(t, r.LastTriggered)
			assert.True(t, r.LastTriggered.Equal(at))
			return
		}
	}
	t.Fatal("conversion-70 not found")
}

func TestFileStore_UnknownRule(t *testing.T) {
	t.Parallel()
	s := newTestFileStore(t)

	_, err := s.SetEnabled("nope", true)
	assert.True(t, errors.Is(err, ErrRuleNotFound))
}

func TestFileStore_ExternalEditTakesEffect(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	s, err := NewFileStore(path)
	require.NoError(t, err)

	// An operator edits the file directly.
	edited := `
rules:
  - id: conversion-90
    name: Very high urgency only
    type: conversion-opportunity
    threshold: 90
    enabled: true
`
	require.NoError(t, os.WriteFile(path, []byte(edited), 0o644))

	rules, err := s.Rules()
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "conversion-90", rules[0].ID)
	assert.Equal(t, model.AlertConversionOpportunity, rules[0].Type)
	assert.InDelta(t, 90, rules[0].Threshold, 0.001)
}

func TestFileStore_MalformedFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules: [not closed"), 0o644))

	s, err := NewFileStore(path)
	require.NoError(t, err)

	_, err = s.Rules()
	assert.Error(t, err)
}
