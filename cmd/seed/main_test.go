package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "knowledge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
entries:
  - category: services
    title: Wedding films
    content_en: Full-day coverage with a highlight film.
    content_el: Κάλυψη όλης της ημέρας με ταινία.
  - category: faq
    title: Turnaround
    content: |
      Edits are delivered within ten working days.
`), 0o600))

	entries, err := loadSeedFile(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "services", entries[0].Category)
	assert.Equal(t, "Κάλυψη όλης της ημέρας με ταινία.", entries[0].ContentEL)
	assert.Equal(t, "Edits are delivered within ten working days.\n", entries[1].Content)
}

func TestLoadSeedFile_Errors(t *testing.T) {
	_, err := loadSeedFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("entries: [unclosed"), 0o600))
	_, err = loadSeedFile(path)
	assert.Error(t, err)
}
