package templates

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTemplate = `id: exposed-panel
info:
  name: Exposed Admin Panel
  severity: high
  description: Finds an exposed admin panel
  tags: panel,exposure
http:
  - method: GET
    path:
      - "/admin"
    matchers:
      - type: word
        words:
          - "Admin Login"
`

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreSaveResolveLoad(t *testing.T) {
	store := newTestStore(t)

	path, err := store.Save("exposed-panel", sampleTemplate)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(store.Dir(), "exposed-panel.yaml"), path)

	resolved, err := store.Resolve("exposed-panel")
	require.NoError(t, err)
	assert.Equal(t, path, resolved)

	content, err := store.Load("exposed-panel")
	require.NoError(t, err)
	assert.Equal(t, sampleTemplate, content)
}

func TestStoreSaveRejectsIDMismatch(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Save("other-id", sampleTemplate)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "id mismatch")
}

func TestStoreResolveByDeclaredID(t *testing.T) {
	store := newTestStore(t)

	// A file whose name does not match its declared id still resolves.
	path := filepath.Join(store.Dir(), "renamed-file.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleTemplate), 0644))

	resolved, err := store.Resolve("exposed-panel")
	require.NoError(t, err)
	assert.Equal(t, path, resolved)
}

func TestStoreResolveRejectsShadowingFilename(t *testing.T) {
	store := newTestStore(t)

	// A file sitting at the conventional path but declaring a different id
	// must not win over the template that really carries the requested id.
	shadow := strings.Replace(sampleTemplate, "id: exposed-panel", "id: other-check", 1)
	shadowPath := filepath.Join(store.Dir(), "exposed-panel.yaml")
	require.NoError(t, os.WriteFile(shadowPath, []byte(shadow), 0644))

	realPath := filepath.Join(store.Dir(), "real.yaml")
	require.NoError(t, os.WriteFile(realPath, []byte(sampleTemplate), 0644))

	resolved, err := store.Resolve("exposed-panel")
	require.NoError(t, err)
	assert.Equal(t, realPath, resolved)

	resolved, err = store.Resolve("other-check")
	require.NoError(t, err)
	assert.Equal(t, shadowPath, resolved)
}

func TestStoreResolveUnknown(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Resolve("does-not-exist")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreListSortedWithMetadata(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Save("exposed-panel", sampleTemplate)
	require.NoError(t, err)

	second := strings.Replace(sampleTemplate, "id: exposed-panel", "id: another-check", 1)
	_, err = store.Save("another-check", second)
	require.NoError(t, err)

	// A non-template YAML file is skipped, not an error.
	junk := filepath.Join(store.Dir(), "notes.yaml")
	require.NoError(t, os.WriteFile(junk, []byte("just: notes\n"), 0644))

	all, err := store.List()
	require.NoError(t, err)
	require.Len(t, all, 2)

	assert.Equal(t, "another-check", all[0].ID)
	assert.Equal(t, "exposed-panel", all[1].ID)
	assert.Equal(t, "Exposed Admin Panel", all[1].Name)
	assert.Equal(t, "high", all[1].Severity)
	assert.Equal(t, []string{"panel", "exposure"}, []string(all[1].Tags))
}

func TestStoreDelete(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Save("exposed-panel", sampleTemplate)
	require.NoError(t, err)

	require.NoError(t, store.Delete("exposed-panel"))

	_, err = store.Resolve("exposed-panel")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, store.Delete("exposed-panel"), ErrNotFound)
}

func TestStoreImportDeduplicatesByID(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Save("exposed-panel", sampleTemplate)
	require.NoError(t, err)

	src := t.TempDir()
	// Same declared id under a different filename: skipped.
	require.NoError(t, os.WriteFile(filepath.Join(src, "dupe.yaml"), []byte(sampleTemplate), 0644))
	fresh := strings.Replace(sampleTemplate, "id: exposed-panel", "id: fresh-check", 1)
	require.NoError(t, os.WriteFile(filepath.Join(src, "fresh.yml"), []byte(fresh), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "readme.txt"), []byte("not yaml"), 0644))

	imported, err := store.Import(src)
	require.NoError(t, err)
	require.Len(t, imported, 1)
	assert.Equal(t, filepath.Join(store.Dir(), "fresh-check.yaml"), imported[0])

	all, err := store.List()
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestTagListForms(t *testing.T) {
	scalar := "id: t1\ninfo:\n  name: T1\n  severity: low\n  tags: a, b ,c\n"
	meta, err := parseMetadata([]byte(scalar), "t1.yaml")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, []string(meta.Tags))

	sequence := "id: t2\ninfo:\n  name: T2\n  severity: low\n  tags:\n    - a\n    - b\n"
	meta, err = parseMetadata([]byte(sequence), "t2.yaml")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, []string(meta.Tags))
}

func TestParseMetadataDefaults(t *testing.T) {
	meta, err := parseMetadata([]byte("id: bare\n"), "bare.yaml")
	require.NoError(t, err)
	assert.Equal(t, "bare", meta.Name)
	assert.Equal(t, "info", meta.Severity)

	_, err = parseMetadata([]byte("info:\n  name: no id\n"), "x.yaml")
	require.Error(t, err)
}

func TestBuildBasicRoundTrips(t *testing.T) {
	content, err := BuildBasic(BasicTemplate{
		ID:           "smoke-check",
		Severity:     "medium",
		Path:         "/health",
		MatcherWords: []string{"ok"},
	})
	require.NoError(t, err)

	meta, err := parseMetadata([]byte(content), "")
	require.NoError(t, err)
	assert.Equal(t, "smoke-check", meta.ID)
	assert.Equal(t, "smoke-check", meta.Name)
	assert.Equal(t, "medium", meta.Severity)

	store := newTestStore(t)
	_, err = store.Save("smoke-check", content)
	require.NoError(t, err)
}

func TestBuildBasicRequiresID(t *testing.T) {
	_, err := BuildBasic(BasicTemplate{})
	require.Error(t, err)
}
