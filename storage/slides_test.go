package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"morphoview/models"
)

func createTestStore(t *testing.T) *SlideStore {
	t.Helper()
	tempDir := t.TempDir()
	db, err := models.ConnectDataBase("sqlite", filepath.Join(tempDir, "index.sqlite"))
	require.NoError(t, err)

	store, err := NewSlideStore(db, filepath.Join(tempDir, "uploads"))
	require.NoError(t, err)
	return store
}

func TestSlideStore_Create(t *testing.T) {
	store := createTestStore(t)

	slide, err := store.Create(strings.NewReader("slide bytes"), "test_image.png")
	require.NoError(t, err)

	assert.NotEmpty(t, slide.Identifier)
	assert.Equal(t, "test_image.png", slide.Filename)
	assert.Equal(t, slide.Identifier+".png", slide.SavedAs)
	assert.Equal(t, int64(len("slide bytes")), slide.Size)
	assert.Len(t, slide.Checksum, 64)

	content, err := os.ReadFile(filepath.Join(store.UploadDir(), slide.SavedAs))
	require.NoError(t, err)
	assert.Equal(t, "slide bytes", string(content))
}

func TestSlideStore_CreateUniqueIdentifiers(t *testing.T) {
	store := createTestStore(t)

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		slide, err := store.Create(strings.NewReader("same content"), "same.png")
		require.NoError(t, err)
		assert.False(t, seen[slide.Identifier], "identifier %s reused", slide.Identifier)
		seen[slide.Identifier] = true
	}
}

func TestSlideStore_CreateKeepsOnlyExtension(t *testing.T) {
	store := createTestStore(t)

	slide, err := store.Create(strings.NewReader("x"), "../../etc/scan.tiff")
	require.NoError(t, err)
	assert.Equal(t, slide.Identifier+".tiff", slide.SavedAs)
	assert.Equal(t, store.UploadDir(), filepath.Dir(slide.Path))

	slide, err = store.Create(strings.NewReader("x"), "noextension")
	require.NoError(t, err)
	assert.Equal(t, slide.Identifier, slide.SavedAs)
}

func TestSlideStore_ListAndDelete(t *testing.T) {
	store := createTestStore(t)

	first, err := store.Create(strings.NewReader("one"), "one.png")
	require.NoError(t, err)
	second, err := store.Create(strings.NewReader("two"), "two.jpg")
	require.NoError(t, err)

	names, err := store.List()
	require.NoError(t, err)
	assert.Equal(t, []string{first.SavedAs, second.SavedAs}, names)

	savedAs, found, err := store.Delete(first.Identifier)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, first.SavedAs, savedAs)

	names, err = store.List()
	require.NoError(t, err)
	assert.Equal(t, []string{second.SavedAs}, names)

	_, err = os.Stat(first.Path)
	assert.True(t, os.IsNotExist(err))
}

func TestSlideStore_DeleteMissing(t *testing.T) {
	store := createTestStore(t)

	savedAs, found, err := store.Delete("does-not-exist")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, savedAs)
}

func TestSlideStore_DeleteRequiresExactIdentifier(t *testing.T) {
	store := createTestStore(t)

	slide, err := store.Create(strings.NewReader("one"), "one.png")
	require.NoError(t, err)

	_, found, err := store.Delete(slide.Identifier[:8])
	require.NoError(t, err)
	assert.False(t, found)

	names, err := store.List()
	require.NoError(t, err)
	assert.Contains(t, names, slide.SavedAs)
}

func TestSlideStore_Lookup(t *testing.T) {
	store := createTestStore(t)

	created, err := store.Create(strings.NewReader("one"), "one.png")
	require.NoError(t, err)

	found, err := store.Lookup(created.Identifier)
	require.NoError(t, err)
	assert.Equal(t, created.SavedAs, found.SavedAs)

	_, err = store.Lookup("missing")
	assert.ErrorIs(t, err, ErrSlideNotFound)
}

func TestSlideStore_MarkTiled(t *testing.T) {
	store := createTestStore(t)

	created, err := store.Create(strings.NewReader("one"), "one.png")
	require.NoError(t, err)
	require.NoError(t, store.MarkTiled(created.Identifier, true))

	found, err := store.Lookup(created.Identifier)
	require.NoError(t, err)
	assert.True(t, found.Tiled)

	other, err := store.Create(strings.NewReader("two"), "two.png")
	require.NoError(t, err)
	untiled, err := store.Untiled()
	require.NoError(t, err)
	assert.Equal(t, []string{other.Identifier}, untiled)
}

func TestSlideStore_Reindex(t *testing.T) {
	store := createTestStore(t)

	indexed, err := store.Create(strings.NewReader("one"), "one.png")
	require.NoError(t, err)

	orphan := "0b9f7c1e-4a53-4c1e-9f5e-2b1f1f0d9e11.svs"
	require.NoError(t, os.WriteFile(filepath.Join(store.UploadDir(), orphan), []byte("legacy"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(store.UploadDir(), "notes.txt"), []byte("ignored"), 0644))

	added, err := store.Reindex()
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	names, err := store.List()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{indexed.SavedAs, orphan}, names)

	added, err = store.Reindex()
	require.NoError(t, err)
	assert.Zero(t, added)
}

func TestArtifacts_Remove(t *testing.T) {
	tempDir := t.TempDir()
	artifacts, err := NewArtifacts(filepath.Join(tempDir, "heatmaps"), filepath.Join(tempDir, "tiles"))
	require.NoError(t, err)

	id := "slide-1"
	require.NoError(t, os.WriteFile(artifacts.HeatmapPath(id), []byte("png"), 0644))
	require.NoError(t, os.WriteFile(artifacts.DescriptorPath(id), []byte("<Image/>"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(artifacts.TilesPath(id), "0"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(artifacts.TilesPath(id), "0", "0_0.jpeg"), []byte("jpg"), 0644))

	other := "slide-2"
	require.NoError(t, os.WriteFile(artifacts.HeatmapPath(other), []byte("png"), 0644))

	artifacts.Remove(id)

	for _, path := range []string{artifacts.HeatmapPath(id), artifacts.DescriptorPath(id), artifacts.TilesPath(id)} {
		_, err := os.Stat(path)
		assert.True(t, os.IsNotExist(err), "%s should be gone", path)
	}
	_, err = os.Stat(artifacts.HeatmapPath(other))
	assert.NoError(t, err)

	// Removing again only logs
	artifacts.Remove(id)
	assert.Equal(t, "/heatmaps/slide-1_heatmap.png", artifacts.HeatmapURL(id))
}
