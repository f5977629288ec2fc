package artifact

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), "testshop")
	require.NoError(t, err)
	return store
}

func TestPathFor_Deterministic(t *testing.T) {
	store := newTestStore(t)

	key := ItemKey("904711", "112-abc", "pdf")
	first, err := store.PathFor(key)
	require.NoError(t, err)
	second, err := store.PathFor(key)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	other, err := store.PathFor(ItemKey("904711", "113-abc", "pdf"))
	require.NoError(t, err)
	assert.NotEqual(t, first, other, "keys differing only in item id must map to different paths")
}

func TestPathFor_Layout(t *testing.T) {
	store := newTestStore(t)

	cases := []struct {
		key Key
		rel string
	}{
		{ListKey("html"), "order_lists/orders.html"},
		{OrderKey("904711", "json"), "orders/904711/order.json"},
		{TrackingKey("904711"), "orders/904711/tracking.html"},
		{ItemKey("904711", "112", "png"), "orders/904711/item-112.png"},
	}
	for _, tc := range cases {
		path, err := store.PathFor(tc.key)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(store.Root(), filepath.FromSlash(tc.rel)), path)
	}
}

func TestPathFor_InvalidKey(t *testing.T) {
	store := newTestStore(t)

	_, err := store.PathFor(Key{Part: PartOrderDetail, Ext: "html"})
	assert.Error(t, err, "order detail key without order id must be rejected")
	_, err = store.PathFor(Key{Part: PartOrderList})
	assert.Error(t, err, "key without extension must be rejected")
}

func TestExists_RequiresNonEmptyFile(t *testing.T) {
	store := newTestStore(t)
	key := OrderKey("1", "html")

	assert.False(t, store.Exists(key))

	path, err := store.PathFor(key)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	assert.False(t, store.Exists(key), "zero-byte placeholder must not count as complete")

	require.NoError(t, os.WriteFile(path, []byte("<html></html>"), 0o644))
	assert.True(t, store.Exists(key))
}

func TestWriteJSON_ReadJSON_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	key := OrderKey("42", "json")

	in := map[string]string{"id": "42", "date": "2023-04-05"}
	_, err := store.WriteJSON(key, in)
	require.NoError(t, err)

	var out map[string]string
	require.NoError(t, store.ReadJSON(key, &out))
	assert.Equal(t, in, out)
}

func TestReadJSON_MissingAndMalformed(t *testing.T) {
	store := newTestStore(t)
	key := OrderKey("42", "json")

	var out map[string]string
	err := store.ReadJSON(key, &out)
	assert.ErrorIs(t, err, ErrNotFound)

	path, err := store.PathFor(key)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	err = store.ReadJSON(key, &out)
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, path, decodeErr.Path)
}

func TestWriteHTML_NormalizationIsStable(t *testing.T) {
	store := newTestStore(t)
	key := OrderKey("7", "html")

	// Deliberately sloppy markup: unclosed tags, no html/body wrapper.
	_, err := store.WriteHTML(key, `<div class=a><p>hello<br>world`)
	require.NoError(t, err)

	first, err := store.ReadText(key)
	require.NoError(t, err)

	// Writing what we read back must not change a byte.
	_, err = store.WriteHTML(key, first)
	require.NoError(t, err)
	second, err := store.ReadText(key)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestWrite_LeavesNoTempFiles(t *testing.T) {
	store := newTestStore(t)
	_, err := store.WriteText(OrderKey("9", "html"), "<html></html>")
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(store.Root(), "orders", "9"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "order.html", entries[0].Name())
}

func TestRelPath(t *testing.T) {
	store := newTestStore(t)

	abs := filepath.Join(store.Root(), "orders", "1", "item-2.png")
	rel, err := store.RelPath(abs)
	require.NoError(t, err)
	assert.Equal(t, "orders/1/item-2.png", rel)
	assert.Equal(t, abs, store.AbsPath(rel))

	_, err = store.RelPath(filepath.Join(store.Root(), "..", "elsewhere"))
	assert.Error(t, err)
}

func TestClearTemp(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(store.TempDir(), "temporary.pdf"), []byte("x"), 0o644))

	require.NoError(t, store.ClearTemp())
	entries, err := os.ReadDir(store.TempDir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMoveStable(t *testing.T) {
	store := newTestStore(t)
	src := filepath.Join(store.TempDir(), "temporary.pdf")
	require.NoError(t, os.WriteFile(src, []byte("%PDF-1.4"), 0o644))

	key := ItemKey("1", "2", "pdf")
	dst, err := store.MoveStable(src, key)
	require.NoError(t, err)

	assert.True(t, store.Exists(key))
	assert.NoFileExists(t, src)
	assert.FileExists(t, dst)
}
