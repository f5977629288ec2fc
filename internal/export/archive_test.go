package export

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/order-archivers/harvest/pkg/models"
)

func writeFixture(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newExporter(t *testing.T, root string) *Exporter {
	t.Helper()
	schema, err := DefaultSchema()
	require.NoError(t, err)
	return &Exporter{Root: root, Schema: schema}
}

func exportableBundle(t *testing.T, root string) *models.ExportBundle {
	t.Helper()
	writeFixture(t, root, "orders/1001/order.html", "<html></html>")
	writeFixture(t, root, "orders/1001/item-i1.png", "png bytes")

	raw := sampleOrder()
	raw.Items["i1"].Snapshot = nil
	bundle, err := Normalize([]*models.Order{raw}, sampleMetadata())
	require.NoError(t, err)
	return bundle
}

func TestExport_WritesJSONAndArchive(t *testing.T) {
	root := t.TempDir()
	bundle := exportableBundle(t, root)
	outDir := t.TempDir()
	outJSON := filepath.Join(outDir, "demoshop.json")

	require.NoError(t, newExporter(t, root).Export(bundle, outJSON))

	assert.FileExists(t, outJSON)
	zr, err := zip.OpenReader(filepath.Join(outDir, "demoshop.zip"))
	require.NoError(t, err)
	defer zr.Close()

	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	// Exactly the referenced files, no more, no fewer.
	assert.ElementsMatch(t, []string{"orders/1001/order.html", "orders/1001/item-i1.png"}, names)
}

func TestExport_MissingReferencedFileAbortsBeforeAnyWrite(t *testing.T) {
	root := t.TempDir()
	bundle := exportableBundle(t, root)
	require.NoError(t, os.Remove(filepath.Join(root, "orders", "1001", "item-i1.png")))

	outDir := t.TempDir()
	outJSON := filepath.Join(outDir, "demoshop.json")
	err := newExporter(t, root).Export(bundle, outJSON)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "item-i1.png")

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "a failed export must leave nothing behind")
}

func TestExport_SchemaViolationAbortsBeforeAnyWrite(t *testing.T) {
	root := t.TempDir()
	bundle := exportableBundle(t, root)
	bundle.Metadata.Name = ""

	outDir := t.TempDir()
	err := newExporter(t, root).Export(bundle, filepath.Join(outDir, "demoshop.json"))
	require.Error(t, err)

	entries, readErr := os.ReadDir(outDir)
	require.NoError(t, readErr)
	assert.Empty(t, entries)
}

func TestExport_ZeroByteReferenceRejected(t *testing.T) {
	root := t.TempDir()
	bundle := exportableBundle(t, root)
	// A stale zero-byte placeholder must not pass the precondition check.
	require.NoError(t, os.WriteFile(filepath.Join(root, "orders", "1001", "item-i1.png"), nil, 0o644))

	err := newExporter(t, root).Export(bundle, filepath.Join(t.TempDir(), "demoshop.json"))
	require.Error(t, err)
}
