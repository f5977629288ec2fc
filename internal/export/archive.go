// internal/export/archive.go
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"

	"github.com/order-archivers/harvest/internal/artifact"
	"github.com/order-archivers/harvest/pkg/models"
)

// Exporter writes a schema-validated export: one JSON document plus a
// same-named zip holding every file the JSON references by relative path.
// Either both are written in full or nothing is written at all.
type Exporter struct {
	// Root is the shop cache root the bundle's relative paths resolve
	// against.
	Root   string
	Schema *Schema
	// Progress draws an archive progress bar on the terminal. Off in tests.
	Progress bool
}

// Export validates the bundle, checks that every referenced file exists, and
// only then writes <outJSON> and its companion <outJSON base>.zip. Both land
// via temp-and-rename so an aborted export leaves nothing behind.
func (e *Exporter) Export(bundle *models.ExportBundle, outJSON string) error {
	if err := e.Schema.Validate(bundle); err != nil {
		return err
	}
	paths := dedupe(bundle.ReferencedPaths())
	for _, rel := range paths {
		if !artifact.CanRead(filepath.Join(e.Root, filepath.FromSlash(rel))) {
			return fmt.Errorf("bundle references %s but it is missing or unreadable under %s", rel, e.Root)
		}
	}

	data, err := json.MarshalIndent(bundle, "", "    ")
	if err != nil {
		return fmt.Errorf("encoding bundle: %w", err)
	}
	if err := writeAtomic(outJSON, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	}); err != nil {
		return err
	}

	outZip := strings.TrimSuffix(outJSON, filepath.Ext(outJSON)) + ".zip"
	if err := writeAtomic(outZip, func(w io.Writer) error {
		return e.writeArchive(w, paths)
	}); err != nil {
		// Keep the invariant: no partial export pair.
		os.Remove(outJSON)
		return err
	}

	log.Info().
		Str("json", outJSON).
		Str("archive", outZip).
		Int("orders", len(bundle.Orders)).
		Int("files", len(paths)).
		Msg("Export written")
	return nil
}

// writeArchive stores exactly the referenced files, no more and no fewer,
// under their relative bundle paths.
func (e *Exporter) writeArchive(w io.Writer, paths []string) error {
	var bar *progressbar.ProgressBar
	if e.Progress {
		bar = progressbar.Default(int64(len(paths)), "archiving")
	}

	zw := zip.NewWriter(w)
	for _, rel := range paths {
		if err := e.addFile(zw, rel); err != nil {
			return err
		}
		if bar != nil {
			bar.Add(1)
		}
	}
	return zw.Close()
}

func (e *Exporter) addFile(zw *zip.Writer, rel string) error {
	src, err := os.Open(filepath.Join(e.Root, filepath.FromSlash(rel)))
	if err != nil {
		return fmt.Errorf("opening %s: %w", rel, err)
	}
	defer src.Close()

	dst, err := zw.Create(rel)
	if err != nil {
		return fmt.Errorf("adding %s to archive: %w", rel, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("archiving %s: %w", rel, err)
	}
	return nil
}

// writeAtomic streams into a temp file next to path and renames into place.
func writeAtomic(path string, fill func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating dir for %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".export-*")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	if err := fill(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}

func dedupe(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := paths[:0]
	for _, p := range paths {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}
