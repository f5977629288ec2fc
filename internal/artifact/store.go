// internal/artifact/store.go
package artifact

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"
)

const (
	listDir   = "order_lists"
	ordersDir = "orders"
	tempDir   = "temp"
)

// ErrNotFound is returned when a requested artifact does not exist.
var ErrNotFound = errors.New("artifact not found")

// DecodeError wraps a JSON decode failure with the offending path.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Store maps artifact keys to files under a per-shop cache root. The cache
// root is never deleted automatically; presence of a readable non-empty file
// is the completion marker for the corresponding scrape step.
type Store struct {
	root string
	shop string
}

// NewStore opens (creating if needed) the cache root for one shop.
// Directory creation is idempotent; concurrent creation is not an error.
func NewStore(base, shop string) (*Store, error) {
	if shop == "" {
		return nil, fmt.Errorf("shop name is required")
	}
	root := filepath.Join(base, shop)
	for _, dir := range []string{root, filepath.Join(root, listDir), filepath.Join(root, ordersDir), filepath.Join(root, tempDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache dir %s: %w", dir, err)
		}
	}
	log.Debug().Str("shop", shop).Str("root", root).Msg("Artifact store ready")
	return &Store{root: root, shop: shop}, nil
}

// Root returns the absolute cache root for this shop.
func (s *Store) Root() string { return s.root }

// TempDir returns the scratch directory for in-flight downloads and prints.
func (s *Store) TempDir() string { return filepath.Join(s.root, tempDir) }

// OrderIDs lists the orders with a finalized JSON artifact, sorted.
func (s *Store) OrderIDs() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, ordersDir))
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	var ids []string
	for _, entry := range entries {
		if entry.IsDir() && s.Exists(OrderKey(entry.Name(), "json")) {
			ids = append(ids, entry.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// PathFor maps a key to its absolute path. Pure and total for valid keys.
func (s *Store) PathFor(key Key) (string, error) {
	if err := key.Validate(); err != nil {
		return "", err
	}
	return filepath.Join(s.root, key.relPath()), nil
}

// RelPath rewrites an absolute path inside the cache root to the relative,
// forward-slash form stored in JSON artifacts.
func (s *Store) RelPath(abs string) (string, error) {
	rel, err := filepath.Rel(s.root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("path %s is outside cache root %s", abs, s.root)
	}
	return filepath.ToSlash(rel), nil
}

// AbsPath resolves a relative artifact path against the cache root.
func (s *Store) AbsPath(rel string) string {
	return filepath.Join(s.root, filepath.FromSlash(rel))
}

// Exists reports whether the artifact for key is complete: the file must be
// openable for reading and non-empty, not merely present.
func (s *Store) Exists(key Key) bool {
	path, err := s.PathFor(key)
	if err != nil {
		return false
	}
	return CanRead(path)
}

// CanRead reports whether path is a readable, non-empty regular file.
func CanRead(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() || info.Size() == 0 {
		return false
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	f.Close()
	return true
}

// ReadText returns the artifact contents as a string.
func (s *Store) ReadText(key Key) (string, error) {
	path, err := s.PathFor(key)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return "", err
	}
	return string(data), nil
}

// ReadBinary returns the raw artifact bytes.
func (s *Store) ReadBinary(key Key) ([]byte, error) {
	path, err := s.PathFor(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}
	return data, nil
}

// ReadJSON decodes the artifact into v. A parse failure is reported as a
// DecodeError naming the offending path.
func (s *Store) ReadJSON(key Key, v any) error {
	path, err := s.PathFor(key)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &DecodeError{Path: path, Err: err}
	}
	return nil
}

// WriteText writes string content for key atomically.
func (s *Store) WriteText(key Key, content string) (string, error) {
	return s.write(key, []byte(content))
}

// WriteBinary writes raw bytes for key atomically.
func (s *Store) WriteBinary(key Key, data []byte) (string, error) {
	return s.write(key, data)
}

// WriteJSON marshals v with indentation and writes it atomically.
func (s *Store) WriteJSON(key Key, v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return "", fmt.Errorf("encoding %s artifact: %w", key.Part, err)
	}
	return s.write(key, data)
}

// WriteHTML parses and re-serializes markup before writing, so a later
// read-modify-write cycle through the same parser is byte stable.
func (s *Store) WriteHTML(key Key, markup string) (string, error) {
	normalized, err := NormalizeHTML(markup)
	if err != nil {
		return "", err
	}
	return s.write(key, []byte(normalized))
}

// NormalizeHTML parses markup and renders it back out. Running the result
// through NormalizeHTML again returns identical bytes.
func NormalizeHTML(markup string) (string, error) {
	node, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return "", fmt.Errorf("parsing html: %w", err)
	}
	var buf bytes.Buffer
	if err := html.Render(&buf, node); err != nil {
		return "", fmt.Errorf("rendering html: %w", err)
	}
	return buf.String(), nil
}

// write lands content at the key's path via a temp file in the same
// directory plus rename, so readers never observe a truncated artifact.
func (s *Store) write(key Key, data []byte) (string, error) {
	path, err := s.PathFor(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating dir for %s: %w", path, err)
	}
	if err := atomicWrite(path, data); err != nil {
		return "", err
	}
	log.Debug().Str("shop", s.shop).Str("path", path).Int("bytes", len(data)).Msg("Artifact written")
	return path, nil
}

func atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", path, err)
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

// ClearTemp empties the scratch directory so glob-based waits cannot match
// leftovers from a previous run.
func (s *Store) ClearTemp() error {
	entries, err := os.ReadDir(s.TempDir())
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(s.TempDir(), entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

// MoveStable moves a finished temp file into its final artifact location,
// retrying transient permission errors while an external writer lets go of
// the file handle.
func (s *Store) MoveStable(src string, key Key) (string, error) {
	dst, err := s.PathFor(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}
	for attempt := 0; ; attempt++ {
		err := os.Rename(src, dst)
		if err == nil {
			return dst, nil
		}
		if !os.IsPermission(err) || attempt >= 5 {
			return "", fmt.Errorf("moving %s to %s: %w", src, dst, err)
		}
		log.Debug().Err(err).Str("src", src).Msg("Move blocked, retrying")
		time.Sleep(time.Second)
	}
}
