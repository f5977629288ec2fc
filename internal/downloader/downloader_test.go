package downloader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pngHeader is the 8-byte PNG signature plus enough of an IHDR chunk for
// content sniffing to identify it.
var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 13, 'I', 'H', 'D', 'R'}

func TestFetchImage_SniffsContentOverURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Lies in both the URL (.webp) and the header (jpeg).
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(pngHeader)
	}))
	defer server.Close()

	f := NewFetcher(5*time.Second, "Test/1.0")
	data, ext, err := f.FetchImage(context.Background(), server.URL+"/thumb.webp")
	require.NoError(t, err)
	assert.Equal(t, pngHeader, data)
	assert.Equal(t, "png", ext)
}

func TestFetchImage_FallsBackToHeaderThenURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/svg+xml; charset=utf-8")
		w.Write([]byte("<svg xmlns='http://www.w3.org/2000/svg'/>"))
	}))
	defer server.Close()

	f := NewFetcher(5*time.Second, "Test/1.0")
	_, ext, err := f.FetchImage(context.Background(), server.URL+"/logo")
	require.NoError(t, err)
	assert.Equal(t, "svg", ext)
}

func TestFetchImage_BadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	f := NewFetcher(5*time.Second, "Test/1.0")
	_, _, err := f.FetchImage(context.Background(), server.URL+"/missing.png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestFetchImage_EmptyBodyRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	f := NewFetcher(5*time.Second, "Test/1.0")
	_, _, err := f.FetchImage(context.Background(), server.URL+"/empty.png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}

func TestSanitizeFilename_Security(t *testing.T) {
	dangerous := []string{
		"../../etc/passwd",
		"/etc/shadow",
		"file:with:colons",
		"invoice<1>.pdf",
	}
	for _, input := range dangerous {
		t.Run(input, func(t *testing.T) {
			result := SanitizeFilename(input)
			assert.NotContains(t, result, "/")
			assert.NotContains(t, result, "\\")
			assert.NotContains(t, result, "..")
		})
	}
}

func TestSanitizeFilename_QueryHashKeepsURLsDistinct(t *testing.T) {
	a := SanitizeFilename("https://cdn.example.com/img/thumb.jpg?v=1")
	b := SanitizeFilename("https://cdn.example.com/img/thumb.jpg?v=2")
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasSuffix(a, ".jpg"))
	assert.True(t, strings.HasSuffix(b, ".jpg"))
}

func TestHashString_FixedWidth(t *testing.T) {
	// Short inputs hash to small values; the hex form must stay 8 chars.
	for _, s := range []string{"", "v=1", "a", "v=2345678"} {
		assert.Len(t, hashString(s), 8, "input %q", s)
	}
}

func TestExtensionForContent_URLFallback(t *testing.T) {
	ext := extensionForContent([]byte("not an image"), "", "https://example.com/a/b.JPG")
	assert.Equal(t, "jpg", ext)
	ext = extensionForContent([]byte("not an image"), "", "https://example.com/noext")
	assert.Equal(t, "bin", ext)
}
