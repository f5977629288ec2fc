// internal/downloader/downloader.go
package downloader

import (
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// maxImageBytes caps a single thumbnail fetch. Product thumbnails are small;
// anything bigger is a wrong URL, not a thumbnail.
const maxImageBytes = 20 << 20

// Fetcher downloads item thumbnails and other small media over plain HTTP,
// outside the browser. Thumbnails carry no session state so there is no need
// to burn a navigation on them.
type Fetcher struct {
	client    *http.Client
	userAgent string
}

// NewFetcher creates a Fetcher with the given timeout and user agent.
func NewFetcher(timeout time.Duration, userAgent string) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if userAgent == "" {
		userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/127.0 Safari/537.36"
	}
	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	return &Fetcher{client: client, userAgent: userAgent}
}

// FetchImage downloads the image at imageURL and returns its bytes together
// with the file extension derived from the actual content, not the URL.
// Sites routinely serve JPEGs from ".webp" URLs and vice versa.
func (f *Fetcher) FetchImage(ctx context.Context, imageURL string) ([]byte, string, error) {
	u, err := url.Parse(imageURL)
	if err != nil {
		return nil, "", fmt.Errorf("invalid image URL: %w", err)
	}
	if u.Scheme == "" {
		// Protocol-relative URLs are common in scraped markup.
		imageURL = "https:" + imageURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetching %s: %w", imageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetching %s: unexpected status %d", imageURL, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("reading image body: %w", err)
	}
	if len(data) > maxImageBytes {
		return nil, "", fmt.Errorf("image at %s exceeds %d bytes", imageURL, maxImageBytes)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("image at %s is empty", imageURL)
	}

	ext := extensionForContent(data, resp.Header.Get("Content-Type"), imageURL)
	log.Debug().
		Str("url", imageURL).
		Int("bytes", len(data)).
		Str("ext", ext).
		Dur("duration", time.Since(start)).
		Msg("Image fetched")
	return data, ext, nil
}

// extensionForContent picks a file extension by sniffing the payload first,
// then the Content-Type header, then the URL path.
func extensionForContent(data []byte, contentType, rawURL string) string {
	switch sniffed := http.DetectContentType(data); sniffed {
	case "image/png":
		return "png"
	case "image/jpeg":
		return "jpg"
	case "image/gif":
		return "gif"
	case "image/webp":
		return "webp"
	}
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = contentType[:i]
	}
	switch strings.TrimSpace(contentType) {
	case "image/png":
		return "png"
	case "image/jpeg":
		return "jpg"
	case "image/gif":
		return "gif"
	case "image/webp":
		return "webp"
	case "image/svg+xml":
		return "svg"
	}
	if u, err := url.Parse(rawURL); err == nil {
		if ext := strings.TrimPrefix(filepath.Ext(u.Path), "."); ext != "" {
			return strings.ToLower(ext)
		}
	}
	return "bin"
}

// SanitizeFilename makes a string (attachment name or URL) safe to use as a
// filename, preventing path traversal. Query strings are folded into a short
// hash so distinct URLs never collide on the same name.
func SanitizeFilename(input string) string {
	var queryHash string
	if u, err := url.Parse(input); err == nil && u.Host != "" {
		parts := strings.Split(u.Path, "/")
		if len(parts) > 0 {
			input = parts[len(parts)-1]
		}
		if u.RawQuery != "" {
			queryHash = "_" + hashString(u.RawQuery)
		}
	}

	replacer := strings.NewReplacer(
		"/", "_", "\\", "_", "..", "_", ":", "_",
		"*", "_", "?", "_", "\"", "_",
		"<", "_", ">", "_", "|", "_",
	)
	input = replacer.Replace(input)
	input = strings.TrimSpace(input)
	input = strings.Trim(input, ".")

	ext := filepath.Ext(input)
	stem := strings.TrimSuffix(input, ext)
	if queryHash != "" {
		input = stem + queryHash + ext
	}

	if input == "" {
		input = fmt.Sprintf("download_%d", time.Now().Unix())
	}
	if len(input) > 200 {
		input = input[:200]
	}
	return input
}

func hashString(s string) string {
	h := fnv.New32a()
	h.Write([]byte(s))
	return fmt.Sprintf("%08x", h.Sum32())
}
