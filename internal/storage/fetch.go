package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

var (
	// ErrTooLarge is returned when a fetched image exceeds the size limit.
	ErrTooLarge = errors.New("image exceeds size limit")
	// ErrHostNotAllowed is returned for image URLs outside receipt storage.
	ErrHostNotAllowed = errors.New("image url is not on an allowed host")
)

const maxRedirects = 5

// Fetcher downloads receipt images from HTTPS URLs on a fixed set of hosts,
// normally the ones the object store hands out.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
	hosts    map[string]struct{}
	// allowHTTP permits plain http URLs; only tests set it.
	allowHTTP bool
}

// NewFetcher creates a Fetcher that reads at most maxBytes per image from
// hosts. With no hosts every fetch is refused.
func NewFetcher(client *http.Client, maxBytes int64, hosts ...string) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	f := &Fetcher{maxBytes: maxBytes, hosts: make(map[string]struct{}, len(hosts))}
	for _, h := range hosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			f.hosts[h] = struct{}{}
		}
	}

	c := *client
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		return f.checkURL(req.URL)
	}
	f.client = &c
	return f
}

// ValidateImageURL checks that raw is an absolute https URL.
func ValidateImageURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid image url: %w", err)
	}
	if u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("image url must be an absolute https url")
	}
	return u, nil
}

func (f *Fetcher) checkURL(u *url.URL) error {
	if u.Host == "" || (u.Scheme != "https" && !(f.allowHTTP && u.Scheme == "http")) {
		return fmt.Errorf("image url must be an absolute https url")
	}
	if _, ok := f.hosts[strings.ToLower(u.Host)]; !ok {
		return fmt.Errorf("%w: %s", ErrHostNotAllowed, u.Hostname())
	}
	return nil
}

// Fetch downloads the image at rawURL and returns its bytes and content type.
// Bodies that are not an accepted image type fail with ErrUnsupportedType.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", fmt.Errorf("invalid image url: %w", err)
	}
	if err := f.checkURL(u); err != nil {
		return nil, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build image request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, ErrHostNotAllowed) {
			return nil, "", ErrHostNotAllowed
		}
		return nil, "", fmt.Errorf("failed to fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("failed to fetch image: status %d", resp.StatusCode)
	}
	if f.maxBytes > 0 && resp.ContentLength > f.maxBytes {
		return nil, "", ErrTooLarge
	}

	limit := f.maxBytes
	if limit <= 0 {
		limit = 1 << 30
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, "", ErrTooLarge
	}

	contentType := normalizeContentType(resp.Header.Get("Content-Type"))
	if _, ok := AllowImage[contentType]; !ok {
		contentType = normalizeContentType(http.DetectContentType(data))
	}
	if _, ok := AllowImage[contentType]; !ok {
		return nil, "", fmt.Errorf("%w: %q", ErrUnsupportedType, contentType)
	}
	return data, contentType, nil
}
