package media

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// DefaultContentAPIPath is the WordPress media search endpoint.
const DefaultContentAPIPath = "/wp-json/wp/v2/media"

// sizeSuffix matches generated thumbnail suffixes like "-300x200".
var sizeSuffix = regexp.MustCompile(`-\d+x\d+$`)

// ContentAPI substitutes URLs on first-party hosts with the canonical asset
// URL reported by the host's media search API. Any failure leaves the URL
// unchanged so the chain continues with the original.
type ContentAPI struct {
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	domains     []string
	apiPath     string
	logger      *slog.Logger
}

// NewContentAPI creates a client for the given first-party domains.
// rps limits search requests per second across all domains.
func NewContentAPI(client *http.Client, domains []string, apiPath string, rps float64, logger *slog.Logger) *ContentAPI {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if apiPath == "" {
		apiPath = DefaultContentAPIPath
	}
	if rps <= 0 {
		rps = 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	norm := make([]string, 0, len(domains))
	for _, d := range domains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			norm = append(norm, d)
		}
	}
	return &ContentAPI{
		httpClient:  client,
		rateLimiter: rate.NewLimiter(rate.Limit(rps), 1),
		domains:     norm,
		apiPath:     apiPath,
		logger:      logger,
	}
}

// mediaItem is the subset of a WordPress media object we read.
type mediaItem struct {
	Slug      string `json:"slug"`
	SourceURL string `json:"source_url"`
}

// Handles reports whether raw is hosted on a first-party domain.
func (c *ContentAPI) Handles(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, d := range c.domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// Rewrite implements URLRewriter.
func (c *ContentAPI) Rewrite(ctx context.Context, raw string) (string, bool) {
	if !c.Handles(raw) {
		return raw, false
	}
	canonical, err := c.Lookup(ctx, raw)
	if err != nil {
		c.logger.Debug("content api lookup failed", "url", raw, "error", err)
		return raw, false
	}
	return canonical, true
}

// Lookup searches the media library for the asset behind raw.
func (c *ContentAPI) Lookup(ctx context.Context, raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	slug := Slug(u.Path)
	if slug == "" {
		return "", fmt.Errorf("no slug in %s", raw)
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return "", err
	}

	search := url.URL{Scheme: u.Scheme, Host: u.Host, Path: c.apiPath}
	q := search.Query()
	q.Set("search", slug)
	q.Set("per_page", "5")
	search.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, search.String(), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("search failed: status %d", resp.StatusCode)
	}

	var items []mediaItem
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&items); err != nil {
		return "", fmt.Errorf("decode search response: %w", err)
	}

	for _, it := range items {
		if strings.EqualFold(it.Slug, slug) && it.SourceURL != "" {
			return it.SourceURL, nil
		}
	}
	return "", fmt.Errorf("no media found for %q", slug)
}

// Slug derives the media slug from an asset path: the base name without
// extension or thumbnail size suffix, lowercased.
func Slug(p string) string {
	base := path.Base(p)
	if base == "." || base == "/" {
		return ""
	}
	base = strings.TrimSuffix(base, path.Ext(base))
	base = sizeSuffix.ReplaceAllString(base, "")
	return strings.ToLower(base)
}
