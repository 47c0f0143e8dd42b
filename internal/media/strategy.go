package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// defaultMaxImageBytes limits download size to prevent memory exhaustion.
	defaultMaxImageBytes = 10 * 1024 * 1024

	// defaultFetchTimeout bounds a single strategy attempt.
	defaultFetchTimeout = 20 * time.Second

	userAgent = "catalogimport/1.0 (+image resolver)"
)

// FetchRequest is the input to a strategy.
type FetchRequest struct {
	RecordID string
	URL      string // Possibly substituted by a URLRewriter
	Original string // URL as extracted from the source
}

// Payload is a fetched, validated image.
type Payload struct {
	Data     []byte
	FileName string
	URL      string // URL the bytes were finally read from
	ImageInfo
}

// Strategy fetches image bytes one way. Strategies are tried in order until
// one succeeds.
type Strategy interface {
	Name() string
	Fetch(ctx context.Context, req FetchRequest) (*Payload, error)
}

// URLRewriter may replace a URL before any strategy runs. A rewriter that
// cannot help returns the URL unchanged and false.
type URLRewriter interface {
	Rewrite(ctx context.Context, raw string) (string, bool)
}

// Chain runs rewriters, then strategies in order, stopping at first success.
type Chain struct {
	Rewriters  []URLRewriter
	Strategies []Strategy
	Log        *slog.Logger
}

// Run resolves req. On failure the returned error is a *FetchError listing
// every attempt.
func (c *Chain) Run(ctx context.Context, req FetchRequest) (*Payload, []Attempt, error) {
	if req.Original == "" {
		req.Original = req.URL
	}
	for _, rw := range c.Rewriters {
		if u, ok := rw.Rewrite(ctx, req.URL); ok {
			req.URL = u
		}
	}

	var attempts []Attempt
	for _, s := range c.Strategies {
		if err := ctx.Err(); err != nil {
			return nil, attempts, err
		}
		p, err := s.Fetch(ctx, req)
		if err == nil {
			attempts = append(attempts, Attempt{Strategy: s.Name(), URL: p.URL})
			return p, attempts, nil
		}
		attempts = append(attempts, Attempt{Strategy: s.Name(), URL: req.URL, Error: err.Error()})
		if c.Log != nil {
			c.Log.Debug("image strategy failed",
				"record_id", req.RecordID,
				"strategy", s.Name(),
				"error", err,
			)
		}
	}
	return nil, attempts, &FetchError{URL: req.Original, Attempts: attempts}
}

// Fetcher performs size-limited GETs and validates the body is an image.
type Fetcher struct {
	Client   *http.Client
	MaxBytes int64
	Timeout  time.Duration
}

// NewFetcher creates a Fetcher with defaults for zero values.
func NewFetcher(client *http.Client, maxBytes int64, timeout time.Duration) *Fetcher {
	if client == nil {
		client = &http.Client{}
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxImageBytes
	}
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	return &Fetcher{Client: client, MaxBytes: maxBytes, Timeout: timeout}
}

// Get downloads target and returns it as a Payload named after nameFrom.
func (f *Fetcher) Get(ctx context.Context, target, nameFrom string) (*Payload, error) {
	ctx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "image/*")

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read data: %w", err)
	}
	if int64(len(data)) > f.MaxBytes {
		return nil, fmt.Errorf("image exceeds %d bytes", f.MaxBytes)
	}

	info, err := Inspect(data)
	if err != nil {
		return nil, err
	}
	return &Payload{Data: data, FileName: fileNameFromURL(nameFrom), URL: target, ImageInfo: info}, nil
}

// Direct fetches the URL itself.
type Direct struct {
	Fetcher *Fetcher
}

func (d *Direct) Name() string { return "direct" }

func (d *Direct) Fetch(ctx context.Context, req FetchRequest) (*Payload, error) {
	return d.Fetcher.Get(ctx, req.URL, req.Original)
}

// Relay fetches through a pass-through endpoint. Template contains a {url}
// placeholder that receives the query-escaped target.
type Relay struct {
	Index    int
	Template string
	Fetcher  *Fetcher
}

func (r *Relay) Name() string { return fmt.Sprintf("relay %d", r.Index) }

// RelayURL expands the template for target.
func (r *Relay) RelayURL(target string) (string, error) {
	if !strings.Contains(r.Template, "{url}") {
		return "", errors.New("relay template has no {url} placeholder")
	}
	return strings.ReplaceAll(r.Template, "{url}", url.QueryEscape(target)), nil
}

func (r *Relay) Fetch(ctx context.Context, req FetchRequest) (*Payload, error) {
	u, err := r.RelayURL(req.URL)
	if err != nil {
		return nil, err
	}
	return r.Fetcher.Get(ctx, u, req.Original)
}

// Placeholder fetches a deterministic stand-in image keyed by record id.
// Template contains an {id} placeholder.
type Placeholder struct {
	Template string
	Fetcher  *Fetcher
}

func (p *Placeholder) Name() string { return "placeholder" }

// PlaceholderURL expands the template for recordID.
func (p *Placeholder) PlaceholderURL(recordID string) string {
	return strings.ReplaceAll(p.Template, "{id}", url.PathEscape(recordID))
}

func (p *Placeholder) Fetch(ctx context.Context, req FetchRequest) (*Payload, error) {
	if req.RecordID == "" {
		return nil, errors.New("placeholder requires a record id")
	}
	u := p.PlaceholderURL(req.RecordID)
	payload, err := p.Fetcher.Get(ctx, u, u)
	if err != nil {
		return nil, err
	}
	payload.FileName = "placeholder"
	return payload, nil
}
