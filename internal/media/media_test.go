package media

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/catalogimport/internal/objectstore"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 3), G: uint8(y * 5), B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// withDimensions rewrites the IHDR chunk of a PNG to declare w x h.
func withDimensions(data []byte, w, h uint32) []byte {
	out := bytes.Clone(data)
	binary.BigEndian.PutUint32(out[16:20], w)
	binary.BigEndian.PutUint32(out[20:24], h)
	binary.BigEndian.PutUint32(out[29:33], crc32.ChecksumIEEE(out[12:29]))
	return out
}

// fakeStrategy returns a canned result and records calls.
type fakeStrategy struct {
	name    string
	payload *Payload
	err     error
	calls   atomic.Int32
	urls    []string
	mu      sync.Mutex
}

func (f *fakeStrategy) Name() string { return f.name }

func (f *fakeStrategy) Fetch(ctx context.Context, req FetchRequest) (*Payload, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.urls = append(f.urls, req.URL)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	p := *f.payload
	p.URL = req.URL
	return &p, nil
}

func okPayload(t *testing.T) *Payload {
	data := pngBytes(t, 8, 8)
	info, err := Inspect(data)
	require.NoError(t, err)
	return &Payload{Data: data, FileName: "x.png", ImageInfo: info}
}

func TestExtractImageTasks(t *testing.T) {
	t.Run("pipe delimited cell keeps first URL only", func(t *testing.T) {
		tasks := ExtractImageTasks([]SourceValue{
			{RecordID: "r1", Value: "http://a.com/x.jpg|http://b.com/y.jpg"},
		})
		require.Len(t, tasks, 1)
		assert.Equal(t, "http://a.com/x.jpg", tasks[0].SourceURL)
		assert.Equal(t, "r1", tasks[0].RecordID)
		assert.Equal(t, StatusPending, tasks[0].Status)
	})

	t.Run("skips empty and non image values", func(t *testing.T) {
		tasks := ExtractImageTasks([]SourceValue{
			{RecordID: "r1", Value: ""},
			{RecordID: "r2", Value: "https://example.com/spec.pdf"},
			{RecordID: "r3", Value: "not a url"},
			{RecordID: "r4", Value: "https://cdn.example.com/uploads/2024/drill"},
		})
		require.Len(t, tasks, 1)
		assert.Equal(t, "r4", tasks[0].RecordID)
	})
}

func TestIsImageLike(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://example.com/a.JPG", true},
		{"https://example.com/a.avif?w=300", true},
		{"https://example.com/photo/123", true},
		{"https://example.com/media/123", true},
		{"https://example.com/img?id=4", true},
		{"https://example.com/docs/manual.pdf", false},
		{"ftp://example.com/a.jpg", false},
		{"/relative/a.jpg", false},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, IsImageLike(tt.url))
		})
	}
}

func TestInspect(t *testing.T) {
	t.Run("png yields dimensions and blurhash", func(t *testing.T) {
		info, err := Inspect(pngBytes(t, 120, 80))
		require.NoError(t, err)
		assert.Equal(t, "image/png", info.ContentType)
		assert.Equal(t, 120, info.Width)
		assert.Equal(t, 80, info.Height)
		assert.NotEmpty(t, info.BlurHash)
	})

	t.Run("html is rejected", func(t *testing.T) {
		_, err := Inspect([]byte("<!DOCTYPE html><html><body>blocked</body></html>"))
		assert.ErrorIs(t, err, ErrNotImage)
	})

	t.Run("empty is rejected", func(t *testing.T) {
		_, err := Inspect(nil)
		assert.ErrorIs(t, err, ErrNotImage)
	})

	t.Run("oversized dimensions are rejected before decoding", func(t *testing.T) {
		data := withDimensions(pngBytes(t, 1, 1), 12000, 12000)
		_, err := Inspect(data)
		assert.ErrorIs(t, err, ErrNotImage)
		assert.ErrorContains(t, err, "exceeds")
	})

	t.Run("truncated png is rejected", func(t *testing.T) {
		data := pngBytes(t, 16, 16)
		_, err := Inspect(data[:40])
		assert.ErrorIs(t, err, ErrNotImage)
	})
}

func TestChain_Run(t *testing.T) {
	t.Run("stops at first success in order", func(t *testing.T) {
		direct := &fakeStrategy{name: "direct", err: errors.New("status 403")}
		relay1 := &fakeStrategy{name: "relay 1", payload: okPayload(t)}
		relay2 := &fakeStrategy{name: "relay 2", payload: okPayload(t)}
		chain := &Chain{Strategies: []Strategy{direct, relay1, relay2}}

		p, attempts, err := chain.Run(context.Background(), FetchRequest{RecordID: "r1", URL: "http://a.com/x.png"})
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.EqualValues(t, 1, direct.calls.Load())
		assert.EqualValues(t, 1, relay1.calls.Load())
		assert.EqualValues(t, 0, relay2.calls.Load())
		require.Len(t, attempts, 2)
		assert.Equal(t, "relay 1", attempts[1].Strategy)
		assert.Empty(t, attempts[1].Error)
	})

	t.Run("all failing returns FetchError", func(t *testing.T) {
		chain := &Chain{Strategies: []Strategy{
			&fakeStrategy{name: "direct", err: errors.New("timeout")},
			&fakeStrategy{name: "relay 1", err: errors.New("status 500")},
		}}
		_, attempts, err := chain.Run(context.Background(), FetchRequest{URL: "http://a.com/x.png"})
		var fe *FetchError
		require.ErrorAs(t, err, &fe)
		assert.Len(t, attempts, 2)
		assert.Contains(t, err.Error(), "relay 1: status 500")
	})

	t.Run("rewriter substitutes URL for later strategies", func(t *testing.T) {
		direct := &fakeStrategy{name: "direct", payload: okPayload(t)}
		chain := &Chain{
			Rewriters:  []URLRewriter{rewriteTo("http://cdn.a.com/canonical.png")},
			Strategies: []Strategy{direct},
		}
		_, _, err := chain.Run(context.Background(), FetchRequest{URL: "http://a.com/x.png"})
		require.NoError(t, err)
		assert.Equal(t, []string{"http://cdn.a.com/canonical.png"}, direct.urls)
	})
}

type rewriteTo string

func (r rewriteTo) Rewrite(ctx context.Context, raw string) (string, bool) { return string(r), true }

func TestRelay_RelayURL(t *testing.T) {
	r := &Relay{Index: 1, Template: "https://relay.example/fetch?u={url}"}
	got, err := r.RelayURL("http://a.com/x y.jpg?s=1&t=2")
	require.NoError(t, err)
	assert.Equal(t, "https://relay.example/fetch?u="+url.QueryEscape("http://a.com/x y.jpg?s=1&t=2"), got)

	_, err = (&Relay{Template: "https://relay.example/"}).RelayURL("http://a.com")
	assert.Error(t, err)
}

func TestFetcher_Get(t *testing.T) {
	img := pngBytes(t, 10, 10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(img)
		case "/html.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte("<html>denied</html>"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewFetcher(srv.Client(), 0, time.Second)

	t.Run("ok", func(t *testing.T) {
		p, err := f.Get(context.Background(), srv.URL+"/ok.png", srv.URL+"/ok.png")
		require.NoError(t, err)
		assert.Equal(t, "ok.png", p.FileName)
		assert.Equal(t, 10, p.Width)
	})

	t.Run("html body with image header is rejected", func(t *testing.T) {
		_, err := f.Get(context.Background(), srv.URL+"/html.png", "")
		assert.ErrorIs(t, err, ErrNotImage)
	})

	t.Run("non 200", func(t *testing.T) {
		_, err := f.Get(context.Background(), srv.URL+"/missing.png", "")
		assert.ErrorContains(t, err, "status 404")
	})

	t.Run("size limit", func(t *testing.T) {
		small := NewFetcher(srv.Client(), 16, time.Second)
		_, err := small.Get(context.Background(), srv.URL+"/ok.png", "")
		assert.ErrorContains(t, err, "exceeds")
	})
}

func TestContentAPI(t *testing.T) {
	img := pngBytes(t, 4, 4)
	var searched atomic.Value
	mux := http.NewServeMux()
	mux.HandleFunc(DefaultContentAPIPath, func(w http.ResponseWriter, r *http.Request) {
		searched.Store(r.URL.Query().Get("search"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"slug":"other","source_url":"http://x/other.png"},{"slug":"mixer-pro","source_url":"` +
			"http://" + r.Host + `/full/mixer-pro.png"}]`))
	})
	mux.HandleFunc("/full/mixer-pro.png", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(img)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	host := strings.TrimPrefix(srv.URL, "http://")
	hostname, _, _ := strings.Cut(host, ":")

	api := NewContentAPI(srv.Client(), []string{hostname}, "", 100, nil)

	t.Run("slug strips size suffix and extension", func(t *testing.T) {
		assert.Equal(t, "mixer-pro", Slug("/wp-content/uploads/2023/05/Mixer-Pro-300x200.jpg"))
		assert.Equal(t, "", Slug("/"))
	})

	t.Run("substitutes canonical URL", func(t *testing.T) {
		got, ok := api.Rewrite(context.Background(), srv.URL+"/wp-content/uploads/mixer-pro-150x150.jpg")
		require.True(t, ok)
		assert.Equal(t, srv.URL+"/full/mixer-pro.png", got)
		assert.Equal(t, "mixer-pro", searched.Load())
	})

	t.Run("foreign host untouched", func(t *testing.T) {
		got, ok := api.Rewrite(context.Background(), "http://elsewhere.example/a.jpg")
		assert.False(t, ok)
		assert.Equal(t, "http://elsewhere.example/a.jpg", got)
	})

	t.Run("no matching slug degrades to original", func(t *testing.T) {
		raw := srv.URL + "/wp-content/uploads/concrete-mixer.jpg"
		_, err := api.Lookup(context.Background(), raw)
		assert.ErrorContains(t, err, "no media found")

		got, ok := api.Rewrite(context.Background(), raw)
		assert.False(t, ok)
		assert.Equal(t, raw, got)
		assert.Equal(t, "concrete-mixer", searched.Load())
	})

	t.Run("api failure degrades to original", func(t *testing.T) {
		broken := NewContentAPI(srv.Client(), []string{hostname}, "/nope", 100, nil)
		raw := srv.URL + "/wp-content/uploads/mixer-pro.jpg"
		got, ok := broken.Rewrite(context.Background(), raw)
		assert.False(t, ok)
		assert.Equal(t, raw, got)
	})
}

func TestPipeline_Resolve(t *testing.T) {
	ctx := context.Background()

	t.Run("uploads and records stored URL", func(t *testing.T) {
		objects := objectstore.NewMemory("mem://media")
		chain := &Chain{Strategies: []Strategy{&fakeStrategy{name: "direct", payload: okPayload(t)}}}
		p := New(chain, objects, 3, "equipment", nil)
		p.now = func() time.Time { return time.UnixMilli(1700000000000) }

		results := NewResults()
		var updates []ImageTask
		out := p.Resolve(ctx, []ImageTask{{RecordID: "r1", SourceURL: "http://a.com/x.png", Status: StatusPending}}, results,
			func(t ImageTask) { updates = append(updates, t) })

		require.Len(t, out, 1)
		assert.Equal(t, StatusResolved, out[0].Status)
		assert.Equal(t, "mem://media/equipment/r1/primary-1700000000000-x.png", out[0].StoredURL)
		assert.Equal(t, "direct", out[0].Strategy)

		stored, ok := results.StoredURL("r1")
		require.True(t, ok)
		assert.Equal(t, out[0].StoredURL, stored)

		require.Len(t, updates, 2)
		assert.Equal(t, StatusResolving, updates[0].Status)
		assert.Equal(t, StatusResolved, updates[1].Status)
	})

	t.Run("upload failure is distinct from fetch failure", func(t *testing.T) {
		objects := objectstore.NewMemory("mem://media")
		objects.FailPut = errors.New("bucket unavailable")
		chain := &Chain{Strategies: []Strategy{&fakeStrategy{name: "direct", payload: okPayload(t)}}}
		p := New(chain, objects, 3, "", nil)

		out := p.Resolve(ctx, []ImageTask{{RecordID: "r1", SourceURL: "http://a.com/x.png"}}, NewResults(), nil)
		assert.Equal(t, StatusFailed, out[0].Status)
		assert.Equal(t, FailureUpload, out[0].Failure)
		assert.Contains(t, out[0].Reason, "bucket unavailable")
	})

	t.Run("fetch failure marks task failed and manual eligible", func(t *testing.T) {
		chain := &Chain{Strategies: []Strategy{&fakeStrategy{name: "direct", err: errors.New("status 404")}}}
		p := New(chain, objectstore.NewMemory(""), 3, "", nil)

		out := p.Resolve(ctx, []ImageTask{{RecordID: "r1", SourceURL: "http://a.com/x.png"}}, NewResults(), nil)
		assert.Equal(t, StatusFailed, out[0].Status)
		assert.Equal(t, FailureFetch, out[0].Failure)
		assert.True(t, out[0].ManualEligible())
	})

	t.Run("concurrency is bounded", func(t *testing.T) {
		var inFlight, peak atomic.Int32
		payload := okPayload(t)
		slow := strategyFunc(func(ctx context.Context, req FetchRequest) (*Payload, error) {
			n := inFlight.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			inFlight.Add(-1)
			p := *payload
			return &p, nil
		})
		p := New(&Chain{Strategies: []Strategy{slow}}, objectstore.NewMemory(""), 2, "", nil)

		tasks := make([]ImageTask, 8)
		for i := range tasks {
			tasks[i] = ImageTask{RecordID: string(rune('a' + i)), SourceURL: "http://a.com/x.png"}
		}
		out := p.Resolve(ctx, tasks, NewResults(), nil)
		assert.LessOrEqual(t, peak.Load(), int32(2))
		assert.Equal(t, 8, Summarize(out).Resolved)
	})

	t.Run("cancelled context leaves tasks pending", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		p := New(&Chain{Strategies: []Strategy{&fakeStrategy{name: "direct", payload: okPayload(t)}}}, objectstore.NewMemory(""), 1, "", nil)
		out := p.Resolve(cctx, []ImageTask{{RecordID: "r1", Status: StatusPending}, {RecordID: "r2", Status: StatusPending}}, NewResults(), nil)
		assert.Equal(t, 2, Summarize(out).Pending)
	})
}

type strategyFunc func(ctx context.Context, req FetchRequest) (*Payload, error)

func (f strategyFunc) Name() string { return "func" }
func (f strategyFunc) Fetch(ctx context.Context, req FetchRequest) (*Payload, error) {
	return f(ctx, req)
}

func TestPipeline_ManualUpload(t *testing.T) {
	objects := objectstore.NewMemory("mem://media")
	p := New(&Chain{}, objects, 1, "equipment", nil)
	results := NewResults()

	task := ImageTask{RecordID: "r9", SourceURL: "http://a.com/x.png", Status: StatusFailed, Failure: FailureFetch}

	t.Run("rejects non images", func(t *testing.T) {
		_, err := p.ManualUpload(context.Background(), task, "notes.txt", []byte("hello"), results)
		assert.ErrorIs(t, err, ErrNotImage)
	})

	t.Run("stores operator file", func(t *testing.T) {
		got, err := p.ManualUpload(context.Background(), task, "my photo.png", pngBytes(t, 5, 5), results)
		require.NoError(t, err)
		assert.Equal(t, StatusResolved, got.Status)
		assert.Equal(t, "manual", got.Strategy)
		assert.Contains(t, got.StoredURL, "/equipment/r9/primary-")
		assert.True(t, strings.HasSuffix(got.StoredURL, "-my_photo.png"))
		_, ok := results.StoredURL("r9")
		assert.True(t, ok)
	})
}

func TestResults_FirstWins(t *testing.T) {
	r := NewResults()
	assert.True(t, r.Set("r1", "first"))
	assert.False(t, r.Set("r1", "second"))
	got, _ := r.StoredURL("r1")
	assert.Equal(t, "first", got)
	assert.Equal(t, map[string]string{"r1": "first"}, r.Snapshot())

	var nilResults *Results
	_, ok := nilResults.StoredURL("r1")
	assert.False(t, ok)
}

func TestUploadPath(t *testing.T) {
	at := time.UnixMilli(42)
	assert.Equal(t, "equipment/r1/primary-42", UploadPath("equipment", "r1", at, ""))
	assert.Equal(t, "equipment/r1/primary-42-a.png", UploadPath("equipment", "r1", at, "a.png"))
}
