package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/catalogimport/internal/objectstore"
)

// DefaultConcurrency is the number of tasks resolved at once.
const DefaultConcurrency = 3

// Config configures a Pipeline built with NewPipeline.
type Config struct {
	Concurrency   int
	FetchTimeout  time.Duration
	MaxImageBytes int64

	// Relays are URL templates containing {url}, tried in order.
	Relays []string

	PlaceholderEnabled bool
	PlaceholderURL     string // Template containing {id}

	ContentAPIDomains []string
	ContentAPIPath    string
	ContentAPIRPS     float64

	// PathPrefix is the entity kind segment of storage paths.
	PathPrefix string
}

// Pipeline resolves image tasks and uploads the results.
type Pipeline struct {
	chain       *Chain
	objects     objectstore.Store
	concurrency int
	prefix      string
	logger      *slog.Logger
	now         func() time.Time
}

// NewPipeline builds the standard chain from cfg: content API substitution,
// direct fetch, each relay once, then the placeholder when enabled.
func NewPipeline(cfg Config, objects objectstore.Store, client *http.Client, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	fetcher := NewFetcher(client, cfg.MaxImageBytes, cfg.FetchTimeout)

	chain := &Chain{Log: logger}
	if len(cfg.ContentAPIDomains) > 0 {
		chain.Rewriters = append(chain.Rewriters,
			NewContentAPI(client, cfg.ContentAPIDomains, cfg.ContentAPIPath, cfg.ContentAPIRPS, logger))
	}
	chain.Strategies = append(chain.Strategies, &Direct{Fetcher: fetcher})
	for i, tpl := range cfg.Relays {
		chain.Strategies = append(chain.Strategies, &Relay{Index: i + 1, Template: tpl, Fetcher: fetcher})
	}
	if cfg.PlaceholderEnabled && cfg.PlaceholderURL != "" {
		chain.Strategies = append(chain.Strategies, &Placeholder{Template: cfg.PlaceholderURL, Fetcher: fetcher})
	}

	return New(chain, objects, cfg.Concurrency, cfg.PathPrefix, logger)
}

// New creates a Pipeline around an explicit chain.
func New(chain *Chain, objects objectstore.Store, concurrency int, prefix string, logger *slog.Logger) *Pipeline {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if prefix == "" {
		prefix = "equipment"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		chain:       chain,
		objects:     objects,
		concurrency: concurrency,
		prefix:      prefix,
		logger:      logger,
		now:         time.Now,
	}
}

// Resolve runs every unresolved task through the chain with bounded
// parallelism. onUpdate, when non-nil, receives a task each time its status
// changes; calls are serialized. Tasks not started before ctx is cancelled
// stay Pending. Stored URLs are recorded in results.
func (p *Pipeline) Resolve(ctx context.Context, tasks []ImageTask, results *Results, onUpdate func(ImageTask)) []ImageTask {
	out := slices.Clone(tasks)
	var mu sync.Mutex

	publish := func(i int, t ImageTask) {
		mu.Lock()
		defer mu.Unlock()
		out[i] = t
		if onUpdate != nil {
			onUpdate(t)
		}
	}

	g := new(errgroup.Group)
	g.SetLimit(p.concurrency)

	for i := range out {
		if out[i].Status == StatusResolved {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		task := out[i]
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			task.Status = StatusResolving
			task.Failure, task.Reason = FailureNone, ""
			publish(i, task)

			publish(i, p.resolveOne(ctx, task, results))
			return nil
		})
	}
	_ = g.Wait()

	return out
}

func (p *Pipeline) resolveOne(ctx context.Context, task ImageTask, results *Results) ImageTask {
	payload, attempts, err := p.chain.Run(ctx, FetchRequest{RecordID: task.RecordID, URL: task.SourceURL})
	task.Attempts = attempts
	if err != nil {
		task.Status = StatusFailed
		task.Failure = FailureFetch
		task.Reason = err.Error()
		p.logger.Warn("image resolution failed",
			"record_id", task.RecordID,
			"url", task.SourceURL,
			"attempts", len(attempts),
		)
		return task
	}

	task.Strategy = attempts[len(attempts)-1].Strategy
	return p.store(ctx, task, payload, results)
}

// store uploads payload and annotates task with the outcome.
func (p *Pipeline) store(ctx context.Context, task ImageTask, payload *Payload, results *Results) ImageTask {
	task.ContentType = payload.ContentType
	task.Size = len(payload.Data)
	task.Width, task.Height = payload.Width, payload.Height
	task.BlurHash = payload.BlurHash

	objectPath := UploadPath(p.prefix, task.RecordID, p.now(), payload.FileName)
	storedURL, err := p.objects.Put(ctx, objectPath, payload.Data, payload.ContentType)
	if err != nil {
		uploadErr := &UploadError{Path: objectPath, Err: err}
		task.Status = StatusFailed
		task.Failure = FailureUpload
		task.Reason = uploadErr.Error()
		p.logger.Warn("image upload failed", "record_id", task.RecordID, "path", objectPath, "error", err)
		return task
	}

	task.Status = StatusResolved
	task.StoredURL = storedURL
	if results != nil {
		results.Set(task.RecordID, storedURL)
	}
	p.logger.Info("image stored",
		"record_id", task.RecordID,
		"strategy", task.Strategy,
		"size", task.Size,
		"width", task.Width,
		"height", task.Height,
	)
	return task
}

// ManualUpload resolves task with operator-supplied bytes, bypassing the
// network entirely.
func (p *Pipeline) ManualUpload(ctx context.Context, task ImageTask, fileName string, data []byte, results *Results) (ImageTask, error) {
	if task.RecordID == "" {
		return task, errors.New("record ID cannot be empty")
	}
	info, err := Inspect(data)
	if err != nil {
		return task, err
	}
	task.Strategy = "manual"
	task.Attempts = append(task.Attempts, Attempt{Strategy: "manual", URL: fileName})
	task = p.store(ctx, task, &Payload{Data: data, FileName: safeName(fileName), ImageInfo: info}, results)
	if task.Status != StatusResolved {
		return task, fmt.Errorf("manual upload: %s", task.Reason)
	}
	return task, nil
}

// UploadPath builds "<prefix>/<recordId>/primary-<unixMillis>[-<name>]".
func UploadPath(prefix, recordID string, at time.Time, name string) string {
	p := fmt.Sprintf("%s/%s/primary-%d", prefix, recordID, at.UnixMilli())
	if name != "" {
		p += "-" + name
	}
	return p
}
