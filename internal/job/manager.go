package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/wpchain/internal/book"
	"github.com/JakeFAU/wpchain/internal/cache"
	"github.com/JakeFAU/wpchain/internal/crawler"
	"github.com/JakeFAU/wpchain/internal/epub"
	"github.com/JakeFAU/wpchain/internal/evict"
	"github.com/JakeFAU/wpchain/internal/metrics"
	"github.com/JakeFAU/wpchain/internal/worker"
)

// NotificationTopic is the topic terminal job notifications are published to.
const NotificationTopic = "book-jobs"

// CrawlFunc crawls the chain starting at firstURL, delivering events to handler.
type CrawlFunc func(ctx context.Context, firstURL string, handler crawler.Handler) error

// Submitter schedules work; worker.Pool implements it.
type Submitter interface {
	Submit(ctx context.Context, task worker.Task) error
}

// Publisher delivers notifications to subscribers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// IDGenerator creates run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Config controls job retention.
type Config struct {
	// FailedGrace is how long a failed job stays visible.
	FailedGrace time.Duration
	// ReadyGrace is how long a finished job and its book stay available.
	ReadyGrace time.Duration
	// Topic overrides NotificationTopic.
	Topic string
}

// DefaultConfig returns the standard retention periods.
func DefaultConfig() Config {
	return Config{
		FailedGrace: time.Minute,
		ReadyGrace:  time.Hour,
		Topic:       NotificationTopic,
	}
}

// Manager owns the job table. Each starting URL has at most one job at a
// time; it is removed, together with its cached book, after a grace period.
type Manager struct {
	cfg       Config
	crawl     CrawlFunc
	pool      Submitter
	store     cache.Storage
	publisher Publisher
	ids       IDGenerator
	logger    *zap.Logger

	jobs    sync.Map
	evictor *evict.Queue[string]
}

// NewManager wires a Manager.
func NewManager(
	cfg Config,
	crawl CrawlFunc,
	pool Submitter,
	store cache.Storage,
	publisher Publisher,
	clock evict.Clock,
	ids IDGenerator,
	logger *zap.Logger,
) *Manager {
	def := DefaultConfig()
	if cfg.FailedGrace <= 0 {
		cfg.FailedGrace = def.FailedGrace
	}
	if cfg.ReadyGrace <= 0 {
		cfg.ReadyGrace = def.ReadyGrace
	}
	if cfg.Topic == "" {
		cfg.Topic = def.Topic
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	m := &Manager{
		cfg:       cfg,
		crawl:     crawl,
		pool:      pool,
		store:     store,
		publisher: publisher,
		ids:       ids,
		logger:    logger.Named("jobs"),
	}
	m.evictor = evict.New(m.purge, clock, logger)
	return m
}

// Submit returns the status of the job for url, creating and scheduling the
// job when none exists.
func (m *Manager) Submit(ctx context.Context, url string) Snapshot {
	j := newJob(url)
	actual, loaded := m.jobs.LoadOrStore(url, j)
	if loaded {
		return actual.(*Job).Snapshot()
	}

	m.logger.Info("job created", zap.String("url", url))
	metrics.IncActiveJobs()
	if err := m.pool.Submit(ctx, func(runCtx context.Context) { m.run(runCtx, j) }); err != nil {
		m.logger.Warn("job rejected", zap.String("url", url), zap.Error(err))
		m.complete(ctx, j, StatusFailed, fmt.Errorf("schedule job: %w", err), m.cfg.FailedGrace)
	}
	return j.Snapshot()
}

// Lookup returns the status of the job for url.
func (m *Manager) Lookup(url string) (Snapshot, bool) {
	j, ok := m.job(url)
	if !ok {
		return Snapshot{}, false
	}
	return j.Snapshot(), true
}

// BookTitle returns the title captured by the job for url.
func (m *Manager) BookTitle(url string) (string, bool) {
	j, ok := m.job(url)
	if !ok {
		return "", false
	}
	return j.Title()
}

// Open returns the cached book for url and its title.
func (m *Manager) Open(ctx context.Context, url string) (io.ReadCloser, string, error) {
	j, ok := m.job(url)
	if !ok || j.Snapshot().Status != StatusReady {
		return nil, "", ErrNotReady
	}
	title, ok := j.Title()
	if !ok {
		return nil, "", ErrNotReady
	}
	r, err := m.store.Open(ctx, url)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, "", ErrNotReady
		}
		return nil, "", fmt.Errorf("open cached book: %w", err)
	}
	return r, title, nil
}

// Sweep purges jobs whose grace period has ended.
func (m *Manager) Sweep() int {
	return m.evictor.Sweep()
}

func (m *Manager) job(url string) (*Job, bool) {
	v, ok := m.jobs.Load(url)
	if !ok {
		return nil, false
	}
	return v.(*Job), true
}

func (m *Manager) run(ctx context.Context, j *Job) {
	runID, err := m.ids.NewID()
	if err != nil {
		m.complete(ctx, j, StatusFailed, err, m.cfg.FailedGrace)
		return
	}
	if !j.start(runID) {
		return
	}
	logger := m.logger.With(zap.String("run_id", runID), zap.String("url", j.url))
	logger.Info("job started")

	builder := book.NewBuilder(logger)
	progress := crawler.HandlerFunc(func(ev crawler.Event) error {
		switch ev.Kind {
		case crawler.EventBookTitle:
			j.setTitle(ev.Text)
		case crawler.EventEndChapter:
			j.advance()
		}
		return nil
	})

	if err := m.crawl(ctx, j.url, crawler.MultiHandler(builder, progress)); err != nil {
		logger.Warn("crawl failed", zap.Error(err))
		m.complete(ctx, j, StatusFailed, err, m.cfg.FailedGrace)
		return
	}

	b := builder.Book()
	if err := m.save(ctx, j.url, b); err != nil {
		logger.Error("saving book failed", zap.Error(err))
		m.complete(ctx, j, StatusFailed, err, m.cfg.ReadyGrace)
		return
	}
	logger.Info("job ready", zap.Int("chapters", len(b.Chapters)), zap.String("title", b.Title))
	m.complete(ctx, j, StatusReady, nil, m.cfg.ReadyGrace)
}

func (m *Manager) save(ctx context.Context, url string, b book.Book) (err error) {
	sink, err := m.store.Create(ctx, url)
	if err != nil {
		return fmt.Errorf("create cache entry: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if abortErr := sink.Abort(); abortErr != nil {
				err = errors.Join(err, abortErr)
			}
		}
	}()
	if err := epub.Write(b, sink); err != nil {
		return err
	}
	if err := sink.Close(); err != nil {
		return fmt.Errorf("commit cache entry: %w", err)
	}
	committed = true
	return nil
}

// complete records the terminal status, notifies subscribers and schedules
// removal after grace.
func (m *Manager) complete(ctx context.Context, j *Job, status Status, cause error, grace time.Duration) {
	if !j.finish(status, cause) {
		return
	}
	metrics.ObserveJob(string(status))
	metrics.DecActiveJobs()

	n := j.notification()
	if _, err := m.publisher.Publish(context.WithoutCancel(ctx), m.cfg.Topic, n); err != nil {
		m.logger.Warn("publish notification", zap.String("url", j.url), zap.Error(err))
	}
	m.evictor.Enqueue(j.url, grace)
}

func (m *Manager) purge(url string) {
	m.jobs.Delete(url)
	if err := m.store.Expire(context.Background(), url); err != nil {
		m.logger.Warn("expire cached book", zap.String("url", url), zap.Error(err))
	}
	metrics.ObserveEviction()
	m.logger.Info("job removed", zap.String("url", url))
}
