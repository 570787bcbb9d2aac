package job

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/wpchain/internal/cache"
	"github.com/JakeFAU/wpchain/internal/cache/memory"
	"github.com/JakeFAU/wpchain/internal/crawler"
	"github.com/JakeFAU/wpchain/internal/epub"
	"github.com/JakeFAU/wpchain/internal/id/uuid"
	pubmemory "github.com/JakeFAU/wpchain/internal/publisher/memory"
	"github.com/JakeFAU/wpchain/internal/worker"
)

const firstURL = "http://worm.wordpress.com/2011/06/11/1-1/"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type goSubmitter struct {
	wg  sync.WaitGroup
	err error
}

func (s *goSubmitter) Submit(ctx context.Context, task worker.Task) error {
	if s.err != nil {
		return s.err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		task(ctx)
	}()
	return nil
}

type failingStore struct {
	cache.Storage
}

func (failingStore) Create(context.Context, string) (cache.Sink, error) {
	return nil, errors.New("disk full")
}

func (failingStore) Expire(context.Context, string) error {
	return nil
}

type harness struct {
	mgr   *Manager
	pool  *goSubmitter
	clock *fakeClock
	store *memory.Store
	pub   *pubmemory.Publisher
}

func newHarness(t *testing.T, crawl CrawlFunc) *harness {
	t.Helper()
	h := &harness{
		pool:  &goSubmitter{},
		clock: &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		store: memory.New(),
		pub:   pubmemory.New(0, nil),
	}
	h.mgr = NewManager(DefaultConfig(), crawl, h.pool, h.store, h.pub, h.clock, uuid.New(), nil)
	return h
}

func emitChapter(h crawler.Handler, index int, title string, lines ...string) error {
	events := []crawler.Event{
		{Kind: crawler.EventStartChapter, Index: index},
		{Kind: crawler.EventChapterTitle, Index: index, Text: title},
	}
	for _, l := range lines {
		events = append(events, crawler.Event{Kind: crawler.EventChapterLine, Index: index, Text: l})
	}
	events = append(events, crawler.Event{Kind: crawler.EventEndChapter, Index: index})
	for _, ev := range events {
		if err := h.HandleEvent(ev); err != nil {
			return err
		}
	}
	return nil
}

func successfulCrawl(_ context.Context, _ string, h crawler.Handler) error {
	if err := h.HandleEvent(crawler.Event{Kind: crawler.EventBookTitle, Index: 1, Text: "Worm"}); err != nil {
		return err
	}
	if err := h.HandleEvent(crawler.Event{Kind: crawler.EventAuthor, Index: 1, Text: "wildbow"}); err != nil {
		return err
	}
	if err := emitChapter(h, 1, "Gestation 1.1", "<p>one</p>"); err != nil {
		return err
	}
	return emitChapter(h, 2, "Gestation 1.2", "<p>two</p>")
}

func TestSubmitDeduplicatesConcurrentRequests(t *testing.T) {
	t.Parallel()

	var crawls atomic.Int32
	release := make(chan struct{})
	h := newHarness(t, func(ctx context.Context, url string, hd crawler.Handler) error {
		crawls.Add(1)
		<-release
		return successfulCrawl(ctx, url, hd)
	})

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap := h.mgr.Submit(context.Background(), firstURL)
			assert.False(t, snap.Status.Terminal())
		}()
	}
	wg.Wait()
	close(release)
	h.pool.wg.Wait()

	assert.Equal(t, int32(1), crawls.Load())
	snap, ok := h.mgr.Lookup(firstURL)
	require.True(t, ok)
	assert.Equal(t, StatusReady, snap.Status)
}

func TestProgressWhileWorking(t *testing.T) {
	t.Parallel()

	midway := make(chan struct{})
	release := make(chan struct{})
	h := newHarness(t, func(_ context.Context, _ string, hd crawler.Handler) error {
		if err := emitChapter(hd, 1, "a"); err != nil {
			return err
		}
		if err := emitChapter(hd, 2, "b"); err != nil {
			return err
		}
		close(midway)
		<-release
		return nil
	})

	first := h.mgr.Submit(context.Background(), firstURL)
	assert.Contains(t, []Status{StatusPending, StatusWorking}, first.Status)

	<-midway
	snap, ok := h.mgr.Lookup(firstURL)
	require.True(t, ok)
	assert.Equal(t, StatusWorking, snap.Status)
	require.NotNil(t, snap.Progress)
	assert.Equal(t, 2, *snap.Progress)

	again := h.mgr.Submit(context.Background(), firstURL)
	assert.Equal(t, snap, again)

	close(release)
	h.pool.wg.Wait()
	snap, _ = h.mgr.Lookup(firstURL)
	assert.Nil(t, snap.Progress)
}

func TestReadyJobServesBookThenExpires(t *testing.T) {
	t.Parallel()

	h := newHarness(t, successfulCrawl)
	h.mgr.Submit(context.Background(), firstURL)
	h.pool.wg.Wait()

	snap, ok := h.mgr.Lookup(firstURL)
	require.True(t, ok)
	assert.Equal(t, StatusReady, snap.Status)

	title, ok := h.mgr.BookTitle(firstURL)
	require.True(t, ok)
	assert.Equal(t, "Worm", title)

	r, gotTitle, err := h.mgr.Open(context.Background(), firstURL)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "Worm", gotTitle)

	contents, err := epub.Open(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, "Worm", contents.Title)
	assert.Equal(t, []string{"wildbow"}, contents.Authors)
	assert.Equal(t, []string{"Gestation 1.1", "Gestation 1.2"}, contents.Chapters)

	msgs := h.pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, NotificationTopic, msgs[0].Topic)
	n, ok := msgs[0].Payload.(Notification)
	require.True(t, ok)
	assert.Equal(t, StatusReady, n.Status)
	assert.Equal(t, 2, n.Chapters)
	assert.NotEmpty(t, n.RunID)

	assert.Equal(t, 1, h.mgr.evictor.Len())
	h.clock.Advance(30 * time.Minute)
	assert.Equal(t, 0, h.mgr.Sweep())
	h.clock.Advance(31 * time.Minute)
	assert.Equal(t, 1, h.mgr.Sweep())

	_, ok = h.mgr.Lookup(firstURL)
	assert.False(t, ok)
	_, err = h.store.Open(context.Background(), firstURL)
	require.ErrorIs(t, err, cache.ErrNotFound)
}

func TestFailedCrawlExpiresAfterShortGrace(t *testing.T) {
	t.Parallel()

	boom := errors.New("fetch failed")
	h := newHarness(t, func(_ context.Context, _ string, hd crawler.Handler) error {
		if err := emitChapter(hd, 1, "a"); err != nil {
			return err
		}
		return boom
	})
	h.mgr.Submit(context.Background(), firstURL)
	h.pool.wg.Wait()

	snap, ok := h.mgr.Lookup(firstURL)
	require.True(t, ok)
	assert.Equal(t, StatusFailed, snap.Status)
	_, _, err := h.mgr.Open(context.Background(), firstURL)
	require.ErrorIs(t, err, ErrNotReady)

	msgs := h.pub.Messages()
	require.Len(t, msgs, 1)
	n := msgs[0].Payload.(Notification)
	assert.Equal(t, StatusFailed, n.Status)
	assert.Equal(t, "fetch failed", n.Error)

	h.clock.Advance(59 * time.Second)
	assert.Equal(t, 0, h.mgr.Sweep())
	h.clock.Advance(2 * time.Second)
	assert.Equal(t, 1, h.mgr.Sweep())
	_, ok = h.mgr.Lookup(firstURL)
	assert.False(t, ok)

	again := h.mgr.Submit(context.Background(), firstURL)
	assert.False(t, again.Status.Terminal())
	h.pool.wg.Wait()
}

func TestRejectedJobFails(t *testing.T) {
	t.Parallel()

	h := newHarness(t, successfulCrawl)
	h.pool.err = worker.ErrQueueFull

	snap := h.mgr.Submit(context.Background(), firstURL)
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Equal(t, 1, h.mgr.evictor.Len())
}

func TestCacheFailureFailsJob(t *testing.T) {
	t.Parallel()

	pool := &goSubmitter{}
	clock := &fakeClock{now: time.Now()}
	mgr := NewManager(Config{}, successfulCrawl, pool, failingStore{}, pubmemory.New(0, nil), clock, uuid.New(), nil)
	mgr.Submit(context.Background(), firstURL)
	pool.wg.Wait()

	snap, ok := mgr.Lookup(firstURL)
	require.True(t, ok)
	assert.Equal(t, StatusFailed, snap.Status)

	clock.Advance(2 * time.Minute)
	assert.Equal(t, 0, mgr.Sweep())
	clock.Advance(time.Hour)
	assert.Equal(t, 1, mgr.Sweep())
}

func TestOpenWithoutTitle(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(_ context.Context, _ string, hd crawler.Handler) error {
		return emitChapter(hd, 1, "untitled")
	})
	h.mgr.Submit(context.Background(), firstURL)
	h.pool.wg.Wait()

	snap, _ := h.mgr.Lookup(firstURL)
	assert.Equal(t, StatusReady, snap.Status)
	_, ok := h.mgr.BookTitle(firstURL)
	assert.False(t, ok)
	_, _, err := h.mgr.Open(context.Background(), firstURL)
	require.ErrorIs(t, err, ErrNotReady)
}

func TestLookupUnknown(t *testing.T) {
	t.Parallel()

	h := newHarness(t, successfulCrawl)
	_, ok := h.mgr.Lookup("http://nope.wordpress.com/2011/01/01/x/")
	assert.False(t, ok)
	_, ok = h.mgr.BookTitle("x")
	assert.False(t, ok)
}

func TestJobTransitionsAreMonotone(t *testing.T) {
	t.Parallel()

	j := newJob(firstURL)
	require.True(t, j.start("run"))
	assert.False(t, j.start("again"))
	j.advance()
	require.True(t, j.finish(StatusReady, nil))
	assert.False(t, j.finish(StatusFailed, errors.New("late")))
	j.advance()
	assert.Equal(t, Snapshot{Status: StatusReady}, j.Snapshot())
	assert.NoError(t, j.Err())
}

func TestSweepDoesNotStarveAdmission(t *testing.T) {
	t.Parallel()

	pool := worker.NewPool(1, 4, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()
	release := make(chan struct{})
	t.Cleanup(func() {
		close(release)
		cancel()
		<-done
	})

	crawl := func(ctx context.Context, url string, h crawler.Handler) error {
		if url == firstURL {
			select {
			case <-release:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return successfulCrawl(ctx, url, h)
	}
	clock := &fakeClock{now: time.Now()}
	mgr := NewManager(DefaultConfig(), crawl, pool, memory.New(), pubmemory.New(0, nil), clock, uuid.New(), nil)

	first := mgr.Submit(context.Background(), firstURL)
	assert.Equal(t, StatusPending, first.Status)
	require.Eventually(t, func() bool {
		snap, _ := mgr.Lookup(firstURL)
		return snap.Status == StatusWorking
	}, 2*time.Second, time.Millisecond)

	pool.Every(ctx, 5*time.Millisecond, func(context.Context) { mgr.Sweep() })
	time.Sleep(100 * time.Millisecond)

	second := mgr.Submit(context.Background(), "http://worm.wordpress.com/2011/06/14/1-2/")
	assert.Equal(t, StatusPending, second.Status)
}
