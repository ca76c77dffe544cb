package processor

import (
	"context"
	"sync"
	"testing"

	tdd "github.com/stretchr/testify/assert"

	"github.com/arborwatch/httpmeta/fetcher"
	"github.com/arborwatch/httpmeta/log"
	"github.com/arborwatch/httpmeta/model"
)

type fakeRepo struct {
	mu      sync.Mutex
	records map[string]*model.Record
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{records: map[string]*model.Record{}}
}

func (r *fakeRepo) EnsurePending(ctx context.Context, url string) (*model.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[url]; ok {
		return rec, nil
	}
	rec := &model.Record{URL: url, Status: model.StatusPending}
	r.records[url] = rec
	return rec, nil
}

func (r *fakeRepo) MarkInProgress(ctx context.Context, url, requestID string) (*model.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.records[url]
	if rec.Status.Terminal() {
		return rec, nil
	}
	rec.Status = model.StatusInProgress
	rec.Processing.AttemptNumber++
	rec.Processing.LastRequestID = requestID
	return rec, nil
}

func (r *fakeRepo) MarkCompleted(ctx context.Context, url string, meta model.Metadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.records[url]
	rec.Status = model.StatusCompleted
	rec.Metadata = &meta
	return nil
}

func (r *fakeRepo) MarkRetryableFailure(ctx context.Context, url, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[url].Status = model.StatusFailedRetryable
	return nil
}

func (r *fakeRepo) MarkPermanentFailure(ctx context.Context, url, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[url].Status = model.StatusFailedPermanent
	return nil
}

func (r *fakeRepo) Get(ctx context.Context, url string) (*model.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records[url], nil
}

func (r *fakeRepo) Ping(ctx context.Context) error { return nil }
func (r *fakeRepo) Close(ctx context.Context) error { return nil }

type fakeFetcher struct {
	result *fetcher.Result
	err    error
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (*fetcher.Result, error) {
	return f.result, f.err
}

func testLogger() log.Logger {
	return log.Discard()
}

func TestProcessorCompletedOnSuccess(t *testing.T) {
	assert := tdd.New(t)
	repo := newFakeRepo()
	f := &fakeFetcher{result: &fetcher.Result{StatusCode: 200, Body: []byte("hello")}}
	p := New(repo, f, 3, 1_000_000, testLogger())

	env := model.Envelope{URL: "https://example.com/", RequestID: "r1"}
	outcome := p.Process(context.Background(), env)
	assert.Equal(Completed, outcome)

	rec, _ := repo.Get(context.Background(), env.URL)
	assert.Equal(model.StatusCompleted, rec.Status)
	assert.Equal("hello", rec.Metadata.PageSource)
}

func TestProcessorTruncatesOversizedBody(t *testing.T) {
	assert := tdd.New(t)
	repo := newFakeRepo()
	f := &fakeFetcher{result: &fetcher.Result{StatusCode: 200, Body: []byte("0123456789")}}
	p := New(repo, f, 3, 5, testLogger())

	env := model.Envelope{URL: "https://example.com/", RequestID: "r1"}
	p.Process(context.Background(), env)

	rec, _ := repo.Get(context.Background(), env.URL)
	assert.Equal("01234", rec.Metadata.PageSource)
	assert.True(rec.Metadata.AdditionalDetails.Truncated)
	assert.Equal(10, rec.Metadata.AdditionalDetails.OriginalLength)
}

func TestProcessorRetryableBelowLimit(t *testing.T) {
	assert := tdd.New(t)
	repo := newFakeRepo()
	f := &fakeFetcher{err: model.NewKindError(model.ErrFetchRetryable, "timeout")}
	p := New(repo, f, 3, 1_000_000, testLogger())

	env := model.Envelope{URL: "https://example.com/", RequestID: "r1"}
	outcome := p.Process(context.Background(), env)
	assert.Equal(RetryableFailure, outcome)

	rec, _ := repo.Get(context.Background(), env.URL)
	assert.Equal(model.StatusFailedRetryable, rec.Status)
}

func TestProcessorPromotesAfterMaxRetries(t *testing.T) {
	assert := tdd.New(t)
	repo := newFakeRepo()
	f := &fakeFetcher{err: model.NewKindError(model.ErrFetchRetryable, "timeout")}
	p := New(repo, f, 2, 1_000_000, testLogger())

	env := model.Envelope{URL: "https://example.com/", RequestID: "r1"}
	assert.Equal(RetryableFailure, p.Process(context.Background(), env))
	outcome := p.Process(context.Background(), env)
	assert.Equal(PermanentFailure, outcome)

	rec, _ := repo.Get(context.Background(), env.URL)
	assert.Equal(model.StatusFailedPermanent, rec.Status)
}

func TestProcessorPermanentFailsImmediately(t *testing.T) {
	assert := tdd.New(t)
	repo := newFakeRepo()
	f := &fakeFetcher{err: model.NewKindError(model.ErrFetchPermanent, "404")}
	p := New(repo, f, 3, 1_000_000, testLogger())

	env := model.Envelope{URL: "https://example.com/", RequestID: "r1"}
	outcome := p.Process(context.Background(), env)
	assert.Equal(PermanentFailure, outcome)
}

func TestProcessorMalformedEnvelope(t *testing.T) {
	assert := tdd.New(t)
	repo := newFakeRepo()
	p := New(repo, &fakeFetcher{}, 3, 1_000_000, testLogger())

	outcome := p.Process(context.Background(), model.Envelope{})
	assert.Equal(Malformed, outcome)
}

func TestProcessorShortCircuitsStaleRedelivery(t *testing.T) {
	assert := tdd.New(t)
	repo := newFakeRepo()
	f := &fakeFetcher{err: model.NewKindError(model.ErrFetchPermanent, "should not be called")}
	p := New(repo, f, 3, 1_000_000, testLogger())

	env := model.Envelope{URL: "https://example.com/", RequestID: "r1"}
	rec, _ := repo.EnsurePending(context.Background(), env.URL)
	rec.Status = model.StatusCompleted

	outcome := p.Process(context.Background(), env)
	assert.Equal(Completed, outcome)
}
