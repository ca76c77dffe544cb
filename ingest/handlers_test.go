package ingest

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	tdd "github.com/stretchr/testify/assert"

	"github.com/arborwatch/httpmeta/broker"
	"github.com/arborwatch/httpmeta/log"
	"github.com/arborwatch/httpmeta/model"
)

type fakeRepo struct {
	records map[string]*model.Record
	pingErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{records: map[string]*model.Record{}}
}

func (r *fakeRepo) EnsurePending(ctx context.Context, url string) (*model.Record, error) {
	if rec, ok := r.records[url]; ok {
		return rec, nil
	}
	rec := &model.Record{URL: url, Status: model.StatusPending}
	r.records[url] = rec
	return rec, nil
}
func (r *fakeRepo) MarkInProgress(ctx context.Context, url, requestID string) (*model.Record, error) {
	return r.records[url], nil
}
func (r *fakeRepo) MarkCompleted(ctx context.Context, url string, meta model.Metadata) error {
	return nil
}
func (r *fakeRepo) MarkRetryableFailure(ctx context.Context, url, errMsg string) error { return nil }
func (r *fakeRepo) MarkPermanentFailure(ctx context.Context, url, errMsg string) error { return nil }
func (r *fakeRepo) Get(ctx context.Context, url string) (*model.Record, error) {
	return r.records[url], nil
}
func (r *fakeRepo) Ping(ctx context.Context) error   { return r.pingErr }
func (r *fakeRepo) Close(ctx context.Context) error { return nil }

func testLogger() log.Logger { return log.Discard() }

func TestHandleLive(t *testing.T) {
	assert := tdd.New(t)
	a := New(broker.NewInMemory(10), newFakeRepo(), testLogger())

	req := httptest.NewRequest("GET", "/health/live", nil)
	w := httptest.NewRecorder()
	a.Routes().ServeHTTP(w, req)
	assert.Equal(200, w.Code)
}

func TestHandleReadyPublisherNotReady(t *testing.T) {
	assert := tdd.New(t)
	pub := broker.NewInMemory(10)
	pub.Close(context.Background())
	a := New(pub, newFakeRepo(), testLogger())

	req := httptest.NewRequest("GET", "/health/ready", nil)
	w := httptest.NewRecorder()
	a.Routes().ServeHTTP(w, req)
	assert.Equal(503, w.Code)
}

func TestPostMetadataValidatesURL(t *testing.T) {
	assert := tdd.New(t)
	a := New(broker.NewInMemory(10), newFakeRepo(), testLogger())

	req := httptest.NewRequest("POST", "/metadata", strings.NewReader(`{"url":"not-a-url"}`))
	w := httptest.NewRecorder()
	a.Routes().ServeHTTP(w, req)
	assert.Equal(422, w.Code)
}

func TestPostMetadataQueuesValidURL(t *testing.T) {
	assert := tdd.New(t)
	a := New(broker.NewInMemory(10), newFakeRepo(), testLogger())

	req := httptest.NewRequest("POST", "/metadata", strings.NewReader(`{"url":"https://example.com/"}`))
	w := httptest.NewRecorder()
	a.Routes().ServeHTTP(w, req)
	assert.Equal(202, w.Code)
}

func TestPostMetadataPublisherNotReadyDoesNotMutateStore(t *testing.T) {
	assert := tdd.New(t)
	pub := broker.NewInMemory(10)
	pub.Close(context.Background())
	repo := newFakeRepo()
	a := New(pub, repo, testLogger())

	req := httptest.NewRequest("POST", "/metadata", strings.NewReader(`{"url":"https://example.com/"}`))
	w := httptest.NewRecorder()
	a.Routes().ServeHTTP(w, req)

	assert.Equal(503, w.Code)
	assert.Len(repo.records, 0)
}

func TestGetMetadataMissingURL(t *testing.T) {
	assert := tdd.New(t)
	a := New(broker.NewInMemory(10), newFakeRepo(), testLogger())

	req := httptest.NewRequest("GET", "/metadata?url=", nil)
	w := httptest.NewRecorder()
	a.Routes().ServeHTTP(w, req)
	assert.Equal(400, w.Code)
}

func TestGetMetadataCompletedRecord(t *testing.T) {
	assert := tdd.New(t)
	repo := newFakeRepo()
	repo.records["https://example.com/"] = &model.Record{
		URL:    "https://example.com/",
		Status: model.StatusCompleted,
	}
	a := New(broker.NewInMemory(10), repo, testLogger())

	req := httptest.NewRequest("GET", "/metadata?url=https://example.com/", nil)
	w := httptest.NewRecorder()
	a.Routes().ServeHTTP(w, req)
	assert.Equal(200, w.Code)
}

func TestGetMetadataUnseenURLPublisherNotReadyDoesNotMutateStore(t *testing.T) {
	assert := tdd.New(t)
	pub := broker.NewInMemory(10)
	pub.Close(context.Background())
	repo := newFakeRepo()
	a := New(pub, repo, testLogger())

	req := httptest.NewRequest("GET", "/metadata?url=https://example.com/", nil)
	w := httptest.NewRecorder()
	a.Routes().ServeHTTP(w, req)

	assert.Equal(503, w.Code)
	assert.Len(repo.records, 0)
}

func TestGetMetadataInProgressRecord(t *testing.T) {
	assert := tdd.New(t)
	repo := newFakeRepo()
	repo.records["https://example.com/"] = &model.Record{
		URL:    "https://example.com/",
		Status: model.StatusInProgress,
	}
	a := New(broker.NewInMemory(10), repo, testLogger())

	req := httptest.NewRequest("GET", "/metadata?url=https://example.com/", nil)
	w := httptest.NewRecorder()
	a.Routes().ServeHTTP(w, req)
	assert.Equal(202, w.Code)
}
