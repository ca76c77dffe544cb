package fetcher

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	tdd "github.com/stretchr/testify/assert"

	"github.com/arborwatch/httpmeta/model"
)

func TestFetchSuccess(t *testing.T) {
	assert := tdd.New(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Test", "yes")
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc"})
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("hello world"))
	}))
	defer srv.Close()

	f, err := New(time.Second, time.Second)
	assert.Nil(err)

	res, err := f.Fetch(t.Context(), srv.URL)
	assert.Nil(err)
	assert.Equal(200, res.StatusCode)
	assert.Equal("hello world", string(res.Body))
	assert.Equal("yes", res.Headers["X-Test"])
	assert.Equal("abc", res.Cookies["session"])
}

func TestFetchServerErrorIsRetryable(t *testing.T) {
	assert := tdd.New(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f, _ := New(time.Second, time.Second)
	_, err := f.Fetch(t.Context(), srv.URL)

	kind, ok := model.KindOf(err)
	assert.True(ok)
	assert.Equal(model.ErrFetchRetryable, kind)
}

func TestFetchClientErrorIsPermanent(t *testing.T) {
	assert := tdd.New(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f, _ := New(time.Second, time.Second)
	_, err := f.Fetch(t.Context(), srv.URL)

	kind, ok := model.KindOf(err)
	assert.True(ok)
	assert.Equal(model.ErrFetchPermanent, kind)
}

func TestFetchReadTimeoutIsRetryable(t *testing.T) {
	assert := tdd.New(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f, _ := New(time.Second, 10*time.Millisecond)
	_, err := f.Fetch(t.Context(), srv.URL)

	kind, ok := model.KindOf(err)
	assert.True(ok)
	assert.Equal(model.ErrFetchRetryable, kind)
}

func TestFetchMalformedURLIsPermanent(t *testing.T) {
	assert := tdd.New(t)
	f, _ := New(time.Second, time.Second)
	_, err := f.Fetch(t.Context(), "://not-a-url")

	kind, ok := model.KindOf(err)
	assert.True(ok)
	assert.Equal(model.ErrFetchPermanent, kind)
}
