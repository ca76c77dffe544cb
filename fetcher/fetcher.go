// Package fetcher performs the single outbound HTTP request the processor
// needs per record and classifies the outcome as retryable or permanent.
package fetcher

import (
	"context"
	"errors"
	"io"
	"net"
	lib "net/http"
	"time"

	httpc "github.com/arborwatch/httpmeta/net/http"
	"github.com/arborwatch/httpmeta/model"
)

// Result is the untruncated outcome of a successful fetch; the processor
// applies the body-truncation policy before persisting it.
type Result struct {
	StatusCode int
	Headers    map[string]string
	Cookies    map[string]string
	Body       []byte
	FinalURL   string
}

// Fetcher issues the GET request a record's processing step needs.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Result, error)
}

type fetcher struct {
	client *httpc.Client
}

// New builds a Fetcher whose connect/read timeouts are set per spec.md §6.
func New(connectTimeout, readTimeout time.Duration) (Fetcher, error) {
	dialer := &net.Dialer{Timeout: connectTimeout}
	transport := &lib.Transport{
		DialContext:           dialer.DialContext,
		ResponseHeaderTimeout: readTimeout,
	}
	client, err := httpc.NewClient(
		httpc.WithRoundTripper(transport),
		httpc.WithTimeout(connectTimeout+readTimeout),
	)
	if err != nil {
		return nil, model.WrapKind(model.ErrFetchPermanent, err, "build http client")
	}
	return &fetcher{client: client}, nil
}

// Fetch issues GET url and classifies the outcome per spec.md §4.3: network
// errors, timeouts, and 5xx responses are retryable; 4xx responses and
// decode failures are permanent.
func (f *fetcher) Fetch(ctx context.Context, url string) (*Result, error) {
	req, err := lib.NewRequestWithContext(ctx, lib.MethodGet, url, nil)
	if err != nil {
		return nil, model.WrapKind(model.ErrFetchPermanent, err, "build request")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
			return nil, model.WrapKind(model.ErrFetchRetryable, err, "timeout")
		}
		return nil, model.WrapKind(model.ErrFetchRetryable, err, "network error")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, model.WrapKind(model.ErrFetchPermanent, err, "read body")
	}

	if resp.StatusCode >= 500 {
		return nil, model.NewKindError(model.ErrFetchRetryable, "upstream 5xx")
	}
	if resp.StatusCode >= 400 {
		return nil, model.NewKindError(model.ErrFetchPermanent, "upstream 4xx")
	}

	headers := map[string]string{}
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	cookies := map[string]string{}
	for _, c := range resp.Cookies() {
		cookies[c.Name] = c.Value
	}

	finalURL := url
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &Result{
		StatusCode: resp.StatusCode,
		Headers:    headers,
		Cookies:    cookies,
		Body:       body,
		FinalURL:   finalURL,
	}, nil
}
