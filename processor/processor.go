// Package processor converts a single delivery into a deterministic record
// transition and an ack decision, per the processing algorithm.
package processor

import (
	"context"

	"github.com/arborwatch/httpmeta/fetcher"
	"github.com/arborwatch/httpmeta/log"
	"github.com/arborwatch/httpmeta/model"
	"github.com/arborwatch/httpmeta/repository"
)

// Outcome is the ack decision the consumer loop makes after processing a
// delivery.
type Outcome int

const (
	// Completed means ack: the fetch succeeded, or the record was already
	// terminal (stale redelivery).
	Completed Outcome = iota
	// RetryableFailure means nack-with-requeue: a transient error occurred
	// and the retry budget is not exhausted.
	RetryableFailure
	// PermanentFailure means ack: either the fetch failed non-transiently
	// or the retry budget was exhausted.
	PermanentFailure
	// Malformed means ack-without-requeue: the envelope itself was unusable.
	Malformed
)

// Processor wires the repository and fetcher together per the processing
// algorithm.
type Processor struct {
	repo       repository.Repository
	fetch      fetcher.Fetcher
	maxRetries int
	maxBody    int
	log        log.Logger
}

// New builds a Processor.
func New(repo repository.Repository, f fetcher.Fetcher, maxRetries, maxBodyLen int, logger log.Logger) *Processor {
	return &Processor{
		repo:       repo,
		fetch:      f,
		maxRetries: maxRetries,
		maxBody:    maxBodyLen,
		log:        logger.Sub(log.Fields{"component": "processor"}),
	}
}

// Process runs steps 1-7 of the processing algorithm against a single
// envelope and returns the ack decision the consumer loop must act on.
func (p *Processor) Process(ctx context.Context, env model.Envelope) Outcome {
	if !env.Valid() {
		p.log.Warning("malformed_envelope")
		return Malformed
	}

	if _, err := p.repo.EnsurePending(ctx, env.URL); err != nil {
		p.log.WithFields(log.Fields{"url": env.URL, "error": err.Error()}).Error("ensure_pending_failed")
		return RetryableFailure
	}

	rec, err := p.repo.MarkInProgress(ctx, env.URL, env.RequestID)
	if err != nil {
		p.log.WithFields(log.Fields{"url": env.URL, "error": err.Error()}).Error("mark_in_progress_failed")
		return RetryableFailure
	}
	if rec.Status.Terminal() {
		p.log.WithFields(log.Fields{"url": env.URL, "status": string(rec.Status)}).Info("stale_redelivery")
		return Completed
	}

	result, ferr := p.fetch.Fetch(ctx, env.URL)
	if ferr != nil {
		return p.handleFetchError(ctx, env, rec, ferr)
	}
	return p.handleResult(ctx, env, result)
}

func (p *Processor) handleResult(ctx context.Context, env model.Envelope, result *fetcher.Result) Outcome {
	meta := model.Metadata{
		StatusCode: result.StatusCode,
		Headers:    result.Headers,
		Cookies:    result.Cookies,
		FinalURL:   result.FinalURL,
		PageSource: string(result.Body),
	}
	if len(result.Body) > p.maxBody {
		meta.AdditionalDetails = &model.TruncationDetail{
			Truncated:      true,
			OriginalLength: len(result.Body),
		}
		meta.PageSource = string(result.Body[:p.maxBody])
	}

	if err := p.repo.MarkCompleted(ctx, env.URL, meta); err != nil {
		p.log.WithFields(log.Fields{"url": env.URL, "error": err.Error()}).Error("mark_completed_failed")
		return RetryableFailure
	}
	p.log.WithFields(log.Fields{"url": env.URL}).Info("fetch_completed")
	return Completed
}

func (p *Processor) handleFetchError(ctx context.Context, env model.Envelope, rec *model.Record, ferr error) Outcome {
	kind, _ := model.KindOf(ferr)
	switch kind {
	case model.ErrFetchRetryable:
		if rec.Processing.AttemptNumber < p.maxRetries {
			if err := p.repo.MarkRetryableFailure(ctx, env.URL, ferr.Error()); err != nil {
				p.log.WithFields(log.Fields{"url": env.URL, "error": err.Error()}).Error("mark_retryable_failed")
			}
			return RetryableFailure
		}
		if err := p.repo.MarkPermanentFailure(ctx, env.URL, ferr.Error()); err != nil {
			p.log.WithFields(log.Fields{"url": env.URL, "error": err.Error()}).Error("mark_permanent_failed")
		}
		p.log.WithFields(log.Fields{"url": env.URL, "attempts": rec.Processing.AttemptNumber}).Warning("retries_exhausted")
		return PermanentFailure
	default: // ErrFetchPermanent and anything unclassified
		if err := p.repo.MarkPermanentFailure(ctx, env.URL, ferr.Error()); err != nil {
			p.log.WithFields(log.Fields{"url": env.URL, "error": err.Error()}).Error("mark_permanent_failed")
		}
		return PermanentFailure
	}
}
