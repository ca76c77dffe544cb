// Package ingest implements the producer-facing HTTP API: submit a URL for
// metadata collection and read back its current state.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	lib "net/http"
	"time"

	"github.com/google/uuid"

	"github.com/arborwatch/httpmeta/broker"
	"github.com/arborwatch/httpmeta/errors"
	"github.com/arborwatch/httpmeta/log"
	"github.com/arborwatch/httpmeta/model"
	"github.com/arborwatch/httpmeta/repository"
)

// API bundles the dependencies the producer handlers need.
type API struct {
	publisher broker.Publisher
	repo      repository.Repository
	log       log.Logger
}

// New builds an API.
func New(pub broker.Publisher, repo repository.Repository, logger log.Logger) *API {
	return &API{publisher: pub, repo: repo, log: logger.Sub(log.Fields{"component": "producer_api"})}
}

// Routes returns the handler the HTTP server should serve.
func (a *API) Routes() lib.Handler {
	mux := lib.NewServeMux()
	mux.HandleFunc("/health/live", a.handleLive)
	mux.HandleFunc("/health/ready", a.handleReady)
	mux.HandleFunc("/metadata", a.handleMetadata)
	return mux
}

func (a *API) handleLive(w lib.ResponseWriter, r *lib.Request) {
	writeJSON(w, lib.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleReady(w lib.ResponseWriter, r *lib.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if a.publisher.State() != broker.Ready {
		a.log.WithFields(log.Fields{"reason": "publisher_not_ready"}).Warning("readiness_failed")
		writeJSON(w, lib.StatusServiceUnavailable, map[string]string{"status": "not_ready", "reason": "publisher_not_ready"})
		return
	}
	if err := a.repo.Ping(ctx); err != nil {
		a.log.WithFields(log.Fields{"reason": "store_unavailable"}).Warning("readiness_failed")
		writeJSON(w, lib.StatusServiceUnavailable, map[string]string{"status": "not_ready", "reason": "store_unavailable"})
		return
	}
	writeJSON(w, lib.StatusOK, map[string]string{"status": "ready"})
}

func (a *API) handleMetadata(w lib.ResponseWriter, r *lib.Request) {
	switch r.Method {
	case lib.MethodPost:
		a.handlePost(w, r)
	case lib.MethodGet:
		a.handleGet(w, r)
	default:
		w.WriteHeader(lib.StatusMethodNotAllowed)
	}
}

type postBody struct {
	URL string `json:"url"`
}

func (a *API) handlePost(w lib.ResponseWriter, r *lib.Request) {
	var body postBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, lib.StatusUnprocessableEntity, map[string]string{"status": "invalid", "reason": "malformed body"})
		return
	}
	u, err := model.ParseURL(body.URL)
	if err != nil {
		a.log.WithFields(log.Fields{"url": body.URL}).Debugf("rejected: %+v", errors.SensitiveMessage(err.Error()))
		writeJSON(w, lib.StatusUnprocessableEntity, map[string]string{"status": "invalid", "reason": fmt.Sprintf("%s", errors.SensitiveMessage(err.Error()))})
		return
	}

	requestID := uuid.NewString()
	if err := a.enqueue(r.Context(), u.String(), requestID); err != nil {
		writeServiceUnavailable(w, err)
		return
	}
	writeJSON(w, lib.StatusAccepted, map[string]string{"status": "QUEUED", "url": u.String(), "request_id": requestID})
}

func (a *API) handleGet(w lib.ResponseWriter, r *lib.Request) {
	raw := r.URL.Query().Get("url")
	u, err := model.ParseURL(raw)
	if err != nil {
		writeJSON(w, lib.StatusBadRequest, map[string]string{"status": "invalid", "reason": fmt.Sprintf("%s", errors.SensitiveMessage(err.Error()))})
		return
	}

	rec, err := a.repo.Get(r.Context(), u.String())
	if err != nil {
		writeServiceUnavailable(w, err)
		return
	}

	if rec == nil {
		requestID := uuid.NewString()
		if err := a.enqueue(r.Context(), u.String(), requestID); err != nil {
			writeServiceUnavailable(w, err)
			return
		}
		writeJSON(w, lib.StatusAccepted, map[string]string{"status": "QUEUED", "url": u.String(), "request_id": requestID})
		return
	}

	switch rec.Status {
	case model.StatusCompleted, model.StatusFailedPermanent:
		writeJSON(w, lib.StatusOK, rec)
	case model.StatusPending, model.StatusInProgress, model.StatusFailedRetryable:
		writeJSON(w, lib.StatusAccepted, map[string]string{"status": "IN_PROGRESS", "url": u.String()})
	default:
		requestID := uuid.NewString()
		if err := a.enqueue(r.Context(), u.String(), requestID); err != nil {
			writeServiceUnavailable(w, err)
			return
		}
		writeJSON(w, lib.StatusAccepted, map[string]string{"status": "QUEUED", "url": u.String(), "request_id": requestID})
	}
}

// enqueue publishes before touching the store: a publish failure (publisher
// not READY, queue rejected, confirm timeout) must leave no record behind.
func (a *API) enqueue(ctx context.Context, url, requestID string) error {
	env := model.Envelope{URL: url, RequestID: requestID}
	if err := a.publisher.Publish(ctx, env); err != nil {
		a.log.WithFields(log.Fields{"url": url, "error": err.Error()}).Warning("publish_rejected")
		return err
	}
	if _, err := a.repo.EnsurePending(ctx, url); err != nil {
		return err
	}
	return nil
}

func writeServiceUnavailable(w lib.ResponseWriter, err error) {
	reason := "unavailable"
	if kind, ok := model.KindOf(err); ok {
		reason = string(kind)
	}
	writeJSON(w, lib.StatusServiceUnavailable, map[string]string{"status": "unavailable", "reason": reason})
}

func writeJSON(w lib.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
