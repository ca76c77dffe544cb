package model

import "time"

// Status is one of the states in a Record's lifecycle.
type Status string

const (
	// StatusPending marks a record that has been created but not yet
	// picked up by a worker.
	StatusPending Status = "PENDING"

	// StatusInProgress marks a record currently being fetched by a worker.
	StatusInProgress Status = "IN_PROGRESS"

	// StatusCompleted is a terminal state: the fetch succeeded and
	// `Metadata` is populated.
	StatusCompleted Status = "COMPLETED"

	// StatusFailedRetryable marks a record whose last fetch attempt failed
	// with a transient error and has not yet exhausted its retry budget.
	StatusFailedRetryable Status = "FAILED_RETRYABLE"

	// StatusFailedPermanent is a terminal state: either a non-transient
	// fetch error occurred, or the retry budget was exhausted.
	StatusFailedPermanent Status = "FAILED_PERMANENT"
)

// Terminal reports whether the status can no longer transition, barring
// the IN_PROGRESS-on-redelivery exception handled at the repository layer.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailedPermanent
}

// Metadata captures the observable characteristics of a successful fetch.
// Populated only when Record.Status == StatusCompleted.
type Metadata struct {
	StatusCode         int               `json:"status_code" bson:"status_code"`
	Headers            map[string]string `json:"headers" bson:"headers"`
	Cookies            map[string]string `json:"cookies" bson:"cookies"`
	PageSource         string            `json:"page_source" bson:"page_source"`
	FinalURL           string            `json:"final_url" bson:"final_url"`
	AdditionalDetails  *TruncationDetail `json:"additional_details,omitempty" bson:"additional_details,omitempty"`
}

// TruncationDetail is present iff the fetched body was truncated before
// being persisted.
type TruncationDetail struct {
	Truncated      bool `json:"truncated" bson:"truncated"`
	OriginalLength int  `json:"original_length" bson:"original_length"`
}

// Processing tracks the bookkeeping a worker needs to enforce bounded
// retries and correlate a record with the delivery that last touched it.
type Processing struct {
	AttemptNumber  int     `json:"attempt_number" bson:"attempt_number"`
	ErrorMsg       *string `json:"error_msg" bson:"error_msg"`
	LastRequestID  string  `json:"last_request_id" bson:"last_request_id"`
}

// Record is the single persisted document per URL.
type Record struct {
	URL        string      `json:"url" bson:"url"`
	Status     Status      `json:"status" bson:"status"`
	Metadata   *Metadata   `json:"metadata,omitempty" bson:"metadata,omitempty"`
	Processing Processing  `json:"processing" bson:"processing"`
	CreatedAt  time.Time   `json:"created_at" bson:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at" bson:"updated_at"`
}

// Envelope is the opaque payload exchanged through the broker queue: the
// minimum information a consumer needs to reprocess a URL.
type Envelope struct {
	URL       string `json:"url"`
	RequestID string `json:"request_id"`
}

// Valid reports whether the envelope carries a usable url and request id.
func (e Envelope) Valid() bool {
	return e.URL != "" && e.RequestID != ""
}
