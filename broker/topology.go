package broker

// Queue describes the single durable queue shared by the producer and
// consumer sides of the pipeline. Declaration is idempotent: both ends
// declare it with identical arguments.
type Queue struct {
	Name         string
	Durable      bool
	MaxLength    int64
	OverflowMode string
}

// Arguments returns the queue's declaration arguments, matching spec.md's
// required `x-max-length`/`x-overflow` pair.
func (q Queue) Arguments() map[string]interface{} {
	args := map[string]interface{}{}
	if q.MaxLength > 0 {
		args["x-max-length"] = q.MaxLength
	}
	if q.OverflowMode != "" {
		args["x-overflow"] = q.OverflowMode
	}
	return args
}

// OverflowRejectPublish is the only overflow mode the pipeline uses: once
// the queue is full, new publishes are rejected rather than silently
// dropping the oldest message.
const OverflowRejectPublish = "reject-publish"
