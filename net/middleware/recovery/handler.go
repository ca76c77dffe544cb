package recovery

import (
	"net/http"

	"github.com/arborwatch/httpmeta/errors"
)

// Handler allows the server to convert unhandled panic events into an
// `internal server error`. This will prevent the server from crashing if a
// handler produces a `panic` operation.
func Handler() func(handler http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if v := recover(); v != nil {
					rec := errors.FromRecover(v)
					w.WriteHeader(http.StatusInternalServerError)
					if rec != nil {
						_, _ = w.Write([]byte(rec.Error()))
						return
					}
					_, _ = w.Write([]byte("internal error"))
				}
			}()
			next.ServeHTTP(w, r)
		}
		return http.HandlerFunc(fn)
	}
}
