package main

import (
	lib "net/http"
	"strconv"
	"strings"

	"github.com/arborwatch/httpmeta/observability"
)

// httpPort extracts the numeric port from a ":8080"-style address, matching
// the net/http.Server option's int-based port API.
func httpPort(addr string) int {
	trimmed := strings.TrimPrefix(addr, ":")
	port, err := strconv.Atoi(trimmed)
	if err != nil {
		return 8080
	}
	return port
}

func httpMux(addr string, metrics observability.Operator) *lib.Server {
	mux := lib.NewServeMux()
	mux.Handle("/metrics", metrics.MetricsHandler())
	return &lib.Server{Addr: addr, Handler: mux}
}
