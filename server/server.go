// Package server exposes the replication status over HTTP.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/percona/percona-shadowwrite-mongodb/config"
	"github.com/percona/percona-shadowwrite-mongodb/errors"
	"github.com/percona/percona-shadowwrite-mongodb/log"
	"github.com/percona/percona-shadowwrite-mongodb/shadow"
)

// Constants for server configuration.
const (
	ServerReadTimeout       = 30 * time.Second
	ServerReadHeaderTimeout = 3 * time.Second
	MaxRequestSize          = humanize.MiByte
)

// StatusResponse is the body of the /status endpoint.
type StatusResponse struct {
	// Ok is false if the last initialization failed.
	Ok bool `json:"ok"`

	shadow.Status
}

// Handler serves /status for m and /metrics for gatherer.
// A nil gatherer uses [prometheus.DefaultGatherer].
func Handler(m *shadow.Manager, gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		handleStatus(m, w, r)
	})
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			log.New("http").Trace(r.Method + " " + r.URL.String())
		} else {
			log.New("http").Info(r.Method + " " + r.URL.String())
		}

		mux.ServeHTTP(w, r)
	})
}

func handleStatus(m *shadow.Manager, w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w,
			http.StatusText(http.StatusMethodNotAllowed),
			http.StatusMethodNotAllowed)

		return
	}

	if r.ContentLength > MaxRequestSize {
		http.Error(w,
			http.StatusText(http.StatusRequestEntityTooLarge),
			http.StatusRequestEntityTooLarge)

		return
	}

	status := m.Status()

	writeResponse(w, StatusResponse{
		Ok:     !status.Errored,
		Status: status,
	})
}

// New returns an HTTP server for h listening on localhost:port.
// A zero port uses [config.DefaultServerPort].
func New(port int, h http.Handler) *http.Server {
	if port == 0 {
		port = config.DefaultServerPort
	}

	return &http.Server{
		Addr:    fmt.Sprintf("localhost:%d", port),
		Handler: h,

		ReadTimeout:       ServerReadTimeout,
		ReadHeaderTimeout: ServerReadHeaderTimeout,
	}
}

// writeResponse writes the response as JSON to the ResponseWriter.
func writeResponse[T any](w http.ResponseWriter, resp T) {
	w.Header().Set("Content-Type", "application/json")

	err := json.NewEncoder(w).Encode(resp)
	if err != nil {
		http.Error(w,
			http.StatusText(http.StatusInternalServerError),
			http.StatusInternalServerError)
	}
}

// Client queries a running status server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for the server listening on localhost:port.
func NewClient(port int) Client {
	if port == 0 {
		port = config.DefaultServerPort
	}

	return NewClientURL(fmt.Sprintf("http://localhost:%d", port))
}

// NewClientURL returns a client for the server at baseURL.
func NewClientURL(baseURL string) Client {
	return Client{baseURL: baseURL, http: http.DefaultClient}
}

// Status fetches the replication status.
func (c Client) Status(ctx context.Context) (*StatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}

	log.Ctx(ctx).Debug("GET /status")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "request")
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, errors.Errorf("unexpected response: %s", res.Status)
	}

	var resp StatusResponse

	err = json.NewDecoder(res.Body).Decode(&resp)
	if err != nil {
		return nil, errors.Wrap(err, "decode response")
	}

	return &resp, nil
}
