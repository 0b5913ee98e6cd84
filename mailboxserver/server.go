// Package mailboxserver implements the mailbox's HTTP surface: store_blobs,
// get_blobs, health, metrics, and the background retention task.
package mailboxserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	logging "gopkg.in/op/go-logging.v1"

	"github.com/skeinmail/mailbox/internal/metrics"
	"github.com/skeinmail/mailbox/storage"
)

// Server wires a storage.Store to the mailbox's HTTP handlers.
type Server struct {
	store   *storage.Store
	log     *logging.Logger
	metrics *metrics.Registry
	pool    *blockingPool
}

// New constructs a Server. concurrency bounds how many storage transactions
// may run at once; 0 picks a small default.
func New(store *storage.Store, log *logging.Logger, reg *metrics.Registry, concurrency int) *Server {
	if concurrency == 0 {
		concurrency = 32
	}
	return &Server{
		store:   store,
		log:     log,
		metrics: reg,
		pool:    newBlockingPool(concurrency),
	}
}

// Router builds the mux.Router serving GET /health, GET /metrics,
// POST /blobs/store, POST /blobs/get. It applies no CORS handling itself;
// Handler wraps it in the CORS layer.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/blobs/store", s.handleStoreBlobs).Methods(http.MethodPost)
	r.HandleFunc("/blobs/get", s.handleGetBlobs).Methods(http.MethodPost)
	return r
}

// Handler returns the fully wrapped handler (router + CORS), suitable for
// passing to http.Server.
func (s *Server) Handler() http.Handler {
	return handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)(s.Router())
}

func (s *Server) handleHealth(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(http.StatusOK)
	_, _ = rw.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleStoreBlobs(rw http.ResponseWriter, r *http.Request) {
	var req StoreBlobsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(rw, err.Error(), http.StatusBadRequest)
		return
	}

	err := s.pool.run(func() error {
		return s.storeBlobs(req)
	})
	if err != nil {
		s.log.Errorf("store_blobs: %s", err)
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}
	rw.WriteHeader(http.StatusCreated)
}

func (s *Server) handleGetBlobs(rw http.ResponseWriter, r *http.Request) {
	var req GetBlobsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(rw, err.Error(), http.StatusBadRequest)
		return
	}

	var resp GetBlobsResponse
	err := s.pool.run(func() error {
		var err error
		resp, err = s.getBlobs(req)
		return err
	})
	if err != nil {
		s.log.Errorf("get_blobs: %s", err)
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}

	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(resp)
}

// SpawnRetention starts a background worker that calls RunRetention every
// interval, logging (but not halting on) any error it returns.
func SpawnRetention(store *storage.Store, log *logging.Logger, reg *metrics.Registry, interval, maxAge time.Duration) *RetentionWorker {
	w := &RetentionWorker{store: store, log: log, metrics: reg, interval: interval, maxAge: maxAge}
	w.Go(w.run)
	return w
}
