// Package web serves the status page and the /v100 boundary API used by the
// admin app.
package web

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/srmq/IIRR/internal/clock"
	"github.com/srmq/IIRR/internal/history"
	"github.com/srmq/IIRR/internal/params"
	"github.com/srmq/IIRR/internal/status"
	"github.com/srmq/IIRR/internal/water"
)

// ParamsHolder owns the runtime configuration.
type ParamsHolder interface {
	Config() (params.ConfigParams, bool)
	Replace(c params.ConfigParams) error
	Cloud() (params.CloudConf, bool)
	ReplaceCloud(c params.CloudConf) error
}

// LogFiles serves the per-day log files.
type LogFiles interface {
	Available() bool
	List() ([]string, error)
	Open(name string) (*os.File, error)
}

// HistoryReader returns recent irrigation runs.
type HistoryReader interface {
	Recent(ctx context.Context, n int) ([]history.Run, error)
}

// EmptyResetter clears the water-empty latch.
type EmptyResetter interface {
	ResetEmpty()
}

// Deps are the holders the handlers read and write. All must be safe for
// concurrent use; History and Metrics may be nil.
type Deps struct {
	Tracker *status.Tracker
	Params  ParamsHolder
	Learn   *water.LearnJob
	Water   EmptyResetter
	Clock   clock.Settable
	Logs    LogFiles
	History HistoryReader
	Metrics http.Handler
	// AccessLog receives one combined-format line per request.
	AccessLog io.Writer
	Log       *zap.SugaredLogger
}

// Server serves the status page and the API over HTTP.
type Server struct {
	httpServer *http.Server
	d          Deps
	log        *zap.SugaredLogger
}

// New creates a Server listening on addr.
func New(addr string, d Deps) *Server {
	if d.Log == nil {
		d.Log = zap.NewNop().Sugar()
	}
	s := &Server{d: d, log: d.Log}

	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.html", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.json", s.handleJSON).Methods(http.MethodGet)
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/v100").Subrouter()
	api.HandleFunc("/getSoilMoisture", s.handleGetSoilMoisture).Methods(http.MethodGet)
	api.HandleFunc("/getIrrigData", s.handleGetIrrigData).Methods(http.MethodGet)
	api.HandleFunc("/getIrrigHistory", s.handleGetIrrigHistory).Methods(http.MethodGet)
	api.HandleFunc("/getMainConfParams", s.handleGetMainConfParams).Methods(http.MethodGet)
	api.HandleFunc("/updateMainConfParams", s.handleUpdateMainConfParams).Methods(http.MethodPost)
	api.HandleFunc("/getCloudConf", s.handleGetCloudConf).Methods(http.MethodGet)
	api.HandleFunc("/updateCloudConf", s.handleUpdateCloudConf).Methods(http.MethodPost)
	api.HandleFunc("/learnWaterFlow", s.handleLearnWaterFlow).Methods(http.MethodPost)
	api.HandleFunc("/learnWaterFStatus", s.handleLearnWaterFStatus).Methods(http.MethodGet)
	api.HandleFunc("/resetWaterFStatus", s.handleResetWaterFStatus).Methods(http.MethodPost)
	api.HandleFunc("/resetEmpty", s.handleResetEmpty).Methods(http.MethodPost)
	api.HandleFunc("/getMyUTCTime", s.handleGetMyUTCTime).Methods(http.MethodGet)
	api.HandleFunc("/updateMyUTCTime", s.handleUpdateMyUTCTime).Methods(http.MethodPost)
	api.HandleFunc("/getLogDirContents", s.handleGetLogDirContents).Methods(http.MethodGet)
	api.HandleFunc("/getCSVFile", s.handleGetCSVFile).Methods(http.MethodGet)

	var h http.Handler = r
	if d.AccessLog != nil {
		h = handlers.CombinedLoggingHandler(d.AccessLog, r)
	}
	h = handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(h)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.d.Tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, snap); err != nil {
		s.log.Warnw("web: render failed", "error", err)
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(s.d.Tracker.Snapshot()))
}
