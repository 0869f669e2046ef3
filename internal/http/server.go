package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/route-beacon/wirecodec/internal/decode"
	"github.com/route-beacon/wirecodec/internal/extension"
	"go.uber.org/zap"
)

// maxDecodeBody caps the hex body accepted by /decode.
const maxDecodeBody = 1 << 20

// ConsumerStatus is an interface for checking Kafka consumer join state.
type ConsumerStatus interface {
	IsJoined() bool
}

// DBChecker abstracts the database health check for testability.
type DBChecker interface {
	Ping(ctx context.Context) error
}

type Server struct {
	srv       *http.Server
	dbChecker DBChecker
	consumer  ConsumerStatus
	provider  *extension.Provider
	logger    *zap.Logger
}

// NewServer serves health, metrics and the codec registries. db and
// consumer may be nil when the process does not ingest, in which case
// readiness only reflects the provider.
func NewServer(addr string, db DBChecker, consumer ConsumerStatus, provider *extension.Provider, logger *zap.Logger) *Server {
	s := &Server{
		dbChecker: db,
		consumer:  consumer,
		provider:  provider,
		logger:    logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	mux.HandleFunc("GET /registry", s.handleRegistry)
	mux.HandleFunc("POST /decode/{protocol}", s.handleDecode)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("HTTP server listening", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	allOK := true

	if s.dbChecker != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := s.dbChecker.Ping(ctx); err != nil {
			checks["postgres"] = "error"
			allOK = false
		} else {
			checks["postgres"] = "ok"
		}
	}

	if s.consumer != nil {
		if s.consumer.IsJoined() {
			checks["kafka"] = "ok"
		} else {
			checks["kafka"] = "not_joined"
			allOK = false
		}
	}

	if s.provider != nil && len(s.provider.Activators()) > 0 {
		checks["registry"] = "ok"
	} else {
		checks["registry"] = "empty"
		allOK = false
	}

	status := "ready"
	httpStatus := http.StatusOK
	if !allOK {
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, map[string]any{
		"status": status,
		"checks": checks,
	})
}

func (s *Server) handleRegistry(w http.ResponseWriter, r *http.Request) {
	if s.provider == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no provider"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"activators": s.provider.Activators(),
		"registries": s.provider.Registries(),
	})
}

// handleDecode decodes a hex encoded body with the registries of the
// provider. Partial results are returned alongside the error.
func (s *Server) handleDecode(w http.ResponseWriter, r *http.Request) {
	if s.provider == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no provider"})
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxDecodeBody))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": err.Error()})
		return
	}
	data, err := decode.ParseHex(string(body))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	items, err := decode.Decode(s.provider, r.PathValue("protocol"), data)
	switch {
	case errors.Is(err, decode.ErrUnknownProtocol):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case err != nil:
		s.logger.Debug("decode failed", zap.String("protocol", r.PathValue("protocol")), zap.Error(err))
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"items": items, "error": err.Error()})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	}
}
