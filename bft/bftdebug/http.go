package bftdebug

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/harbor-bft/harbor/bft/bftcore"
	"github.com/harbor-bft/harbor/bft/bftengine"
	"github.com/harbor-bft/harbor/bft/bftstore"
)

// Snapshotter is the subset of [bftengine.Engine] the HTTP server needs
// to report live consensus state.
type Snapshotter interface {
	Snapshot(ctx context.Context) (bftengine.Snapshot, bool)
}

// HTTPServer is a diagnostics server exposing read-only consensus state
// over plain JSON. It is meant for operators and tests, not for
// inter-node communication.
type HTTPServer struct {
	done chan struct{}
}

type HTTPServerConfig struct {
	Listener net.Listener

	CertificateStore bftstore.CertificateStore
	ValidatorStore   bftstore.ValidatorStore

	// Engine may be nil, in which case the live-state routes
	// respond with 404 and only the store-backed routes are useful.
	Engine Snapshotter
}

func NewHTTPServer(ctx context.Context, log *slog.Logger, cfg HTTPServerConfig) *HTTPServer {
	srv := &http.Server{
		Handler: newMux(log, cfg),

		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	h := &HTTPServer{
		done: make(chan struct{}),
	}
	go h.serve(log, cfg.Listener, srv)
	go h.waitForShutdown(ctx, srv)

	return h
}

func (h *HTTPServer) Wait() {
	<-h.done
}

func (h *HTTPServer) waitForShutdown(ctx context.Context, srv *http.Server) {
	select {
	case <-h.done:
		// h.serve returned on its own, nothing left to do here.
		return
	case <-ctx.Done():
		// Forceful shutdown. We could probably log any returned error on this.
		_ = srv.Close()
	}
}

func (h *HTTPServer) serve(log *slog.Logger, ln net.Listener, srv *http.Server) {
	defer close(h.done)

	if err := srv.Serve(ln); err != nil {
		if errors.Is(err, net.ErrClosed) || errors.Is(err, http.ErrServerClosed) {
			log.Info("HTTP server shutting down")
		} else {
			log.Info("HTTP server shutting down due to error", "err", err)
		}
	}
}

func newMux(log *slog.Logger, cfg HTTPServerConfig) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/network_height", handleNetworkHeight(log, cfg)).Methods("GET")
	r.HandleFunc("/certificates/{height}", handleCertificate(log, cfg)).Methods("GET")
	r.HandleFunc("/validators", handleValidators(log, cfg)).Methods("GET")

	if cfg.Engine != nil {
		r.HandleFunc("/consensus", handleConsensus(log, cfg)).Methods("GET")
		r.HandleFunc("/safety", handleSafety(log, cfg)).Methods("GET")
	}

	return r
}

func handleNetworkHeight(log *slog.Logger, cfg HTTPServerConfig) func(w http.ResponseWriter, req *http.Request) {
	cs := cfg.CertificateStore
	return func(w http.ResponseWriter, req *http.Request) {
		h, err := cs.NetworkHeight(req.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		var resp struct {
			NetworkHeight uint64
		}
		resp.NetworkHeight = h

		if err := json.NewEncoder(w).Encode(resp); err != nil {
			log.Warn("Failed to marshal network height", "err", err)
			return
		}
	}
}

func handleCertificate(log *slog.Logger, cfg HTTPServerConfig) func(w http.ResponseWriter, req *http.Request) {
	cs := cfg.CertificateStore
	return func(w http.ResponseWriter, req *http.Request) {
		height, err := strconv.ParseUint(mux.Vars(req)["height"], 10, 64)
		if err != nil {
			http.Error(
				w,
				fmt.Sprintf("failed to parse height: %v", err),
				http.StatusBadRequest,
			)
			return
		}

		cert, err := cs.LoadCertificate(req.Context(), height)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.As(err, new(bftstore.HeightUnknownError)) {
				status = http.StatusNotFound
			}
			http.Error(w, err.Error(), status)
			return
		}

		type jsonPrecommit struct {
			ValidatorID string
			Power       uint64
		}
		var resp struct {
			Height      uint64
			Round       uint32
			BlockHash   string
			CommitPower uint64
			Precommits  []jsonPrecommit
		}

		resp.Height = cert.Height
		resp.Round = cert.Round
		resp.BlockHash = cert.BlockHash
		resp.CommitPower = cert.CommitPower
		resp.Precommits = make([]jsonPrecommit, len(cert.Precommits))
		for i, v := range cert.Precommits {
			resp.Precommits[i].ValidatorID = v.ValidatorID
			resp.Precommits[i].Power = v.Power
		}

		if err := json.NewEncoder(w).Encode(resp); err != nil {
			log.Warn("Failed to marshal certificate", "err", err)
			return
		}
	}
}

func handleValidators(log *slog.Logger, cfg HTTPServerConfig) func(w http.ResponseWriter, req *http.Request) {
	cs := cfg.CertificateStore
	vs := cfg.ValidatorStore
	return func(w http.ResponseWriter, req *http.Request) {
		height, err := cs.NetworkHeight(req.Context())
		if err != nil {
			http.Error(
				w,
				fmt.Sprintf("failed to get network height: %v", err),
				http.StatusInternalServerError,
			)
			return
		}

		vals, err := vs.LoadValidatorSet(req.Context(), height)
		if err != nil {
			http.Error(
				w,
				fmt.Sprintf("failed to load validator set: %v", err),
				http.StatusInternalServerError,
			)
			return
		}

		// Now we have the validators in effect at the network height.
		type jsonValidator struct {
			ID    string
			Power uint64
		}
		var resp struct {
			Height     uint64
			Validators []jsonValidator
		}

		resp.Height = height
		resp.Validators = make([]jsonValidator, len(vals))
		for i, v := range vals {
			resp.Validators[i].ID = v.ID
			resp.Validators[i].Power = v.Power
		}

		if err := json.NewEncoder(w).Encode(resp); err != nil {
			log.Warn("Failed to marshal validators response", "err", err)
			return
		}
	}
}

func handleConsensus(log *slog.Logger, cfg HTTPServerConfig) func(w http.ResponseWriter, req *http.Request) {
	e := cfg.Engine
	return func(w http.ResponseWriter, req *http.Request) {
		snap, ok := e.Snapshot(req.Context())
		if !ok {
			http.Error(w, "consensus state unavailable", http.StatusServiceUnavailable)
			return
		}

		var resp struct {
			Height uint64
			Round  uint32
			Step   string

			ProposerID string

			AvailablePower      uint64
			TotalPrevotePower   uint64
			TotalPrecommitPower uint64

			PrevotePower   map[string]uint64
			PrecommitPower map[string]uint64
		}

		resp.Height = snap.Height
		resp.Round = snap.Round
		resp.Step = snap.Step.String()
		resp.ProposerID = snap.ProposerID
		resp.AvailablePower = snap.VoteSummary.AvailablePower
		resp.TotalPrevotePower = snap.VoteSummary.TotalPrevotePower
		resp.TotalPrecommitPower = snap.VoteSummary.TotalPrecommitPower
		resp.PrevotePower = snap.VoteSummary.PrevotePower
		resp.PrecommitPower = snap.VoteSummary.PrecommitPower

		if err := json.NewEncoder(w).Encode(resp); err != nil {
			log.Warn("Failed to marshal consensus snapshot", "err", err)
			return
		}
	}
}

func handleSafety(log *slog.Logger, cfg HTTPServerConfig) func(w http.ResponseWriter, req *http.Request) {
	e := cfg.Engine
	return func(w http.ResponseWriter, req *http.Request) {
		snap, ok := e.Snapshot(req.Context())
		if !ok {
			http.Error(w, "consensus state unavailable", http.StatusServiceUnavailable)
			return
		}

		vals, err := bftcore.NewValidatorSet(snap.Validators)
		if err != nil {
			http.Error(
				w,
				fmt.Sprintf("failed to build validator set: %v", err),
				http.StatusInternalServerError,
			)
			return
		}

		// Zero or more ?byzantine=<id> parameters mark validators
		// as assumed faulty for the report.
		byz := req.URL.Query()["byzantine"]

		report := bftcore.AnalyzeSafety(vals, byz)

		if err := json.NewEncoder(w).Encode(report); err != nil {
			log.Warn("Failed to marshal safety report", "err", err)
			return
		}
	}
}
