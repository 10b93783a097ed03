package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hako/durafmt"
)

const adminSessionTTL = 12 * time.Hour

// statusServer exposes a worker-local JSON snapshot plus a small admin
// surface. Admin access is bootstrapped by the one-time code printed to the
// worker log and carried by a signed session token afterwards.
type statusServer struct {
	addr       string
	workerID   string
	addresses  []string
	orch       *orchestrator
	stats      *statsStore
	journal    *submissionJournal
	rec        *reclaimer
	clk        clock
	gate       *adminCodeGate
	signingKey []byte
	startedAt  time.Time
}

func newStatusServer(cfg Config, workerID string, addresses []string, orch *orchestrator, stats *statsStore, journal *submissionJournal, rec *reclaimer, clk clock) *statusServer {
	if clk == nil {
		clk = systemClock{}
	}
	key := []byte(cfg.StatusAdminSecret)
	if len(key) == 0 {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err == nil {
			key = []byte(hex.EncodeToString(buf))
		}
	}
	return &statusServer{
		addr:       cfg.StatusAddr,
		workerID:   workerID,
		addresses:  addresses,
		orch:       orch,
		stats:      stats,
		journal:    journal,
		rec:        rec,
		clk:        clk,
		gate:       newAdminCodeGate(clk),
		signingKey: key,
		startedAt:  clk.Now(),
	}
}

type statusSnapshot struct {
	WorkerID       string         `json:"workerId"`
	Uptime         string         `json:"uptime"`
	Addresses      int            `json:"addresses"`
	InflightMiners int            `json:"inflightMiners"`
	MinerSlots     int            `json:"minerSlots"`
	Journal        map[string]int `json:"journal,omitempty"`
	TotalSolutions int            `json:"totalSolutions"`
	TotalErrors    int            `json:"totalErrors"`
	DonationCount  int            `json:"donationSolutions"`
	StatsUpdatedAt time.Time      `json:"statsUpdatedAt"`
}

func (s *statusServer) run(ctx context.Context) {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/admin/session", s.handleSession)
	mux.HandleFunc("/admin/errors", s.withAdmin(s.handleErrors))
	mux.HandleFunc("/admin/reclaim", s.withAdmin(s.handleReclaim))

	srv := &http.Server{
		Addr:         s.addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Info("status server listening", "addr", s.addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Warn("status server stopped", "error", err)
	}
}

func (s *statusServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := statusSnapshot{
		WorkerID:       s.workerID,
		Uptime:         durafmt.Parse(s.clk.Now().Sub(s.startedAt)).LimitFirstN(2).String(),
		Addresses:      len(s.addresses),
		InflightMiners: s.orch.inflightCount(),
		MinerSlots:     s.orch.workers,
	}
	if counts, err := s.journal.counts(r.Context()); err == nil {
		snap.Journal = counts
	}
	if stats, err := s.stats.load(r.Context()); err == nil {
		snap.TotalSolutions = stats.TotalSolutions
		snap.TotalErrors = stats.TotalErrors
		snap.DonationCount = stats.DonationSolutions
		snap.StatsUpdatedAt = stats.LastUpdated
	}
	s.writeJSON(w, http.StatusOK, snap)
}

// handleSession exchanges the one-time code for a signed session token.
func (s *statusServer) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	code := r.URL.Query().Get("code")
	if !s.gate.redeem(code) {
		http.Error(w, "invalid code", http.StatusForbidden)
		return
	}
	now := s.clk.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   s.workerID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(adminSessionTTL)),
	})
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		http.Error(w, "session mint failed", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"token": signed})
}

func (s *statusServer) withAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		_, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
			return s.signingKey, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.clk.Now))
		if err != nil {
			http.Error(w, "invalid session", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *statusServer) handleErrors(w http.ResponseWriter, r *http.Request) {
	stats, err := s.stats.load(r.Context())
	if err != nil {
		http.Error(w, "stats unavailable", http.StatusBadGateway)
		return
	}
	s.writeJSON(w, http.StatusOK, stats.RecentErrors)
}

// handleReclaim forces a reclaim pass from this node, bypassing leader
// election. Meant for operators unwedging a stuck fleet; the registry CAS
// still arbitrates if the real leader runs concurrently.
func (s *statusServer) handleReclaim(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.rec == nil {
		http.Error(w, "reclaimer unavailable on this node", http.StatusServiceUnavailable)
		return
	}
	if err := s.rec.pass(r.Context()); err != nil {
		http.Error(w, "reclaim failed: "+err.Error(), http.StatusBadGateway)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

func (s *statusServer) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := fastJSONMarshal(v)
	if err != nil {
		http.Error(w, "encode failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
