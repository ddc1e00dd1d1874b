package httpapi

import (
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/ninjahangover/signalcartel-alien-sub001/internal/engine"
	"github.com/ninjahangover/signalcartel-alien-sub001/internal/weights"
)

// healthResponse is the /health envelope.
type healthResponse struct {
	Status         string     `json:"status"`
	Service        string     `json:"service"`
	Version        string     `json:"version"`
	Timestamp      time.Time  `json:"timestamp"`
	UptimeSeconds  float64    `json:"uptime_seconds"`
	Evaluations    int64      `json:"evaluations"`
	TrackedSystems int        `json:"tracked_systems"`
	System         systemInfo `json:"system"`
}

type systemInfo struct {
	GoVersion     string `json:"go_version"`
	NumGoroutines int    `json:"num_goroutines"`
}

// decisionsResponse is the paginated /decisions envelope.
type decisionsResponse struct {
	Decisions  []*engine.FusedDecision `json:"decisions"`
	Pagination paginationInfo          `json:"pagination"`
	Generated  time.Time               `json:"generated"`
}

type paginationInfo struct {
	Total    int  `json:"total"`
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasNext  bool `json:"has_next"`
	HasPrev  bool `json:"has_prev"`
}

// weightsResponse is the /weights envelope.
type weightsResponse struct {
	Systems           map[string]weights.SystemWeight `json:"systems"`
	WeightSum         float64                         `json:"weight_sum"`
	RecentPerformance float64                         `json:"recent_performance"`
	WinProbability    float64                         `json:"win_probability"`
	Generated         time.Time                       `json:"generated"`
}

// errorResponse is the standard error envelope.
type errorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, `{"error":"json_encoding_failed"}`, http.StatusInternalServerError)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	s.writeJSON(w, status, errorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		Code:      code,
		RequestID: requestIDFrom(r.Context()),
		Timestamp: time.Now().UTC(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.engine.Status()

	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:         "ok",
		Service:        "fusion-engine",
		Version:        s.version,
		Timestamp:      time.Now().UTC(),
		UptimeSeconds:  st.UptimeSeconds,
		Evaluations:    st.EntryEvaluations + st.ExitEvaluations,
		TrackedSystems: len(st.Systems),
		System: systemInfo{
			GoVersion:     runtime.Version(),
			NumGoroutines: runtime.NumGoroutine(),
		},
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	n := 50
	page := 1

	if nStr := r.URL.Query().Get("n"); nStr != "" {
		if parsed, err := strconv.Atoi(nStr); err == nil && parsed > 0 && parsed <= 100 {
			n = parsed
		}
	}
	if pageStr := r.URL.Query().Get("page"); pageStr != "" {
		if parsed, err := strconv.Atoi(pageStr); err == nil && parsed > 0 {
			page = parsed
		}
	}

	all := s.engine.Decisions(0)
	total := len(all)

	start := (page - 1) * n
	if start > total {
		start = total
	}
	end := start + n
	if end > total {
		end = total
	}

	s.writeJSON(w, http.StatusOK, decisionsResponse{
		Decisions: all[start:end],
		Pagination: paginationInfo{
			Total:    total,
			Page:     page,
			PageSize: n,
			HasNext:  end < total,
			HasPrev:  page > 1,
		},
		Generated: time.Now().UTC(),
	})
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	d, ok := s.engine.Decision(id)
	if !ok {
		s.writeError(w, r, http.StatusNotFound, "decision_not_found",
			"No decision with that id is in the history window")
		return
	}

	s.writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleWeights(w http.ResponseWriter, r *http.Request) {
	st := s.engine.Status()

	s.writeJSON(w, http.StatusOK, weightsResponse{
		Systems:           st.Systems,
		WeightSum:         st.WeightSum,
		RecentPerformance: st.RecentPerformance,
		WinProbability:    st.WinProbability,
		Generated:         time.Now().UTC(),
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	s.writeError(w, r, http.StatusNotFound, "endpoint_not_found",
		"The requested endpoint does not exist")
}
