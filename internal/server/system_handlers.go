package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/wrenholt/papertrader/internal/database"
	"github.com/wrenholt/papertrader/internal/scheduler"
)

// QuoteCache reports how many quotes are currently cached.
type QuoteCache interface {
	CachedCount() (int, error)
}

// SystemHandlers serves the monitoring and operations endpoints.
type SystemHandlers struct {
	log       zerolog.Logger
	startedAt time.Time
	databases []*database.DB
	scheduler *scheduler.Scheduler
	quotes    QuoteCache
}

// NewSystemHandlers creates a new system handlers instance
func NewSystemHandlers(log zerolog.Logger, databases []*database.DB, sched *scheduler.Scheduler, quotes QuoteCache) *SystemHandlers {
	return &SystemHandlers{
		log:       log.With().Str("component", "system_handlers").Logger(),
		startedAt: time.Now().UTC(),
		databases: databases,
		scheduler: sched,
		quotes:    quotes,
	}
}

// HandleHealth handles GET /health. It reports liveness plus a quick
// ping of every database; any failed ping degrades the status to 503.
func (h *SystemHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.databases))
	healthy := true

	for _, db := range h.databases {
		if err := db.QuickCheck(r.Context()); err != nil {
			checks[db.Name()] = err.Error()
			healthy = false
			continue
		}
		checks[db.Name()] = "ok"
	}

	status := http.StatusOK
	state := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}

	h.writeJSON(w, status, map[string]interface{}{
		"status":    state,
		"service":   "papertrader",
		"databases": checks,
	})
}

// SystemStatusResponse represents the system status response
type SystemStatusResponse struct {
	Status        string                    `json:"status"`
	StartedAt     time.Time                 `json:"started_at"`
	UptimeSeconds float64                   `json:"uptime_seconds"`
	CPUPercent    float64                   `json:"cpu_percent"`
	RAMPercent    float64                   `json:"ram_percent"`
	CachedQuotes  int                       `json:"cached_quotes"`
	Databases     map[string]database.Stats `json:"databases"`
	Jobs          []scheduler.JobInfo       `json:"jobs"`
}

// HandleStatus handles GET /api/system/status
func (h *SystemHandlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	cpuPercent, ramPercent := h.systemStats()

	dbStats := make(map[string]database.Stats, len(h.databases))
	for _, db := range h.databases {
		stats, err := db.GetStats()
		if err != nil {
			h.log.Warn().Err(err).Str("database", db.Name()).Msg("Failed to read database stats")
			continue
		}
		dbStats[db.Name()] = *stats
	}

	cached, err := h.quotes.CachedCount()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to count cached quotes")
	}

	h.writeJSON(w, http.StatusOK, SystemStatusResponse{
		Status:        "running",
		StartedAt:     h.startedAt,
		UptimeSeconds: time.Since(h.startedAt).Seconds(),
		CPUPercent:    cpuPercent,
		RAMPercent:    ramPercent,
		CachedQuotes:  cached,
		Databases:     dbStats,
		Jobs:          h.scheduler.Jobs(),
	})
}

// HandleRunJob handles POST /api/system/jobs/{name}/run. It triggers a
// registered scheduler job immediately and reports its outcome.
func (h *SystemHandlers) HandleRunJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	h.log.Info().Str("job", name).Msg("Manual job trigger")

	err := h.scheduler.RunNow(name)
	switch {
	case errors.Is(err, scheduler.ErrUnknownJob):
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case err != nil:
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	default:
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "success", "job": name})
	}
}

// systemStats samples CPU and RAM usage percentages. The 100ms CPU
// window keeps the endpoint responsive for polling dashboards.
func (h *SystemHandlers) systemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil || len(cpuPercent) == 0 {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return cpuPercent[0], 0
	}

	return cpuPercent[0], memStat.UsedPercent
}

func (h *SystemHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
