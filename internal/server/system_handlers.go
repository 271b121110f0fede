package server

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/eris/internal/database"
)

// SystemHandlers serves the process and database health endpoints.
type SystemHandlers struct {
	log         zerolog.Logger
	startupTime time.Time
	dataDir     string
	databases   []*database.DB
}

// NewSystemHandlers creates the system handler set
func NewSystemHandlers(dataDir string, databases []*database.DB, log zerolog.Logger) *SystemHandlers {
	return &SystemHandlers{
		log:         log.With().Str("component", "system_handlers").Logger(),
		startupTime: time.Now().UTC(),
		dataDir:     dataDir,
		databases:   databases,
	}
}

// HandleSystemStatus returns process uptime, CPU and memory usage.
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	cpuAvg, memPercent := h.resourceUsage()

	h.writeJSON(w, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(h.startupTime).Seconds()),
		"started_at":     h.startupTime.Format(time.RFC3339),
		"cpu_percent":    cpuAvg,
		"memory_percent": memPercent,
		"goroutines":     runtime.NumGoroutine(),
		"data_dir":       h.dataDir,
	})
}

// resourceUsage samples CPU over a short window and reads memory instantly.
func (h *SystemHandlers) resourceUsage() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}
	return cpuAvg, memStat.UsedPercent
}

// HandleDatabaseStats returns per-database size and page statistics.
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	stats := make([]map[string]interface{}, 0, len(h.databases))
	for _, db := range h.databases {
		var pageCount, pageSize int64
		if err := db.Conn().QueryRow("PRAGMA page_count").Scan(&pageCount); err != nil {
			h.log.Warn().Err(err).Str("database", db.Name()).Msg("Failed to read page count")
			continue
		}
		if err := db.Conn().QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
			h.log.Warn().Err(err).Str("database", db.Name()).Msg("Failed to read page size")
			continue
		}
		stats = append(stats, map[string]interface{}{
			"name":       db.Name(),
			"path":       db.Path(),
			"profile":    string(db.Profile()),
			"page_count": pageCount,
			"page_size":  pageSize,
			"size_bytes": pageCount * pageSize,
		})
	}
	h.writeJSON(w, map[string]interface{}{"databases": stats})
}

func (h *SystemHandlers) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
