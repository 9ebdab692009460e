package health

import (
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/wilkinlas2/IBKR-Server-V6/internal/httputil"
)

type Handler struct {
	startedAt time.Time
	broker    string
	httpAddr  string
}

func NewHandler(startedAt time.Time, broker, httpAddr string) *Handler {
	start := startedAt.UTC()
	if start.IsZero() {
		start = time.Now().UTC()
	}
	return &Handler{startedAt: start, broker: broker, httpAddr: httpAddr}
}

type healthResponse struct {
	Status    string       `json:"status"`
	Timestamp string       `json:"timestamp"`
	UptimeSec int64        `json:"uptime_sec"`
	Broker    string       `json:"broker"`
	HTTPAddr  string       `json:"http_addr"`
	Process   processStats `json:"process"`
	Runtime   runtimeStats `json:"runtime"`
}

type processStats struct {
	PID      int    `json:"pid"`
	Hostname string `json:"hostname"`
	GoOS     string `json:"go_os"`
	GoArch   string `json:"go_arch"`
}

type runtimeStats struct {
	GoVersion  string `json:"go_version"`
	Goroutines int    `json:"goroutines"`
	NumGC      uint32 `json:"num_gc"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	hostname, _ := os.Hostname()
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	httputil.WriteJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Timestamp: now.Format(time.RFC3339),
		UptimeSec: int64(now.Sub(h.startedAt).Seconds()),
		Broker:    h.broker,
		HTTPAddr:  h.httpAddr,
		Process: processStats{
			PID:      os.Getpid(),
			Hostname: hostname,
			GoOS:     runtime.GOOS,
			GoArch:   runtime.GOARCH,
		},
		Runtime: runtimeStats{
			GoVersion:  runtime.Version(),
			Goroutines: runtime.NumGoroutine(),
			NumGC:      mem.NumGC,
		},
	})
}
