package lobby

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HandleStatus 输出客户端最近一次发布的状态快照
// GET /status
func HandleStatus(c *Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(c.Status())
	}
}

// NewAdminMux 管理与监控接口：/status、/metrics（Prometheus）、/healthz
func NewAdminMux(c *Client) *http.ServeMux {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewMetricsCollector(c.Metrics()))

	mux := http.NewServeMux()
	mux.HandleFunc("/status", HandleStatus(c))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
