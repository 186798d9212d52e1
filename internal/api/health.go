package api

import (
	"net/http"

	"github.com/heptiolabs/healthcheck"
)

// HealthChecks 就绪检查项，名字 -> 检查函数
type HealthChecks map[string]healthcheck.Check

// NewHealthHandler 创建 /live 和 /ready 使用的处理器
func NewHealthHandler(readiness HealthChecks) healthcheck.Handler {
	h := healthcheck.NewHandler()
	h.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(10000))
	for name, check := range readiness {
		h.AddReadinessCheck(name, check)
	}
	return h
}

// HealthMux 供 worker 使用的独立健康检查和指标端口
func HealthMux(health healthcheck.Handler, metrics http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/live", health.LiveEndpoint)
	mux.HandleFunc("/ready", health.ReadyEndpoint)
	mux.Handle("/metrics", metrics)
	return mux
}
