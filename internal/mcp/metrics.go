package mcp

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	aiRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "memoryd_ai_requests_total",
		Help: "Outbound AI requests by identity and outcome.",
	}, []string{"ai", "outcome"})

	contextInjections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "memoryd_context_injections_total",
		Help: "Requests that carried injected prior context.",
	}, []string{"ai"})

	clearsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "memoryd_context_clears_total",
		Help: "Context clear operations by target.",
	}, []string{"target"})
)
