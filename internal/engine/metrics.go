package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	turnsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "simfocus_turns_total",
		Help: "Number of participant turns executed.",
	})
	turnFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "simfocus_turn_fallbacks_total",
		Help: "Number of turns that fell back to deterministic content after a generation failure.",
	})
	summariesGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "simfocus_round_summaries_generated_total",
		Help: "Number of round summaries produced by the generation backend.",
	})
	summaryCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "simfocus_round_summary_cache_hits_total",
		Help: "Number of round summaries served from cache.",
	})
	summaryFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "simfocus_round_summary_fallbacks_total",
		Help: "Number of round summaries that fell back to a truncated transcript.",
	})
	discussionsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "simfocus_discussions_completed_total",
		Help: "Number of discussions that reached a terminal completed status.",
	})
	discussionsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "simfocus_discussions_failed_total",
		Help: "Number of discussions marked failed by the orchestration loop.",
	})
)
