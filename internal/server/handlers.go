package server

import (
	"log/slog"
	"math"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/robomoustach/oracle/internal/agentid"
	"github.com/robomoustach/oracle/internal/chain"
)

type handlers struct {
	scores              ScoreReader
	logger              *slog.Logger
	version             string
	confidenceThreshold int
	negativeFlagBps     int
}

// HandleHealth reports liveness.
func (h *handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": h.version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleScore serves GET /score/{agentId}.
func (h *handlers) HandleScore(w http.ResponseWriter, r *http.Request) {
	h.serveRecord(w, r, false)
}

// HandleReport serves GET /report/{agentId}.
func (h *handlers) HandleReport(w http.ResponseWriter, r *http.Request) {
	h.serveRecord(w, r, true)
}

func (h *handlers) serveRecord(w http.ResponseWriter, r *http.Request, detailed bool) {
	id, err := agentid.Parse(r.PathValue("agentId"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_agent_id", err.Error())
		return
	}

	report, err := h.scores.DetailedReport(r.Context(), id.BigInt())
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "execution reverted") {
			writeError(w, r, http.StatusNotFound, "agent_not_found", "no score record for agent")
			return
		}
		h.logger.Error("contract read failed",
			"agent_id", id.String(), "error", err,
			"request_id", RequestIDFromContext(r.Context()))
		writeError(w, r, http.StatusBadGateway, "chain_unavailable", "score contract unreachable")
		return
	}
	if !report.Exists {
		writeError(w, r, http.StatusNotFound, "agent_not_found", "no score record for agent")
		return
	}

	demo := isDemo(r)
	body := h.recordBody(id, report, detailed, demo)
	writeJSON(w, http.StatusOK, body)
}

func (h *handlers) recordBody(id agentid.ID, report chain.Report, detailed, demo bool) map[string]any {
	score := bigOrZero(report.Score)
	total := bigOrZero(report.TotalFeedback)
	positive := bigOrZero(report.PositiveFeedback)

	confidence := float64(total) / float64(h.confidenceThreshold)
	if confidence > 1 {
		confidence = 1
	}
	confidence = math.Round(confidence*10000) / 10000

	body := map[string]any{
		"agentId":       id.String(),
		"score":         score,
		"totalFeedback": total,
		"lastUpdated":   bigOrZero(report.LastUpdated),
	}

	if demo {
		// The demo tier reports a coarse band rather than the exact value.
		body["confidenceBand"] = confidenceBand(confidence)
		body["demo"] = true
		body["note"] = "demo endpoint: cached on-chain record, coarse confidence"
	} else {
		body["confidence"] = confidence
	}

	if detailed {
		negative := total - positive
		if negative < 0 {
			negative = 0
		}
		var negativeRateBps int64
		if total > 0 {
			negativeRateBps = int64(math.Round(float64(negative) / float64(total) * 10000))
		}
		flagged := total > 0 && negativeRateBps > int64(h.negativeFlagBps)

		riskFactors := []string{}
		if total < int64(h.confidenceThreshold) {
			riskFactors = append(riskFactors, "low_feedback_volume")
		}
		if flagged {
			riskFactors = append(riskFactors, "high_negative_feedback_ratio")
		}
		if score < 500 {
			riskFactors = append(riskFactors, "low_trust_score")
		}

		trend := "stable"
		if flagged {
			trend = "declining"
		}

		body["positiveFeedback"] = positive
		body["recentTrend"] = trend
		body["flagged"] = flagged
		body["riskFactors"] = riskFactors
		body["negativeRateBps"] = negativeRateBps
	}
	return body
}

func confidenceBand(confidence float64) string {
	switch {
	case confidence >= 0.75:
		return "high"
	case confidence > 0:
		return "low"
	default:
		return "none"
	}
}

func bigOrZero(v *big.Int) int64 {
	if v == nil {
		return 0
	}
	return v.Int64()
}
