package oracle

import "math"

// shaperConfig carries the knobs the response shaper needs.
type shaperConfig struct {
	confidenceThreshold  int
	negativeFlagBps      int
	disableNoHistoryMask bool
}

// sourceData is the raw material a source attempt hands to the shaper.
type sourceData struct {
	Score            *float64
	Confidence       *float64
	ConfidenceBand   string
	TotalFeedback    *int64
	PositiveFeedback *int64
	LastUpdated      *int64
	Flagged          *bool
	// Extra carries source-specific payload fields through to the envelope's
	// data section untouched.
	Extra map[string]any
}

// shape builds a success envelope from raw source data. Degradation context
// (status, fallback, error) is layered on by the caller.
func shape(d sourceData, source Source, kind queryKind, agentID string, timingMs int64, correlationID string, cfg shaperConfig) Envelope {
	score := normalizeScore(d.Score)
	confidence := deriveConfidence(d, cfg)

	verdict := verdictFor(score, confidence, d, cfg)

	env := Envelope{
		Status:         StatusOK,
		AgentID:        agentID,
		Score:          score,
		Confidence:     confidence,
		Verdict:        verdict,
		Recommendation: recommendationFor(verdict),
		Source:         source,
		TimingMs:       timingMs,
		Timestamp:      nowRFC3339(),
		CorrelationID:  correlationID,
		Data:           buildData(d, source, kind, score, cfg),
	}
	return env
}

// normalizeScore keeps scores non-negative or null.
func normalizeScore(s *float64) *float64 {
	if s == nil || math.IsNaN(*s) || math.IsInf(*s, 0) {
		return nil
	}
	v := *s
	if v < 0 {
		v = 0
	}
	return &v
}

// deriveConfidence resolves confidence: explicit value, discrete band, or
// derived from the feedback volume; clamped to [0, 1] at four decimals.
func deriveConfidence(d sourceData, cfg shaperConfig) *float64 {
	if d.Confidence != nil {
		return clamp4(*d.Confidence)
	}
	switch d.ConfidenceBand {
	case "high":
		return clamp4(1)
	case "low":
		return clamp4(0.4)
	case "none":
		return clamp4(0)
	}
	if d.TotalFeedback != nil && cfg.confidenceThreshold > 0 {
		return clamp4(float64(*d.TotalFeedback) / float64(cfg.confidenceThreshold))
	}
	return nil
}

func clamp4(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	r := math.Round(v*10000) / 10000
	return &r
}

// verdictFor maps a score to its label. A zero score with no feedback
// history (or zero confidence) is indistinguishable from "never graded" and
// reads UNKNOWN unless the mask is disabled.
func verdictFor(score, confidence *float64, d sourceData, cfg shaperConfig) Verdict {
	if score == nil {
		return VerdictUnknown
	}
	if *score == 0 && !cfg.disableNoHistoryMask {
		countersZero := d.TotalFeedback != nil && *d.TotalFeedback == 0 &&
			(d.PositiveFeedback == nil || *d.PositiveFeedback == 0)
		confidenceZero := confidence != nil && *confidence == 0
		if countersZero || confidenceZero {
			return VerdictUnknown
		}
	}
	switch {
	case *score > 700:
		return VerdictTrusted
	case *score >= 400:
		return VerdictCaution
	default:
		return VerdictDangerous
	}
}

// buildData assembles the envelope's data section. Contract-sourced reports
// re-derive analytics locally — the contract stores only the counters.
func buildData(d sourceData, source Source, kind queryKind, score *float64, cfg shaperConfig) map[string]any {
	data := make(map[string]any, len(d.Extra)+6)
	for k, v := range d.Extra {
		data[k] = v
	}
	if d.TotalFeedback != nil {
		data["totalFeedback"] = *d.TotalFeedback
	}
	if d.PositiveFeedback != nil {
		data["positiveFeedback"] = *d.PositiveFeedback
	}
	if d.LastUpdated != nil {
		data["lastUpdated"] = *d.LastUpdated
	}
	if d.Flagged != nil {
		data["flagged"] = *d.Flagged
	}

	if source == SourceContract && kind == kindReport && d.TotalFeedback != nil {
		total := *d.TotalFeedback
		var positive int64
		if d.PositiveFeedback != nil {
			positive = *d.PositiveFeedback
		}
		negative := total - positive
		if negative < 0 {
			negative = 0
		}
		var negativeRateBps int64
		if total > 0 {
			negativeRateBps = int64(math.Round(float64(negative) / float64(total) * 10000))
		}
		flagged := total > 0 && negativeRateBps > int64(cfg.negativeFlagBps)

		riskFactors := []string{}
		if total < int64(cfg.confidenceThreshold) {
			riskFactors = append(riskFactors, "low_feedback_volume")
		}
		if flagged {
			riskFactors = append(riskFactors, "high_negative_feedback_ratio")
		}
		if score != nil && *score < 500 {
			riskFactors = append(riskFactors, "low_trust_score")
		}

		data["negativeRateBps"] = negativeRateBps
		data["flagged"] = flagged
		data["riskFactors"] = riskFactors
	}

	if len(data) == 0 {
		return nil
	}
	return data
}
