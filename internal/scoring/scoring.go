// Package scoring transforms a set of feedback events into a bounded trust
// score with confidence and flagging. Compute is a pure function: no I/O, no
// hidden state, and identical inputs always produce identical output.
package scoring

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

const msPerDay = 86400000

// epochMillisBoundary splits numeric timestamps: values below it are read as
// seconds, values at or above it as milliseconds.
const epochMillisBoundary = 1e12

// ErrInvalidFeedback marks a feedback entry whose timestamp or sentiment
// cannot be derived. Compute fails fast on the first such entry.
var ErrInvalidFeedback = errors.New("scoring: invalid feedback")

// Config holds all scoring knobs. The zero value is not usable — start from
// DefaultConfig and override.
type Config struct {
	// DecayWindowDays is the age boundary between "recent" and "older" feedback.
	DecayWindowDays int
	// RecentFeedbackWeight and OlderFeedbackWeight are the multiplicative
	// weights applied on either side of the decay boundary.
	RecentFeedbackWeight int
	OlderFeedbackWeight  int
	// ConfidenceThresholdFeedbackCount is the minimum number of events before
	// the confidence bonus applies.
	ConfidenceThresholdFeedbackCount int
	ConfidenceMultiplier             float64
	// RecentNegativeWindowDays is the window used to detect negative spikes.
	RecentNegativeWindowDays int
	// NegativeFlagThresholdBps flags an agent when the recent negative rate
	// strictly exceeds this many basis points.
	NegativeFlagThresholdBps int
	FlaggedScoreMultiplier   float64
	MaxScore                 int
}

// DefaultConfig returns the production scoring defaults.
func DefaultConfig() Config {
	return Config{
		DecayWindowDays:                  30,
		RecentFeedbackWeight:             2,
		OlderFeedbackWeight:              1,
		ConfidenceThresholdFeedbackCount: 50,
		ConfidenceMultiplier:             1.05,
		RecentNegativeWindowDays:         7,
		NegativeFlagThresholdBps:         2000,
		FlaggedScoreMultiplier:           0.9,
		MaxScore:                         1000,
	}
}

// Feedback is one rating event. Timestamp accepts a time.Time, an epoch
// number (seconds below 10^12, milliseconds at or above), or an RFC-3339
// string. Sentiment is derived from, in priority order: Positive, Sentiment
// ("positive"/"negative", case-insensitive), Rating (> 0 is positive).
type Feedback struct {
	Timestamp any
	Positive  *bool
	Sentiment string
	Rating    *float64
}

// Result is the scoring outcome. Score, BaseScore, and
// ConfidenceAdjustedScore are rounded and clamped to [0, MaxScore].
type Result struct {
	Score                   int  `json:"score"`
	BaseScore               int  `json:"baseScore"`
	ConfidenceAdjustedScore int  `json:"confidenceAdjustedScore"`
	Flagged                 bool `json:"flagged"`
	TotalFeedback           int  `json:"totalFeedback"`
	PositiveFeedback        int  `json:"positiveFeedback"`
	RecentNegativeRateBps   int  `json:"recentNegativeRateBps"`
	RecentFeedbackCount     int  `json:"recentFeedbackCount"`
	ConfidenceApplied       bool `json:"confidenceApplied"`
}

// Compute folds feedbacks into a Result at the instant nowMs (milliseconds
// since epoch). Inputs are never mutated.
func Compute(feedbacks []Feedback, cfg Config, nowMs int64) (Result, error) {
	cutoffRecent := nowMs - int64(cfg.DecayWindowDays)*msPerDay
	cutoffNeg := nowMs - int64(cfg.RecentNegativeWindowDays)*msPerDay

	var (
		weightedTotal    int64
		weightedPositive int64
		res              Result
		recentNegative   int
	)

	for i, fb := range feedbacks {
		t, err := effectiveMillis(fb.Timestamp)
		if err != nil {
			return Result{}, fmt.Errorf("%w: entry %d: %v", ErrInvalidFeedback, i, err)
		}
		positive, err := sentiment(fb)
		if err != nil {
			return Result{}, fmt.Errorf("%w: entry %d: %v", ErrInvalidFeedback, i, err)
		}

		w := int64(cfg.OlderFeedbackWeight)
		if t >= cutoffRecent {
			w = int64(cfg.RecentFeedbackWeight)
		}
		weightedTotal += w
		res.TotalFeedback++
		if positive {
			weightedPositive += w
			res.PositiveFeedback++
		}
		if t >= cutoffNeg {
			res.RecentFeedbackCount++
			if !positive {
				recentNegative++
			}
		}
	}

	if weightedTotal == 0 {
		return Result{}, nil
	}

	baseRaw := float64(weightedPositive) / float64(weightedTotal) * float64(cfg.MaxScore)

	res.ConfidenceApplied = res.TotalFeedback >= cfg.ConfidenceThresholdFeedbackCount
	confidenceAdjustedRaw := baseRaw
	if res.ConfidenceApplied {
		confidenceAdjustedRaw = baseRaw * cfg.ConfidenceMultiplier
	}

	if res.RecentFeedbackCount > 0 {
		res.RecentNegativeRateBps = int(math.Round(float64(recentNegative) / float64(res.RecentFeedbackCount) * 10000))
	}
	res.Flagged = res.RecentFeedbackCount > 0 && res.RecentNegativeRateBps > cfg.NegativeFlagThresholdBps

	penalizedRaw := confidenceAdjustedRaw
	if res.Flagged {
		penalizedRaw = confidenceAdjustedRaw * cfg.FlaggedScoreMultiplier
	}

	res.BaseScore = roundClamp(baseRaw, cfg.MaxScore)
	res.ConfidenceAdjustedScore = roundClamp(confidenceAdjustedRaw, cfg.MaxScore)
	res.Score = roundClamp(penalizedRaw, cfg.MaxScore)
	return res, nil
}

func roundClamp(v float64, maxScore int) int {
	r := math.Round(v)
	if r < 0 {
		return 0
	}
	if r > float64(maxScore) {
		return maxScore
	}
	return int(r)
}

// effectiveMillis derives the entry's timestamp in epoch milliseconds.
func effectiveMillis(v any) (int64, error) {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return 0, errors.New("zero timestamp")
		}
		return t.UnixMilli(), nil
	case int64:
		return numericMillis(float64(t)), nil
	case int:
		return numericMillis(float64(t)), nil
	case uint64:
		return numericMillis(float64(t)), nil
	case float64:
		return numericMillis(t), nil
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return 0, fmt.Errorf("parse timestamp %q: %v", t, err)
		}
		return parsed.UnixMilli(), nil
	case nil:
		return 0, errors.New("missing timestamp")
	default:
		return 0, fmt.Errorf("unsupported timestamp type %T", v)
	}
}

// numericMillis interprets n as seconds when below 10^12, milliseconds otherwise.
func numericMillis(n float64) int64 {
	if n < epochMillisBoundary {
		return int64(n * 1000)
	}
	return int64(n)
}

// sentiment resolves the entry's positivity.
func sentiment(fb Feedback) (bool, error) {
	if fb.Positive != nil {
		return *fb.Positive, nil
	}
	switch strings.ToLower(fb.Sentiment) {
	case "positive":
		return true, nil
	case "negative":
		return false, nil
	case "":
	default:
		return false, fmt.Errorf("unknown sentiment label %q", fb.Sentiment)
	}
	if fb.Rating != nil {
		return *fb.Rating > 0, nil
	}
	return false, errors.New("missing sentiment")
}
