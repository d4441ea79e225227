package scoring

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedNow is an arbitrary reference instant for deterministic tests.
var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func bptr(b bool) *bool       { return &b }
func fptr(f float64) *float64 { return &f }

// aged returns a feedback entry d days old relative to fixedNow.
func aged(positive bool, days float64) Feedback {
	return Feedback{
		Timestamp: fixedNow.Add(-time.Duration(days * 24 * float64(time.Hour))),
		Positive:  bptr(positive),
	}
}

func repeat(fb Feedback, n int) []Feedback {
	out := make([]Feedback, n)
	for i := range out {
		out[i] = fb
	}
	return out
}

func TestComputeEmptyFeedback(t *testing.T) {
	res, err := Compute(nil, DefaultConfig(), fixedNow.UnixMilli())
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
}

func TestComputeWeightedRatio(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DecayWindowDays = 30
	cfg.RecentFeedbackWeight = 2
	cfg.OlderFeedbackWeight = 1
	cfg.ConfidenceThresholdFeedbackCount = 100
	cfg.FlaggedScoreMultiplier = 1
	cfg.NegativeFlagThresholdBps = 10000

	res, err := Compute([]Feedback{aged(true, 40), aged(false, 2)}, cfg, fixedNow.UnixMilli())
	require.NoError(t, err)

	// Weighted positives 1 over weighted total 3.
	assert.Equal(t, 333, res.Score)
	assert.Equal(t, 2, res.TotalFeedback)
	assert.Equal(t, 1, res.PositiveFeedback)
	assert.False(t, res.ConfidenceApplied)
}

func TestComputeConfidenceBonusAtThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RecentFeedbackWeight = 1
	cfg.OlderFeedbackWeight = 1
	cfg.ConfidenceThresholdFeedbackCount = 50
	cfg.ConfidenceMultiplier = 1.1
	cfg.FlaggedScoreMultiplier = 1
	cfg.NegativeFlagThresholdBps = 10000

	fbs := append(repeat(aged(true, 10), 30), repeat(aged(false, 10), 20)...)
	res, err := Compute(fbs, cfg, fixedNow.UnixMilli())
	require.NoError(t, err)

	assert.Equal(t, 600, res.BaseScore)
	assert.True(t, res.ConfidenceApplied)
	assert.Equal(t, 660, res.Score)
	assert.Equal(t, 660, res.ConfidenceAdjustedScore)
}

func TestComputeFlaggingPenalty(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RecentNegativeWindowDays = 7
	cfg.NegativeFlagThresholdBps = 2000
	cfg.FlaggedScoreMultiplier = 0.8
	cfg.ConfidenceThresholdFeedbackCount = 999

	fbs := append(repeat(aged(true, 1), 5), repeat(aged(false, 1), 2)...)
	res, err := Compute(fbs, cfg, fixedNow.UnixMilli())
	require.NoError(t, err)

	assert.Equal(t, 714, res.BaseScore)
	assert.True(t, res.Flagged)
	assert.Equal(t, 2857, res.RecentNegativeRateBps)
	assert.Equal(t, 571, res.Score)
}

func TestComputeFlaggingIsStrictlyGreater(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NegativeFlagThresholdBps = 5000
	cfg.ConfidenceThresholdFeedbackCount = 999

	// Exactly 50% negative in the window: 5000 bps is not > 5000.
	fbs := append(repeat(aged(true, 1), 2), repeat(aged(false, 1), 2)...)
	res, err := Compute(fbs, cfg, fixedNow.UnixMilli())
	require.NoError(t, err)

	assert.Equal(t, 5000, res.RecentNegativeRateBps)
	assert.False(t, res.Flagged)
}

func TestComputeTimestampShapes(t *testing.T) {
	cfg := DefaultConfig()
	nowMs := fixedNow.UnixMilli()
	recent := fixedNow.Add(-24 * time.Hour)

	tests := []struct {
		name string
		ts   any
	}{
		{name: "time.Time", ts: recent},
		{name: "epoch seconds", ts: float64(recent.Unix())},
		{name: "epoch millis", ts: float64(recent.UnixMilli())},
		{name: "epoch seconds int64", ts: recent.Unix()},
		{name: "rfc3339", ts: recent.Format(time.RFC3339)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Compute([]Feedback{{Timestamp: tt.ts, Positive: bptr(true)}}, cfg, nowMs)
			require.NoError(t, err)
			// A single recent positive scores max regardless of timestamp shape.
			assert.Equal(t, cfg.MaxScore, res.Score)
			assert.Equal(t, 1, res.RecentFeedbackCount)
		})
	}
}

func TestComputeSentimentPriority(t *testing.T) {
	cfg := DefaultConfig()
	nowMs := fixedNow.UnixMilli()
	ts := fixedNow.Add(-time.Hour)

	tests := []struct {
		name         string
		fb           Feedback
		wantPositive bool
	}{
		{
			name:         "explicit flag beats label",
			fb:           Feedback{Timestamp: ts, Positive: bptr(false), Sentiment: "positive"},
			wantPositive: false,
		},
		{
			name:         "label beats rating",
			fb:           Feedback{Timestamp: ts, Sentiment: "NEGATIVE", Rating: fptr(5)},
			wantPositive: false,
		},
		{
			name:         "positive rating",
			fb:           Feedback{Timestamp: ts, Rating: fptr(0.5)},
			wantPositive: true,
		},
		{
			name:         "zero rating is negative",
			fb:           Feedback{Timestamp: ts, Rating: fptr(0)},
			wantPositive: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Compute([]Feedback{tt.fb}, cfg, nowMs)
			require.NoError(t, err)
			want := 0
			if tt.wantPositive {
				want = 1
			}
			assert.Equal(t, want, res.PositiveFeedback)
		})
	}
}

func TestComputeInvalidFeedback(t *testing.T) {
	cfg := DefaultConfig()
	nowMs := fixedNow.UnixMilli()

	tests := []struct {
		name string
		fb   Feedback
	}{
		{name: "missing timestamp", fb: Feedback{Positive: bptr(true)}},
		{name: "bad timestamp string", fb: Feedback{Timestamp: "yesterday", Positive: bptr(true)}},
		{name: "missing sentiment", fb: Feedback{Timestamp: fixedNow}},
		{name: "unknown label", fb: Feedback{Timestamp: fixedNow, Sentiment: "meh"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compute([]Feedback{tt.fb}, cfg, nowMs)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidFeedback))
		})
	}
}

func TestComputeDeterminism(t *testing.T) {
	cfg := DefaultConfig()
	fbs := append(repeat(aged(true, 3), 40), repeat(aged(false, 45), 17)...)

	first, err := Compute(fbs, cfg, fixedNow.UnixMilli())
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := Compute(fbs, cfg, fixedNow.UnixMilli())
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestComputeDoesNotMutateInput(t *testing.T) {
	fbs := []Feedback{aged(true, 1), aged(false, 50)}
	orig := make([]Feedback, len(fbs))
	copy(orig, fbs)

	_, err := Compute(fbs, DefaultConfig(), fixedNow.UnixMilli())
	require.NoError(t, err)
	assert.Equal(t, orig, fbs)
}
