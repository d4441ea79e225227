package oracle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f64(v float64) *float64 { return &v }
func i64(v int64) *int64     { return &v }

func defaultShaper() shaperConfig {
	return shaperConfig{confidenceThreshold: 50, negativeFlagBps: 2000}
}

func TestVerdictBoundaries(t *testing.T) {
	tests := []struct {
		score float64
		want  Verdict
	}{
		{score: 1000, want: VerdictTrusted},
		{score: 701, want: VerdictTrusted},
		{score: 700, want: VerdictCaution},
		{score: 400, want: VerdictCaution},
		{score: 399, want: VerdictDangerous},
		{score: 1, want: VerdictDangerous},
	}
	for _, tt := range tests {
		d := sourceData{Score: f64(tt.score), TotalFeedback: i64(60)}
		env := shape(d, SourcePaid, kindScore, "1", 5, "cid", defaultShaper())
		assert.Equal(t, tt.want, env.Verdict, "score %v", tt.score)
		assert.Equal(t, recommendationFor(tt.want), env.Recommendation)
	}
}

func TestVerdictNilScoreIsUnknown(t *testing.T) {
	env := shape(sourceData{}, SourcePaid, kindScore, "1", 5, "cid", defaultShaper())
	assert.Equal(t, VerdictUnknown, env.Verdict)
	assert.Equal(t, RecommendManualReview, env.Recommendation)
	assert.Nil(t, env.Score)
}

func TestNoHistoryMask(t *testing.T) {
	t.Run("zero score with zero counters is unknown", func(t *testing.T) {
		d := sourceData{Score: f64(0), TotalFeedback: i64(0), PositiveFeedback: i64(0)}
		env := shape(d, SourceContract, kindScore, "1", 5, "cid", defaultShaper())
		assert.Equal(t, VerdictUnknown, env.Verdict)
	})

	t.Run("zero score with explicit zero confidence is unknown", func(t *testing.T) {
		d := sourceData{Score: f64(0), Confidence: f64(0), TotalFeedback: i64(80)}
		env := shape(d, SourcePaid, kindScore, "1", 5, "cid", defaultShaper())
		assert.Equal(t, VerdictUnknown, env.Verdict)
	})

	t.Run("zero score with history is dangerous", func(t *testing.T) {
		d := sourceData{Score: f64(0), TotalFeedback: i64(80), PositiveFeedback: i64(0), Confidence: f64(0.9)}
		env := shape(d, SourcePaid, kindScore, "1", 5, "cid", defaultShaper())
		assert.Equal(t, VerdictDangerous, env.Verdict)
	})

	t.Run("mask disabled reads zero as dangerous", func(t *testing.T) {
		cfg := defaultShaper()
		cfg.disableNoHistoryMask = true
		d := sourceData{Score: f64(0), TotalFeedback: i64(0), PositiveFeedback: i64(0)}
		env := shape(d, SourceContract, kindScore, "1", 5, "cid", cfg)
		assert.Equal(t, VerdictDangerous, env.Verdict)
	})
}

func TestConfidenceDerivation(t *testing.T) {
	cfg := defaultShaper()

	t.Run("explicit value clamped to four decimals", func(t *testing.T) {
		d := sourceData{Score: f64(500), Confidence: f64(0.123456)}
		env := shape(d, SourcePaid, kindScore, "1", 5, "cid", cfg)
		require.NotNil(t, env.Confidence)
		assert.Equal(t, 0.1235, *env.Confidence)
	})

	t.Run("explicit value above one clamps", func(t *testing.T) {
		d := sourceData{Score: f64(500), Confidence: f64(3)}
		env := shape(d, SourcePaid, kindScore, "1", 5, "cid", cfg)
		assert.Equal(t, 1.0, *env.Confidence)
	})

	t.Run("bands", func(t *testing.T) {
		for band, want := range map[string]float64{"high": 1, "low": 0.4, "none": 0} {
			d := sourceData{Score: f64(500), ConfidenceBand: band}
			env := shape(d, SourceDemo, kindScore, "1", 5, "cid", cfg)
			require.NotNil(t, env.Confidence, band)
			assert.Equal(t, want, *env.Confidence, band)
		}
	})

	t.Run("derived from feedback volume", func(t *testing.T) {
		d := sourceData{Score: f64(500), TotalFeedback: i64(25)}
		env := shape(d, SourceContract, kindScore, "1", 5, "cid", cfg)
		require.NotNil(t, env.Confidence)
		assert.Equal(t, 0.5, *env.Confidence)
	})

	t.Run("derived saturates at one", func(t *testing.T) {
		d := sourceData{Score: f64(500), TotalFeedback: i64(500)}
		env := shape(d, SourceContract, kindScore, "1", 5, "cid", cfg)
		assert.Equal(t, 1.0, *env.Confidence)
	})

	t.Run("nothing to derive from", func(t *testing.T) {
		env := shape(sourceData{Score: f64(500)}, SourcePaid, kindScore, "1", 5, "cid", cfg)
		assert.Nil(t, env.Confidence)
	})
}

func TestNegativeScoreNormalizedToZero(t *testing.T) {
	d := sourceData{Score: f64(-50), TotalFeedback: i64(80), Confidence: f64(0.8)}
	env := shape(d, SourcePaid, kindScore, "1", 5, "cid", defaultShaper())
	require.NotNil(t, env.Score)
	assert.Equal(t, 0.0, *env.Score)
}

func TestContractReportAnalytics(t *testing.T) {
	cfg := defaultShaper()

	t.Run("flagged report carries all risk factors in order", func(t *testing.T) {
		// 10 of 40 negative: 2500 bps > 2000; 40 < 50 threshold; 450 < 500.
		d := sourceData{
			Score:            f64(450),
			TotalFeedback:    i64(40),
			PositiveFeedback: i64(30),
			LastUpdated:      i64(1700000000),
		}
		env := shape(d, SourceContract, kindReport, "1", 5, "cid", cfg)

		assert.Equal(t, int64(2500), env.Data["negativeRateBps"])
		assert.Equal(t, true, env.Data["flagged"])
		assert.Equal(t, []string{"low_feedback_volume", "high_negative_feedback_ratio", "low_trust_score"}, env.Data["riskFactors"])
		assert.Equal(t, int64(40), env.Data["totalFeedback"])
		assert.Equal(t, int64(30), env.Data["positiveFeedback"])
		assert.Equal(t, int64(1700000000), env.Data["lastUpdated"])
	})

	t.Run("clean report has no risk factors", func(t *testing.T) {
		d := sourceData{
			Score:            f64(900),
			TotalFeedback:    i64(200),
			PositiveFeedback: i64(195),
		}
		env := shape(d, SourceContract, kindReport, "1", 5, "cid", cfg)

		assert.Equal(t, int64(250), env.Data["negativeRateBps"])
		assert.Equal(t, false, env.Data["flagged"])
		assert.Equal(t, []string{}, env.Data["riskFactors"])
	})

	t.Run("zero total yields zero rate", func(t *testing.T) {
		d := sourceData{Score: f64(0), TotalFeedback: i64(0), PositiveFeedback: i64(0)}
		env := shape(d, SourceContract, kindReport, "1", 5, "cid", cfg)
		assert.Equal(t, int64(0), env.Data["negativeRateBps"])
		assert.Equal(t, false, env.Data["flagged"])
	})

	t.Run("positive above total clamps negative to zero", func(t *testing.T) {
		d := sourceData{Score: f64(800), TotalFeedback: i64(10), PositiveFeedback: i64(12)}
		env := shape(d, SourceContract, kindReport, "1", 5, "cid", cfg)
		assert.Equal(t, int64(0), env.Data["negativeRateBps"])
	})
}

func TestShapePassesExtrasThrough(t *testing.T) {
	d := sourceData{
		Score: f64(810),
		Extra: map[string]any{"recentTrend": "improving", "note": "demo data"},
	}
	env := shape(d, SourceDemo, kindScore, "1", 5, "cid", defaultShaper())
	assert.Equal(t, "improving", env.Data["recentTrend"])
	assert.Equal(t, "demo data", env.Data["note"])
}
