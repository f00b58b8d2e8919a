package health

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateHealthScorePerfect(t *testing.T) {
	score := CalculateHealthScore(NetworkMetrics{})
	require.Equal(t, 100, score.Score)
	assert.Equal(t, QualityExcellent, score.Quality)
	assert.False(t, score.ShouldRepair)
	assert.Equal(t, 100, score.Details.PacketLossScore)
	assert.Equal(t, 100, score.Details.RTTScore)
	assert.Equal(t, 100, score.Details.JitterScore)
	assert.Equal(t, 0, score.Details.FreezePenalty)
}

func TestCalculateHealthScoreRTT(t *testing.T) {
	t.Run("rtt at or past 400 scores zero", func(t *testing.T) {
		for _, rtt := range []float64{400, 450, 1000} {
			score := CalculateHealthScore(NetworkMetrics{RTT: rtt})
			assert.Equal(t, 0, score.Details.RTTScore, "rtt=%v", rtt)
		}
	})

	t.Run("rtt at or past 350 caps the final score", func(t *testing.T) {
		for _, rtt := range []float64{350, 380, 500} {
			score := CalculateHealthScore(NetworkMetrics{RTT: rtt})
			assert.LessOrEqual(t, score.Score, 59, "rtt=%v", rtt)
			assert.True(t, score.ShouldRepair, "rtt=%v", rtt)
		}
	})

	t.Run("cap applies after weighting", func(t *testing.T) {
		// Zero loss and jitter would otherwise leave the weighted score
		// comfortably above the cap.
		score := CalculateHealthScore(NetworkMetrics{RTT: 350})
		assert.Equal(t, 59, score.Score)
		assert.Equal(t, QualityFair, score.Quality)
	})
}

func TestCalculateHealthScoreFreezePenalty(t *testing.T) {
	cases := []struct {
		freezes int
		penalty int
	}{
		{0, 0},
		{1, 5},
		{3, 15},
		{4, 20},
		{10, 20},
	}
	for _, tc := range cases {
		score := CalculateHealthScore(NetworkMetrics{FreezeCount: tc.freezes})
		assert.Equal(t, tc.penalty, score.Details.FreezePenalty, "freezes=%d", tc.freezes)
	}
}

func TestCalculateHealthScoreClampsInput(t *testing.T) {
	t.Run("negative inputs score perfect", func(t *testing.T) {
		score := CalculateHealthScore(NetworkMetrics{PacketLoss: -5, RTT: -100, Jitter: -1, FreezeCount: -2})
		assert.Equal(t, 100, score.Score)
	})

	t.Run("extreme inputs stay in range", func(t *testing.T) {
		score := CalculateHealthScore(NetworkMetrics{PacketLoss: 500, RTT: 99999, Jitter: 99999, FreezeCount: 1000})
		assert.GreaterOrEqual(t, score.Score, 0)
		assert.LessOrEqual(t, score.Score, 100)
		assert.Equal(t, 0, score.Score)
		assert.Equal(t, QualityCritical, score.Quality)
	})
}

func TestCalculateHealthScoreWeighting(t *testing.T) {
	// loss 1% -> 75, rtt 120ms -> 80, jitter 30ms -> 85:
	// 75*0.6 + 80*0.25 + 85*0.15 = 77.75, rounds to 78.
	score := CalculateHealthScore(NetworkMetrics{PacketLoss: 1, RTT: 120, Jitter: 30})
	assert.Equal(t, 78, score.Score)
	assert.Equal(t, QualityGood, score.Quality)
	assert.False(t, score.ShouldRepair)
}

func TestQualityBandsPartition(t *testing.T) {
	for s := 0; s <= 100; s++ {
		var want Quality
		switch {
		case s >= 80:
			want = QualityExcellent
		case s >= 60:
			want = QualityGood
		case s >= 40:
			want = QualityFair
		case s >= 20:
			want = QualityPoor
		default:
			want = QualityCritical
		}
		assert.Equal(t, want, QualityForScore(s), "score=%d", s)
	}
}

func TestShouldRepairBoundary(t *testing.T) {
	// shouldRepair flips exactly at the good/fair boundary.
	assert.True(t, CalculateHealthScore(NetworkMetrics{RTT: 350}).ShouldRepair)
	assert.False(t, CalculateHealthScore(NetworkMetrics{PacketLoss: 1, RTT: 120, Jitter: 30}).ShouldRepair)
}
