// Package health converts raw transport metrics into quality judgments and
// turns windowed score history into escalation decisions.
package health

import "math"

// Quality is a coarse bucket over the health score.
type Quality string

const (
	QualityExcellent Quality = "excellent"
	QualityGood      Quality = "good"
	QualityFair      Quality = "fair"
	QualityPoor      Quality = "poor"
	QualityCritical  Quality = "critical"
)

const (
	// RepairThreshold is the score below which auto-repair should kick in.
	RepairThreshold = 60
	// RTTCapThreshold is the RTT (ms) at or above which the final score is capped:
	// sustained high latency alone breaks real-time interactivity, so it must
	// never be reported better than "fair" even with zero packet loss.
	RTTCapThreshold = 350
	// RTTCapScore is the ceiling applied when RTT >= RTTCapThreshold.
	RTTCapScore = 59
	// MaxFreezePenalty caps the penalty subtracted for video freezes.
	MaxFreezePenalty = 20
)

// NetworkMetrics is one per-sample snapshot of transport stats for a call.
// Bitrate fields are informational only and do not affect the score.
type NetworkMetrics struct {
	PacketLoss  float64 `json:"packet_loss"` // percentage, 0-100
	RTT         float64 `json:"rtt"`         // ms
	Jitter      float64 `json:"jitter"`      // ms
	FreezeCount int     `json:"freeze_count,omitempty"`
	SendBitrate float64 `json:"send_bitrate,omitempty"` // kbps, informational
	RecvBitrate float64 `json:"recv_bitrate,omitempty"` // kbps, informational
}

// ScoreDetails carries the per-metric sub-scores and the freeze penalty for diagnosability.
type ScoreDetails struct {
	PacketLossScore int `json:"packet_loss_score"`
	RTTScore        int `json:"rtt_score"`
	JitterScore     int `json:"jitter_score"`
	FreezePenalty   int `json:"freeze_penalty"`
}

// HealthScore is the derived quality judgment for one metrics sample.
type HealthScore struct {
	Score        int          `json:"score"` // 0-100
	Quality      Quality      `json:"quality"`
	ShouldRepair bool         `json:"should_repair"`
	Details      ScoreDetails `json:"details"`
}

// breakpoint is one (metric value, sub-score) point on a degradation curve.
type breakpoint struct {
	at    float64
	score float64
}

// Degradation curves. Packet loss is the dominant signal and has the most
// front-loaded curve: half the score is gone by 2% loss.
var (
	packetLossCurve = []breakpoint{
		{0, 100}, {0.5, 90}, {1, 75}, {2, 55}, {5, 25}, {10, 0},
	}
	rttCurve = []breakpoint{
		{0, 100}, {120, 80}, {200, 60}, {300, 35}, {400, 0},
	}
	jitterCurve = []breakpoint{
		{0, 100}, {30, 85}, {50, 70}, {80, 45}, {100, 25}, {120, 0},
	}
)

// curveScore interpolates linearly between the curve's breakpoints.
// Values past the last breakpoint score 0.
func curveScore(curve []breakpoint, value float64) float64 {
	if value <= curve[0].at {
		return curve[0].score
	}
	for i := 1; i < len(curve); i++ {
		if value <= curve[i].at {
			prev, next := curve[i-1], curve[i]
			frac := (value - prev.at) / (next.at - prev.at)
			return prev.score + frac*(next.score-prev.score)
		}
	}
	return curve[len(curve)-1].score
}

// CalculateHealthScore converts one metrics sample into a HealthScore.
// It is pure and total: out-of-range inputs are clamped, never rejected.
func CalculateHealthScore(m NetworkMetrics) HealthScore {
	packetLoss := clamp(m.PacketLoss, 0, 100)
	rtt := math.Max(m.RTT, 0)
	jitter := math.Max(m.Jitter, 0)
	freezes := m.FreezeCount
	if freezes < 0 {
		freezes = 0
	}

	plScore := curveScore(packetLossCurve, packetLoss)
	rttScore := curveScore(rttCurve, rtt)
	jitterScore := curveScore(jitterCurve, jitter)

	freezePenalty := freezes * 5
	if freezePenalty > MaxFreezePenalty {
		freezePenalty = MaxFreezePenalty
	}

	weighted := plScore*0.6 + rttScore*0.25 + jitterScore*0.15 - float64(freezePenalty)
	score := int(clamp(math.Round(weighted), 0, 100))

	// Cap after weighting: the weighted formula already penalizes high RTT,
	// and the cap stacks on top of it.
	if rtt >= RTTCapThreshold && score > RTTCapScore {
		score = RTTCapScore
	}

	return HealthScore{
		Score:        score,
		Quality:      QualityForScore(score),
		ShouldRepair: score < RepairThreshold,
		Details: ScoreDetails{
			PacketLossScore: int(math.Round(plScore)),
			RTTScore:        int(math.Round(rttScore)),
			JitterScore:     int(math.Round(jitterScore)),
			FreezePenalty:   freezePenalty,
		},
	}
}

// QualityForScore maps a score to its band. Bands are a non-overlapping
// partition of [0,100] with inclusive lower bounds.
func QualityForScore(score int) Quality {
	switch {
	case score >= 80:
		return QualityExcellent
	case score >= 60:
		return QualityGood
	case score >= 40:
		return QualityFair
	case score >= 20:
		return QualityPoor
	default:
		return QualityCritical
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
