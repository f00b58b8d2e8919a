package health

import "math"

const (
	// RegionSwitchMinSamples and RegionSwitchThreshold gate the region switch
	// decision: the mean of the last RegionSwitchMinSamples scores must fall
	// below the threshold.
	RegionSwitchMinSamples = 5
	RegionSwitchThreshold  = 40

	// Escalating to an external conferencing provider is more disruptive than
	// a region switch, so it requires longer-sustained and stronger evidence.
	ExternalFallbackMinSamples = 6
	ExternalFallbackThreshold  = 20
)

// AverageHealthScore returns the arithmetic mean of the scores rounded to the
// nearest integer, or 0 for an empty slice.
func AverageHealthScore(scores []int) int {
	if len(scores) == 0 {
		return 0
	}
	return int(math.Round(mean(scores)))
}

// ShouldSwitchRegion reports whether the call's media relay should move to
// another region. Only the most recent window matters: a call that was bad
// and has since recovered must not trigger a switch.
func ShouldSwitchRegion(scores []int, minSamples, threshold int) bool {
	if len(scores) < minSamples {
		return false
	}
	recent := scores[len(scores)-minSamples:]
	return mean(recent) < float64(threshold)
}

// ShouldTriggerExternalFallback reports whether the call should escalate to
// an external conferencing provider. Same recency-windowed-mean policy as
// ShouldSwitchRegion with a separate sample requirement and stricter threshold.
func ShouldTriggerExternalFallback(scores []int, minSamples, criticalThreshold int) bool {
	if len(scores) < minSamples {
		return false
	}
	recent := scores[len(scores)-minSamples:]
	return mean(recent) < float64(criticalThreshold)
}

func mean(scores []int) float64 {
	sum := 0
	for _, s := range scores {
		sum += s
	}
	return float64(sum) / float64(len(scores))
}
