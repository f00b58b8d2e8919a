package health

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MonitorConfig holds window and decision tuning for the quality monitor.
type MonitorConfig struct {
	WindowSize            int
	RegionSwitchSamples   int
	RegionSwitchThreshold int
	FallbackSamples       int
	FallbackThreshold     int
}

// DefaultMonitorConfig returns the standard tuning.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		WindowSize:            20,
		RegionSwitchSamples:   RegionSwitchMinSamples,
		RegionSwitchThreshold: RegionSwitchThreshold,
		FallbackSamples:       ExternalFallbackMinSamples,
		FallbackThreshold:     ExternalFallbackThreshold,
	}
}

// Advisory is the judgment returned for one observed sample: the sample's
// score plus the windowed escalation decisions. Advisories are informational;
// they never fail the call itself.
type Advisory struct {
	Score            HealthScore `json:"score"`
	WindowAverage    int         `json:"window_average"`
	SwitchRegion     bool        `json:"switch_region"`
	ExternalFallback bool        `json:"external_fallback"`
}

type window struct {
	scores []int
}

func (w *window) append(score, capacity int) {
	w.scores = append(w.scores, score)
	if len(w.scores) > capacity {
		w.scores = w.scores[len(w.scores)-capacity:]
	}
}

// Monitor holds a bounded rolling score window per reporting client per call
// and derives advisories from it. Windows are discarded when the call ends.
type Monitor struct {
	cfg    MonitorConfig
	logger *zap.Logger

	mu      sync.RWMutex
	windows map[string]*window // sessionID/userID -> window
}

// NewMonitor creates a quality monitor.
func NewMonitor(cfg MonitorConfig, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.WindowSize <= 0 {
		cfg = DefaultMonitorConfig()
	}
	return &Monitor{
		cfg:     cfg,
		logger:  logger,
		windows: make(map[string]*window),
	}
}

func windowKey(sessionID string, userID uuid.UUID) string {
	return sessionID + "/" + userID.String()
}

// Observe scores one sample, appends it to the client's window and returns
// the resulting advisory.
func (m *Monitor) Observe(sessionID string, userID uuid.UUID, metrics NetworkMetrics) Advisory {
	score := CalculateHealthScore(metrics)

	key := windowKey(sessionID, userID)
	m.mu.Lock()
	w, ok := m.windows[key]
	if !ok {
		w = &window{}
		m.windows[key] = w
	}
	w.append(score.Score, m.cfg.WindowSize)
	scores := make([]int, len(w.scores))
	copy(scores, w.scores)
	m.mu.Unlock()

	adv := Advisory{
		Score:            score,
		WindowAverage:    AverageHealthScore(scores),
		SwitchRegion:     ShouldSwitchRegion(scores, m.cfg.RegionSwitchSamples, m.cfg.RegionSwitchThreshold),
		ExternalFallback: ShouldTriggerExternalFallback(scores, m.cfg.FallbackSamples, m.cfg.FallbackThreshold),
	}
	if adv.SwitchRegion || adv.ExternalFallback {
		m.logger.Warn("quality escalation advised",
			zap.String("session_id", sessionID),
			zap.String("user_id", userID.String()),
			zap.Int("window_average", adv.WindowAverage),
			zap.Bool("switch_region", adv.SwitchRegion),
			zap.Bool("external_fallback", adv.ExternalFallback),
		)
	}
	return adv
}

// Window returns a copy of the client's current score window.
func (m *Monitor) Window(sessionID string, userID uuid.UUID) []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.windows[windowKey(sessionID, userID)]
	if !ok {
		return nil
	}
	scores := make([]int, len(w.scores))
	copy(scores, w.scores)
	return scores
}

// EndCall drops every window belonging to the session.
func (m *Monitor) EndCall(sessionID string) {
	prefix := sessionID + "/"
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.windows {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(m.windows, key)
		}
	}
}
