package health

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMonitor() *Monitor {
	cfg := DefaultMonitorConfig()
	cfg.WindowSize = 8
	return NewMonitor(cfg, nil)
}

func TestMonitorObserveBuildsWindow(t *testing.T) {
	m := testMonitor()
	userID := uuid.New()

	adv := m.Observe("sess-1", userID, NetworkMetrics{})
	require.Equal(t, 100, adv.Score.Score)
	assert.Equal(t, 100, adv.WindowAverage)
	assert.False(t, adv.SwitchRegion)
	assert.False(t, adv.ExternalFallback)

	assert.Equal(t, []int{100}, m.Window("sess-1", userID))
}

func TestMonitorWindowEviction(t *testing.T) {
	m := testMonitor()
	userID := uuid.New()

	for i := 0; i < 12; i++ {
		m.Observe("sess-1", userID, NetworkMetrics{})
	}
	assert.Len(t, m.Window("sess-1", userID), 8)
}

func TestMonitorAdvisesEscalation(t *testing.T) {
	m := testMonitor()
	userID := uuid.New()

	// Dead-network samples score 0, driving both windowed decisions.
	bad := NetworkMetrics{PacketLoss: 50, RTT: 800, Jitter: 300}
	var adv Advisory
	for i := 0; i < 6; i++ {
		adv = m.Observe("sess-1", userID, bad)
	}
	assert.True(t, adv.SwitchRegion)
	assert.True(t, adv.ExternalFallback)
	assert.True(t, adv.Score.ShouldRepair)
}

func TestMonitorWindowsAreIndependent(t *testing.T) {
	m := testMonitor()
	alice, bob := uuid.New(), uuid.New()

	m.Observe("sess-1", alice, NetworkMetrics{PacketLoss: 50})
	m.Observe("sess-1", bob, NetworkMetrics{})

	assert.NotEqual(t, m.Window("sess-1", alice), m.Window("sess-1", bob))
}

func TestMonitorEndCall(t *testing.T) {
	m := testMonitor()
	alice, bob := uuid.New(), uuid.New()

	m.Observe("sess-1", alice, NetworkMetrics{})
	m.Observe("sess-1", bob, NetworkMetrics{})
	m.Observe("sess-2", alice, NetworkMetrics{})

	m.EndCall("sess-1")

	assert.Nil(t, m.Window("sess-1", alice))
	assert.Nil(t, m.Window("sess-1", bob))
	assert.Len(t, m.Window("sess-2", alice), 1)
}
