package loop

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"

	"anima/internal/substrate"
)

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordIdle()
	m.RecordIdle()
	m.RecordSuccess()
	m.RecordFailure()
	m.RecordAudit()

	snap := m.Get()
	assert.Equal(t, uint64(4), snap.Total)
	assert.Equal(t, uint64(1), snap.Successful)
	assert.Equal(t, uint64(1), snap.Failed)
	assert.Equal(t, uint64(2), snap.Idle)
	assert.Equal(t, uint64(1), snap.Audits)
	assert.Equal(t, snap.Total, snap.Successful+snap.Failed+snap.Idle)
}

func TestConsecutiveIdleResetsOnSuccess(t *testing.T) {
	m := NewMetrics(nil)

	m.RecordIdle()
	m.RecordIdle()
	assert.Equal(t, uint64(2), m.Get().ConsecutiveIdle)

	m.RecordSuccess()
	assert.Equal(t, uint64(0), m.Get().ConsecutiveIdle)

	m.RecordIdle()
	m.RecordFailure()
	assert.Equal(t, uint64(0), m.Get().ConsecutiveIdle)
}

func TestEmitterFanOutOrder(t *testing.T) {
	clock := substrate.NewFakeClock(time.Date(2026, 2, 15, 10, 0, 0, 0, time.UTC))
	em := NewEmitter(clock)

	var first, second []EventType
	em.Subscribe(func(ev Event) { first = append(first, ev.Type) })
	em.Subscribe(func(ev Event) { second = append(second, ev.Type) })

	em.Emit(EventCycleComplete, nil)
	em.Emit(EventIdle, nil)

	want := []EventType{EventCycleComplete, EventIdle}
	assert.Equal(t, want, first)
	assert.Equal(t, want, second)
}

func TestEmitterStampsUTC(t *testing.T) {
	clock := substrate.NewFakeClock(time.Date(2026, 2, 15, 10, 0, 0, 0, time.UTC))
	em := NewEmitter(clock)

	var got Event
	em.Subscribe(func(ev Event) { got = ev })
	em.Emit(EventIdle, map[string]any{"cycle": 1})

	assert.Equal(t, clock.Now(), got.Timestamp)
	assert.Equal(t, time.UTC, got.Timestamp.Location())
}
