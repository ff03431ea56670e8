package services

import (
	"math/rand"
	"testing"
	"time"

	"netqos/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) (*DecisionEngine, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	return NewDecisionEngine(DefaultEngineConfig(), clock), clock
}

func sampleWith(video, download, lossMA float64) domain.MetricsSample {
	return domain.MetricsSample{
		VideoMbps:          video,
		DownloadMbps:       download,
		VideoMbpsAvg:       video,
		DownloadMbpsAvg:    download,
		VideoLossPercentMA: lossMA,
	}
}

func TestDecisionEngine_StartsIdleAtFullCapacity(t *testing.T) {
	e, _ := newTestEngine(t)
	st := e.State()
	assert.Equal(t, domain.ModeIdle, st.Mode)
	assert.Equal(t, 10.0, st.DownloadLimitMbps)
	assert.Empty(t, st.LossHistory)
}

func TestDecisionEngine_PersistentLossActivatesOnThirdSample(t *testing.T) {
	e, clock := newTestEngine(t)

	for i, loss := range []float64{1.2, 1.5} {
		d, ev := e.Update(sampleWith(4, 5, loss))
		assert.Nil(t, d, "tick %d", i+1)
		assert.Equal(t, domain.EventSteady, ev)
		assert.Equal(t, domain.ModeIdle, e.State().Mode)
		clock.Advance(time.Second)
	}

	d, ev := e.Update(sampleWith(4, 5, 1.3))
	require.NotNil(t, d)
	assert.Equal(t, domain.EventActivated, ev)
	assert.Equal(t, domain.ModeActive, e.State().Mode)
	assert.Equal(t, 1.0, e.State().DownloadLimitMbps)
	assert.Equal(t, clock.Now(), e.State().LastActionTime)

	assert.Equal(t, domain.DecisionApply, d.Kind)
	assert.NotEmpty(t, d.ID)
	assert.Equal(t, domain.ClassPolicy{Name: domain.ClassVideo, Priority: 10, BandwidthLimitMbps: 10}, d.Video())
	assert.Equal(t, domain.ClassPolicy{Name: domain.ClassDownload, Priority: 1, BandwidthLimitMbps: 1}, d.Download())
}

func TestDecisionEngine_TransientLossDoesNotActivate(t *testing.T) {
	e, _ := newTestEngine(t)
	for _, loss := range []float64{1.2, 0.4, 1.5, 1.3, 0.2} {
		d, _ := e.Update(sampleWith(4, 5, loss))
		assert.Nil(t, d)
	}
	assert.Equal(t, domain.ModeIdle, e.State().Mode)
}

func TestDecisionEngine_DebouncedSamplesEmitNothing(t *testing.T) {
	e, clock := newTestEngine(t)
	for _, loss := range []float64{1.2, 1.5, 1.3} {
		e.Update(sampleWith(4, 5, loss))
	}
	require.Equal(t, domain.ModeActive, e.State().Mode)

	for i := 0; i < 5; i++ {
		clock.Advance(500 * time.Millisecond)
		d, ev := e.Update(sampleWith(4, 5, 1.3))
		assert.Nil(t, d)
		assert.Equal(t, domain.EventDebounced, ev)
	}
	assert.Equal(t, 1.0, e.State().DownloadLimitMbps)
}

func TestDecisionEngine_DecreaseStopsAtMinimum(t *testing.T) {
	e, clock := newTestEngine(t)
	for _, loss := range []float64{1.2, 1.5, 1.3} {
		e.Update(sampleWith(4, 5, loss))
	}

	clock.Advance(3 * time.Second)
	d, ev := e.Update(sampleWith(4, 5, 1.4))
	require.NotNil(t, d)
	assert.Equal(t, domain.EventDecreased, ev)
	assert.Equal(t, 1.0, d.Download().BandwidthLimitMbps)
	assert.Equal(t, clock.Now(), e.State().LastActionTime)
}

func TestDecisionEngine_BandwidthRegressionDecreasesLimit(t *testing.T) {
	e, clock := newTestEngine(t)
	e.mode = domain.ModeActive
	e.limit = 5
	e.maxVideoAvg = 4
	e.lastActionTime = clock.Now()
	clock.Advance(3 * time.Second)

	d, ev := e.Update(sampleWith(3, 5, 0))
	require.NotNil(t, d)
	assert.Equal(t, domain.EventDecreased, ev)
	assert.Equal(t, "bandwidth regression", d.Reason)
	assert.Equal(t, 4.0, d.Download().BandwidthLimitMbps)
	assert.Equal(t, 4.0, e.State().MaxObservedVideoAvgMbps)
}

func TestDecisionEngine_RegressionActivatesFromIdle(t *testing.T) {
	e, _ := newTestEngine(t)
	d, _ := e.Update(sampleWith(4, 5, 0))
	assert.Nil(t, d)

	d, ev := e.Update(sampleWith(3, 5, 0))
	require.NotNil(t, d)
	assert.Equal(t, domain.EventActivated, ev)
	assert.Equal(t, 1.0, e.State().DownloadLimitMbps)
}

func TestDecisionEngine_ProbesUpThenReleases(t *testing.T) {
	e, clock := newTestEngine(t)
	e.mode = domain.ModeActive
	e.limit = 8.5
	e.maxVideoAvg = 0.3
	e.lastActionTime = clock.Now()

	clock.Advance(3 * time.Second)
	d, ev := e.Update(sampleWith(0.3, 6, 0))
	require.NotNil(t, d)
	assert.Equal(t, domain.EventIncreased, ev)
	assert.Equal(t, 9.5, d.Download().BandwidthLimitMbps)
	assert.Equal(t, domain.ModeActive, e.State().Mode)

	clock.Advance(3 * time.Second)
	d, ev = e.Update(sampleWith(0.3, 6, 0))
	require.NotNil(t, d)
	assert.Equal(t, domain.EventReleased, ev)
	assert.Equal(t, domain.DecisionReset, d.Kind)
	assert.Equal(t, domain.ClassPolicy{Name: domain.ClassVideo, Priority: 7, BandwidthLimitMbps: 10}, d.Video())
	assert.Equal(t, domain.ClassPolicy{Name: domain.ClassDownload, Priority: 5, BandwidthLimitMbps: 10}, d.Download())
	assert.Equal(t, domain.ModeIdle, e.State().Mode)
	assert.Equal(t, 10.0, e.State().DownloadLimitMbps)
}

func TestDecisionEngine_IncreaseReservesVideoHeadroom(t *testing.T) {
	e, clock := newTestEngine(t)
	e.mode = domain.ModeActive
	e.limit = 5.5
	e.maxVideoAvg = 4
	e.lastActionTime = clock.Now()

	clock.Advance(3 * time.Second)
	d, _ := e.Update(sampleWith(4, 5, 0))
	require.NotNil(t, d)
	assert.Equal(t, 6.0, d.Download().BandwidthLimitMbps, "capped at capacity minus video high-water mark")
}

func TestDecisionEngine_HeadroomShrinkIsReportedAsDecrease(t *testing.T) {
	e, clock := newTestEngine(t)
	e.mode = domain.ModeActive
	e.limit = 7
	e.maxVideoAvg = 4
	e.lastActionTime = clock.Now()

	clock.Advance(3 * time.Second)
	d, ev := e.Update(sampleWith(4, 5, 0))
	require.NotNil(t, d)
	assert.Equal(t, domain.EventDecreased, ev)
	assert.Equal(t, "video headroom", d.Reason)
	assert.Equal(t, 6.0, e.State().DownloadLimitMbps)
	assert.Equal(t, clock.Now(), e.State().LastActionTime)

	// at the ceiling nothing changes and nothing is pushed
	clock.Advance(3 * time.Second)
	d, ev = e.Update(sampleWith(4, 5, 0))
	assert.Nil(t, d)
	assert.Equal(t, domain.EventHeld, ev)
	assert.Equal(t, 6.0, e.State().DownloadLimitMbps)
	assert.Equal(t, domain.ModeActive, e.State().Mode)
}

func TestDecisionEngine_ReleasesAtMaxBandwidthBelowIdleThreshold(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.MaxBandwidthMbps = 8
	clock := newFakeClock()
	e := NewDecisionEngine(cfg, clock)

	for _, loss := range []float64{1.2, 1.5, 1.3} {
		e.Update(sampleWith(0.3, 6, loss))
	}
	require.Equal(t, domain.ModeActive, e.State().Mode)

	var last domain.Event
	for i := 0; i < 30 && e.State().Mode == domain.ModeActive; i++ {
		clock.Advance(3 * time.Second)
		_, last = e.Update(sampleWith(0.3, 6, 0))
		require.LessOrEqual(t, e.State().DownloadLimitMbps, 10.0)
	}
	assert.Equal(t, domain.EventReleased, last)
	assert.Equal(t, domain.ModeIdle, e.State().Mode)
}

func TestDecisionEngine_TrafficAbsentResetsImmediately(t *testing.T) {
	e, clock := newTestEngine(t)
	for _, loss := range []float64{1.2, 1.5, 1.3} {
		e.Update(sampleWith(4, 5, loss))
	}
	require.Equal(t, domain.ModeActive, e.State().Mode)

	// still inside the probe interval: absence takes precedence over debounce
	clock.Advance(time.Second)
	d, ev := e.Update(sampleWith(0, 4, 0))
	require.NotNil(t, d)
	assert.Equal(t, domain.EventAbsent, ev)
	assert.Equal(t, domain.DecisionReset, d.Kind)
	assert.Equal(t, 10.0, d.Video().BandwidthLimitMbps)
	assert.Equal(t, 10.0, d.Download().BandwidthLimitMbps)

	st := e.State()
	assert.Equal(t, domain.ModeIdle, st.Mode)
	assert.Equal(t, 0.0, st.MaxObservedVideoAvgMbps, "video absent clears the high-water mark")
	assert.Empty(t, st.LossHistory)
}

func TestDecisionEngine_AbsentWhileIdleEmitsNothing(t *testing.T) {
	e, _ := newTestEngine(t)
	d, ev := e.Update(domain.MetricsSample{})
	assert.Nil(t, d)
	assert.Equal(t, domain.EventAbsent, ev)
}

func TestDecisionEngine_PerClassAbsentMode(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.AbsentMode = AbsentModePerClass
	e := NewDecisionEngine(cfg, newFakeClock())

	// total is well above half capacity but video is missing
	d, ev := e.Update(sampleWith(0.05, 9, 5))
	assert.Nil(t, d)
	assert.Equal(t, domain.EventAbsent, ev)

	// total below half capacity but both classes present: not absent
	_, ev = e.Update(sampleWith(1, 2, 0))
	assert.Equal(t, domain.EventSteady, ev)
}

func TestDecisionEngine_MalformedSampleIsNormalized(t *testing.T) {
	e, _ := newTestEngine(t)
	_, ev := e.Update(domain.MetricsSample{VideoMbps: -4, DownloadMbps: -5, VideoLossPercentMA: 500})
	assert.Equal(t, domain.EventAbsent, ev)
	assert.Equal(t, domain.ModeIdle, e.State().Mode)
}

func TestDecisionEngine_LimitStaysWithinBounds(t *testing.T) {
	e, clock := newTestEngine(t)
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 2000; i++ {
		clock.Advance(time.Duration(rng.Intn(4000)) * time.Millisecond)
		s := sampleWith(rng.Float64()*10, rng.Float64()*10, rng.Float64()*3)
		s.VideoMbpsAvg = rng.Float64() * 10

		require.NotPanics(t, func() { e.Update(s) })
		st := e.State()
		require.GreaterOrEqual(t, st.DownloadLimitMbps, 1.0)
		require.LessOrEqual(t, st.DownloadLimitMbps, 10.0)
		if st.Mode == domain.ModeIdle {
			require.Equal(t, 10.0, st.DownloadLimitMbps)
		}
	}
}

func TestDecisionEngine_InvariantViolationPanics(t *testing.T) {
	e, _ := newTestEngine(t)
	e.mode = domain.ModeActive
	e.limit = 0
	assert.Panics(t, e.checkInvariants)

	e.mode = domain.ModeIdle
	e.limit = 5
	assert.Panics(t, e.checkInvariants)
}
