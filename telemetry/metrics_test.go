package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveTickRecordsDurationsAndActiveBlocks(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveTick(25*time.Millisecond, []string{"up", "down", "sideways"},
		[]time.Duration{5 * time.Millisecond, 6 * time.Millisecond, 7 * time.Millisecond}, 3)

	families, err := reg.Gather()
	require.NoError(t, err)

	var sawActiveBlocks bool
	var tickSampleCount uint64
	for _, fam := range families {
		switch fam.GetName() {
		case "fluidsim_active_blocks":
			sawActiveBlocks = true
			assert.Equal(t, 3.0, fam.Metric[0].GetGauge().GetValue())
		case "fluidsim_tick_duration_seconds":
			tickSampleCount = fam.Metric[0].GetHistogram().GetSampleCount()
		}
	}
	assert.True(t, sawActiveBlocks)
	assert.Equal(t, uint64(1), tickSampleCount)
}

func TestStepDurationLabelsByStepName(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ObserveTick(time.Millisecond, []string{"up"}, []time.Duration{time.Millisecond}, 1)

	families, err := reg.Gather()
	require.NoError(t, err)

	var found *dto.MetricFamily
	for _, fam := range families {
		if fam.GetName() == "fluidsim_step_duration_seconds" {
			found = fam
		}
	}
	require.NotNil(t, found)
	require.Len(t, found.Metric, 1)
	require.Len(t, found.Metric[0].Label, 1)
	assert.Equal(t, "step", found.Metric[0].Label[0].GetName())
	assert.Equal(t, "up", found.Metric[0].Label[0].GetValue())
}
