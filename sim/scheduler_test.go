package sim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fluidsim/core"
)

func TestSchedulerTickReturnsImmediatelyWhenBusy(t *testing.T) {
	geo, err := core.NewGeometry(4, 1, 1, 1, 1)
	require.NoError(t, err)
	b, err := core.NewBlock(geo, 0)
	require.NoError(t, err)
	b.MarkUnsettled(0)

	s := NewScheduler([]*core.Block{b}, 1)
	s.Maintenance = func(active []*core.Block) {
		time.Sleep(20 * time.Millisecond)
	}

	first := s.Tick()
	assert.True(t, first.Started)

	second := s.Tick()
	assert.False(t, second.Started)

	s.Wait()
	assert.False(t, s.Busy())
}

func TestSchedulerRunsStepsAndSwapsBuffers(t *testing.T) {
	geo, err := core.NewGeometry(4, 1, 1, 1, 1)
	require.NoError(t, err)
	b, err := core.NewBlock(geo, 0)
	require.NoError(t, err)

	vpc := geo.VoxelsPerChunk()
	floor := core.Voxel{Solid: core.Vmax, Fluid: 0, Valid: true, Settled: true}
	for i := 0; i < vpc; i++ {
		b.Read()[i] = floor
	}
	waterIdx := geo.VoxelID(1, 2, 1)
	b.Read()[waterIdx] = core.Voxel{Fluid: core.Vmax, Viscosity: 255, Valid: true}
	for x := 0; x < geo.K; x++ {
		for z := 0; z < geo.K; z++ {
			for y := 1; y < geo.K; y++ {
				idx := geo.VoxelID(x, y, z)
				if idx == waterIdx {
					continue
				}
				b.Read()[idx] = core.Voxel{Valid: true}
			}
		}
	}
	b.MarkUnsettled(0)

	var maintCalled bool
	s := NewScheduler([]*core.Block{b}, 2)
	s.Maintenance = func(active []*core.Block) {
		maintCalled = true
		assert.ElementsMatch(t, []*core.Block{b}, active)
	}

	stats := s.Tick()
	require.True(t, stats.Started)
	s.Wait()

	assert.True(t, maintCalled)
	finished := s.Stats()
	assert.Equal(t, 1, finished.ActiveBlocks)

	below := geo.VoxelID(1, 1, 1)
	assert.True(t, b.Read()[below].HasFluid(), "buffers should have swapped after the down step so Read() reflects the new state")
}

func TestSchedulerLeavesIdleBlocksUntouched(t *testing.T) {
	geo, err := core.NewGeometry(4, 1, 1, 1, 1)
	require.NoError(t, err)
	idle, err := core.NewBlock(geo, 0)
	require.NoError(t, err)

	s := NewScheduler([]*core.Block{idle}, 1)
	stats := s.Tick()
	require.True(t, stats.Started)
	s.Wait()

	finished := s.Stats()
	assert.Equal(t, 0, finished.ActiveBlocks)
	assert.Empty(t, idle.ChunksToSimulate)
}
