package sim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fluidsim/core"
)

func testConfig(blocksX, blocksY, blocksZ int) Config {
	return Config{
		ChunkSide:  4,
		BlockSide:  1,
		BlocksX:    blocksX,
		BlocksY:    blocksY,
		BlocksZ:    blocksZ,
		VoxelSizeM: 1.0,
		FluidTypes: []core.FluidType{{Viscosity: 255, Label: "water"}, {Viscosity: 20, Label: "lava"}},
		Workers:    2,
	}
}

func TestNewWorldRejectsBadConfig(t *testing.T) {
	_, err := NewWorld(Config{ChunkSide: 3, BlockSide: 1, BlocksX: 1, BlocksY: 1, BlocksZ: 1, VoxelSizeM: 1})
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	_, err = NewWorld(Config{ChunkSide: 4, BlockSide: 1, BlocksX: 1, BlocksY: 1, BlocksZ: 1, VoxelSizeM: 0})
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestNewWorldWiresBlockNeighbours(t *testing.T) {
	w, err := NewWorld(testConfig(2, 1, 1))
	require.NoError(t, err)
	require.Len(t, w.Blocks, 2)
	assert.Same(t, w.Blocks[1], w.Blocks[0].Neighbours[core.DirPosX])
	assert.Same(t, w.Blocks[0], w.Blocks[1].Neighbours[core.DirNegX])
	assert.Nil(t, w.Blocks[0].Neighbours[core.DirNegX])
}

func TestGetVoxelOutOfBounds(t *testing.T) {
	w, err := NewWorld(testConfig(1, 1, 1))
	require.NoError(t, err)

	_, ok := w.GetVoxel(core.WorldVoxelPos{X: -1, Y: 0, Z: 0})
	assert.False(t, ok)

	_, err = w.GetVoxelByIndices(99, 0, 0)
	assert.ErrorIs(t, err, core.ErrOutOfBounds)
}

func TestModifyFluidQueuesAndDrainsOnTick(t *testing.T) {
	w, err := NewWorld(testConfig(1, 1, 1))
	require.NoError(t, err)

	pos := core.WorldVoxelPos{X: 1, Y: 1, Z: 1}
	w.ModifyFluid(pos, true)

	// Not yet applied: still queued.
	v, ok := w.GetVoxel(pos)
	require.True(t, ok)
	assert.Equal(t, uint8(0), v.Fluid)

	stats := w.Tick(16 * time.Millisecond)
	require.True(t, stats.Started)
	require.NoError(t, w.WaitUntilQuiescent(context.Background()))

	v, ok = w.GetVoxel(pos)
	require.True(t, ok)
	assert.Equal(t, core.Vmax, v.Fluid)
	assert.Equal(t, uint8(255), v.Viscosity)
}

func TestLaterEditWinsWithinSameDrain(t *testing.T) {
	w, err := NewWorld(testConfig(1, 1, 1))
	require.NoError(t, err)

	pos := core.WorldVoxelPos{X: 1, Y: 1, Z: 1}
	w.ModifyFluid(pos, true)
	w.ModifyFluid(pos, false) // later write for the same cell wins

	stats := w.Tick(16 * time.Millisecond)
	require.True(t, stats.Started)
	require.NoError(t, w.WaitUntilQuiescent(context.Background()))

	v, ok := w.GetVoxel(pos)
	require.True(t, ok)
	assert.Equal(t, uint8(0), v.Fluid)
}

func TestTickReturnsImmediatelyWhenBusy(t *testing.T) {
	w, err := NewWorld(testConfig(1, 1, 1))
	require.NoError(t, err)
	w.ModifyFluid(core.WorldVoxelPos{X: 1, Y: 1, Z: 1}, true)

	first := w.Tick(16 * time.Millisecond)
	assert.True(t, first.Started)
	second := w.Tick(16 * time.Millisecond)
	assert.False(t, second.Started)

	require.NoError(t, w.WaitUntilQuiescent(context.Background()))
}

func TestLoadBlockSnapshotRequiresQuiescence(t *testing.T) {
	w, err := NewWorld(testConfig(1, 1, 1))
	require.NoError(t, err)
	n := w.Geo.ChunksPerBlock() * w.Geo.VoxelsPerChunk()
	raw := make([][6]byte, n)

	w.ModifyFluid(core.WorldVoxelPos{X: 1, Y: 1, Z: 1}, true)
	w.Tick(time.Millisecond)
	err = w.LoadBlockSnapshot(0, raw)
	if err != nil {
		assert.ErrorIs(t, err, core.ErrConflict)
	}
	require.NoError(t, w.WaitUntilQuiescent(context.Background()))

	require.NoError(t, w.LoadBlockSnapshot(0, raw))
	_, err = w.LoadBlockSnapshot(0, raw[:1])
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

// TestCrossBlockFlowTraversesBoundary is the S5 scenario: a two-block
// world with a floor, fluid poured at the far edge of block 0 should
// traverse into block 1 and dirty its chunks within a handful of ticks.
func TestCrossBlockFlowTraversesBoundary(t *testing.T) {
	w, err := NewWorld(testConfig(2, 1, 1))
	require.NoError(t, err)
	geo := w.Geo

	edge := geo.VoxelsPerBlockEdge() // 4 (K=4,M=1)

	floor := core.Voxel{Solid: core.Vmax, Valid: true, Settled: true}
	for bx := 0; bx < 2; bx++ {
		b := w.Blocks[bx]
		for x := 0; x < edge; x++ {
			for z := 0; z < edge; z++ {
				idx := geo.VoxelID(x, 0, z)
				b.Read()[idx] = floor
				for y := 1; y < edge; y++ {
					b.Read()[geo.VoxelID(x, y, z)] = core.Voxel{Valid: true, Settled: true}
				}
			}
		}
	}

	// Source fluid at block 0's far +X edge, resting on the floor.
	srcIdx := geo.VoxelID(edge-1, 1, 1)
	w.Blocks[0].Read()[srcIdx] = core.Voxel{Fluid: core.Vmax, Viscosity: 255, Valid: true, Settled: false}
	w.Blocks[0].MarkUnsettled(geo.ChunkID(0, 0, 0))

	for i := 0; i < 40 && !w.Blocks[1].HasUnsettledChunks(); i++ {
		stats := w.Tick(16 * time.Millisecond)
		if !stats.Started {
			continue
		}
		require.NoError(t, w.WaitUntilQuiescent(context.Background()))
	}

	assert.True(t, w.Blocks[1].HasUnsettledChunks(), "fluid should have crossed into block 1's dirty set")
}
