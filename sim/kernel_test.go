package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fluidsim/core"
)

func isolatedBlock(t *testing.T, k int) (*core.Geometry, *core.Block) {
	t.Helper()
	geo, err := core.NewGeometry(k, 1, 1, 1, 1)
	require.NoError(t, err)
	b, err := core.NewBlock(geo, 0)
	require.NoError(t, err)
	// No neighbour blocks: every Neighbours[dir] stays nil, so any step
	// that crosses this block's edge sees InvalidVoxel (a wall).
	return geo, b
}

func setVoxel(b *core.Block, geo *core.Geometry, x, y, z int, v core.Voxel) {
	idx := geo.VoxelID(x, y, z)
	b.Read()[idx] = v
}

func getWritten(b *core.Block, geo *core.Geometry, x, y, z int) core.Voxel {
	idx := geo.VoxelID(x, y, z)
	return b.Write()[idx]
}

func TestUpTransferPushesOverflowUp(t *testing.T) {
	v := core.Voxel{Solid: 120, Fluid: 20, Viscosity: 255, Valid: true, Settled: true} // excess 13
	top := core.Voxel{Solid: 0, Fluid: 0, Valid: true, Settled: true}
	bottom := core.Voxel{Solid: 0, Fluid: 0, Valid: true, Settled: true} // excess 0, incompatible? visc 0 is wildcard

	transfer, newVisc := upTransfer(v, top, bottom)
	// bottom excess 0, own excess 13 (top compatible since wildcard) -> transfer = 0 - 13 = -13
	assert.Equal(t, -13.0, transfer)
	// Outgoing transfer: the voxel keeps its own viscosity tag rather than
	// adopting the (irrelevant, since nothing flowed in) bottom's.
	assert.Equal(t, v.Viscosity, newVisc)
}

func TestUpTransferNoTransferWhenBottomIncompatible(t *testing.T) {
	v := core.Voxel{Solid: 0, Fluid: 50, Viscosity: 255, Valid: true}
	bottom := core.Voxel{Solid: 0, Fluid: 50, Viscosity: 20, Valid: true} // different, real fluid
	top := core.Voxel{Valid: true}

	transfer, newVisc := upTransfer(v, top, bottom)
	assert.Equal(t, 0.0, transfer)
	assert.Equal(t, v.Viscosity, newVisc)
}

func TestDownTransferFallsFromAboveAndDrainsBelow(t *testing.T) {
	v := core.Voxel{Solid: 0, Fluid: 20, Viscosity: 255, Valid: true}
	top := core.Voxel{Solid: 0, Fluid: 127, Viscosity: 255, Valid: true}
	bottom := core.Voxel{Solid: 0, Fluid: 0, Viscosity: 0, Valid: true}

	transfer, newVisc := downTransfer(v, top, bottom)
	// out = min(20, bottom.free=127) = 20; in = min(127, v.free=107) = 107
	assert.Equal(t, 107.0-20.0, transfer)
	assert.Equal(t, uint8(255), newVisc)
}

func TestDownTransferBlockedByIncompatibleTop(t *testing.T) {
	v := core.Voxel{Solid: 0, Fluid: 20, Viscosity: 255, Valid: true}
	top := core.Voxel{Solid: 0, Fluid: 50, Viscosity: 20, Valid: true}
	bottom := core.Voxel{Valid: true}

	transfer, newVisc := downTransfer(v, top, bottom)
	assert.Equal(t, 0.0, transfer)
	assert.Equal(t, v.Viscosity, newVisc)
}

func TestSidewaysLevelsTowardEqualHeight(t *testing.T) {
	v := core.Voxel{Solid: 0, Fluid: 100, Viscosity: 255, Valid: true}
	lower := core.Voxel{Solid: 0, Fluid: 0, Viscosity: 0, Valid: true}
	dirs := horizontalDirs
	neighbours := [4]core.Voxel{lower, lower, lower, lower}

	transfer, _ := sidewaysTransfer(v, dirs, neighbours)
	assert.Less(t, transfer, 0.0) // net outgoing: voxel is higher than all neighbours
}

func TestSidewaysSnapsToUnityForLowViscosity(t *testing.T) {
	// Tiny difference that would round to zero without the snap.
	v := core.Voxel{Solid: 0, Fluid: 11, Viscosity: 20, Valid: true}
	neighbour := core.Voxel{Solid: 0, Fluid: 10, Viscosity: 20, Valid: true}
	dirs := horizontalDirs
	neighbours := [4]core.Voxel{neighbour, neighbour, neighbour, neighbour}

	transfer, _ := sidewaysTransfer(v, dirs, neighbours)
	assert.NotEqual(t, 0.0, transfer)
}

func TestRunStepSkipsFullyEquilibratedWorld(t *testing.T) {
	geo, b := isolatedBlock(t, 4)
	vpc := geo.VoxelsPerChunk()
	for i := 0; i < vpc; i++ {
		v := core.Voxel{Solid: core.Vmax, Fluid: 0, Valid: true, Settled: true}
		b.Read()[i] = v
		b.Write()[i] = v
	}
	b.ChunksToSimulate = []int{0}
	b.ChunksToUnsettle = nil
	b.VoxelsToProcess = nil

	RunStep(b, StepUp)
	RunStep(b, StepDown)
	RunStep(b, StepSideways)

	assert.Empty(t, b.ChunksToUnsettle)
	assert.Empty(t, b.VoxelsToProcess)
}

func TestRunStepDownMovesWaterIntoEmptySpace(t *testing.T) {
	geo, b := isolatedBlock(t, 4)
	vpc := geo.VoxelsPerChunk()
	floor := core.Voxel{Solid: core.Vmax, Fluid: 0, Valid: true, Settled: true}
	for i := 0; i < vpc; i++ {
		b.Read()[i] = floor
	}
	// Floor at y=0, water column at y=2, everything else air.
	for x := 0; x < geo.K; x++ {
		for z := 0; z < geo.K; z++ {
			for y := 1; y < geo.K; y++ {
				v := core.Voxel{Valid: true}
				if y == 2 && x == 1 && z == 1 {
					v = core.Voxel{Fluid: core.Vmax, Viscosity: 255, Valid: true}
				}
				setVoxel(b, geo, x, y, z, v)
			}
		}
	}

	b.ChunksToSimulate = []int{0}
	RunStep(b, StepDown)

	below := getWritten(b, geo, 1, 1, 1)
	assert.True(t, below.HasFluid(), "fluid should have fallen into the empty voxel below")
	assert.Equal(t, uint8(255), below.Viscosity)
}
