package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVoxelVolumeScalars(t *testing.T) {
	v := Voxel{Solid: 100, Fluid: 50}
	assert.Equal(t, uint8(150), v.CurrentVolume())
	assert.Equal(t, uint8(23), v.ExcessVolume())
	assert.Equal(t, uint8(0), v.FreeVolume())

	v2 := Voxel{Solid: 10, Fluid: 20}
	assert.Equal(t, uint8(30), v2.CurrentVolume())
	assert.Equal(t, uint8(0), v2.ExcessVolume())
	assert.Equal(t, uint8(Vmax-30), v2.FreeVolume())
}

func TestHasCompatibleViscosity(t *testing.T) {
	water := Voxel{Valid: true, Viscosity: 255}
	lava := Voxel{Valid: true, Viscosity: 20}
	air := Voxel{Valid: true, Viscosity: 0}
	invalid := Voxel{Valid: false, Viscosity: 255}

	assert.True(t, water.HasCompatibleViscosity(air))
	assert.True(t, air.HasCompatibleViscosity(water))
	assert.True(t, water.HasCompatibleViscosity(water))
	assert.False(t, water.HasCompatibleViscosity(lava))
	assert.False(t, water.HasCompatibleViscosity(invalid))
}

func TestUnsettleSaturates(t *testing.T) {
	v := &Voxel{Settled: true, SettleCounter: 65530}
	v.Unsettle(-10)
	require.False(t, v.Settled)
	assert.Equal(t, uint16(65535), v.SettleCounter)

	v2 := &Voxel{SettleCounter: 0}
	v2.Unsettle(5)
	assert.Equal(t, uint16(5), v2.SettleCounter)
}

func TestDecreaseSettleUsesViscosityAsRate(t *testing.T) {
	v := &Voxel{Solid: 0, Fluid: 100, Viscosity: 30, SettleCounter: 100}
	v.DecreaseSettle()
	assert.Equal(t, uint16(70), v.SettleCounter)
	assert.False(t, v.Settled)

	// Zero viscosity with no solid and no fluid: the pure-air case.
	v2 := &Voxel{Solid: 0, Fluid: 0, Viscosity: 0, SettleCounter: 100}
	// Pure air with a nonzero counter still settles immediately per the
	// "cell is pure air" branch, independent of the counter's value.
	v2.DecreaseSettle()
	assert.True(t, v2.Settled)
	assert.Equal(t, uint16(0), v2.SettleCounter)
}

func TestDecreaseSettleZeroCounterSettlesImmediately(t *testing.T) {
	v := &Voxel{Solid: 10, Fluid: 10, Viscosity: 255, SettleCounter: 0}
	v.DecreaseSettle()
	assert.True(t, v.Settled)
}

func TestSettleEliminatesDust(t *testing.T) {
	v := &Voxel{Solid: 0, Fluid: 3, Viscosity: 255, SettleCounter: 7}
	v.Settle()
	assert.Equal(t, uint8(0), v.Fluid)
	assert.Equal(t, uint8(0), v.Viscosity)
	assert.True(t, v.Settled)
	assert.Equal(t, uint16(0), v.SettleCounter)
}

func TestSettleKeepsDustWhenOverflowed(t *testing.T) {
	// fluid is tiny but solid+fluid exceeds Vmax: this is overflow, not
	// dust, so settle should not blank it out before clamping.
	v := &Voxel{Solid: 125, Fluid: 3, Viscosity: 255}
	v.Settle()
	assert.Equal(t, uint8(2), v.Fluid) // clamped: free = Vmax-125 = 2
	assert.Equal(t, uint8(255), v.Viscosity)
}

func TestSettleClampsFluidToFreeVolume(t *testing.T) {
	v := &Voxel{Solid: 100, Fluid: 100, Viscosity: 255}
	v.Settle()
	assert.Equal(t, Vmax-100, v.Fluid)
	assert.LessOrEqual(t, v.Solid+v.Fluid, Vmax)
}

func TestIsSettledTerrain(t *testing.T) {
	terrain := Voxel{Settled: true, Solid: Vmax, Fluid: 0}
	assert.True(t, terrain.IsSettledTerrain())

	wetTerrain := Voxel{Settled: true, Solid: Vmax, Fluid: 1}
	assert.False(t, wetTerrain.IsSettledTerrain())
}
