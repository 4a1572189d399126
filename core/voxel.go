package core

import "math"

// Vmax is the per-voxel volume ceiling. Transient values up to 255 are
// allowed between kernel writes (the extra headroom absorbs overflow
// while a tick is in flight); Settle clamps back down to Vmax.
const Vmax uint8 = 127

// NeighbourCount is the number of face neighbours a voxel has: ±X, ±Y
// (Y is up), ±Z.
const NeighbourCount = 6

// Epsilon is the dust threshold: fluid at or below this amount, with no
// overflow present, is cleared to zero by Settle rather than kept as an
// infinitesimal trickle.
const Epsilon uint8 = NeighbourCount - 1

// Voxel is the atomic simulated cell: one byte of solid mass, one byte
// of fluid mass, a viscosity tag naming the fluid occupying it, a
// settle counter integrating "evidence of activity," and the
// settled/valid flags.
type Voxel struct {
	Solid         uint8
	Fluid         uint8
	Viscosity     uint8
	SettleCounter uint16
	Settled       bool
	Valid         bool
}

// InvalidVoxel is the sentinel returned for any position outside the
// one-voxel border frame, or where no neighbour block exists. It reads
// as a documented zero-filled, invalid cell: callers that route it
// through HasCompatibleViscosity see it as an incompatible wall.
var InvalidVoxel = Voxel{}

// CurrentVolume is solid+fluid, saturated to 255 (the two fields never
// individually exceed 255, so this cannot overflow a uint16 sum, but the
// transient sum between kernel writes may exceed Vmax).
func (v Voxel) CurrentVolume() uint8 {
	sum := int(v.Solid) + int(v.Fluid)
	if sum > 255 {
		sum = 255
	}
	return uint8(sum)
}

// ExcessVolume is how far current volume sits above Vmax.
func (v Voxel) ExcessVolume() uint8 {
	cur := int(v.Solid) + int(v.Fluid)
	if cur <= int(Vmax) {
		return 0
	}
	return uint8(cur - int(Vmax))
}

// FreeVolume is how much room remains under Vmax.
func (v Voxel) FreeVolume() uint8 {
	cur := int(v.Solid) + int(v.Fluid)
	if cur >= int(Vmax) {
		return 0
	}
	return uint8(int(Vmax) - cur)
}

// HasFluid reports whether the voxel carries any fluid mass.
func (v Voxel) HasFluid() bool {
	return v.Fluid > 0
}

// IsFull reports whether the voxel has no free volume left.
func (v Voxel) IsFull() bool {
	return v.FreeVolume() == 0
}

// HasCompatibleViscosity reports whether fluid can move between v and
// other: other must be a real (valid) cell, and either side must be
// "no fluid type" (0) or both sides must name the same fluid.
func (v Voxel) HasCompatibleViscosity(other Voxel) bool {
	if !other.Valid {
		return false
	}
	return v.Viscosity == 0 || other.Viscosity == 0 || v.Viscosity == other.Viscosity
}

// Unsettle saturating-adds |delta| into the settle counter and clears
// the settled flag. Called whenever a write changes a voxel's fluid
// content by a nonzero amount.
func (v *Voxel) Unsettle(delta int32) {
	if delta < 0 {
		delta = -delta
	}
	sum := int64(v.SettleCounter) + int64(delta)
	if sum > math.MaxUint16 {
		sum = math.MaxUint16
	}
	v.SettleCounter = uint16(sum)
	v.Settled = false
}

// DecreaseSettle erodes the settle counter by one unit of "evidence
// decay": by the voxel's own viscosity (treating zero — no fluid type —
// as the fastest possible settling rate, u8::MAX). If the counter is
// already zero, or the cell is pure air, it settles immediately instead.
func (v *Voxel) DecreaseSettle() {
	if v.SettleCounter == 0 || (v.Solid == 0 && v.Fluid == 0) {
		v.Settle()
		return
	}
	rate := uint16(v.Viscosity)
	if rate == 0 {
		rate = math.MaxUint8
	}
	if rate >= v.SettleCounter {
		v.SettleCounter = 0
	} else {
		v.SettleCounter -= rate
	}
}

// Settle normalizes the voxel to a resting state: dust elimination
// (tiny, non-overflowed fluid is cleared), fluid clamped so that
// solid+fluid never exceeds Vmax, the counter zeroed, and the settled
// flag raised.
func (v *Voxel) Settle() {
	if v.Fluid <= Epsilon && v.ExcessVolume() == 0 {
		v.Fluid = 0
		v.Viscosity = 0
	}
	if free := int(Vmax) - int(v.Solid); free < 0 {
		v.Fluid = 0
	} else if int(v.Fluid) > free {
		v.Fluid = uint8(free)
	}
	if v.Fluid == 0 {
		v.Viscosity = 0
	}
	v.SettleCounter = 0
	v.Settled = true
}

// IsSettledTerrain reports whether this voxel is settled solid terrain
// with no fluid at all — the kernel never needs to revisit these.
func (v Voxel) IsSettledTerrain() bool {
	return v.Settled && v.Solid == Vmax && v.Fluid == 0
}
