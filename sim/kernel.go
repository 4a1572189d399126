// Package sim implements the cellular-automaton flow rules (§4.4 of the
// spec this engine follows) and the block-scoped, double-buffered
// parallel scheduler that drives them (§4.5), generalizing the
// teacher's single-threaded shell-to-shell flow pass
// (physics/water_flow.go) and its background double-buffered engine
// (physics/threaded_physics.go) into a per-block worker-pool job graph
// over a cubic voxel grid.
package sim

import (
	"math"

	"fluidsim/core"
)

// Step names one of the three passes the kernel runs, in order, each
// tick.
type Step int

const (
	StepUp Step = iota
	StepDown
	StepSideways
)

func (s Step) String() string {
	switch s {
	case StepUp:
		return "up"
	case StepDown:
		return "down"
	case StepSideways:
		return "sideways"
	default:
		return "unknown"
	}
}

// horizontalDirs are the four lateral face directions levelled during
// StepSideways.
var horizontalDirs = [4]core.Dir{core.DirPosZ, core.DirNegZ, core.DirPosX, core.DirNegX}

// settledLike treats an invalid (no-block / wall) neighbour as settled:
// a wall never changes, so it should not keep a voxel from taking the
// equilibrium shortcut of invariant 2.
func settledLike(v core.Voxel) bool {
	return !v.Valid || v.Settled
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// RunStep executes one kernel pass over a block's frozen plan
// (b.ChunksToSimulate), reading b.Read() and the neighbour views rebuilt
// by the scheduler, and writing b.Write(). It appends to
// b.ChunksToUnsettle and b.VoxelsToProcess as voxels settle or stay
// active, per §4.4.
func RunStep(b *core.Block, step Step) {
	write := b.Write()
	vpc := b.Geo.VoxelsPerChunk()

	for _, chunkID := range b.ChunksToSimulate {
		chunkDirty := false
		base := chunkID * vpc

		for voxelID := 0; voxelID < vpc; voxelID++ {
			idx := base + voxelID
			orig := b.GetVoxel(chunkID, voxelID)

			top := b.NeighbourVoxel(chunkID, voxelID, core.DirPosY)
			bottom := b.NeighbourVoxel(chunkID, voxelID, core.DirNegY)
			posX := b.NeighbourVoxel(chunkID, voxelID, core.DirPosX)
			negX := b.NeighbourVoxel(chunkID, voxelID, core.DirNegX)
			posZ := b.NeighbourVoxel(chunkID, voxelID, core.DirPosZ)
			negZ := b.NeighbourVoxel(chunkID, voxelID, core.DirNegZ)

			if orig.IsSettledTerrain() {
				write[idx] = orig
				continue
			}
			if orig.Settled &&
				settledLike(top) && settledLike(bottom) &&
				settledLike(posX) && settledLike(negX) &&
				settledLike(posZ) && settledLike(negZ) {
				write[idx] = orig
				continue
			}

			var transfer float64
			newVisc := orig.Viscosity

			switch step {
			case StepUp:
				transfer, newVisc = upTransfer(orig, top, bottom)
			case StepDown:
				transfer, newVisc = downTransfer(orig, top, bottom)
			case StepSideways:
				neighbours := [4]core.Voxel{posX, negX, posZ, negZ}
				transfer, newVisc = sidewaysTransfer(orig, horizontalDirs, neighbours)
			}

			out := orig
			newFluid := clampInt(int(orig.Fluid)+int(math.Round(transfer)), 0, 255)
			out.Fluid = uint8(newFluid)
			if out.Fluid > 0 {
				out.Viscosity = newVisc
			} else {
				out.Viscosity = 0
			}

			diff := int32(out.Fluid) - int32(orig.Fluid)
			switch {
			case diff != 0:
				out.Unsettle(diff)
			case step == StepSideways && !out.Settled:
				falling := top.HasFluid() && !bottom.Settled
				if !falling {
					wasSettled := out.Settled
					out.DecreaseSettle()
					if !wasSettled && out.Settled && out.HasFluid() {
						b.VoxelsToProcess = append(b.VoxelsToProcess, idx)
					}
				}
			}

			write[idx] = out
			if !out.Settled {
				chunkDirty = true
				// Wake the chunk on the far side of any face this voxel
				// sits on, so the cells it exchanges with are simulated too.
				for _, dir := range blockDirs {
					nChunk, _, crossed := b.Geo.Neighbour(chunkID, voxelID, dir)
					switch {
					case crossed && b.Neighbours[dir] != nil:
						b.Neighbours[dir].MarkUnsettled(nChunk)
					case !crossed && nChunk != chunkID:
						b.ChunksToUnsettle = append(b.ChunksToUnsettle, nChunk)
					}
				}
			}
		}

		if chunkDirty {
			b.ChunksToUnsettle = append(b.ChunksToUnsettle, chunkID)
		}
	}
}

// upTransfer pushes volume overflow (solid+fluid>Vmax, e.g. from a
// terrain edit under existing fluid) up into the top neighbour, and
// symmetrically pulls the bottom neighbour's overflow up into this
// voxel. No
// transfer happens at all if the voxel and its bottom neighbour carry
// incompatible fluids.
func upTransfer(v, top, bottom core.Voxel) (transfer float64, newVisc uint8) {
	newVisc = v.Viscosity
	if !v.HasCompatibleViscosity(bottom) {
		return 0, newVisc
	}
	var ownExcess float64
	if v.HasCompatibleViscosity(top) {
		ownExcess = float64(v.ExcessVolume())
	}
	transfer = float64(bottom.ExcessVolume()) - ownExcess
	// Only adopt the bottom's viscosity tag on a genuine net gain from it;
	// a zero or outgoing transfer must never overwrite an at-rest fluid's
	// tag just because an adjacent, unrelated (e.g. empty) neighbour
	// happened to pass the compatibility gate.
	if transfer > 0 {
		newVisc = bottom.Viscosity
	}
	return transfer, newVisc
}

// downTransfer is gravity: fluid falls from the top neighbour into this
// voxel, and this voxel's own fluid falls into the bottom neighbour, up
// to whatever free volume is available on each side. Gated entirely on
// compatibility with the top neighbour — incompatible fluids never mix
// by falling through each other.
func downTransfer(v, top, bottom core.Voxel) (transfer float64, newVisc uint8) {
	newVisc = v.Viscosity
	if !v.HasCompatibleViscosity(top) {
		return 0, newVisc
	}
	var out float64
	if v.HasCompatibleViscosity(bottom) {
		out = math.Min(float64(v.Fluid), float64(bottom.FreeVolume()))
	}
	in := math.Min(float64(top.Fluid), float64(v.FreeVolume()))
	transfer = in - out
	if transfer > 0 {
		newVisc = top.Viscosity
	}
	return transfer, newVisc
}

// sidewaysTransfer levels fluid across the four horizontal neighbours.
// Each compatible neighbour contributes an independent give/take share
// of the height (current-volume) difference; each contribution is
// scaled by the viscosity of whichever side actually carries the fluid
// (so an air cell with no established viscosity still flows at the
// incoming fluid's rate) and snapped to ±1 when it is nonzero but
// smaller in magnitude than that rate (viscosity/255).
func sidewaysTransfer(v core.Voxel, dirs [4]core.Dir, neighbours [4]core.Voxel) (transfer float64, newVisc uint8) {
	const share = 1.0 / float64(core.NeighbourCount-1)

	newVisc = v.Viscosity
	var bestIn float64
	var net float64

	for _, nv := range neighbours {
		if !v.HasCompatibleViscosity(nv) {
			continue
		}
		diff := (float64(v.CurrentVolume()) - float64(nv.CurrentVolume())) * share
		out := clampF(diff, 0, float64(v.Fluid)*share)
		in := clampF(-diff, 0, float64(nv.Fluid)*share)

		rateVisc := v.Viscosity
		if rateVisc == 0 {
			rateVisc = nv.Viscosity
		}
		rate := float64(rateVisc) / 255.0

		scaled := (in - out) * rate
		if scaled != 0 && math.Abs(scaled) < rate {
			if scaled > 0 {
				scaled = 1
			} else {
				scaled = -1
			}
		}
		net += scaled

		if in > bestIn {
			bestIn = in
			if nv.Viscosity != 0 {
				newVisc = nv.Viscosity
			}
		}
	}

	return net, newVisc
}
