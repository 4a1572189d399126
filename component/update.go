package component

import (
	"gonum.org/v1/gonum/stat"

	"fluidsim/core"
)

// updateComponent runs one component-tick update: segment validation,
// outlet maintenance, and (for non-lava-class fluids with enough
// staircase) surface equalization.
func (m *Manager) updateComponent(c *Component) {
	m.validateSegments(c)
	if c.Count < MinComponentSize {
		return
	}
	m.accumulateOutlets(c)
	m.updateWaterLevel(c)
	m.equalizeIfNeeded(c)
}

// isValidSegmentVoxel mirrors the spec's per-voxel validity rule: settled,
// carrying fluid, and resting on a settled, full support voxel.
func isValidSegmentVoxel(v, bottom core.Voxel) bool {
	return v.Settled && v.HasFluid() && bottom.Settled && bottom.IsFull()
}

// validateSegments walks every segment in Z order, truncating at the
// first invalid voxel (unsettling it and decrementing Count), and drops
// rows left with no segments.
func (m *Manager) validateSegments(c *Component) {
	for row, segs := range c.Segments {
		var kept []Segment
		for _, seg := range segs {
			validEnd := seg.ZMin - 1
			for z := seg.ZMin; z <= seg.ZMax; z++ {
				ref, ok := m.resolve(core.WorldVoxelPos{X: row.X, Y: row.Y, Z: z})
				if !ok {
					break
				}
				v := ref.voxel()
				bottom := ref.Block.NeighbourVoxel(ref.ChunkID, ref.VoxelID, core.DirNegY)
				if !isValidSegmentVoxel(v, bottom) {
					m.unsettleRef(ref)
					c.Count--
					break
				}
				validEnd = z
			}
			if validEnd >= seg.ZMin {
				kept = append(kept, Segment{ZMin: seg.ZMin, ZMax: validEnd})
			}
		}
		if len(kept) == 0 {
			delete(c.Segments, row)
		} else {
			c.Segments[row] = kept
		}
	}
}

// accumulateOutlets scans the top two Y levels of the component's bounds
// for outlet candidates: a not-full settled fluid voxel contributes
// itself, and a full settled voxel whose compatible top neighbour has
// room contributes that neighbour instead.
func (m *Manager) accumulateOutlets(c *Component) {
	c.Outlets = make(map[Ref]struct{})
	topY := c.Bounds.MaxY
	for y := topY - 1; y <= topY; y++ {
		for row, segs := range c.Segments {
			if row.Y != y {
				continue
			}
			for _, seg := range segs {
				for z := seg.ZMin; z <= seg.ZMax; z++ {
					ref, ok := m.resolve(core.WorldVoxelPos{X: row.X, Y: row.Y, Z: z})
					if !ok {
						continue
					}
					v := ref.voxel()
					if !v.Settled || !v.HasFluid() {
						continue
					}
					if !v.IsFull() {
						c.Outlets[ref] = struct{}{}
						continue
					}
					top := ref.Block.NeighbourVoxel(ref.ChunkID, ref.VoxelID, core.DirPosY)
					if top.Valid && v.HasCompatibleViscosity(top) && !top.IsFull() {
						if topRef, ok := m.neighbourRef(ref, core.DirPosY); ok {
							c.Outlets[topRef] = struct{}{}
						}
					}
				}
			}
		}
	}
	m.pruneInvalidOutlets(c)
}

// pruneInvalidOutlets drops outlets that became invalid: full below the
// water level, or empty above it.
func (m *Manager) pruneInvalidOutlets(c *Component) {
	for ref := range c.Outlets {
		pos := m.worldPos(ref)
		v := ref.voxel()
		if pos.Y < c.WaterLevel && v.IsFull() {
			delete(c.Outlets, ref)
			continue
		}
		if pos.Y > c.WaterLevel && !v.HasFluid() {
			delete(c.Outlets, ref)
		}
	}
}

func (m *Manager) updateWaterLevel(c *Component) {
	if len(c.Outlets) == 0 {
		c.WaterLevel++
		return
	}
	min := -1
	for ref := range c.Outlets {
		y := m.worldPos(ref).Y
		if min == -1 || y < min {
			min = y
		}
	}
	c.WaterLevel = min
}

// equalizeIfNeeded redistributes fluid across the outlet set when the
// surface has enough staircase to matter and the fluid is not a
// lava-class fluid the spec says to leave alone.
func (m *Manager) equalizeIfNeeded(c *Component) {
	if len(c.Outlets) < 2 || c.Viscosity <= MaxViscosityNotEqualize {
		return
	}

	levels := make([]float64, 0, len(c.Outlets))
	refs := make([]Ref, 0, len(c.Outlets))
	for ref := range c.Outlets {
		refs = append(refs, ref)
		levels = append(levels, float64(m.worldPos(ref).Y))
	}
	min, max := levels[0], levels[0]
	for _, l := range levels {
		if l < min {
			min = l
		}
		if l > max {
			max = l
		}
	}
	if max-min < float64(core.Vmax)/2 {
		return
	}
	m.mu.Lock()
	m.equalizeCount++
	m.mu.Unlock()
	avg := stat.Mean(levels, nil)

	var balance float64
	for i, ref := range refs {
		level := levels[i]
		v := ref.voxel()
		if level > avg {
			continue
		}
		newFluid := clampVoxel(avg - (level - float64(v.Fluid)))
		diff := float64(newFluid) - float64(v.Fluid)
		if diff >= 0 {
			balance += diff
		}
		m.applyOutletFluid(c, ref, newFluid)
	}

	var takers []Ref
	for i, ref := range refs {
		if levels[i] > avg {
			takers = append(takers, ref)
		}
	}
	for i, ref := range takers {
		share := balance / float64(len(takers)-i)
		v := ref.voxel()
		newFluid := clampVoxel(float64(v.Fluid) - share)
		withdrawn := float64(v.Fluid) - float64(newFluid)
		balance -= withdrawn
		m.applyOutletFluid(c, ref, newFluid)
	}
}

func clampVoxel(f float64) uint8 {
	if f < 0 {
		return 0
	}
	if f > float64(core.Vmax) {
		return core.Vmax
	}
	return uint8(f)
}

// applyOutletFluid writes an equalized fluid level back to a voxel,
// unsettles it so the kernel re-evaluates its neighbours, and promotes
// its bottom neighbour into the outlet set if the write emptied it (the
// surface descending by one cell).
func (m *Manager) applyOutletFluid(c *Component, ref Ref, newFluid uint8) {
	v := ref.voxel()
	v.Fluid = newFluid
	if v.Fluid == 0 {
		v.Viscosity = 0
	}
	ref.Block.SetVoxel(ref.ChunkID, ref.VoxelID, v)
	ref.Block.MarkUnsettled(ref.ChunkID)

	if newFluid == 0 {
		delete(c.Outlets, ref)
		if belowRef, ok := m.neighbourRef(ref, core.DirNegY); ok {
			c.Outlets[belowRef] = struct{}{}
		}
	}
}

func (m *Manager) neighbourRef(ref Ref, dir core.Dir) (Ref, bool) {
	nChunk, nVoxel, crossed := m.geo.Neighbour(ref.ChunkID, ref.VoxelID, dir)
	if !crossed {
		return Ref{Block: ref.Block, ChunkID: nChunk, VoxelID: nVoxel}, true
	}
	nb := ref.Block.Neighbours[dir]
	if nb == nil {
		return Ref{}, false
	}
	return Ref{Block: nb, ChunkID: nChunk, VoxelID: nVoxel}, true
}
