// Package component tracks settled fluid as connected bodies of water (or
// lava, or any other registered fluid type) and equalizes their free
// surfaces, imitating hydrostatic pressure without solving one. It
// generalizes the amortized, multi-frame bookkeeping shape of the
// teacher's physics.AmortizedPhysicsState (process a bounded slice of
// work per call, carry the rest to the next tick) from shell/phase
// indices onto a dynamic partition of voxels into fluid components.
package component

import (
	"time"

	"github.com/google/uuid"

	"fluidsim/core"
)

// Tunables named directly in the specification this package follows.
const (
	MinComponentSize        = 15
	MinComponentLifetime    = 500 * time.Millisecond
	MaxViscosityNotEqualize = 20
)

// Ref addresses a single voxel by the same (block, chunk, voxel) index
// triple the simulation kernel uses. Components never own voxel storage;
// they only ever hold these indices.
type Ref struct {
	Block   *core.Block
	ChunkID int
	VoxelID int
}

func (r Ref) voxel() core.Voxel {
	return r.Block.GetVoxel(r.ChunkID, r.VoxelID)
}

// RowKey identifies one (X, Y) row of a component's segment map: Z is the
// axis segments run along within a row, matching the spec's
// map<(x,y) -> list<[z_min,z_max]>> layout.
type RowKey struct {
	X, Y int
}

// Segment is a maximal contiguous Z-run of settled fluid voxels in one
// row, belonging to exactly one component.
type Segment struct {
	ZMin, ZMax int
}

func (s Segment) touches(other Segment) bool {
	return s.ZMin <= other.ZMax+1 && other.ZMin <= s.ZMax+1
}

func (s Segment) merge(other Segment) Segment {
	out := s
	if other.ZMin < out.ZMin {
		out.ZMin = other.ZMin
	}
	if other.ZMax > out.ZMax {
		out.ZMax = other.ZMax
	}
	return out
}

// AABB is an inclusive axis-aligned bounding box over world voxel
// coordinates.
type AABB struct {
	MinX, MaxX int
	MinY, MaxY int
	MinZ, MaxZ int
}

func aabbOf(x, y, z int) AABB {
	return AABB{MinX: x, MaxX: x, MinY: y, MaxY: y, MinZ: z, MaxZ: z}
}

func (a *AABB) encapsulate(x, y, z int) {
	if x < a.MinX {
		a.MinX = x
	}
	if x > a.MaxX {
		a.MaxX = x
	}
	if y < a.MinY {
		a.MinY = y
	}
	if y > a.MaxY {
		a.MaxY = y
	}
	if z < a.MinZ {
		a.MinZ = z
	}
	if z > a.MaxZ {
		a.MaxZ = z
	}
}

func (a AABB) intersects(b AABB) bool {
	return a.MinX <= b.MaxX && b.MinX <= a.MaxX &&
		a.MinY <= b.MaxY && b.MinY <= a.MaxY &&
		a.MinZ <= b.MaxZ && b.MinZ <= a.MaxZ
}

// intersectsPadded reports whether a and b would intersect if both were
// grown by pad cells on every side: the adjacency test for two
// components that border each other without their exact bounds
// overlapping, matching the single-voxel padded check manager.go already
// uses when adding one voxel to an existing component.
func (a AABB) intersectsPadded(b AABB, pad int) bool {
	return a.MinX-pad <= b.MaxX && b.MinX <= a.MaxX+pad &&
		a.MinY-pad <= b.MaxY && b.MinY <= a.MaxY+pad &&
		a.MinZ-pad <= b.MaxZ && b.MinZ <= a.MaxZ+pad
}

// Component is a connected, settled body of one fluid type: water,
// lava, or any other registered viscosity class.
type Component struct {
	ID uuid.UUID

	Segments map[RowKey][]Segment
	Outlets  map[Ref]struct{}

	Bounds     AABB
	Count      int
	WaterLevel int
	Lifetime   time.Duration
	Viscosity  uint8

	Settled    bool
	ToRebuild  bool
	Rebuilding bool
}

func newComponent(viscosity uint8) *Component {
	return &Component{
		ID:        uuid.New(),
		Segments:  make(map[RowKey][]Segment),
		Outlets:   make(map[Ref]struct{}),
		Viscosity: viscosity,
	}
}

// addSegment merges seg into row's segment list, coalescing any segments
// it now touches or overlaps, and returns whether seg touched or
// overlapped a segment the row already held.
func (c *Component) addSegment(row RowKey, seg Segment) (intersected bool) {
	segs := c.Segments[row]
	merged := seg
	kept := segs[:0]
	for _, existing := range segs {
		if existing.touches(merged) {
			intersected = true
			merged = merged.merge(existing)
			continue
		}
		kept = append(kept, existing)
	}
	kept = append(kept, merged)
	c.Segments[row] = kept
	return intersected
}

// rowIntersectsZ reports whether row already has a segment covering z.
func (c *Component) rowIntersectsZ(row RowKey, z int) bool {
	for _, seg := range c.Segments[row] {
		if z >= seg.ZMin && z <= seg.ZMax {
			return true
		}
	}
	return false
}

// rowTouchesSegment reports whether row has a segment adjacent to or
// overlapping seg (used for the same-row encapsulation pass).
func (c *Component) rowTouchesSegment(row RowKey, seg Segment) bool {
	for _, existing := range c.Segments[row] {
		if existing.touches(seg) {
			return true
		}
	}
	return false
}

// touches reports whether c and other could merge: same viscosity class,
// AABBs that overlap or border each other (padded by one cell), and at
// least one row-adjacent pair of segments.
func (c *Component) touches(other *Component) bool {
	if c.Viscosity != other.Viscosity {
		return false
	}
	if !c.Bounds.intersectsPadded(other.Bounds, 1) {
		return false
	}
	for row, segs := range c.Segments {
		for dx := -1; dx <= 1; dx++ {
			for dy := -1; dy <= 1; dy++ {
				neighbourRow := RowKey{X: row.X + dx, Y: row.Y + dy}
				otherSegs, ok := other.Segments[neighbourRow]
				if !ok {
					continue
				}
				for _, a := range segs {
					for _, b := range otherSegs {
						if a.touches(b) {
							return true
						}
					}
				}
			}
		}
	}
	return false
}
