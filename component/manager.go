package component

import (
	"sync"
	"time"

	"fluidsim/core"
)

// Manager owns every live component and the intake set of newly-settled
// voxels waiting to be claimed. It is driven once per tick, after the
// scheduler's maintenance barrier (§4.5/§4.6), by whatever assembles the
// world (sim.World).
type Manager struct {
	geo    *core.Geometry
	blocks []*core.Block

	maxVoxelsPerIteration int

	mu         sync.Mutex
	intake     []Ref
	components map[*Component]struct{}

	// Counters surfaced to telemetry.Metrics by whatever wires this
	// manager into a sim.World; incremented under mu alongside the state
	// changes they describe.
	mergeCount    int
	removalCount  int
	equalizeCount int
}

// Counts returns a snapshot of (live components, cumulative merges,
// cumulative removals, cumulative equalization passes) for telemetry.
func (m *Manager) Counts() (active, merges, removals, equalizations int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.components), m.mergeCount, m.removalCount, m.equalizeCount
}

// NewManager builds a manager over the world's fixed block set. blocks
// must be indexable by block ID (blocks[id].ID == id), matching how
// sim.World constructs them.
func NewManager(geo *core.Geometry, blocks []*core.Block) *Manager {
	return &Manager{
		geo:                   geo,
		blocks:                blocks,
		maxVoxelsPerIteration: geo.VoxelsPerChunk(),
		components:            make(map[*Component]struct{}),
	}
}

// Enqueue adds newly-settled voxels to the intake set. Safe to call
// concurrently from multiple blocks' maintenance tasks.
func (m *Manager) Enqueue(refs []Ref) {
	if len(refs) == 0 {
		return
	}
	m.mu.Lock()
	m.intake = append(m.intake, refs...)
	m.mu.Unlock()
}

// Components returns a snapshot slice of every live component. Intended
// for telemetry and tests, not the hot path.
func (m *Manager) Components() []*Component {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Component, 0, len(m.components))
	for c := range m.components {
		out = append(out, c)
	}
	return out
}

// GetComponent finds the component owning a voxel, if any: a coarse AABB
// test against every live component, then a row/segment membership test.
func (m *Manager) GetComponent(ref Ref) *Component {
	pos := m.worldPos(ref)

	m.mu.Lock()
	defer m.mu.Unlock()
	for c := range m.components {
		if pos.X < c.Bounds.MinX || pos.X > c.Bounds.MaxX ||
			pos.Y < c.Bounds.MinY || pos.Y > c.Bounds.MaxY ||
			pos.Z < c.Bounds.MinZ || pos.Z > c.Bounds.MaxZ {
			continue
		}
		if c.rowIntersectsZ(RowKey{X: pos.X, Y: pos.Y}, pos.Z) {
			return c
		}
	}
	return nil
}

// MarkForRebuild flags a component for reinitialization on the next
// maintenance pass: its segments are cleaned up (keeping one seed voxel)
// and it re-grows from there, the same remedy the spec prescribes for a
// terrain edit that may have split or reshaped it.
func (m *Manager) MarkForRebuild(c *Component) {
	m.mu.Lock()
	c.ToRebuild = true
	m.mu.Unlock()
}

func (m *Manager) worldPos(ref Ref) core.WorldVoxelPos {
	return m.geo.VoxelToWorld(ref.Block.ID, ref.ChunkID, ref.VoxelID)
}

func (m *Manager) resolve(pos core.WorldVoxelPos) (Ref, bool) {
	blockID, chunkID, voxelID, ok := m.geo.WorldToVoxel(pos)
	if !ok || blockID < 0 || blockID >= len(m.blocks) {
		return Ref{}, false
	}
	return Ref{Block: m.blocks[blockID], ChunkID: chunkID, VoxelID: voxelID}, true
}

// RunTick performs one full component-manager tick: per-component update
// jobs, then the manager's own maintenance pass over the intake set. dt
// accumulates into each component's Lifetime.
func (m *Manager) RunTick(dt time.Duration) {
	m.updateComponents(dt)
	m.runMaintenance()
}

func (m *Manager) updateComponents(dt time.Duration) {
	m.mu.Lock()
	live := make([]*Component, 0, len(m.components))
	for c := range m.components {
		live = append(live, c)
	}
	m.mu.Unlock()

	for _, c := range live {
		c.Lifetime += dt
		if c.Settled || c.Lifetime < MinComponentLifetime || c.Count < MinComponentSize {
			continue
		}
		m.updateComponent(c)
	}
}

// runMaintenance drains the intake set, bounded to maxVoxelsPerIteration
// voxels per tick (the amortized-work pattern the teacher's physics
// phase state machine uses for planet-scale updates, here bounding how
// much of the intake set one tick absorbs), then considers seeding one
// brand new component and removing any that have died out.
func (m *Manager) runMaintenance() {
	m.mu.Lock()
	budget := m.maxVoxelsPerIteration
	if budget > len(m.intake) {
		budget = len(m.intake)
	}
	batch := m.intake[:budget]
	m.intake = m.intake[budget:]
	m.mu.Unlock()

	var unclaimed []Ref
	for _, ref := range batch {
		if !m.tryAddToExistingComponent(ref) {
			unclaimed = append(unclaimed, ref)
		}
	}

	if len(unclaimed) >= MinComponentSize {
		if seed, ok := m.trySeedComponent(unclaimed[0]); ok {
			for _, ref := range unclaimed[1:] {
				if !m.tryAddToExistingComponent(ref) {
					m.mu.Lock()
					m.intake = append(m.intake, ref)
					m.mu.Unlock()
				}
			}
			m.mergeIfTouching(seed)
		} else {
			m.mu.Lock()
			m.intake = append(m.intake, unclaimed...)
			m.mu.Unlock()
		}
	} else if len(unclaimed) > 0 {
		m.mu.Lock()
		m.intake = append(m.intake, unclaimed...)
		m.mu.Unlock()
	}

	m.removeDeadComponents()
	m.rebuildFlaggedComponents()
}

// tryAddToExistingComponent is the two-pass claim: first try to extend a
// component already present in the candidate's own row, then try to
// bridge in from one of the eight row-adjacent neighbours.
func (m *Manager) tryAddToExistingComponent(ref Ref) bool {
	pos := m.worldPos(ref)
	row := RowKey{X: pos.X, Y: pos.Y}
	seg := Segment{ZMin: pos.Z, ZMax: pos.Z}
	visc := ref.voxel().Viscosity

	m.mu.Lock()
	defer m.mu.Unlock()

	for c := range m.components {
		if c.Viscosity != visc {
			continue
		}
		if !c.rowTouchesSegment(row, seg) {
			continue
		}
		c.addSegment(row, seg)
		c.Bounds.encapsulate(pos.X, pos.Y, pos.Z)
		c.Count++
		c.Settled = false
		m.unsettleRef(ref)
		m.mergeComponentLocked(c)
		return true
	}

	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			if dx == 0 && dy == 0 {
				continue
			}
			neighbourRow := RowKey{X: row.X + dx, Y: row.Y + dy}
			for c := range m.components {
				if c.Viscosity != visc {
					continue
				}
				if _, ok := c.Segments[neighbourRow]; !ok {
					continue
				}
				if !c.Bounds.intersects(aabbOf(pos.X, pos.Y, pos.Z)) &&
					(pos.X < c.Bounds.MinX-1 || pos.X > c.Bounds.MaxX+1 ||
						pos.Y < c.Bounds.MinY-1 || pos.Y > c.Bounds.MaxY+1) {
					continue
				}
				c.addSegment(row, seg)
				c.Bounds.encapsulate(pos.X, pos.Y, pos.Z)
				c.Count++
				c.Settled = false
				m.unsettleRef(ref)
				m.mergeComponentLocked(c)
				return true
			}
		}
	}

	return false
}

func (m *Manager) trySeedComponent(ref Ref) (*Component, bool) {
	pos := m.worldPos(ref)
	v := ref.voxel()
	if !v.HasFluid() || !v.Settled {
		return nil, false
	}

	// Refuse to seed directly on top of settled fluid. Only the one voxel
	// below is checked, and no component lookup is made: settled fluid
	// there blocks seeding whether or not a component claims it.
	below := ref.Block.NeighbourVoxel(ref.ChunkID, ref.VoxelID, core.DirNegY)
	if below.Valid && below.HasFluid() && below.Settled {
		return nil, false
	}

	c := newComponent(v.Viscosity)
	row := RowKey{X: pos.X, Y: pos.Y}
	c.addSegment(row, Segment{ZMin: pos.Z, ZMax: pos.Z})
	c.Bounds = aabbOf(pos.X, pos.Y, pos.Z)
	c.Count = 1
	c.WaterLevel = pos.Y

	m.mu.Lock()
	m.components[c] = struct{}{}
	m.mu.Unlock()
	m.unsettleRef(ref)
	return c, true
}

// mergeIfTouching checks a freshly seeded component against every other
// live component once, since seeding happens outside the locked claim
// loop above.
func (m *Manager) mergeIfTouching(c *Component) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mergeComponentLocked(c)
}

// mergeComponentLocked folds any component touching c into it (or vice
// versa): the larger component eats the smaller, and a rebuilding
// component always eats a non-rebuilding peer regardless of size, per
// the documented rule this engine inherited from its reference
// implementation.
func (m *Manager) mergeComponentLocked(c *Component) {
	for other := range m.components {
		if other == c {
			continue
		}
		if !c.touches(other) {
			continue
		}
		winner, loser := c, other
		if !c.Rebuilding && other.Rebuilding {
			winner, loser = other, c
		} else if c.Rebuilding == other.Rebuilding && other.Count > c.Count {
			winner, loser = other, c
		}
		absorb(winner, loser)
		delete(m.components, loser)
		m.mergeCount++
		if winner != c {
			c = winner
		}
	}
}

func absorb(winner, loser *Component) {
	for row, segs := range loser.Segments {
		for _, seg := range segs {
			winner.addSegment(row, seg)
		}
	}
	winner.Bounds.encapsulate(loser.Bounds.MinX, loser.Bounds.MinY, loser.Bounds.MinZ)
	winner.Bounds.encapsulate(loser.Bounds.MaxX, loser.Bounds.MaxY, loser.Bounds.MaxZ)
	winner.Count += loser.Count
	for ref := range loser.Outlets {
		winner.Outlets[ref] = struct{}{}
	}
	winner.Settled = false
}

func (m *Manager) unsettleRef(ref Ref) {
	v := ref.voxel()
	v.Unsettle(1)
	ref.Block.SetVoxel(ref.ChunkID, ref.VoxelID, v)
	ref.Block.MarkUnsettled(ref.ChunkID)
}

// removeDeadComponents drops components that shrank below MinComponentSize
// (or lost all their segments) after outliving MinComponentLifetime,
// unsettling every voxel they still claim so the kernel re-evaluates them
// on its own.
func (m *Manager) removeDeadComponents() {
	m.mu.Lock()
	var dead []*Component
	for c := range m.components {
		if c.Lifetime <= MinComponentLifetime {
			continue
		}
		if len(c.Segments) == 0 || (!c.Rebuilding && c.Count < MinComponentSize) {
			dead = append(dead, c)
		}
	}
	for _, c := range dead {
		delete(m.components, c)
	}
	m.removalCount += len(dead)
	m.mu.Unlock()

	for _, c := range dead {
		m.unsettleAllSegments(c)
	}
}

func (m *Manager) rebuildFlaggedComponents() {
	m.mu.Lock()
	var rebuilding []*Component
	for c := range m.components {
		if c.ToRebuild {
			rebuilding = append(rebuilding, c)
		}
	}
	m.mu.Unlock()

	for _, c := range rebuilding {
		m.rebuildComponent(c)
	}
}

// rebuildComponent clears every segment but one seed voxel and flags the
// component as actively rebuilding, so a concurrent merge always resolves
// in its favor (per the documented rebuilding-always-eats rule) while its
// topology is reconstructed maintenance tick by maintenance tick from the
// intake set.
func (m *Manager) rebuildComponent(c *Component) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var seedRow RowKey
	var seed Segment
	found := false
	for row, segs := range c.Segments {
		if len(segs) > 0 {
			seedRow, seed = row, Segment{ZMin: segs[0].ZMin, ZMax: segs[0].ZMin}
			found = true
			break
		}
	}

	c.Segments = make(map[RowKey][]Segment)
	c.Outlets = make(map[Ref]struct{})
	c.ToRebuild = false
	c.Rebuilding = true
	c.Settled = false
	if found {
		c.Segments[seedRow] = []Segment{seed}
		c.Count = 1
		c.Bounds = aabbOf(seedRow.X, seedRow.Y, seed.ZMin)
	} else {
		c.Count = 0
	}
}

func (m *Manager) unsettleAllSegments(c *Component) {
	for row, segs := range c.Segments {
		for _, seg := range segs {
			for z := seg.ZMin; z <= seg.ZMax; z++ {
				ref, ok := m.resolve(core.WorldVoxelPos{X: row.X, Y: row.Y, Z: z})
				if !ok {
					continue
				}
				m.unsettleRef(ref)
			}
		}
	}
}
