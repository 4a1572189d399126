package core

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Block is the unit of simulation parallelism: a cubic group of M³
// chunks owning one contiguous, double-buffered voxel array. Only
// index-valued links ("pointers" to other blocks/chunks/voxels) cross
// block boundaries; the voxel storage itself is exclusively owned here.
type Block struct {
	ID  int
	Geo *Geometry

	bufs       [2][]Voxel
	activeRead atomic.Int32 // 0 or 1: index of the buffer callers should treat as "read"

	dirtyMu         sync.Mutex
	unsettledChunks map[int]struct{} // incoming dirty set, mutated concurrently (§5)

	// ChunksToSimulate is the frozen plan for the current tick, built by
	// Plan() from the incoming dirty set.
	ChunksToSimulate []int

	// JustSettledChunks holds chunks that were unsettled last tick but
	// did not reappear this tick: they just settled and need whatever
	// external mesh-rebuild hook the (out-of-scope) renderer provides.
	JustSettledChunks []int

	// ChunksToUnsettle and VoxelsToProcess are produced by the kernel
	// during this tick's steps/maintenance; the scheduler drains them
	// after the maintenance barrier. Only this block's own tasks write
	// to them during a tick, so no lock is needed for these two.
	ChunksToUnsettle []int
	VoxelsToProcess  []int

	// Neighbours[dir] is nil when no block exists in that direction.
	// Reads through a neighbour always go via its own Read(), which is
	// what makes "rebinding" neighbour views each tick (§4.5) free: a
	// block with no job this tick never swaps, so its Read() is static;
	// an active neighbour's Read() tracks whichever buffer it is
	// currently exposing as the step-consistent snapshot.
	Neighbours [6]*Block

	Chunks []ChunkHandle
}

// NewBlock allocates a block's double-buffered voxel storage and chunk
// bookkeeping. Returns ErrResourceExhausted if allocating a buffer
// panics (e.g. a length out of range), recovering the panic here; a
// runtime out-of-memory failure is fatal in Go and is not recovered.
func NewBlock(geo *Geometry, id int) (*Block, error) {
	n := geo.ChunksPerBlock() * geo.VoxelsPerChunk()
	bufA, err := safeAllocVoxels(n)
	if err != nil {
		return nil, err
	}
	bufB, err := safeAllocVoxels(n)
	if err != nil {
		return nil, err
	}

	b := &Block{
		ID:              id,
		Geo:             geo,
		unsettledChunks: make(map[int]struct{}),
		Chunks:          make([]ChunkHandle, geo.ChunksPerBlock()),
	}
	b.bufs[0] = bufA
	b.bufs[1] = bufB

	bx, by, bz := geo.BlockIDToCoord(id)
	for cid := range b.Chunks {
		cx, cy, cz := geo.ChunkLocal(cid)
		worldPos := WorldVoxelPos{
			X: bx*geo.VoxelsPerBlockEdge() + cx*geo.K,
			Y: by*geo.VoxelsPerBlockEdge() + cy*geo.K,
			Z: bz*geo.VoxelsPerBlockEdge() + cz*geo.K,
		}
		b.Chunks[cid] = ChunkHandle{Block: b, ID: cid, WorldPos: worldPos}
	}
	return b, nil
}

func safeAllocVoxels(n int) (buf []Voxel, err error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: non-positive voxel buffer size %d", ErrInvalidConfig, n)
	}
	defer func() {
		if r := recover(); r != nil {
			buf = nil
			err = fmt.Errorf("%w: %v", ErrResourceExhausted, r)
		}
	}()
	buf = make([]Voxel, n)
	return buf, nil
}

// Read returns the buffer external callers and neighbour blocks should
// treat as the current, consistent snapshot.
func (b *Block) Read() []Voxel {
	return b.bufs[b.activeRead.Load()]
}

// Write returns the buffer this block's own step task mutates.
func (b *Block) Write() []Voxel {
	return b.bufs[1-b.activeRead.Load()]
}

// SwapBuffers flips which buffer is read vs. write. Called by the
// scheduler between kernel steps so that step k+1 reads what step k
// wrote.
func (b *Block) SwapBuffers() {
	b.activeRead.Store(1 - b.activeRead.Load())
}

// MarkUnsettled idempotently adds a chunk to the block's incoming dirty
// set. Safe to call concurrently from the block's own maintenance task
// and from external callers applying queued edits.
func (b *Block) MarkUnsettled(chunkID int) {
	b.dirtyMu.Lock()
	b.unsettledChunks[chunkID] = struct{}{}
	b.dirtyMu.Unlock()
}

func (b *Block) isDirty(chunkID int) bool {
	b.dirtyMu.Lock()
	_, ok := b.unsettledChunks[chunkID]
	b.dirtyMu.Unlock()
	return ok
}

// HasUnsettledChunks reports whether this block currently has any work
// for the scheduler to plan.
func (b *Block) HasUnsettledChunks() bool {
	b.dirtyMu.Lock()
	n := len(b.unsettledChunks)
	b.dirtyMu.Unlock()
	return n > 0
}

// Plan freezes the incoming dirty set into ChunksToSimulate for this
// tick and clears the incoming set. Chunks that were unsettled last
// tick but are not unsettled again this tick just settled, and are
// recorded in JustSettledChunks for the mesh-rebuild hook.
func (b *Block) Plan() {
	b.dirtyMu.Lock()
	next := b.unsettledChunks
	b.unsettledChunks = make(map[int]struct{})
	b.dirtyMu.Unlock()

	prev := make(map[int]struct{}, len(b.ChunksToSimulate))
	for _, id := range b.ChunksToSimulate {
		prev[id] = struct{}{}
	}

	b.ChunksToSimulate = b.ChunksToSimulate[:0]
	for id := range next {
		b.ChunksToSimulate = append(b.ChunksToSimulate, id)
		delete(prev, id)
	}

	b.JustSettledChunks = b.JustSettledChunks[:0]
	for id := range prev {
		b.JustSettledChunks = append(b.JustSettledChunks, id)
	}

	b.ChunksToUnsettle = b.ChunksToUnsettle[:0]
	b.VoxelsToProcess = b.VoxelsToProcess[:0]
}

// VoxelGlobalIndex turns a (chunkID, voxelID) pair into the linear index
// of that voxel within this block's buffers.
func (b *Block) VoxelGlobalIndex(chunkID, voxelID int) int {
	return chunkID*b.Geo.VoxelsPerChunk() + voxelID
}

// GetVoxel returns the read-buffer snapshot of a voxel. Safe to call
// between ticks; between steps it yields whatever the step-boundary
// buffer currently holds.
func (b *Block) GetVoxel(chunkID, voxelID int) Voxel {
	return b.Read()[b.VoxelGlobalIndex(chunkID, voxelID)]
}

// SetVoxel overwrites a single voxel in the read buffer. Only safe between
// ticks (after the maintenance barrier, before the scheduler's next Plan),
// when no step task is concurrently swapping buffers. Its callers are
// the component manager's maintenance pass and sim.World's pre-tick
// edit drain.
func (b *Block) SetVoxel(chunkID, voxelID int, v Voxel) {
	b.Read()[b.VoxelGlobalIndex(chunkID, voxelID)] = v
}

// NeighbourVoxel resolves the cell one step away from (chunkID, voxelID)
// in direction dir, reading from this block's own read buffer or, if the
// step crosses a block boundary, from the appropriate neighbour's
// rebuilt read view. Returns InvalidVoxel (Valid=false) when there is no
// such block, matching the spec's "edges behave like walls" rule.
func (b *Block) NeighbourVoxel(chunkID, voxelID int, dir Dir) Voxel {
	nChunk, nVoxel, crossed := b.Geo.Neighbour(chunkID, voxelID, dir)
	if !crossed {
		return b.Read()[b.VoxelGlobalIndex(nChunk, nVoxel)]
	}
	nb := b.Neighbours[dir]
	if nb == nil {
		return InvalidVoxel
	}
	idx := nb.VoxelGlobalIndex(nChunk, nVoxel)
	view := nb.Read()
	if idx < 0 || idx >= len(view) {
		return InvalidVoxel
	}
	return view[idx]
}

// EncodeVoxel serializes one voxel of the read buffer into the
// documented 6-byte persistence layout (solid, fluid, viscosity,
// settle_counter as little-endian u16, flags). No file I/O happens
// here: this is a pure in-memory codec for an out-of-core persistence
// layer to call.
func (b *Block) EncodeVoxel(globalIdx int) [6]byte {
	v := b.Read()[globalIdx]
	var flags byte
	if v.Settled {
		flags |= 1 << 0
	}
	if v.Valid {
		flags |= 1 << 1
	}
	return [6]byte{
		v.Solid, v.Fluid, v.Viscosity,
		byte(v.SettleCounter), byte(v.SettleCounter >> 8),
		flags,
	}
}

// DecodeVoxel restores one voxel from the 6-byte persistence layout into
// both buffers, so the block starts from a consistent read/write state.
// Intended to be called before the simulation is running (e.g. world
// load), never mid-tick.
func (b *Block) DecodeVoxel(globalIdx int, raw [6]byte) {
	v := Voxel{
		Solid:         raw[0],
		Fluid:         raw[1],
		Viscosity:     raw[2],
		SettleCounter: uint16(raw[3]) | uint16(raw[4])<<8,
		Settled:       raw[5]&(1<<0) != 0,
		Valid:         raw[5]&(1<<1) != 0,
	}
	b.bufs[0][globalIdx] = v
	b.bufs[1][globalIdx] = v
}
