package core

// ChunkHandle is a stable reference to a chunk within a single block: a
// chunk never moves blocks, so this is just the block's linear chunk
// id plus bookkeeping the block doesn't otherwise need per chunk.
type ChunkHandle struct {
	Block *Block
	ID    int // linear chunk id within Block, see Geometry.ChunkID

	// WorldPos is cached at construction time for diagnostics/logging;
	// it is never consulted by the kernel, which works entirely in
	// block/chunk/voxel index space.
	WorldPos WorldVoxelPos

	// Neighbours[dir] is the chunk one step away in that direction.
	// It may live in a different block (Neighbours[dir].Block != this
	// chunk's Block) when the step crosses a block boundary; it is nil
	// when there is no such block (world edge).
	Neighbours [6]*ChunkHandle
}

// Unsettled reports whether this chunk is present in its block's
// incoming dirty set — the one piece of state that actually decides
// whether the kernel revisits it.
func (c *ChunkHandle) Unsettled() bool {
	return c.Block.isDirty(c.ID)
}
