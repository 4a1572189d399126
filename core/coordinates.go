package core

import "fmt"

// Dir names one of the six face directions a voxel can exchange fluid
// with. Y is up, matching spec's NeighbourCount=6 convention.
type Dir int

const (
	DirPosX Dir = iota
	DirNegX
	DirPosY // up
	DirNegY // down
	DirPosZ
	DirNegZ
)

// Opposite returns the direction that undoes a step in d.
func (d Dir) Opposite() Dir {
	switch d {
	case DirPosX:
		return DirNegX
	case DirNegX:
		return DirPosX
	case DirPosY:
		return DirNegY
	case DirNegY:
		return DirPosY
	case DirPosZ:
		return DirNegZ
	default:
		return DirPosZ
	}
}

var dirOffset = [6][3]int{
	DirPosX: {1, 0, 0},
	DirNegX: {-1, 0, 0},
	DirPosY: {0, 1, 0},
	DirNegY: {0, -1, 0},
	DirPosZ: {0, 0, 1},
	DirNegZ: {0, 0, -1},
}

// isPow2 reports whether n is a positive power of two.
func isPow2(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// log2Pow2 returns log2(n), assuming n is a power of two.
func log2Pow2(n int) uint {
	var bits uint
	for n > 1 {
		n >>= 1
		bits++
	}
	return bits
}

// Geometry is the grid-addressing core: chunk side K and block side M,
// both required to be powers of two so that voxel/chunk indexing within
// a block is pure bit-shift arithmetic, plus the world's block-grid
// extents (which are NOT required to be powers of two — those use the
// "slow" div/mod arithmetic of BlockCoordToID/BlockIDToCoord).
type Geometry struct {
	K int // voxels per chunk edge
	M int // chunks per block edge

	kBits uint
	mBits uint

	BlocksX, BlocksY, BlocksZ int
}

// NewGeometry validates K, M and the world's block-grid extents and
// builds a Geometry. K and M must be powers of two; all size components
// must be positive.
func NewGeometry(k, m int, blocksX, blocksY, blocksZ int) (*Geometry, error) {
	if !isPow2(k) {
		return nil, fmt.Errorf("%w: chunk side K=%d is not a power of two", ErrInvalidConfig, k)
	}
	if !isPow2(m) {
		return nil, fmt.Errorf("%w: block side M=%d is not a power of two", ErrInvalidConfig, m)
	}
	if blocksX <= 0 || blocksY <= 0 || blocksZ <= 0 {
		return nil, fmt.Errorf("%w: world size must be positive, got (%d,%d,%d)", ErrInvalidConfig, blocksX, blocksY, blocksZ)
	}
	return &Geometry{
		K: k, M: m,
		kBits: log2Pow2(k), mBits: log2Pow2(m),
		BlocksX: blocksX, BlocksY: blocksY, BlocksZ: blocksZ,
	}, nil
}

// VoxelsPerChunk is K³.
func (g *Geometry) VoxelsPerChunk() int { return g.K * g.K * g.K }

// ChunksPerBlock is M³.
func (g *Geometry) ChunksPerBlock() int { return g.M * g.M * g.M }

// VoxelsPerBlockEdge is K*M: the side length of a block in voxels.
func (g *Geometry) VoxelsPerBlockEdge() int { return g.K * g.M }

// VoxelLocal unpacks a within-chunk linear voxel id into (x,y,z), each
// in [0,K).
func (g *Geometry) VoxelLocal(voxelID int) (x, y, z int) {
	mask := g.K - 1
	x = voxelID & mask
	y = (voxelID >> g.kBits) & mask
	z = voxelID >> (2 * g.kBits)
	return
}

// VoxelID packs within-chunk voxel coordinates back into a linear id.
func (g *Geometry) VoxelID(x, y, z int) int {
	return x | (y << g.kBits) | (z << (2 * g.kBits))
}

// ChunkLocal unpacks a within-block linear chunk id into (x,y,z), each
// in [0,M).
func (g *Geometry) ChunkLocal(chunkID int) (x, y, z int) {
	mask := g.M - 1
	x = chunkID & mask
	y = (chunkID >> g.mBits) & mask
	z = chunkID >> (2 * g.mBits)
	return
}

// ChunkID packs within-block chunk coordinates back into a linear id.
func (g *Geometry) ChunkID(x, y, z int) int {
	return x | (y << g.mBits) | (z << (2 * g.mBits))
}

// BlockCoordToID maps block-grid coordinates to a linear block id using
// plain multiplication — the "slow" arithmetic, since the world's
// block-grid extents are not constrained to powers of two.
func (g *Geometry) BlockCoordToID(bx, by, bz int) int {
	return bx + by*g.BlocksX + bz*g.BlocksX*g.BlocksY
}

// BlockIDToCoord is the inverse of BlockCoordToID.
func (g *Geometry) BlockIDToCoord(blockID int) (bx, by, bz int) {
	bx = blockID % g.BlocksX
	rest := blockID / g.BlocksX
	by = rest % g.BlocksY
	bz = rest / g.BlocksY
	return
}

// InBlockBounds reports whether block-grid coordinates are within the
// world's extents.
func (g *Geometry) InBlockBounds(bx, by, bz int) bool {
	return bx >= 0 && bx < g.BlocksX &&
		by >= 0 && by < g.BlocksY &&
		bz >= 0 && bz < g.BlocksZ
}

// Neighbour resolves the cell one step in dir from (chunkID, voxelID)
// within a single block's local addressing. It is branch-light: most
// steps stay inside the same chunk; edge steps switch to the
// neighbouring chunk within the block; block-edge steps report
// crossedBlock=true and still return the local (chunk, voxel) indices
// the step would have inside the neighbour block, letting the caller
// combine crossedBlock with its block-neighbour pointer to find the
// real cell (or discover there is none).
func (g *Geometry) Neighbour(chunkID, voxelID int, dir Dir) (nChunk, nVoxel int, crossedBlock bool) {
	off := dirOffset[dir]
	vx, vy, vz := g.VoxelLocal(voxelID)
	vx, vy, vz = vx+off[0], vy+off[1], vz+off[2]

	cx, cy, cz := g.ChunkLocal(chunkID)

	if vx < 0 {
		vx = g.K - 1
		cx--
	} else if vx >= g.K {
		vx = 0
		cx++
	}
	if vy < 0 {
		vy = g.K - 1
		cy--
	} else if vy >= g.K {
		vy = 0
		cy++
	}
	if vz < 0 {
		vz = g.K - 1
		cz--
	} else if vz >= g.K {
		vz = 0
		cz++
	}

	nVoxel = g.VoxelID(vx, vy, vz)

	if cx < 0 || cx >= g.M || cy < 0 || cy >= g.M || cz < 0 || cz >= g.M {
		crossedBlock = true
		cx = (cx + g.M) % g.M
		cy = (cy + g.M) % g.M
		cz = (cz + g.M) % g.M
	}
	nChunk = g.ChunkID(cx, cy, cz)
	return
}

// WorldVoxelPos is an absolute voxel-space position: world voxel
// coordinates including the one-voxel sentinel border around the real
// grid.
type WorldVoxelPos struct {
	X, Y, Z int
}

// WorldToVoxel resolves an absolute voxel-space position to its block,
// chunk and voxel indices. ok is false if the position falls outside
// the world's block-grid extents entirely (an API-level out-of-range
// query, which callers should surface as OutOfBounds); positions inside
// the one-voxel border frame resolve normally (IsBorder reports them
// separately) since that frame lives inside block 0's/last block's
// chunks just like any other voxel.
func (g *Geometry) WorldToVoxel(pos WorldVoxelPos) (blockID, chunkID, voxelID int, ok bool) {
	edge := g.VoxelsPerBlockEdge()
	bx, rx := floorDiv(pos.X, edge)
	by, ry := floorDiv(pos.Y, edge)
	bz, rz := floorDiv(pos.Z, edge)
	if !g.InBlockBounds(bx, by, bz) {
		return 0, 0, 0, false
	}
	cx, lx := rx>>g.kBits, rx&(g.K-1)
	cy, ly := ry>>g.kBits, ry&(g.K-1)
	cz, lz := rz>>g.kBits, rz&(g.K-1)
	blockID = g.BlockCoordToID(bx, by, bz)
	chunkID = g.ChunkID(cx, cy, cz)
	voxelID = g.VoxelID(lx, ly, lz)
	return blockID, chunkID, voxelID, true
}

// VoxelToWorld is the inverse of WorldToVoxel.
func (g *Geometry) VoxelToWorld(blockID, chunkID, voxelID int) WorldVoxelPos {
	bx, by, bz := g.BlockIDToCoord(blockID)
	cx, cy, cz := g.ChunkLocal(chunkID)
	lx, ly, lz := g.VoxelLocal(voxelID)
	edge := g.VoxelsPerBlockEdge()
	return WorldVoxelPos{
		X: bx*edge + cx*g.K + lx,
		Y: by*edge + cy*g.K + ly,
		Z: bz*edge + cz*g.K + lz,
	}
}

// IsBorder reports whether pos lies in the one-voxel-thick sentinel
// frame surrounding the real, simulated world — a cell that is never a
// real voxel, only a wall-like boundary used to keep neighbour lookups
// branch-free at the world's edge.
func (g *Geometry) IsBorder(pos WorldVoxelPos) bool {
	maxX := g.BlocksX*g.VoxelsPerBlockEdge() - 1
	maxY := g.BlocksY*g.VoxelsPerBlockEdge() - 1
	maxZ := g.BlocksZ*g.VoxelsPerBlockEdge() - 1
	return pos.X <= 0 || pos.X >= maxX ||
		pos.Y <= 0 || pos.Y >= maxY ||
		pos.Z <= 0 || pos.Z >= maxZ
}

// floorDiv is division that rounds toward negative infinity, with r
// always in [0, d).
func floorDiv(n, d int) (q, r int) {
	q = n / d
	r = n % d
	if r < 0 {
		q--
		r += d
	}
	return
}
