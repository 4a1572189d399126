package sim

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"fluidsim/component"
	"fluidsim/core"
	"fluidsim/telemetry"
)

var stepNames = [3]string{"up", "down", "sideways"}

// pendingEdit is one queued external write, keyed by the voxel's global
// world position so that two edits landing on the same cell in the same
// tick collapse into "the later one wins" (§5).
type pendingEdit struct {
	addFluid   *bool // nil = no fluid edit queued for this cell
	addTerrain *bool // nil = no terrain edit queued for this cell
	removeOnly bool  // remove_terrain: clears solid regardless of addTerrain
}

// World is the minimal façade of §6: the only surface the surrounding
// application (terrain authoring, mesh generation, rendering, input —
// all out of scope here) is meant to touch. It wires core's grid +
// block storage, sim's kernel/scheduler, and component's body tracker
// together, the way the teacher's VoxelPlanet + ThreadedPhysicsEngine
// pair present one update loop over a richer internal engine.
type World struct {
	Geo      *core.Geometry
	Registry *core.FluidRegistry
	Blocks   []*core.Block

	scheduler *Scheduler
	manager   *component.Manager

	editMu sync.Mutex
	edits  map[core.WorldVoxelPos]pendingEdit

	// primaryViscosity is the fluid type ModifyFluid(pos, true) fills a
	// voxel with (see primaryFluid below): the first registered type, by
	// construction order.
	primaryViscosity uint8

	// lastDT is the dt passed to the most recent Tick call, threaded into
	// the maintenance closure so the component manager's Lifetime
	// accounting advances by the real tick interval. Tick's own
	// busy-gate guarantees this is never written concurrently with a
	// still-running maintenance phase reading it.
	lastDT time.Duration

	metrics                                             *telemetry.Metrics
	lastMergeCount, lastRemovalCount, lastEqualizeCount int

	logger *slog.Logger
}

// Config bundles the parameters of the spec's init() call.
type Config struct {
	ChunkSide  int // K
	BlockSide  int // M
	BlocksX    int
	BlocksY    int
	BlocksZ    int
	VoxelSizeM float32
	FluidTypes []core.FluidType
	Workers    int // worker-pool cap; <=0 means "one task per active block"
	Logger     *slog.Logger
	Metrics    *telemetry.Metrics // optional; nil disables instrumentation
}

// NewWorld implements §6's init(): allocates every block/chunk/voxel,
// wires neighbour pointers (block-to-block and, for diagnostics,
// chunk-to-chunk across block boundaries), and establishes the registry
// of known fluids. Size components must be positive; ChunkSide and
// BlockSide must be powers of two (enforced by core.NewGeometry).
func NewWorld(cfg Config) (*World, error) {
	if cfg.VoxelSizeM <= 0 {
		return nil, fmt.Errorf("%w: voxel_size_m must be positive, got %f", core.ErrInvalidConfig, cfg.VoxelSizeM)
	}
	geo, err := core.NewGeometry(cfg.ChunkSide, cfg.BlockSide, cfg.BlocksX, cfg.BlocksY, cfg.BlocksZ)
	if err != nil {
		return nil, err
	}
	registry, err := core.NewFluidRegistry(cfg.FluidTypes)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	numBlocks := cfg.BlocksX * cfg.BlocksY * cfg.BlocksZ
	blocks := make([]*core.Block, numBlocks)
	for id := 0; id < numBlocks; id++ {
		b, err := core.NewBlock(geo, id)
		if err != nil {
			return nil, err
		}
		blocks[id] = b
	}

	wireBlockNeighbours(geo, blocks)
	wireChunkNeighbours(geo, blocks)

	w := &World{
		Geo:      geo,
		Registry: registry,
		Blocks:   blocks,
		manager:  component.NewManager(geo, blocks),
		edits:    make(map[core.WorldVoxelPos]pendingEdit),
		logger:   logger,
	}
	if len(cfg.FluidTypes) > 0 {
		w.primaryViscosity = cfg.FluidTypes[0].Viscosity
	}
	w.scheduler = NewScheduler(blocks, cfg.Workers)
	w.scheduler.PreTick = w.preTick
	w.scheduler.Maintenance = w.maintenance
	if cfg.Metrics != nil {
		w.metrics = cfg.Metrics
		metrics := cfg.Metrics
		w.scheduler.OnTickObserved = func(stats TickStats) {
			metrics.ObserveTick(stats.Duration, stepNames[:], stats.StepDurations[:], stats.ActiveBlocks)
		}
	}

	logger.Info("fluidsim world initialized",
		slog.Int("blocks", numBlocks),
		slog.Int("chunk_side", cfg.ChunkSide),
		slog.Int("block_side", cfg.BlockSide),
		slog.Int("fluid_types", len(cfg.FluidTypes)))
	return w, nil
}

var blockDirs = [6]core.Dir{
	core.DirPosX, core.DirNegX, core.DirPosY, core.DirNegY, core.DirPosZ, core.DirNegZ,
}

func wireBlockNeighbours(geo *core.Geometry, blocks []*core.Block) {
	for id, b := range blocks {
		bx, by, bz := geo.BlockIDToCoord(id)
		for _, dir := range blockDirs {
			off := dirOffsetOf(dir)
			nx, ny, nz := bx+off[0], by+off[1], bz+off[2]
			if !geo.InBlockBounds(nx, ny, nz) {
				continue
			}
			b.Neighbours[dir] = blocks[geo.BlockCoordToID(nx, ny, nz)]
		}
	}
}

func dirOffsetOf(dir core.Dir) [3]int {
	switch dir {
	case core.DirPosX:
		return [3]int{1, 0, 0}
	case core.DirNegX:
		return [3]int{-1, 0, 0}
	case core.DirPosY:
		return [3]int{0, 1, 0}
	case core.DirNegY:
		return [3]int{0, -1, 0}
	case core.DirPosZ:
		return [3]int{0, 0, 1}
	default:
		return [3]int{0, 0, -1}
	}
}

// wireChunkNeighbours populates the diagnostic chunk-to-chunk links
// (§3.2); the kernel itself never follows them, it always resolves
// neighbours through core.Geometry.Neighbour + Block.Neighbours.
func wireChunkNeighbours(geo *core.Geometry, blocks []*core.Block) {
	for _, b := range blocks {
		for cid := range b.Chunks {
			for _, dir := range blockDirs {
				// Step from a corner voxel on the face dir leaves through.
				from := 0
				if dir == core.DirPosX || dir == core.DirPosY || dir == core.DirPosZ {
					from = geo.VoxelsPerChunk() - 1
				}
				nChunk, _, crossed := geo.Neighbour(cid, from, dir)
				if !crossed {
					b.Chunks[cid].Neighbours[dir] = &b.Chunks[nChunk]
					continue
				}
				nb := b.Neighbours[dir]
				if nb == nil {
					continue
				}
				b.Chunks[cid].Neighbours[dir] = &nb.Chunks[nChunk]
			}
		}
	}
}

// GetVoxel is a read-only snapshot, safe between ticks; between steps it
// yields whatever the step-boundary buffer currently holds. Positions
// outside the world's block-grid extents return an invalid, zero-filled
// voxel and ok=false (an API-level OutOfBounds condition the caller may
// choose to surface); positions inside the one-voxel sentinel border
// resolve normally, per §7 ("documented zero-filled cell," not an
// error).
func (w *World) GetVoxel(pos core.WorldVoxelPos) (core.Voxel, bool) {
	blockID, chunkID, voxelID, ok := w.Geo.WorldToVoxel(pos)
	if !ok {
		return core.InvalidVoxel, false
	}
	return w.Blocks[blockID].GetVoxel(chunkID, voxelID), true
}

// GetVoxelByIndices reads a voxel addressed directly by (block, chunk,
// voxel) indices, raising ErrOutOfBounds for an out-of-range index
// rather than returning the border sentinel (§7: index-level errors are
// distinct from border queries).
func (w *World) GetVoxelByIndices(blockID, chunkID, voxelID int) (core.Voxel, error) {
	if blockID < 0 || blockID >= len(w.Blocks) {
		return core.InvalidVoxel, fmt.Errorf("%w: block id %d", core.ErrOutOfBounds, blockID)
	}
	b := w.Blocks[blockID]
	if chunkID < 0 || chunkID >= len(b.Chunks) {
		return core.InvalidVoxel, fmt.Errorf("%w: chunk id %d", core.ErrOutOfBounds, chunkID)
	}
	if voxelID < 0 || voxelID >= w.Geo.VoxelsPerChunk() {
		return core.InvalidVoxel, fmt.Errorf("%w: voxel id %d", core.ErrOutOfBounds, voxelID)
	}
	return b.GetVoxel(chunkID, voxelID), nil
}

// ModifyFluid queues a fluid edit (add a full charge of registered
// fluid, or remove it) at pos, applied during the next pre-tick drain
// (§5, §6). Queuing never blocks and never conflicts: it only ever
// touches the pending-edit map, never the live voxel buffers directly.
func (w *World) ModifyFluid(pos core.WorldVoxelPos, add bool) {
	w.editMu.Lock()
	defer w.editMu.Unlock()
	e := w.edits[pos]
	e.addFluid = &add
	w.edits[pos] = e
}

// ModifyTerrain queues a solid-terrain edit at pos (add or remove full
// solid mass), applied at the next pre-tick drain.
func (w *World) ModifyTerrain(pos core.WorldVoxelPos, add bool) {
	w.editMu.Lock()
	defer w.editMu.Unlock()
	e := w.edits[pos]
	e.addTerrain = &add
	e.removeOnly = false
	w.edits[pos] = e
}

// RemoveTerrain queues clearing all solid mass at pos.
func (w *World) RemoveTerrain(pos core.WorldVoxelPos) {
	w.editMu.Lock()
	defer w.editMu.Unlock()
	e := w.edits[pos]
	e.removeOnly = true
	e.addTerrain = nil
	w.edits[pos] = e
}

// UnsettleChunk is an idempotent addition to a block's dirty set,
// addressable from outside the simulation (e.g. a renderer poking a
// chunk it knows changed out of band).
func (w *World) UnsettleChunk(blockID, chunkID int) error {
	if blockID < 0 || blockID >= len(w.Blocks) {
		return fmt.Errorf("%w: block id %d", core.ErrOutOfBounds, blockID)
	}
	w.Blocks[blockID].MarkUnsettled(chunkID)
	return nil
}

// Manager exposes the component manager for callers that need
// GetComponent/MarkForRebuild (§4.6) directly.
func (w *World) Manager() *component.Manager { return w.manager }

// Tick drives §4.5: if the previous tick's jobs are still running it
// returns immediately (Started=false); otherwise the whole
// pre-tick-drain / plan / step-barrier / maintenance / component
// sequence runs on a background goroutine and this call returns without
// waiting for it.
func (w *World) Tick(dt time.Duration) TickStats {
	if w.scheduler.Busy() {
		return TickStats{Started: false}
	}
	w.lastDT = dt
	return w.scheduler.Tick()
}

func (w *World) preTick(justSettled map[*core.Block][]int) {
	w.drainEdits()
	// The mesh-rebuild hook itself lives in the (out-of-scope) renderer;
	// justSettled is handed through TickStats-adjacent bookkeeping so a
	// caller wired to a renderer can still observe it via Blocks[i].JustSettledChunks
	// directly after WaitUntilQuiescent.
	if w.metrics != nil {
		for _, ids := range justSettled {
			addCounter(w.metrics.SettledChunks, len(ids))
		}
	}
}

func (w *World) drainEdits() {
	w.editMu.Lock()
	edits := w.edits
	w.edits = make(map[core.WorldVoxelPos]pendingEdit)
	w.editMu.Unlock()

	for pos, e := range edits {
		blockID, chunkID, voxelID, ok := w.Geo.WorldToVoxel(pos)
		if !ok {
			continue
		}
		b := w.Blocks[blockID]
		v := b.GetVoxel(chunkID, voxelID)
		changed := false

		if e.removeOnly {
			if v.Solid != 0 {
				v.Solid = 0
				changed = true
			}
		} else if e.addTerrain != nil {
			if *e.addTerrain {
				if v.Solid != core.Vmax {
					v.Solid = core.Vmax
					changed = true
				}
			} else if v.Solid != 0 {
				v.Solid = 0
				changed = true
			}
		}

		if e.addFluid != nil {
			if c, ok := w.primaryFluid(); ok {
				if *e.addFluid {
					if v.Fluid != core.Vmax || v.Viscosity != c.Viscosity {
						v.Fluid = core.Vmax
						v.Viscosity = c.Viscosity
						changed = true
					}
				} else if v.Fluid != 0 {
					v.Fluid = 0
					v.Viscosity = 0
					changed = true
				}
			}
		}

		if !changed {
			continue
		}
		v.Valid = true
		v.Unsettle(int32(core.Vmax))
		b.SetVoxel(chunkID, voxelID, v)
		b.MarkUnsettled(chunkID)

		if comp := w.manager.GetComponent(component.Ref{Block: b, ChunkID: chunkID, VoxelID: voxelID}); comp != nil {
			w.manager.MarkForRebuild(comp)
		}
	}
}

// primaryFluid picks the single fluid type ModifyFluid(pos, true) fills
// a voxel with. A richer façade would take the fluid type as part of
// the edit; §6's ModifyFluid(point, add) signature only distinguishes
// add/remove, so this engine resolves "add" to whichever fluid type was
// registered first, matching the teacher's own single-primary-material
// convention for its quick-edit API.
func (w *World) primaryFluid() (core.FluidType, bool) {
	return w.Registry.Lookup(w.primaryViscosity)
}

func (w *World) maintenance(active []*core.Block) {
	for _, b := range active {
		for _, chunkID := range b.ChunksToUnsettle {
			b.MarkUnsettled(chunkID)
		}
		if len(b.VoxelsToProcess) == 0 {
			continue
		}
		if w.metrics != nil {
			addCounter(w.metrics.VoxelsToComponent, len(b.VoxelsToProcess))
		}
		vpc := w.Geo.VoxelsPerChunk()
		refs := make([]component.Ref, 0, len(b.VoxelsToProcess))
		for _, globalIdx := range b.VoxelsToProcess {
			refs = append(refs, component.Ref{
				Block:   b,
				ChunkID: globalIdx / vpc,
				VoxelID: globalIdx % vpc,
			})
		}
		w.manager.Enqueue(refs)
	}
	w.manager.RunTick(w.lastDT)

	if w.metrics != nil {
		active, merges, removals, equalizations := w.manager.Counts()
		w.metrics.ActiveComponents.Set(float64(active))
		addCounter(w.metrics.ComponentMerges, merges-w.lastMergeCount)
		addCounter(w.metrics.ComponentRemovals, removals-w.lastRemovalCount)
		addCounter(w.metrics.EqualizationPasses, equalizations-w.lastEqualizeCount)
		w.lastMergeCount, w.lastRemovalCount, w.lastEqualizeCount = merges, removals, equalizations
	}
}

func addCounter(c prometheus.Counter, delta int) {
	if delta > 0 {
		c.Add(float64(delta))
	}
}

// WaitUntilQuiescent blocks until every outstanding job has drained, or
// ctx is cancelled first. Passing context.Background() matches §6's
// unconditional wait_until_quiescent(); the context is a strict
// widening used by cmd/fluidsim to bound how long a scenario run waits.
func (w *World) WaitUntilQuiescent(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.scheduler.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LoadBlockSnapshot restores one block's voxels from the documented
// 6-byte persistence layout (§6), for an out-of-core persistence layer
// to call during world load. It is a direct write into both buffers —
// unlike ModifyFluid/ModifyTerrain it does not queue — so it returns
// ErrConflict if the simulation has not been drained first, per §7:
// the caller must WaitUntilQuiescent before loading a snapshot.
func (w *World) LoadBlockSnapshot(blockID int, raw [][6]byte) error {
	if blockID < 0 || blockID >= len(w.Blocks) {
		return fmt.Errorf("%w: block id %d", core.ErrOutOfBounds, blockID)
	}
	if w.scheduler.Busy() {
		return fmt.Errorf("%w: cannot load a snapshot mid-tick", core.ErrConflict)
	}
	b := w.Blocks[blockID]
	n := w.Geo.ChunksPerBlock() * w.Geo.VoxelsPerChunk()
	if len(raw) != n {
		return fmt.Errorf("%w: expected %d voxels, got %d", core.ErrInvalidConfig, n, len(raw))
	}
	for i, rv := range raw {
		b.DecodeVoxel(i, rv)
	}
	return nil
}

// Busy reports whether a previous tick's jobs are still in flight.
func (w *World) Busy() bool { return w.scheduler.Busy() }

// Stats returns the most recently completed tick's statistics.
func (w *World) Stats() TickStats { return w.scheduler.Stats() }
