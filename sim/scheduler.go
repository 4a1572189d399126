package sim

import (
	"sync"
	"sync/atomic"
	"time"

	"fluidsim/core"
)

// TickStats reports what one tick actually did, for telemetry and for
// callers driving WaitUntilQuiescent.
type TickStats struct {
	Started       bool
	ActiveBlocks  int
	StepDurations [3]time.Duration
	Duration      time.Duration
}

// MaintenanceFunc is run once per tick, after the Sideways barrier, over
// the set of blocks that had a job this tick. It exists so the component
// package's segment/outlet maintenance can be chained onto the same
// barrier sequence while the Scheduler itself stays independent of the
// component package; sim.World supplies the function.
type MaintenanceFunc func(active []*core.Block)

// Scheduler is the background job graph described by the engine's tick
// sequence: one task per block per step, synchronized by a barrier
// between steps, generalized from the teacher's single background
// physics thread (physics/threaded_physics.go) into a worker-pool over
// many independently-stepping blocks.
//
// A tick never blocks its caller: Tick reports immediately whether the
// previous tick's jobs are still running, and if not, runs the whole
// step/barrier sequence for this tick on its own goroutine.
type Scheduler struct {
	blocks  []*core.Block
	workers int

	busy atomic.Bool
	wg   sync.WaitGroup

	// PreTick runs before planning: draining queued external writes and
	// firing the mesh-rebuild hook for chunks that just settled. Both are
	// owned by whatever assembles the world (sim.World), not the
	// scheduler itself.
	PreTick func(justSettled map[*core.Block][]int)

	// Maintenance runs once per tick after the Sideways barrier.
	Maintenance MaintenanceFunc

	// OnTickObserved, if set, is called once per completed tick with the
	// stats that tick produced, letting a telemetry.Metrics (or any other
	// observer) record it without the scheduler importing telemetry.
	OnTickObserved func(TickStats)

	mu        sync.Mutex
	lastStats TickStats
}

// NewScheduler builds a scheduler over a fixed set of blocks. workers
// bounds how many block-step tasks run concurrently; values <= 0 mean
// "one task per block, no cap" (GOMAXPROCS already bounds the OS
// threads actually used).
func NewScheduler(blocks []*core.Block, workers int) *Scheduler {
	return &Scheduler{blocks: blocks, workers: workers}
}

// Busy reports whether a previous tick's job set is still running.
func (s *Scheduler) Busy() bool {
	return s.busy.Load()
}

// Wait blocks until the in-flight tick (if any) finishes.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Stats returns the most recently completed tick's stats.
func (s *Scheduler) Stats() TickStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastStats
}

// Tick advances the simulation by one tick if the previous tick's jobs
// have already completed; otherwise it returns immediately with
// Started=false, leaving the caller free to retry next frame. The
// returned stats carry only Started; the started tick's own figures
// (active blocks, durations) are available from Stats once it has
// finished — call Wait (or WaitUntilQuiescent at the sim.World level)
// to block for completion.
func (s *Scheduler) Tick() TickStats {
	if !s.busy.CompareAndSwap(false, true) {
		return TickStats{Started: false}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.busy.Store(false)
		stats := s.runTick()
		s.mu.Lock()
		s.lastStats = stats
		s.mu.Unlock()
		if s.OnTickObserved != nil {
			s.OnTickObserved(stats)
		}
	}()

	return TickStats{Started: true}
}

func (s *Scheduler) runTick() TickStats {
	start := time.Now()

	active := make([]*core.Block, 0, len(s.blocks))
	justSettled := make(map[*core.Block][]int)
	for _, b := range s.blocks {
		if len(b.JustSettledChunks) > 0 {
			justSettled[b] = b.JustSettledChunks
		}
	}
	if s.PreTick != nil {
		s.PreTick(justSettled)
	}

	for _, b := range s.blocks {
		if b.HasUnsettledChunks() {
			b.Plan()
			active = append(active, b)
		} else {
			// Every chunk simulated last tick has just settled.
			b.JustSettledChunks = append(b.JustSettledChunks[:0], b.ChunksToSimulate...)
			b.ChunksToSimulate = b.ChunksToSimulate[:0]
		}
	}

	// Neighbour views need no explicit rebinding: core.Block.NeighbourVoxel
	// always reads through Neighbours[dir].Read(), which is static for a
	// block with no job this tick and tracks the live read buffer for an
	// active one. The topology pointers themselves are fixed at world
	// construction and never change mid-run.

	var stats TickStats
	stats.ActiveBlocks = len(active)

	steps := [3]Step{StepUp, StepDown, StepSideways}
	for i, step := range steps {
		stepStart := time.Now()
		// Carry chunks outside the plan over unchanged into the write buffer.
		s.runBarrier(active, func(b *core.Block) { copy(b.Write(), b.Read()); RunStep(b, step) })
		stats.StepDurations[i] = time.Since(stepStart)
		s.runBarrier(active, func(b *core.Block) { b.SwapBuffers() })
	}

	if s.Maintenance != nil {
		s.Maintenance(active)
	}

	stats.Duration = time.Since(start)
	stats.Started = true
	return stats
}

// runBarrier runs fn for every block in parallel and waits for all of
// them to finish before returning: the barrier between steps.
func (s *Scheduler) runBarrier(blocks []*core.Block, fn func(*core.Block)) {
	if len(blocks) == 0 {
		return
	}

	limit := s.workers
	if limit <= 0 || limit > len(blocks) {
		limit = len(blocks)
	}

	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	for _, b := range blocks {
		wg.Add(1)
		sem <- struct{}{}
		go func(b *core.Block) {
			defer wg.Done()
			defer func() { <-sem }()
			fn(b)
		}(b)
	}
	wg.Wait()
}
