package core

import "errors"

// Error taxonomy for the engine façade (spec §7). None of these are used
// for ordinary control flow inside the kernel: arithmetic there always
// saturates instead of failing.
var (
	// ErrInvalidConfig covers non-power-of-two grid constants, a
	// zero-size world, a non-positive voxel size, an invalid fluid
	// registry, or a snapshot of the wrong length.
	ErrInvalidConfig = errors.New("fluidsim: invalid config")

	// ErrOutOfBounds is raised only for API-level out-of-range indices.
	// Queries that land on the one-voxel sentinel border are not an
	// error: they return a documented zero-filled, invalid voxel.
	ErrOutOfBounds = errors.New("fluidsim: index out of bounds")

	// ErrConflict is returned when a caller attempts to write into the
	// voxel buffers while the simulation has not been drained. The
	// caller must call WaitUntilQuiescent first.
	ErrConflict = errors.New("fluidsim: simulation not quiescent")

	// ErrResourceExhausted is returned by NewBlock (and so by
	// sim.NewWorld) when a voxel buffer cannot be allocated. The
	// scheduler does not return it: a tick reports no errors.
	ErrResourceExhausted = errors.New("fluidsim: resource exhausted")
)
