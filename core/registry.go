package core

import "fmt"

// FluidType names one liquid the engine can simulate: Viscosity is the
// byte tag voxels carry (0 is reserved for "no fluid"); Label is a
// human-readable name used only for logging and diagnostics.
type FluidType struct {
	Viscosity uint8
	Label     string
}

// FluidRegistry is the closed, validated set of fluids an engine
// instance knows about, keyed by viscosity byte. Modelled on the
// teacher's MaterialProperties table: a small constant map built once
// at init and consulted read-only afterward.
type FluidRegistry struct {
	byViscosity map[uint8]FluidType
}

// NewFluidRegistry validates and builds a registry from the (viscosity,
// label) pairs passed in sim.Config.FluidTypes. Viscosity 0 is reserved for "no fluid"
// and may not be registered; viscosities and labels must each be
// unique.
func NewFluidRegistry(types []FluidType) (*FluidRegistry, error) {
	reg := &FluidRegistry{byViscosity: make(map[uint8]FluidType, len(types))}
	seenLabels := make(map[string]bool, len(types))
	for _, t := range types {
		if t.Viscosity == 0 {
			return nil, fmt.Errorf("%w: viscosity 0 is reserved for \"no fluid\"", ErrInvalidConfig)
		}
		if t.Label == "" {
			return nil, fmt.Errorf("%w: fluid type missing a label", ErrInvalidConfig)
		}
		if _, dup := reg.byViscosity[t.Viscosity]; dup {
			return nil, fmt.Errorf("%w: duplicate viscosity %d", ErrInvalidConfig, t.Viscosity)
		}
		if seenLabels[t.Label] {
			return nil, fmt.Errorf("%w: duplicate fluid label %q", ErrInvalidConfig, t.Label)
		}
		seenLabels[t.Label] = true
		reg.byViscosity[t.Viscosity] = t
	}
	return reg, nil
}

// Lookup returns the fluid type named by viscosity, if registered.
func (r *FluidRegistry) Lookup(viscosity uint8) (FluidType, bool) {
	t, ok := r.byViscosity[viscosity]
	return t, ok
}

// Known reports whether viscosity names a registered fluid (or is 0,
// "no fluid", which is always known).
func (r *FluidRegistry) Known(viscosity uint8) bool {
	if viscosity == 0 {
		return true
	}
	_, ok := r.byViscosity[viscosity]
	return ok
}
