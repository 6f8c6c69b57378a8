package manifest

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/chazu/membrane/compartment"
	"github.com/chazu/membrane/vm"
)

// Options returns the runtime options described by the manifest.
func (m *Manifest) Options(collector vm.Collector) (compartment.Options, error) {
	strs, err := compartment.ParseSharingPolicy(m.Runtime.Strings)
	if err != nil {
		return compartment.Options{}, err
	}
	bigs, err := compartment.ParseSharingPolicy(m.Runtime.BigInts)
	if err != nil {
		return compartment.Options{}, err
	}
	return compartment.Options{
		Strings:         strs,
		BigInts:         bigs,
		MaxThings:       m.Runtime.MaxThings,
		MaxCacheEntries: m.Runtime.MaxCacheEntries,
		Collector:       collector,
	}, nil
}

// Build creates a runtime with every declared compartment registered in
// manifest order.
func (m *Manifest) Build(collector vm.Collector) (*compartment.Runtime, error) {
	opts, err := m.Options(collector)
	if err != nil {
		return nil, err
	}
	rt := compartment.NewRuntime(opts)
	for _, c := range m.Compartments {
		policy, ok := compartment.PolicyByName(c.Policy, c.Allow, c.Deny)
		if !ok {
			return nil, fmt.Errorf("compartment %q: unknown policy %q", c.Name, c.Policy)
		}
		var key uuid.UUID
		if c.Key != "" {
			if key, err = uuid.Parse(c.Key); err != nil {
				return nil, fmt.Errorf("compartment %q: bad key: %w", c.Name, err)
			}
		}
		if _, err := rt.NewCompartment(compartment.CompartmentOptions{
			Name:   c.Name,
			System: c.System,
			Policy: policy,
			Key:    key,
		}); err != nil {
			return nil, err
		}
	}
	return rt, nil
}
