package compartment

import "github.com/chazu/membrane/vm"

// Action is an operation performed through a wrapper.
type Action uint8

const (
	ActionUnwrap Action = iota
	ActionGet
	ActionSet
	ActionCall
)

func (a Action) String() string {
	switch a {
	case ActionUnwrap:
		return "unwrap"
	case ActionGet:
		return "get"
	case ActionSet:
		return "set"
	case ActionCall:
		return "call"
	}
	return "?"
}

// SecurityPolicy decides what kind of wrapper a compartment gets for a
// foreign object and whether code may act through it. A policy is passed
// to the compartment at construction and never changes.
type SecurityPolicy interface {
	// WrapperKind picks the kind of wrapper created when obj, owned by
	// origin, is wrapped into target.
	WrapperKind(origin, target *Compartment, obj *vm.Object) WrapperKind

	// Allow decides whether code running in caller may perform action
	// through a live wrapper of kind k onto an object owned by origin.
	Allow(k WrapperKind, action Action, caller, origin *Compartment) bool
}

// ---------------------------------------------------------------------------
// Built-in policies
// ---------------------------------------------------------------------------

// PermissivePolicy hands out transparent wrappers and allows everything.
type PermissivePolicy struct{}

// WrapperKind implements SecurityPolicy.
func (PermissivePolicy) WrapperKind(_, _ *Compartment, _ *vm.Object) WrapperKind {
	return WrapperTransparent
}

// Allow implements SecurityPolicy.
func (PermissivePolicy) Allow(WrapperKind, Action, *Compartment, *Compartment) bool {
	return true
}

// DenyAllPolicy hands out opaque wrappers and denies every action.
type DenyAllPolicy struct{}

// WrapperKind implements SecurityPolicy.
func (DenyAllPolicy) WrapperKind(_, _ *Compartment, _ *vm.Object) WrapperKind {
	return WrapperOpaque
}

// Allow implements SecurityPolicy.
func (DenyAllPolicy) Allow(WrapperKind, Action, *Compartment, *Compartment) bool {
	return false
}

// SystemBoundaryPolicy protects system compartments from content.
// Content gets opaque wrappers for system objects and may not see through
// them; system code sees content objects through transparent wrappers.
type SystemBoundaryPolicy struct{}

// WrapperKind implements SecurityPolicy.
func (SystemBoundaryPolicy) WrapperKind(origin, target *Compartment, _ *vm.Object) WrapperKind {
	if origin.IsSystem() && !target.IsSystem() {
		return WrapperOpaque
	}
	return WrapperTransparent
}

// Allow implements SecurityPolicy.
func (SystemBoundaryPolicy) Allow(_ WrapperKind, _ Action, caller, origin *Compartment) bool {
	return caller.IsSystem() || !origin.IsSystem()
}

// CapabilityPolicy allows access to objects from compartments by name.
// A nil Allowed means "allow all"; Denied always wins.
type CapabilityPolicy struct {
	Allowed map[string]bool // nil = allow all
	Denied  map[string]bool
	// ReadOnly hands out read-only wrappers for allowed compartments.
	ReadOnly bool
}

// NewCapabilityPolicy creates a policy that only allows the named origin
// compartments. An empty list allows every origin.
func NewCapabilityPolicy(allowed []string) *CapabilityPolicy {
	if len(allowed) == 0 {
		return &CapabilityPolicy{}
	}
	m := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		m[name] = true
	}
	return &CapabilityPolicy{Allowed: m}
}

// Deny adds an origin compartment to the deny list.
func (p *CapabilityPolicy) Deny(name string) {
	if p.Denied == nil {
		p.Denied = make(map[string]bool)
	}
	p.Denied[name] = true
}

func (p *CapabilityPolicy) allows(origin *Compartment) bool {
	if p.Denied != nil && p.Denied[origin.Name()] {
		return false
	}
	if p.Allowed != nil && !p.Allowed[origin.Name()] {
		return false
	}
	return true
}

// WrapperKind implements SecurityPolicy.
func (p *CapabilityPolicy) WrapperKind(origin, _ *Compartment, _ *vm.Object) WrapperKind {
	if !p.allows(origin) {
		return WrapperOpaque
	}
	if p.ReadOnly {
		return WrapperReadOnly
	}
	return WrapperTransparent
}

// Allow implements SecurityPolicy.
func (p *CapabilityPolicy) Allow(_ WrapperKind, _ Action, _, origin *Compartment) bool {
	return p.allows(origin)
}

// PolicyByName returns a built-in policy: "permissive", "deny", "system"
// or "capability" (configured with allow/deny lists).
func PolicyByName(name string, allow, deny []string) (SecurityPolicy, bool) {
	switch name {
	case "", "permissive":
		return PermissivePolicy{}, true
	case "deny":
		return DenyAllPolicy{}, true
	case "system":
		return SystemBoundaryPolicy{}, true
	case "capability", "readonly":
		p := NewCapabilityPolicy(allow)
		for _, d := range deny {
			p.Deny(d)
		}
		p.ReadOnly = name == "readonly"
		return p, true
	}
	return nil, false
}
