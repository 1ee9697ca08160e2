package linker

import (
	"fmt"
	"strings"
)

// VTable is the virtual dispatch table of a class. Slots [0, len(super))
// mirror the superclass table, replaced where overridden; later slots hold
// newly introduced methods. A VTable is immutable once published.
type VTable struct {
	methods []*Method
}

// Len returns the number of slots.
func (vt *VTable) Len() int {
	if vt == nil {
		return 0
	}
	return len(vt.methods)
}

// At returns the method in slot i, or nil if i is out of range.
func (vt *VTable) At(i int) *Method {
	if vt == nil || i < 0 || i >= len(vt.methods) {
		return nil
	}
	return vt.methods[i]
}

// Methods returns a copy of the slots.
func (vt *VTable) Methods() []*Method {
	out := make([]*Method, vt.Len())
	if vt != nil {
		copy(out, vt.methods)
	}
	return out
}

// Lookup returns the last slot whose method is named name, or -1.
func (vt *VTable) Lookup(name string) int {
	for i := vt.Len() - 1; i >= 0; i-- {
		if vt.methods[i].name == name {
			return i
		}
	}
	return -1
}

// Dump renders one line per slot.
func (vt *VTable) Dump() string {
	var sb strings.Builder
	for i, m := range vt.Methods() {
		fmt.Fprintf(&sb, "[%d] %s\n", i, m)
	}
	return sb.String()
}

// ---------------------------------------------------------------------------
// VTableBuilder
// ---------------------------------------------------------------------------

type builderState int

const (
	stateUninitialized builderState = iota
	stateBuilt
	stateResolved
	stateFailed
)

func (s builderState) String() string {
	switch s {
	case stateUninitialized:
		return "uninitialized"
	case stateBuilt:
		return "built"
	case stateResolved:
		return "resolved"
	case stateFailed:
		return "failed"
	}
	return fmt.Sprintf("builderState(%d)", int(s))
}

// VTableBuilder computes a class vtable in a private buffer. Build
// matches declared methods against the superclass table; Resolve
// installs them or reports the first override conflict.
type VTableBuilder struct {
	checker  *OverrideChecker
	state    builderState
	super    []*Method
	declared []*Method
	matches  [][]int
	size     int
	conflict *Error
}

// NewVTableBuilder creates a builder using checker for override tests.
func NewVTableBuilder(checker *OverrideChecker) *VTableBuilder {
	return &VTableBuilder{checker: checker}
}

// Build scans super for the slots each declared method overrides and
// sizes the table. super may be nil for roots and interfaces.
func (b *VTableBuilder) Build(super *VTable, declared []*Method) {
	if b.state != stateUninitialized {
		panic("linker.VTableBuilder.Build: builder is " + b.state.String())
	}
	b.super = super.Methods()
	b.declared = declared
	b.matches = make([][]int, len(declared))
	b.size = len(b.super)

	claimed := make(map[int]*Method)
	for di, m := range declared {
		var found *Method
		// End to start: later slots win ties between overloads.
		for i := len(b.super) - 1; i >= 0; i-- {
			base := b.super[i]
			if !b.checker.Overrides(base, m) {
				continue
			}
			if found != nil && found != base && b.conflict == nil {
				b.conflict = newError(KindMultipleImplementation, descriptorOf(m),
					"%s overrides both %s and %s", m, found, base)
			}
			if found == nil {
				found = base
			}
			if other, ok := claimed[i]; ok && other != m && b.conflict == nil {
				b.conflict = newError(KindMultipleImplementation, descriptorOf(m),
					"%s and %s both override %s", other, m, base)
			}
			claimed[i] = m
			b.matches[di] = append(b.matches[di], i)
		}
		if len(b.matches[di]) == 0 {
			b.size++
		}
	}
	b.state = stateBuilt
}

// Resolve produces the finished table. Declared methods overriding a slot
// take over its index; the rest are appended in declaration order.
func (b *VTableBuilder) Resolve() (*VTable, error) {
	if b.state != stateBuilt {
		panic("linker.VTableBuilder.Resolve: builder is " + b.state.String())
	}
	if b.conflict != nil {
		b.state = stateFailed
		return nil, b.conflict
	}
	methods := make([]*Method, b.size)
	copy(methods, b.super)
	next := len(b.super)
	for di, m := range b.declared {
		slots := b.matches[di]
		if len(slots) == 0 {
			methods[next] = m
			m.vtableIndex = next
			next++
			continue
		}
		for _, i := range slots {
			methods[i] = m
		}
		m.vtableIndex = slots[0]
	}
	b.state = stateResolved
	return &VTable{methods: methods}, nil
}

func descriptorOf(m *Method) string {
	if m.class == nil {
		return ""
	}
	return m.class.descriptor
}
