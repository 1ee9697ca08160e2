package linker

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// ITableEntry maps one implemented interface to the methods that serve
// its virtual methods, slot for slot. Interfaces carry no slots in their
// own itable.
type ITableEntry struct {
	Interface *Class
	Methods   []*Method
}

// ITable is the interface dispatch table of a class. Entries inherited
// from the superclass come first, in the superclass's order.
type ITable struct {
	entries []ITableEntry
}

// Len returns the number of entries.
func (it *ITable) Len() int {
	if it == nil {
		return 0
	}
	return len(it.entries)
}

// Entry returns entry i.
func (it *ITable) Entry(i int) ITableEntry {
	return it.entries[i]
}

// Entries returns a copy of the entries.
func (it *ITable) Entries() []ITableEntry {
	out := make([]ITableEntry, it.Len())
	if it != nil {
		copy(out, it.entries)
	}
	return out
}

// Interfaces returns the interfaces in table order.
func (it *ITable) Interfaces() []*Class {
	out := make([]*Class, it.Len())
	for i := range out {
		out[i] = it.entries[i].Interface
	}
	return out
}

// Find returns the position of iface.
func (it *ITable) Find(iface *Class) (int, bool) {
	if it == nil {
		return -1, false
	}
	i := slices.IndexFunc(it.entries, func(e ITableEntry) bool {
		return e.Interface == iface
	})
	return i, i >= 0
}

// Lookup returns the implementation for slot of iface, or nil.
func (it *ITable) Lookup(iface *Class, slot int) *Method {
	i, ok := it.Find(iface)
	if !ok {
		return nil
	}
	methods := it.entries[i].Methods
	if slot < 0 || slot >= len(methods) {
		return nil
	}
	return methods[slot]
}

// Dump renders each entry with the full names of its resolved methods.
func (it *ITable) Dump() string {
	var sb strings.Builder
	for i, e := range it.Entries() {
		names := make([]string, len(e.Methods))
		for j, m := range e.Methods {
			if m == nil {
				names[j] = "<unresolved>"
				continue
			}
			names[j] = m.FullName()
		}
		fmt.Fprintf(&sb, "[%d] %s {%s}\n", i, e.Interface.Name(), strings.Join(names, ", "))
	}
	return sb.String()
}

// ---------------------------------------------------------------------------
// ITableBuilder
// ---------------------------------------------------------------------------

// ITableBuilder linearizes the interfaces of a class and resolves their
// method slots against the class vtable.
type ITableBuilder struct {
	checker     *OverrideChecker
	dump        bool
	state       builderState
	isInterface bool
	superLen    int
	entries     []ITableEntry
}

// NewITableBuilder creates a builder. With dump set, resolved tables are
// written to the debug log.
func NewITableBuilder(checker *OverrideChecker, dump bool) *ITableBuilder {
	return &ITableBuilder{checker: checker, dump: dump}
}

// Build orders the interfaces reachable from super and declared: the
// superclass entries verbatim, then for each declared interface its own
// entries followed by itself, skipping anything already placed.
func (b *ITableBuilder) Build(super *Class, declared []*Class, isInterface bool) {
	if b.state != stateUninitialized {
		panic("linker.ITableBuilder.Build: builder is " + b.state.String())
	}
	b.isInterface = isInterface

	var inherited []ITableEntry
	if super != nil {
		inherited = super.ITable().Entries()
	}

	pending := make(map[*Class]struct{})
	for _, e := range inherited {
		pending[e.Interface] = struct{}{}
	}
	for _, iface := range declared {
		for _, e := range iface.ITable().Entries() {
			pending[e.Interface] = struct{}{}
		}
		pending[iface] = struct{}{}
	}

	entries := make([]ITableEntry, 0, len(pending))
	for _, e := range inherited {
		entries = append(entries, e)
		delete(pending, e.Interface)
	}
	for _, iface := range declared {
		for _, e := range iface.ITable().Entries() {
			if _, ok := pending[e.Interface]; ok {
				entries = append(entries, ITableEntry{Interface: e.Interface})
				delete(pending, e.Interface)
			}
		}
		if _, ok := pending[iface]; ok {
			entries = append(entries, ITableEntry{Interface: iface})
			delete(pending, iface)
		}
	}
	if len(pending) != 0 {
		var names []string
		for _, c := range maps.Keys(pending) {
			names = append(names, c.Name())
		}
		sort.Strings(names)
		panic("linker.ITableBuilder.Build: interfaces left unplaced: " + strings.Join(names, ", "))
	}

	b.superLen = len(inherited)
	if !isInterface {
		for i := b.superLen; i < len(entries); i++ {
			entries[i].Methods = make([]*Method, len(entries[i].Interface.VirtualMethods()))
		}
	}
	b.entries = entries
	b.state = stateBuilt
}

// Resolve fills every slot from cls's vtable, falling back to the
// interface's own method, and publishes the table on cls.
func (b *ITableBuilder) Resolve(cls *Class) (*ITable, error) {
	if b.state != stateBuilt {
		panic("linker.ITableBuilder.Resolve: builder is " + b.state.String())
	}
	if b.isInterface {
		it := &ITable{entries: b.entries}
		cls.setITable(it)
		b.state = stateResolved
		return it, nil
	}

	vt := cls.VTable()
	resolved := make([]ITableEntry, len(b.entries))
	for i := len(b.entries) - 1; i >= 0; i-- {
		iface := b.entries[i].Interface
		imethods := iface.VirtualMethods()
		slots := make([]*Method, len(imethods))
		for j, im := range imethods {
			impl, err := b.findImplementation(vt, im)
			if err != nil {
				b.state = stateFailed
				return nil, err
			}
			if impl == nil {
				if impl, err = b.selectDefault(cls, im); err != nil {
					b.state = stateFailed
					return nil, err
				}
			}
			slots[j] = impl
		}
		resolved[i] = ITableEntry{Interface: iface, Methods: slots}
	}

	it := &ITable{entries: resolved}
	cls.setITable(it)
	b.state = stateResolved
	if b.dump {
		log.Debugf("itable of %s:\n%s", cls.Name(), it.Dump())
	}
	return it, nil
}

// findImplementation scans vt from end to start for methods overriding
// im. A second distinct match is a conflict.
func (b *ITableBuilder) findImplementation(vt *VTable, im *Method) (*Method, error) {
	var found *Method
	for k := vt.Len() - 1; k >= 0; k-- {
		m := vt.At(k)
		if m == found || !b.checker.Overrides(im, m) {
			continue
		}
		if found != nil {
			return nil, newError(KindMultipleImplementation, descriptorOf(m),
				"%s is implemented by both %s and %s", im, found, m)
		}
		found = m
	}
	return found, nil
}

// selectDefault picks the body of im for a class that declares none. Of
// the compatible declarations in the table, only those no more specific
// interface redeclares are considered. A single default among them wins,
// two defaults conflict, and with none the slot keeps the abstract
// declaration.
func (b *ITableBuilder) selectDefault(cls *Class, im *Method) (*Method, error) {
	var candidates []*Method
	for _, e := range b.entries {
		for _, om := range e.Interface.VirtualMethods() {
			if om.class == im.class {
				if om == im {
					candidates = append(candidates, om)
				}
				continue
			}
			if b.checker.Overrides(im, om) || b.checker.Overrides(om, im) {
				candidates = append(candidates, om)
			}
		}
	}

	var maximal, defaults []*Method
	for _, m := range candidates {
		shadowed := false
		for _, o := range candidates {
			if o.class != m.class && o.class.Implements(m.class) {
				shadowed = true
				break
			}
		}
		if shadowed {
			continue
		}
		maximal = append(maximal, m)
		if m.IsDefault() {
			defaults = append(defaults, m)
		}
	}

	switch {
	case len(defaults) == 1:
		return defaults[0], nil
	case len(defaults) > 1:
		return nil, newError(KindMultipleImplementation, cls.descriptor,
			"conflicting defaults %s and %s", defaults[0], defaults[1])
	case len(maximal) == 1:
		return maximal[0], nil
	}
	return im, nil
}
