package linker

import (
	"fmt"
	"sync/atomic"

	"github.com/chazu/classlink/descriptor"
	"github.com/chazu/classlink/pandafile"
)

// ---------------------------------------------------------------------------
// Class: a linked class
// ---------------------------------------------------------------------------

// State is the linking state of a Class.
type State int32

const (
	StateLoaded State = iota
	StateLinked
	StateErroneous
)

func (s State) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateLinked:
		return "linked"
	case StateErroneous:
		return "erroneous"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Field is a declared field.
type Field struct {
	Name  string
	Flags pandafile.AccessFlags
	Type  string // descriptor
}

// Class is a class resolved in a LinkerContext. Its vtable and itable are
// published once and never change afterwards.
type Class struct {
	descriptor string
	flags      pandafile.AccessFlags
	super      *Class
	interfaces []*Class
	direct     []*Method
	virtual    []*Method
	fields     []Field
	component  *Class

	ctx  LinkerContext
	file *pandafile.File
	id   pandafile.EntityID

	vtable atomic.Pointer[VTable]
	itable atomic.Pointer[ITable]
	state  atomic.Int32
}

// Descriptor returns the class descriptor ("Lapp/Circle;").
func (c *Class) Descriptor() string { return c.descriptor }

// Name returns the dotted class name ("app.Circle").
func (c *Class) Name() string { return descriptor.ToClassName(c.descriptor) }

func (c *Class) Flags() pandafile.AccessFlags { return c.flags }
func (c *Class) IsInterface() bool            { return c.flags.Has(pandafile.AccInterface) }
func (c *Class) IsFinal() bool                { return c.flags.Has(pandafile.AccFinal) }
func (c *Class) IsAbstract() bool             { return c.flags.Has(pandafile.AccAbstract) }
func (c *Class) IsArray() bool                { return c.component != nil }

// Superclass returns the direct superclass, nil for the root and for
// interfaces.
func (c *Class) Superclass() *Class { return c.super }

// Interfaces returns the directly declared interfaces.
func (c *Class) Interfaces() []*Class { return c.interfaces }

// VirtualMethods returns the declared methods that take part in dispatch.
func (c *Class) VirtualMethods() []*Method { return c.virtual }

// DirectMethods returns the declared static, private and constructor
// methods.
func (c *Class) DirectMethods() []*Method { return c.direct }

// Fields returns the declared fields.
func (c *Class) Fields() []Field { return c.fields }

// ComponentType returns the element class of an array class.
func (c *Class) ComponentType() *Class { return c.component }

// Context returns the context the class was defined in.
func (c *Class) Context() LinkerContext { return c.ctx }

// File returns the file the class was defined from, nil for array classes.
func (c *Class) File() *pandafile.File { return c.file }

// EntityID returns the class id within File.
func (c *Class) EntityID() pandafile.EntityID { return c.id }

// VTable returns the published virtual table, nil before linking.
func (c *Class) VTable() *VTable { return c.vtable.Load() }

// ITable returns the published interface table, nil before linking.
func (c *Class) ITable() *ITable { return c.itable.Load() }

// State returns the linking state.
func (c *Class) State() State { return State(c.state.Load()) }

func (c *Class) setState(s State) { c.state.Store(int32(s)) }

func (c *Class) setVTable(vt *VTable) {
	if !c.vtable.CompareAndSwap(nil, vt) {
		panic("linker.Class.setVTable: vtable of " + c.descriptor + " already published")
	}
}

func (c *Class) setITable(it *ITable) {
	if !c.itable.CompareAndSwap(nil, it) {
		panic("linker.Class.setITable: itable of " + c.descriptor + " already published")
	}
}

// FindVirtualMethod returns the first declared virtual method named name.
func (c *Class) FindVirtualMethod(name string) *Method {
	for _, m := range c.virtual {
		if m.name == name {
			return m
		}
	}
	return nil
}

// Implements returns true if iface is c itself or appears in c's itable.
func (c *Class) Implements(iface *Class) bool {
	if c == iface {
		return true
	}
	it := c.ITable()
	if it == nil {
		return false
	}
	_, ok := it.Find(iface)
	return ok
}

// Ancestors lists the superclass chain of c, nearest first. Interfaces
// and the root have none.
func (c *Class) Ancestors() []*Class {
	var chain []*Class
	for s := c.super; s != nil; s = s.super {
		chain = append(chain, s)
	}
	return chain
}

// String implements the Stringer interface.
func (c *Class) String() string {
	return c.Name()
}
