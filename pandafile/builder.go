package pandafile

import (
	"fmt"

	"github.com/chazu/classlink/descriptor"
)

// Builder assembles a File in memory. It is used by tools that emit class
// files and by tests that need fixture hierarchies.
//
// References to descriptors the builder has not defined become external
// class records; defining the class later promotes the record in place,
// so ids handed out earlier stay valid.
type Builder struct {
	name    string
	strings []string
	strIdx  map[string]StringID
	classes []ClassRecord
	clsIdx  map[string]EntityID
}

// ClassBuilder adds members to one class record.
type ClassBuilder struct {
	b  *Builder
	id EntityID
}

// NewBuilder creates an empty builder for a file with the given name.
func NewBuilder(name string) *Builder {
	return &Builder{
		name:   name,
		strIdx: make(map[string]StringID),
		clsIdx: make(map[string]EntityID),
	}
}

func (b *Builder) intern(s string) StringID {
	if id, ok := b.strIdx[s]; ok {
		return id
	}
	id := StringID(len(b.strings))
	b.strings = append(b.strings, s)
	b.strIdx[s] = id
	return id
}

// ref returns the class id for d, declaring an external record if needed.
func (b *Builder) ref(d string) EntityID {
	if err := descriptor.Validate(d); err != nil {
		panic(fmt.Sprintf("pandafile.Builder: %v", err))
	}
	if id, ok := b.clsIdx[d]; ok {
		return id
	}
	id := EntityID(len(b.classes))
	b.classes = append(b.classes, ClassRecord{
		Name:     b.intern(d),
		Super:    InvalidID,
		External: true,
	})
	b.clsIdx[d] = id
	return id
}

// Class defines the class d. Defining the same descriptor twice panics.
func (b *Builder) Class(d string, flags AccessFlags) *ClassBuilder {
	id := b.ref(d)
	rec := &b.classes[id]
	if !rec.External {
		panic(fmt.Sprintf("pandafile.Builder: class %s defined twice", d))
	}
	rec.External = false
	rec.Flags = flags
	return &ClassBuilder{b: b, id: id}
}

// Interface defines d as a public abstract interface.
func (b *Builder) Interface(d string) *ClassBuilder {
	return b.Class(d, AccPublic|AccInterface|AccAbstract)
}

// Declare adds an external record for d without defining it.
func (b *Builder) Declare(d string) EntityID {
	return b.ref(d)
}

// Build returns the finished file.
func (b *Builder) Build() *File {
	strs := make([]string, len(b.strings))
	copy(strs, b.strings)
	classes := make([]ClassRecord, len(b.classes))
	copy(classes, b.classes)
	f, err := newFile(b.name, strs, classes)
	if err != nil {
		panic(fmt.Sprintf("pandafile.Builder: %v", err))
	}
	return f
}

func (cb *ClassBuilder) rec() *ClassRecord {
	return &cb.b.classes[cb.id]
}

// ID returns the entity id of the class being built.
func (cb *ClassBuilder) ID() EntityID {
	return cb.id
}

// Extends sets the superclass.
func (cb *ClassBuilder) Extends(super string) *ClassBuilder {
	id := cb.b.ref(super)
	cb.rec().Super = id
	return cb
}

// Implements appends directly declared interfaces.
func (cb *ClassBuilder) Implements(ifaces ...string) *ClassBuilder {
	for _, d := range ifaces {
		id := cb.b.ref(d)
		r := cb.rec()
		r.Interfaces = append(r.Interfaces, id)
	}
	return cb
}

// Method declares a method. ret and params are descriptors.
func (cb *ClassBuilder) Method(name string, flags AccessFlags, ret string, params ...string) *ClassBuilder {
	proto := Proto{}
	for _, d := range append([]string{ret}, params...) {
		if t, ok := TypeFromCode(d); ok {
			proto.Types = append(proto.Types, t)
			continue
		}
		proto.Types = append(proto.Types, TypeReference)
		proto.Refs = append(proto.Refs, cb.b.ref(d))
	}
	m := MethodRecord{Name: cb.b.intern(name), Flags: flags, Proto: proto}
	r := cb.rec()
	r.Methods = append(r.Methods, m)
	return cb
}

// Field declares a field of type d.
func (cb *ClassBuilder) Field(name string, flags AccessFlags, d string) *ClassBuilder {
	fld := FieldRecord{Name: cb.b.intern(name), Flags: flags, Ref: InvalidID}
	if t, ok := TypeFromCode(d); ok {
		fld.Type = t
	} else {
		fld.Type = TypeReference
		fld.Ref = cb.b.ref(d)
	}
	r := cb.rec()
	r.Fields = append(r.Fields, fld)
	return cb
}
