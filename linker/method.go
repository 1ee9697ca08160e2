package linker

import (
	"strings"

	"github.com/chazu/classlink/pandafile"
)

// Proto is a method prototype bound to the file it was declared in, so
// its reference elements can be resolved to descriptors.
type Proto struct {
	file *pandafile.File
	raw  pandafile.Proto
}

// Types returns the raw element categories; index 0 is the return type.
func (p Proto) Types() []pandafile.TypeID { return p.raw.Types }

// Len returns the number of elements, return type included.
func (p Proto) Len() int { return len(p.raw.Types) }

// Descriptors resolves every element to a descriptor.
func (p Proto) Descriptors() ([]string, error) {
	return p.file.ElementDescriptors(p.raw)
}

// Signature renders the prototype as "(params)ret".
func (p Proto) Signature() string {
	ds, err := p.Descriptors()
	if err != nil || len(ds) == 0 {
		return "(?)?"
	}
	return "(" + strings.Join(ds[1:], "") + ")" + ds[0]
}

// Method is a method declared by a Class.
type Method struct {
	class       *Class
	name        string
	flags       pandafile.AccessFlags
	proto       Proto
	vtableIndex int
}

func (m *Method) Class() *Class                { return m.class }
func (m *Method) Name() string                 { return m.name }
func (m *Method) Flags() pandafile.AccessFlags { return m.flags }
func (m *Method) Proto() Proto                 { return m.proto }

// VTableIndex returns the assigned slot, or -1 for direct methods.
func (m *Method) VTableIndex() int { return m.vtableIndex }

func (m *Method) IsStatic() bool   { return m.flags.Has(pandafile.AccStatic) }
func (m *Method) IsAbstract() bool { return m.flags.Has(pandafile.AccAbstract) }
func (m *Method) IsFinal() bool    { return m.flags.Has(pandafile.AccFinal) }

// IsConstructor reports instance and class initializers.
func (m *Method) IsConstructor() bool {
	return m.name == "<ctor>" || m.name == "<cctor>"
}

// IsDefault reports a non-abstract instance method of an interface.
func (m *Method) IsDefault() bool {
	return m.class != nil && m.class.IsInterface() && !m.IsAbstract() && !m.IsStatic()
}

// isVirtual decides whether a declared method gets a vtable slot.
func (m *Method) isVirtual() bool {
	return !m.IsStatic() && !m.flags.Has(pandafile.AccPrivate) && !m.IsConstructor()
}

// FullName returns "pkg.Class::name".
func (m *Method) FullName() string {
	if m.class == nil {
		return m.name
	}
	return m.class.Name() + "::" + m.name
}

// Signature returns "name(params)ret".
func (m *Method) Signature() string {
	return m.name + m.proto.Signature()
}

func (m *Method) String() string {
	return m.FullName() + m.proto.Signature()
}
