// Package pandafile is the read-only accessor over parsed binary class
// files. Every class, method and string inside a file is addressed by a
// stable entity id; ids are only meaningful relative to their own file.
package pandafile

import (
	"fmt"
	"math"

	"github.com/chazu/classlink/descriptor"
)

// EntityID identifies a class record within one file.
type EntityID uint32

// InvalidID marks an absent reference (no superclass, no field type).
const InvalidID EntityID = math.MaxUint32

// StringID identifies an entry of a file's string table.
type StringID uint32

// AccessFlags are the class/method/field modifier bits.
type AccessFlags uint32

const (
	AccPublic    AccessFlags = 0x0001
	AccPrivate   AccessFlags = 0x0002
	AccProtected AccessFlags = 0x0004
	AccStatic    AccessFlags = 0x0008
	AccFinal     AccessFlags = 0x0010
	AccNative    AccessFlags = 0x0100
	AccInterface AccessFlags = 0x0200
	AccAbstract  AccessFlags = 0x0400
	AccSynthetic AccessFlags = 0x1000
)

// Has reports whether all bits of mask are set.
func (f AccessFlags) Has(mask AccessFlags) bool {
	return f&mask == mask
}

// TypeID is the raw type category of a prototype element or field.
type TypeID uint8

const (
	TypeVoid TypeID = iota
	TypeBool
	TypeByte
	TypeChar
	TypeShort
	TypeInt
	TypeLong
	TypeFloat
	TypeDouble
	TypeReference
)

var typeCodes = [...]string{"V", "Z", "B", "C", "S", "I", "J", "F", "D"}

// IsReference reports whether the element carries a class reference.
func (t TypeID) IsReference() bool {
	return t == TypeReference
}

// Code returns the primitive descriptor code, or "" for references.
func (t TypeID) Code() string {
	if int(t) < len(typeCodes) {
		return typeCodes[t]
	}
	return ""
}

// TypeFromCode maps a primitive descriptor code to its TypeID.
func TypeFromCode(code string) (TypeID, bool) {
	for i, c := range typeCodes {
		if c == code {
			return TypeID(i), true
		}
	}
	return 0, false
}

// Proto is a method prototype. Types[0] is the return type, the rest are
// parameters. Each reference element consumes the next entry of Refs.
type Proto struct {
	Types []TypeID   `cbor:"1,keyasint"`
	Refs  []EntityID `cbor:"2,keyasint,omitempty"`
}

// MethodRecord is a declared method.
type MethodRecord struct {
	Name  StringID    `cbor:"1,keyasint"`
	Flags AccessFlags `cbor:"2,keyasint"`
	Proto Proto       `cbor:"3,keyasint"`
}

// FieldRecord is a declared field. Ref is InvalidID for primitive fields.
type FieldRecord struct {
	Name  StringID    `cbor:"1,keyasint"`
	Flags AccessFlags `cbor:"2,keyasint"`
	Type  TypeID      `cbor:"3,keyasint"`
	Ref   EntityID    `cbor:"4,keyasint"`
}

// ClassRecord is the metadata of one class id. External records carry
// only a name: the class is declared here but defined in another file.
type ClassRecord struct {
	Name       StringID       `cbor:"1,keyasint"`
	Flags      AccessFlags    `cbor:"2,keyasint"`
	Super      EntityID       `cbor:"3,keyasint"`
	Interfaces []EntityID     `cbor:"4,keyasint,omitempty"`
	Methods    []MethodRecord `cbor:"5,keyasint,omitempty"`
	Fields     []FieldRecord  `cbor:"6,keyasint,omitempty"`
	External   bool           `cbor:"7,keyasint,omitempty"`
}

// File is an immutable parsed class file. It is safe for concurrent use.
type File struct {
	name    string
	strings []string
	classes []ClassRecord
	index   map[string]EntityID
}

func newFile(name string, strs []string, classes []ClassRecord) (*File, error) {
	f := &File{
		name:    name,
		strings: strs,
		classes: classes,
		index:   make(map[string]EntityID, len(classes)),
	}
	for i := range classes {
		d, err := f.String(classes[i].Name)
		if err != nil {
			return nil, fmt.Errorf("class id %d: %w", i, err)
		}
		if prev, dup := f.index[d]; dup {
			return nil, fmt.Errorf("class %s declared twice (ids %d and %d)", d, prev, i)
		}
		f.index[d] = EntityID(i)
	}
	return f, nil
}

// Filename returns the path the file was opened from.
func (f *File) Filename() string {
	return f.name
}

// NumClasses returns the number of class records, external ones included.
func (f *File) NumClasses() int {
	return len(f.classes)
}

// String returns the string table entry id.
func (f *File) String(id StringID) (string, error) {
	if int(id) >= len(f.strings) {
		return "", fmt.Errorf("%s: string id %d out of range", f.name, id)
	}
	return f.strings[id], nil
}

// Class returns the class record for id.
func (f *File) Class(id EntityID) (*ClassRecord, error) {
	if int(id) >= len(f.classes) {
		return nil, fmt.Errorf("%s: class id %d out of range", f.name, id)
	}
	return &f.classes[id], nil
}

// ClassDescriptor returns the descriptor of class id.
func (f *File) ClassDescriptor(id EntityID) (string, error) {
	rec, err := f.Class(id)
	if err != nil {
		return "", err
	}
	return f.String(rec.Name)
}

// IsExternal reports whether id is declared but not defined in this file.
func (f *File) IsExternal(id EntityID) bool {
	rec, err := f.Class(id)
	return err != nil || rec.External
}

// FindClass returns the id declared for a descriptor, external or not.
func (f *File) FindClass(d string) (EntityID, bool) {
	id, ok := f.index[d]
	return id, ok
}

// FindDefinedClass returns the id of the class defined under d in this
// file. External declarations do not match.
func (f *File) FindDefinedClass(d string) (EntityID, bool) {
	id, ok := f.index[d]
	if !ok || f.classes[id].External {
		return InvalidID, false
	}
	return id, true
}

// DefinedClasses returns the ids of all non-external classes in id order.
func (f *File) DefinedClasses() []EntityID {
	ids := make([]EntityID, 0, len(f.classes))
	for i := range f.classes {
		if !f.classes[i].External {
			ids = append(ids, EntityID(i))
		}
	}
	return ids
}

// ElementDescriptors resolves every element of p to a descriptor:
// primitive codes for primitives, referenced class descriptors otherwise.
func (f *File) ElementDescriptors(p Proto) ([]string, error) {
	out := make([]string, len(p.Types))
	ref := 0
	for i, t := range p.Types {
		if !t.IsReference() {
			out[i] = t.Code()
			continue
		}
		if ref >= len(p.Refs) {
			return nil, fmt.Errorf("%s: proto element %d has no reference index", f.name, i)
		}
		d, err := f.ClassDescriptor(p.Refs[ref])
		if err != nil {
			return nil, err
		}
		out[i] = d
		ref++
	}
	return out, nil
}

// Validate checks that every id and string the file references is in range
// and that every class name is a valid descriptor.
func (f *File) Validate() error {
	for i := range f.classes {
		rec := &f.classes[i]
		d, err := f.String(rec.Name)
		if err != nil {
			return err
		}
		if err := descriptor.Validate(d); err != nil {
			return fmt.Errorf("%s: class id %d: %w", f.name, i, err)
		}
		if rec.External {
			continue
		}
		if rec.Super != InvalidID {
			if _, err := f.Class(rec.Super); err != nil {
				return fmt.Errorf("%s: superclass of %s: %w", f.name, d, err)
			}
		}
		for _, iface := range rec.Interfaces {
			if _, err := f.Class(iface); err != nil {
				return fmt.Errorf("%s: interface of %s: %w", f.name, d, err)
			}
		}
		for _, m := range rec.Methods {
			if _, err := f.String(m.Name); err != nil {
				return err
			}
			if len(m.Proto.Types) == 0 {
				return fmt.Errorf("%s: method of %s has an empty proto", f.name, d)
			}
			if _, err := f.ElementDescriptors(m.Proto); err != nil {
				return err
			}
		}
		for _, fld := range rec.Fields {
			if _, err := f.String(fld.Name); err != nil {
				return err
			}
			if fld.Type.IsReference() {
				if _, err := f.Class(fld.Ref); err != nil {
					return fmt.Errorf("%s: field of %s: %w", f.name, d, err)
				}
			}
		}
	}
	return nil
}
