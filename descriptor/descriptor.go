// Package descriptor parses and compares binary type descriptors.
//
// A descriptor is the canonical encoding of a type name: a single
// primitive code ("I", "D", ...), a class reference ("Lstd/core/Object;")
// or an array of either ("[I", "[[Lapp/Shape;").
package descriptor

import (
	"fmt"
	"strings"
)

// ArrayMarker prefixes every array descriptor once per dimension.
const ArrayMarker = '['

// primitiveCodes lists the single-byte primitive type codes.
const primitiveCodes = "VZBCSIJFD"

// IsArray reports whether d describes an array type.
func IsArray(d string) bool {
	return len(d) > 0 && d[0] == ArrayMarker
}

// Component strips exactly one array dimension from d.
func Component(d string) (string, error) {
	if !IsArray(d) {
		return "", fmt.Errorf("descriptor: %q is not an array", d)
	}
	return d[1:], nil
}

// IsPrimitive reports whether d is a single primitive type code.
func IsPrimitive(d string) bool {
	return len(d) == 1 && strings.IndexByte(primitiveCodes, d[0]) >= 0
}

// IsClass reports whether d has the form "L...;".
func IsClass(d string) bool {
	return len(d) > 2 && d[0] == 'L' && d[len(d)-1] == ';'
}

// IsReference reports whether d names a class or array type.
func IsReference(d string) bool {
	return IsClass(d) || IsArray(d)
}

// Dimensions returns the number of array dimensions of d.
func Dimensions(d string) int {
	n := 0
	for n < len(d) && d[n] == ArrayMarker {
		n++
	}
	return n
}

// Element returns the innermost non-array descriptor of d.
func Element(d string) string {
	return d[Dimensions(d):]
}

// Validate checks that d is a well formed descriptor.
func Validate(d string) error {
	elem := Element(d)
	switch {
	case elem == "":
		return fmt.Errorf("descriptor: %q has no element type", d)
	case IsPrimitive(elem):
		if elem == "V" && elem != d {
			return fmt.Errorf("descriptor: %q is an array of void", d)
		}
		return nil
	case IsClass(elem):
		if strings.ContainsAny(elem[1:len(elem)-1], ";[") {
			return fmt.Errorf("descriptor: %q has a malformed class name", d)
		}
		return nil
	}
	return fmt.Errorf("descriptor: %q is not a valid descriptor", d)
}

// ToClassName converts a class descriptor into the dotted name user-level
// loaders receive ("Lstd/core/Object;" -> "std.core.Object"). Array and
// primitive descriptors are returned unchanged.
func ToClassName(d string) string {
	if !IsClass(d) {
		return d
	}
	return strings.ReplaceAll(d[1:len(d)-1], "/", ".")
}

// FromClassName is the inverse of ToClassName.
func FromClassName(name string) string {
	if IsArray(name) || IsPrimitive(name) || IsClass(name) {
		return name
	}
	return "L" + strings.ReplaceAll(name, ".", "/") + ";"
}
