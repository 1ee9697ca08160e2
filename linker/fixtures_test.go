package linker

import (
	"context"
	"testing"

	"github.com/chazu/classlink/pandafile"
)

const (
	obj = "Lstd/core/Object;"
	str = "Lstd/core/String;"
)

var testCtx = context.Background()

const (
	pub      = pandafile.AccPublic
	abstract = pandafile.AccPublic | pandafile.AccAbstract
)

// bootFile defines the root object type and a final string class.
// Object's vtable is [hashCode, equals, toString].
func bootFile() *pandafile.File {
	b := pandafile.NewBuilder("boot.pfc")
	b.Class(obj, pub).
		Method("<ctor>", pub, "V").
		Method("hashCode", pub, "I").
		Method("equals", pub, "Z", obj).
		Method("toString", pub, str)
	b.Class(str, pub|pandafile.AccFinal).
		Extends(obj).
		Method("toString", pub, str).
		Method("length", pub, "I")
	return b.Build()
}

// newTestLinker returns a linker over bootFile and a native user context
// owning app.
func newTestLinker(t *testing.T, app ...*pandafile.File) (*Linker, *UserContext) {
	t.Helper()
	l := New(DefaultOptions(), bootFile())
	uc := l.NewUserContext("app", nil, &RuntimeLinker{Name: "app", Kind: LinkerAbc}, app...)
	return l, uc
}

func mustResolve(t *testing.T, l *Linker, lc LinkerContext, d string) *Class {
	t.Helper()
	c, err := l.Resolve(testCtx, lc, d)
	if err != nil {
		t.Fatalf("Resolve(%s): %v", d, err)
	}
	return c
}

func slotNames(vt *VTable) []string {
	names := make([]string, vt.Len())
	for i, m := range vt.Methods() {
		names[i] = m.FullName()
	}
	return names
}

func protoOf(t *testing.T, f *pandafile.File, class string, method int) Proto {
	t.Helper()
	id, ok := f.FindDefinedClass(class)
	if !ok {
		t.Fatalf("%s not defined in %s", class, f.Filename())
	}
	rec, _ := f.Class(id)
	return Proto{file: f, raw: rec.Methods[method].Proto}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
