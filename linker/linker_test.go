package linker

import (
	"errors"
	"runtime"
	"sync"
	"testing"

	"github.com/chazu/classlink/descriptor"
	"github.com/chazu/classlink/pandafile"
)

// ---------------------------------------------------------------------------
// Context chain resolution
// ---------------------------------------------------------------------------

func TestResolveBootClass(t *testing.T) {
	l, uc := newTestLinker(t)
	fromUser := mustResolve(t, l, uc, obj)
	fromBoot := mustResolve(t, l, l.Boot(), obj)
	if fromUser != fromBoot {
		t.Error("a boot class resolved through a user context should be the boot class")
	}
	if !fromBoot.Context().IsBoot() {
		t.Errorf("Context() = %v, want boot", fromBoot.Context())
	}
}

func TestResolveClassNotFound(t *testing.T) {
	l, uc := newTestLinker(t)
	var reported []*Error
	l.SetErrorHandler(ErrorHandlerFunc(func(err *Error) { reported = append(reported, err) }))

	_, err := l.Resolve(testCtx, uc, "Lapp/Missing;")
	if !IsClassNotFound(err) || !errors.Is(err, ErrClassNotFound) {
		t.Fatalf("Resolve(Missing) error = %v, want ClassNotFound", err)
	}
	if IsLinkageError(err) {
		t.Error("ClassNotFound is not a linkage error")
	}
	if len(reported) != 1 || reported[0].Descriptor != "Lapp/Missing;" {
		t.Errorf("reported = %v, want one ClassNotFound for Lapp/Missing;", reported)
	}
}

func TestResolveMalformedDescriptor(t *testing.T) {
	l, uc := newTestLinker(t)
	_, err := l.Resolve(testCtx, uc, "Lapp/NoSemicolon")
	if !errors.Is(err, ErrMalformedMetadata) {
		t.Errorf("Resolve error = %v, want MalformedMetadata", err)
	}
}

func TestResolveParentFirst(t *testing.T) {
	b := pandafile.NewBuilder("shadow.pfc")
	b.Class(obj, pub).Method("shadowed", pub, "V")
	b.Class("Lapp/Own;", pub).Extends(obj)
	l, uc := newTestLinker(t, b.Build())

	object := mustResolve(t, l, uc, obj)
	if !object.Context().IsBoot() {
		t.Errorf("%s defined in %v, want boot", obj, object.Context())
	}
	if object.FindVirtualMethod("shadowed") != nil {
		t.Error("the user file's copy of the root must not be used")
	}
	own := mustResolve(t, l, uc, "Lapp/Own;")
	if own.Context() != uc {
		t.Errorf("Own defined in %v, want %v", own.Context(), uc)
	}
	if own.Superclass() != object {
		t.Error("Own should extend the boot root")
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	l, uc := newTestLinker(t, shapeFile())
	a := mustResolve(t, l, uc, "Lapp/Circle;")
	b := mustResolve(t, l, uc, "Lapp/Circle;")
	if a != b {
		t.Error("resolving twice should return the same class")
	}
	if n := len(uc.LoadedClasses()); n != 2 {
		t.Errorf("LoadedClasses() = %d classes, want 2", n)
	}
}

func TestDistinctContextsDistinctClasses(t *testing.T) {
	bA := pandafile.NewBuilder("a.pfc")
	bA.Class("Lapp/Widget;", pub).Extends(obj).Method("a", pub, "V")
	bB := pandafile.NewBuilder("b.pfc")
	bB.Class("Lapp/Widget;", pub).Extends(obj).Method("b", pub, "V").Method("c", pub, "V")
	bMid := pandafile.NewBuilder("mid.pfc")
	bMid.Class("Lapp/Helper;", pub).Extends(obj)

	l := New(DefaultOptions(), bootFile())
	one := l.NewUserContext("one", nil, &RuntimeLinker{Name: "one"}, bA.Build())
	mid := l.NewUserContext("mid", nil, &RuntimeLinker{Name: "mid"}, bMid.Build())
	two := l.NewUserContext("two", mid, &RuntimeLinker{Name: "two"}, bB.Build())

	w1 := mustResolve(t, l, one, "Lapp/Widget;")
	w2 := mustResolve(t, l, two, "Lapp/Widget;")
	if w1 == w2 {
		t.Fatal("same descriptor in unrelated contexts should give distinct classes")
	}
	if w1.Context() != one || w2.Context() != two {
		t.Errorf("contexts = %v, %v; want one, two", w1.Context(), w2.Context())
	}
	if w1.VTable().Len() != 4 || w2.VTable().Len() != 5 {
		t.Errorf("vtable lens = %d, %d; want 4, 5", w1.VTable().Len(), w2.VTable().Len())
	}
	if w1.Superclass() != w2.Superclass() {
		t.Error("both widgets should share the boot root")
	}
	if one.ID() == two.ID() {
		t.Error("contexts should get distinct ids")
	}
}

func TestResolveDeterministic(t *testing.T) {
	layout := func() [][]string {
		l, uc := newTestLinker(t, shapeFile())
		c := mustResolve(t, l, uc, "Lapp/Circle;")
		out := [][]string{slotNames(c.VTable())}
		for _, e := range c.ITable().Entries() {
			row := []string{e.Interface.Name()}
			for _, m := range e.Methods {
				row = append(row, m.String())
			}
			out = append(out, row)
		}
		return out
	}
	a, b := layout(), layout()
	if len(a) != len(b) {
		t.Fatalf("layouts differ: %v vs %v", a, b)
	}
	for i := range a {
		if !equalStrings(a[i], b[i]) {
			t.Errorf("row %d = %v, want %v", i, b[i], a[i])
		}
	}
}

func TestResolveConcurrent(t *testing.T) {
	l, uc := newTestLinker(t, shapeFile())
	const n = 16
	got := make([]*Class, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := l.Resolve(testCtx, uc, "Lapp/Circle;")
			if err != nil {
				t.Errorf("Resolve: %v", err)
			}
			got[i] = c
		}(i)
	}
	wg.Wait()
	for i := 1; i < n; i++ {
		if got[i] != got[0] {
			t.Fatal("concurrent resolution produced different classes")
		}
	}
}

// ---------------------------------------------------------------------------
// Linkage errors
// ---------------------------------------------------------------------------

func TestLinkageErrors(t *testing.T) {
	b := pandafile.NewBuilder("broken.pfc")
	b.Interface("Lapp/Iface;")
	b.Class("Lapp/ExtendsFinal;", pub).Extends(str)
	b.Class("Lapp/ExtendsIface;", pub).Extends("Lapp/Iface;")
	b.Class("Lapp/ImplementsClass;", pub).Extends(obj).Implements(str)
	b.Class("Lapp/Self;", pub).Extends("Lapp/Self;")
	b.Class("Lapp/Ping;", pub).Extends("Lapp/Pong;")
	b.Class("Lapp/Pong;", pub).Extends("Lapp/Ping;")
	b.Class("Lapp/Orphan;", pub).Extends("Lapp/Nowhere;")
	l, uc := newTestLinker(t, b.Build())

	tests := []struct {
		d    string
		want error
	}{
		{"Lapp/ExtendsFinal;", ErrIncompatibleClassChange},
		{"Lapp/ExtendsIface;", ErrIncompatibleClassChange},
		{"Lapp/ImplementsClass;", ErrIncompatibleClassChange},
		{"Lapp/Self;", ErrClassCircularity},
		{"Lapp/Ping;", ErrClassCircularity},
		{"Lapp/Orphan;", ErrClassNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.d, func(t *testing.T) {
			_, err := l.Resolve(testCtx, uc, tt.d)
			if !errors.Is(err, tt.want) {
				t.Errorf("Resolve(%s) error = %v, want %v", tt.d, err, tt.want)
			}
			if uc.FindLoadedClass(tt.d) != nil {
				t.Errorf("%s registered despite failing", tt.d)
			}
		})
	}
}

func TestErrorHandlerSeesLinkageErrors(t *testing.T) {
	b := pandafile.NewBuilder("broken.pfc")
	b.Class("Lapp/ExtendsFinal;", pub).Extends(str)
	l, uc := newTestLinker(t, b.Build())

	var kinds []ErrorKind
	l.SetErrorHandler(ErrorHandlerFunc(func(err *Error) { kinds = append(kinds, err.Kind) }))
	l.Resolve(testCtx, uc, "Lapp/ExtendsFinal;")
	if len(kinds) != 1 || kinds[0] != KindIncompatibleClassChange {
		t.Errorf("reported kinds = %v, want [IncompatibleClassChange]", kinds)
	}
}

// ---------------------------------------------------------------------------
// Arrays
// ---------------------------------------------------------------------------

func TestPrimitiveArray(t *testing.T) {
	l, uc := newTestLinker(t)
	arr := mustResolve(t, l, uc, "[I")
	if !arr.IsArray() || arr.ComponentType().Descriptor() != "I" {
		t.Fatalf("[I component = %v", arr.ComponentType())
	}
	if !arr.Context().IsBoot() {
		t.Errorf("[I defined in %v, want boot", arr.Context())
	}
	if arr.Superclass() == nil || arr.Superclass().Descriptor() != obj {
		t.Errorf("[I super = %v, want root", arr.Superclass())
	}
	if arr.VTable().Len() != 3 || arr.ITable().Len() != 0 {
		t.Errorf("[I tables = %d/%d, want 3/0", arr.VTable().Len(), arr.ITable().Len())
	}
	if again := mustResolve(t, l, l.Boot(), "[I"); again != arr {
		t.Error("array classes should be cached in their owning context")
	}
}

func TestReferenceArrayOwner(t *testing.T) {
	l, uc := newTestLinker(t, shapeFile())
	arr := mustResolve(t, l, uc, "[[Lapp/Circle;")
	if arr.Context() != uc {
		t.Errorf("array defined in %v, want %v", arr.Context(), uc)
	}
	inner := arr.ComponentType()
	if inner.Descriptor() != "[Lapp/Circle;" || inner.ComponentType().Descriptor() != "Lapp/Circle;" {
		t.Errorf("component chain = %v -> %v", inner, inner.ComponentType())
	}
	if _, err := l.Resolve(testCtx, uc, "[Lapp/Missing;"); !IsClassNotFound(err) {
		t.Errorf("array of missing class error = %v, want ClassNotFound", err)
	}
}

// ---------------------------------------------------------------------------
// Managed bridge
// ---------------------------------------------------------------------------

func pluginFile() *pandafile.File {
	b := pandafile.NewBuilder("plugin.pfc")
	b.Class("Lapp/Plugin;", pub).Extends(obj).Method("run", pub, "V")
	return b.Build()
}

// delegatingBridge defines Lapp/Plugin; from plugin and hands every other
// name to the boot context.
func delegatingBridge(plugin *pandafile.File, uc **UserContext, calls *[]string) ManagedBridge {
	return ManagedBridgeFunc(func(s *Session, rl *RuntimeLinker, name string, initialize bool) (*Class, error) {
		*calls = append(*calls, name)
		if name == "app.Plugin" {
			return s.Define(*uc, plugin, "Lapp/Plugin;")
		}
		return s.Resolve(s.Linker().Boot(), descriptor.FromClassName(name))
	})
}

func TestManagedBridge(t *testing.T) {
	l := New(DefaultOptions(), bootFile())
	rl := &RuntimeLinker{Name: "plugins", Kind: LinkerCustom}
	uc := l.NewUserContext("plugins", nil, rl)
	if uc.IsNative() {
		t.Fatal("a custom linker context should not be native")
	}
	var calls []string
	l.SetBridge(delegatingBridge(pluginFile(), &uc, &calls))

	c := mustResolve(t, l, uc, "Lapp/Plugin;")
	if c.Context() != uc {
		t.Errorf("Plugin defined in %v, want %v", c.Context(), uc)
	}
	if c.Superclass().Descriptor() != obj {
		t.Errorf("Plugin super = %v", c.Superclass())
	}
	if len(calls) == 0 || calls[0] != "app.Plugin" {
		t.Errorf("bridge calls = %v, want app.Plugin first", calls)
	}
	if n := len(uc.FilePaths()); n != 1 {
		t.Errorf("FilePaths() = %d, want the defined file appended", n)
	}

	before := len(calls)
	mustResolve(t, l, uc, "Lapp/Plugin;")
	if len(calls) != before {
		t.Error("a loaded class should not go through the bridge again")
	}
	runtime.KeepAlive(rl)
}

func TestNoManagedCode(t *testing.T) {
	l := New(DefaultOptions(), bootFile())
	rl := &RuntimeLinker{Name: "plugins", Kind: LinkerCustom}
	uc := l.NewUserContext("plugins", nil, rl)
	var calls []string
	l.SetBridge(delegatingBridge(pluginFile(), &uc, &calls))

	_, err := l.Resolve(NoManagedCode(testCtx), uc, "Lapp/Plugin;")
	if !IsClassNotFound(err) {
		t.Errorf("Resolve error = %v, want ClassNotFound", err)
	}
	if len(calls) != 0 {
		t.Errorf("bridge called %v on a thread without managed code", calls)
	}
	if ManagedCodeAllowed(NoManagedCode(testCtx)) || !ManagedCodeAllowed(testCtx) {
		t.Error("ManagedCodeAllowed does not reflect NoManagedCode")
	}
	runtime.KeepAlive(rl)
}

func TestManagedBridgeWrongClass(t *testing.T) {
	l := New(DefaultOptions(), bootFile())
	rl := &RuntimeLinker{Name: "liar", Kind: LinkerCustom}
	uc := l.NewUserContext("liar", nil, rl)
	l.SetBridge(ManagedBridgeFunc(func(s *Session, _ *RuntimeLinker, _ string, _ bool) (*Class, error) {
		return s.Resolve(s.Linker().Boot(), obj)
	}))

	_, err := l.Resolve(testCtx, uc, "Lapp/Plugin;")
	if !errors.Is(err, ErrIncompatibleClassChange) {
		t.Errorf("Resolve error = %v, want IncompatibleClassChange", err)
	}
	runtime.KeepAlive(rl)
}

func TestManagedWithoutBridge(t *testing.T) {
	l := New(DefaultOptions(), bootFile())
	rl := &RuntimeLinker{Name: "plugins", Kind: LinkerCustom}
	uc := l.NewUserContext("plugins", nil, rl, pluginFile())
	if _, err := l.Resolve(testCtx, uc, "Lapp/Plugin;"); !IsClassNotFound(err) {
		t.Errorf("Resolve error = %v, want ClassNotFound", err)
	}
	runtime.KeepAlive(rl)
}

func TestCustomParentMakesChainInconclusive(t *testing.T) {
	l := New(DefaultOptions(), bootFile())
	rl := &RuntimeLinker{Name: "custom", Kind: LinkerCustom}
	custom := l.NewUserContext("custom", nil, rl)
	child := l.NewUserContext("child", custom, &RuntimeLinker{Name: "child"}, shapeFile())

	_, err := l.Resolve(NoManagedCode(testCtx), child, "Lapp/Circle;")
	if !IsClassNotFound(err) {
		t.Errorf("Resolve error = %v, want ClassNotFound with a custom ancestor", err)
	}
	runtime.KeepAlive(rl)
}

func TestCollectedRuntimeLinker(t *testing.T) {
	l := New(DefaultOptions(), bootFile())
	uc := l.NewUserContext("gone", nil, &RuntimeLinker{Name: "gone", Kind: LinkerCustom})
	var calls []string
	l.SetBridge(delegatingBridge(pluginFile(), &uc, &calls))

	for i := 0; i < 4 && uc.RuntimeLinker() != nil; i++ {
		runtime.GC()
	}
	if uc.RuntimeLinker() != nil {
		t.Skip("runtime linker not collected")
	}
	if _, err := l.Resolve(testCtx, uc, "Lapp/Plugin;"); !IsClassNotFound(err) {
		t.Errorf("Resolve error = %v, want ClassNotFound", err)
	}
	if len(calls) != 0 {
		t.Errorf("bridge called %v for a collected linker", calls)
	}
}

// ---------------------------------------------------------------------------
// LinkAll
// ---------------------------------------------------------------------------

func TestLinkAllOrder(t *testing.T) {
	b := pandafile.NewBuilder("order.pfc")
	b.Class("Lapp/Circle;", pub).Extends("Lapp/Base;").Implements("Lapp/Shape;")
	b.Interface("Lapp/Shape;")
	b.Class("Lapp/Base;", pub).Extends(obj)
	l, uc := newTestLinker(t, b.Build())

	classes, err := l.LinkAll(testCtx, uc)
	if err != nil {
		t.Fatalf("LinkAll: %v", err)
	}
	if len(classes) != 3 {
		t.Fatalf("LinkAll linked %d classes, want 3", len(classes))
	}
	pos := make(map[string]int)
	for i, c := range classes {
		pos[c.Name()] = i
	}
	if pos["app.Base"] > pos["app.Circle"] || pos["app.Shape"] > pos["app.Circle"] {
		t.Errorf("LinkAll order = %v, supertypes must come first", classes)
	}
}

func TestLinkAllCycle(t *testing.T) {
	b := pandafile.NewBuilder("cycle.pfc")
	b.Class("Lapp/Ping;", pub).Extends("Lapp/Pong;")
	b.Class("Lapp/Pong;", pub).Extends("Lapp/Ping;")
	b.Class("Lapp/Fine;", pub).Extends(obj)
	l, uc := newTestLinker(t, b.Build())

	if _, err := l.LinkAll(testCtx, uc); !errors.Is(err, ErrClassCircularity) {
		t.Fatalf("LinkAll error = %v, want ClassCircularity", err)
	}
	if len(uc.LoadedClasses()) != 0 {
		t.Error("nothing should be loaded when the order cannot be computed")
	}
}
