package linker

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/chazu/classlink/pandafile"
)

// LinkerContext is a class loading scope: the boot context or a user
// context chained to a parent. The set of implementations is closed;
// every non-boot context is a *UserContext.
type LinkerContext interface {
	// IsBoot reports whether this is the terminal boot context.
	IsBoot() bool
	// Parent returns the next context of the chain, nil for boot.
	Parent() LinkerContext
	// FindLoadedClass returns the class already defined in this context.
	FindLoadedClass(descriptor string) *Class
	// EnumerateFiles calls fn for each owned file in order until fn
	// returns false. It returns false if enumeration was cut short.
	EnumerateFiles(fn func(*pandafile.File) bool) bool
	// FilePaths returns the names of the owned files.
	FilePaths() []string
	// LoadedClasses returns the classes defined in this context.
	LoadedClasses() []*Class
	String() string

	base() *contextBase
}

// ---------------------------------------------------------------------------
// Shared context state
// ---------------------------------------------------------------------------

// fileList is a copy-on-append sequence. Readers take a snapshot without
// locking; appenders are serialized by mu.
type fileList struct {
	mu   sync.Mutex
	snap atomic.Pointer[[]*pandafile.File]
}

func (fl *fileList) load() []*pandafile.File {
	if p := fl.snap.Load(); p != nil {
		return *p
	}
	return nil
}

// appendFile publishes a new snapshot containing f. It returns false if f
// is already owned.
func (fl *fileList) appendFile(f *pandafile.File) bool {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	old := fl.load()
	for _, have := range old {
		if have == f {
			return false
		}
	}
	next := make([]*pandafile.File, len(old), len(old)+1)
	copy(next, old)
	next = append(next, f)
	fl.snap.Store(&next)
	return true
}

// classTable indexes the classes defined in one context by descriptor.
type classTable struct {
	mu      sync.RWMutex
	classes map[string]*Class
	order   []*Class
}

func (ct *classTable) lookup(d string) *Class {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.classes[d]
}

// insert registers c unless a class with the same descriptor is already
// present, in which case the existing class is returned.
func (ct *classTable) insert(c *Class) *Class {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	if old, ok := ct.classes[c.descriptor]; ok {
		return old
	}
	if ct.classes == nil {
		ct.classes = make(map[string]*Class)
	}
	ct.classes[c.descriptor] = c
	ct.order = append(ct.order, c)
	return c
}

func (ct *classTable) all() []*Class {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	out := make([]*Class, len(ct.order))
	copy(out, ct.order)
	return out
}

type contextBase struct {
	files   fileList
	classes classTable
}

func (b *contextBase) base() *contextBase { return b }

func (b *contextBase) FindLoadedClass(d string) *Class {
	return b.classes.lookup(d)
}

func (b *contextBase) EnumerateFiles(fn func(*pandafile.File) bool) bool {
	for _, f := range b.files.load() {
		if !fn(f) {
			return false
		}
	}
	return true
}

func (b *contextBase) FilePaths() []string {
	files := b.files.load()
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Filename()
	}
	return paths
}

func (b *contextBase) LoadedClasses() []*Class {
	return b.classes.all()
}

// ---------------------------------------------------------------------------
// BootContext
// ---------------------------------------------------------------------------

// BootContext owns the system files. It has no parent.
type BootContext struct {
	contextBase
}

func newBootContext(files []*pandafile.File) *BootContext {
	b := &BootContext{}
	for _, f := range files {
		b.files.appendFile(f)
	}
	return b
}

func (b *BootContext) IsBoot() bool          { return true }
func (b *BootContext) Parent() LinkerContext { return nil }
func (b *BootContext) String() string        { return "boot" }

// ---------------------------------------------------------------------------
// UserContext
// ---------------------------------------------------------------------------

// LinkerKind is the kind of managed runtime-linker object backing a user
// context.
type LinkerKind int

const (
	// LinkerAbc is the built-in file-backed linker.
	LinkerAbc LinkerKind = iota
	// LinkerMemory is the built-in in-memory linker.
	LinkerMemory
	// LinkerCustom is a user subclass whose lookup runs managed code.
	LinkerCustom
)

func (k LinkerKind) String() string {
	switch k {
	case LinkerAbc:
		return "abc"
	case LinkerMemory:
		return "memory"
	case LinkerCustom:
		return "custom"
	}
	return fmt.Sprintf("LinkerKind(%d)", int(k))
}

// ParseLinkerKind is the inverse of LinkerKind.String.
func ParseLinkerKind(s string) (LinkerKind, error) {
	switch s {
	case "abc", "":
		return LinkerAbc, nil
	case "memory":
		return LinkerMemory, nil
	case "custom":
		return LinkerCustom, nil
	}
	return 0, fmt.Errorf("unknown linker kind %q", s)
}

// RuntimeLinker stands in for the managed runtime-linker object a user
// context belongs to. The context only holds it weakly.
type RuntimeLinker struct {
	Name string
	Kind LinkerKind
}

// UserContext is a context defined by a user-level runtime linker.
type UserContext struct {
	contextBase
	id     uuid.UUID
	name   string
	parent LinkerContext
	linker WeakHandle[RuntimeLinker]
	native bool
}

// ID returns the unique id assigned at creation.
func (u *UserContext) ID() uuid.UUID { return u.id }

// Name returns the context's display name.
func (u *UserContext) Name() string { return u.name }

func (u *UserContext) IsBoot() bool          { return false }
func (u *UserContext) Parent() LinkerContext { return u.parent }

func (u *UserContext) String() string {
	return u.name + "(" + u.id.String()[:8] + ")"
}

// IsNative reports whether classes can be found in this context without
// running managed code.
func (u *UserContext) IsNative() bool { return u.native }

// RuntimeLinker returns the managed linker object, or nil if it has been
// collected.
func (u *UserContext) RuntimeLinker() *RuntimeLinker {
	return u.linker.Value()
}

// AppendFile adds f to the owned files. Concurrent appends are serialized;
// enumeration never sees a torn list. It returns false if f is already
// owned.
func (u *UserContext) AppendFile(f *pandafile.File) bool {
	return u.files.appendFile(f)
}

// ---------------------------------------------------------------------------
// Chain traversal
// ---------------------------------------------------------------------------

// chainOf returns the contexts from lc up to and including boot.
func chainOf(lc LinkerContext) []LinkerContext {
	var chain []LinkerContext
	for cur := lc; ; {
		switch c := cur.(type) {
		case *BootContext:
			return append(chain, c)
		case *UserContext:
			chain = append(chain, c)
			cur = c.parent
		default:
			panic(fmt.Sprintf("linker.chainOf: inconsistent chain traversal: unexpected context %T", cur))
		}
	}
}

// EnumerateFilesInChain visits the files of every context from boot down
// to lc, parent first, until fn returns false.
func EnumerateFilesInChain(lc LinkerContext, fn func(*pandafile.File) bool) bool {
	chain := chainOf(lc)
	for i := len(chain) - 1; i >= 0; i-- {
		if !chain[i].EnumerateFiles(fn) {
			return false
		}
	}
	return true
}

// chainFiles snapshots every file visible from lc in lookup order.
func chainFiles(lc LinkerContext) []*pandafile.File {
	var files []*pandafile.File
	EnumerateFilesInChain(lc, func(f *pandafile.File) bool {
		files = append(files, f)
		return true
	})
	return files
}
