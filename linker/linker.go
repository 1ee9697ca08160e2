// Package linker resolves class descriptors to linked classes across a
// chain of loading contexts and builds their dispatch tables.
//
// All class definition on a Linker is serialized by its resolution lock,
// the in-process stand-in for "GC paused or mutator lock held".
// Lookups of already linked classes and their tables are lock free.
package linker

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/chazu/classlink/descriptor"
	"github.com/chazu/classlink/pandafile"
)

// DefaultRoot is the universal reference type.
const DefaultRoot = "Lstd/core/Object;"

// Options configures a Linker.
type Options struct {
	// Root is the descriptor every reference type is assignable to.
	Root string
	// MaxDepth bounds the assignability walk.
	MaxDepth int
	// DumpTables logs every resolved itable at debug level.
	DumpTables bool
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{Root: DefaultRoot, MaxDepth: DefaultMaxDepth}
}

// ManagedBridge invokes a user-level loadClass on a runtime linker object.
// Implementations that need to resolve further classes must do so through
// the Session they are handed, never through Linker.Resolve.
type ManagedBridge interface {
	LoadClass(s *Session, rl *RuntimeLinker, name string, initialize bool) (*Class, error)
}

// ManagedBridgeFunc adapts a function to ManagedBridge.
type ManagedBridgeFunc func(s *Session, rl *RuntimeLinker, name string, initialize bool) (*Class, error)

func (f ManagedBridgeFunc) LoadClass(s *Session, rl *RuntimeLinker, name string, initialize bool) (*Class, error) {
	return f(s, rl, name, initialize)
}

// Linker is the class linker: it owns the boot context and defines
// classes into any context chained to it.
type Linker struct {
	opts   Options
	boot   *BootContext
	bridge ManagedBridge
	errh   ErrorHandler

	mu sync.Mutex // resolution lock
}

// New creates a linker whose boot context owns bootFiles.
func New(opts Options, bootFiles ...*pandafile.File) *Linker {
	if opts.Root == "" {
		opts.Root = DefaultRoot
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	return &Linker{
		opts: opts,
		boot: newBootContext(bootFiles),
	}
}

// Options returns the effective options.
func (l *Linker) Options() Options { return l.opts }

// Boot returns the boot context.
func (l *Linker) Boot() *BootContext { return l.boot }

// SetBridge installs the managed-code bridge used by non-native contexts.
func (l *Linker) SetBridge(b ManagedBridge) { l.bridge = b }

// SetErrorHandler installs the sink for resolution errors.
func (l *Linker) SetErrorHandler(h ErrorHandler) { l.errh = h }

// NewUserContext creates a context chained to parent (boot if nil) and
// backed by rl, which it references weakly.
func (l *Linker) NewUserContext(name string, parent LinkerContext, rl *RuntimeLinker, files ...*pandafile.File) *UserContext {
	if parent == nil {
		parent = l.boot
	}
	u := &UserContext{
		id:     uuid.New(),
		name:   name,
		parent: parent,
		linker: MakeWeakHandle(rl),
		native: rl == nil || rl.Kind != LinkerCustom,
	}
	for _, f := range files {
		u.files.appendFile(f)
	}
	log.Debugf("created context %s (parent %s)", u, parent)
	return u
}

// ---------------------------------------------------------------------------
// Managed code permission
// ---------------------------------------------------------------------------

type managedKey struct{}

// NoManagedCode marks ctx as belonging to a thread that must not run
// managed code, such as a compiler worker.
func NoManagedCode(ctx context.Context) context.Context {
	return context.WithValue(ctx, managedKey{}, false)
}

// ManagedCodeAllowed reports whether resolution on ctx may call the bridge.
func ManagedCodeAllowed(ctx context.Context) bool {
	v, ok := ctx.Value(managedKey{}).(bool)
	return !ok || v
}

// ---------------------------------------------------------------------------
// Resolution entry points
// ---------------------------------------------------------------------------

// Resolve returns the linked class for d as seen from lc, loading it and
// its supertypes as needed.
func (l *Linker) Resolve(ctx context.Context, lc LinkerContext, d string) (*Class, error) {
	if c := lc.FindLoadedClass(d); c != nil {
		return c, nil
	}
	if err := descriptor.Validate(d); err != nil {
		return nil, l.report(malformed(d, err))
	}

	l.mu.Lock()
	s := newSession(ctx, l)
	c, err := s.loadClass(lc, d)
	l.mu.Unlock()

	if err != nil {
		return nil, l.report(err)
	}
	return c, nil
}

// report forwards classified errors to the error handler.
func (l *Linker) report(err error) error {
	var le *Error
	if errors.As(err, &le) {
		if le.Kind != KindClassNotFound {
			log.Errorf("%s", le)
		}
		if l.errh != nil {
			l.errh.OnError(le)
		}
	}
	return err
}
