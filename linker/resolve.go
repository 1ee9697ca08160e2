package linker

import (
	"context"

	"github.com/chazu/classlink/descriptor"
	"github.com/chazu/classlink/pandafile"
)

// Session is one top-level resolution holding the linker's resolution
// lock. Managed bridges use it to resolve and define classes re-entrantly.
type Session struct {
	ctx        context.Context
	l          *Linker
	inProgress map[loadKey]bool
}

type loadKey struct {
	lc LinkerContext
	d  string
}

func newSession(ctx context.Context, l *Linker) *Session {
	return &Session{ctx: ctx, l: l, inProgress: make(map[loadKey]bool)}
}

// Context returns the context.Context of the resolution.
func (s *Session) Context() context.Context { return s.ctx }

// Linker returns the owning linker.
func (s *Session) Linker() *Linker { return s.l }

// Resolve loads d as seen from lc within this session.
func (s *Session) Resolve(lc LinkerContext, d string) (*Class, error) {
	if err := descriptor.Validate(d); err != nil {
		return nil, malformed(d, err)
	}
	return s.loadClass(lc, d)
}

// Define appends f to uc if needed and defines d from it in uc. It is the
// native half of a user-level defineClass.
func (s *Session) Define(uc *UserContext, f *pandafile.File, d string) (*Class, error) {
	if c := uc.FindLoadedClass(d); c != nil {
		return c, nil
	}
	id, ok := f.FindDefinedClass(d)
	if !ok {
		return nil, classNotFound(d)
	}
	uc.AppendFile(f)
	return s.define(uc, f, id, d)
}

// loadClass is LoadClass of the context chain.
func (s *Session) loadClass(lc LinkerContext, d string) (*Class, error) {
	if c := lc.FindLoadedClass(d); c != nil {
		return c, nil
	}
	if descriptor.IsArray(d) {
		return s.loadArrayClass(lc, d)
	}
	switch c := lc.(type) {
	case *BootContext:
		return s.loadBoot(c, d)
	case *UserContext:
		return s.loadUser(c, d)
	}
	panic("linker.Session.loadClass: inconsistent chain traversal")
}

// loadBoot searches only the boot files.
func (s *Session) loadBoot(b *BootContext, d string) (*Class, error) {
	if c := b.FindLoadedClass(d); c != nil {
		return c, nil
	}
	for _, f := range b.files.load() {
		if id, ok := f.FindDefinedClass(d); ok {
			return s.define(b, f, id, d)
		}
	}
	return nil, classNotFound(d)
}

type nativeResult int

const (
	nativeFound nativeResult = iota
	nativeNotFound
	nativeInconclusive
)

func (s *Session) loadUser(u *UserContext, d string) (*Class, error) {
	c, res, err := s.tryNative(u, d)
	if err != nil {
		return nil, err
	}
	switch res {
	case nativeFound:
		return c, nil
	case nativeNotFound:
		return nil, classNotFound(d)
	}
	if !ManagedCodeAllowed(s.ctx) {
		log.Debugf("%s: %s needs managed code, not permitted on this thread", u, d)
		return nil, classNotFound(d)
	}
	return s.loadManaged(u, d)
}

// tryNative resolves d without managed code: parent chain first, then
// each context's own files. Any context that needs managed code makes the
// result inconclusive before anything is loaded.
func (s *Session) tryNative(u *UserContext, d string) (*Class, nativeResult, error) {
	chain := chainOf(u)
	for _, node := range chain {
		if uc, ok := node.(*UserContext); ok && !uc.native {
			return nil, nativeInconclusive, nil
		}
	}
	for i := len(chain) - 1; i >= 0; i-- {
		switch n := chain[i].(type) {
		case *BootContext:
			c, err := s.loadBoot(n, d)
			if err == nil {
				return c, nativeFound, nil
			}
			if !IsClassNotFound(err) {
				return nil, nativeNotFound, err
			}
		case *UserContext:
			if c := n.FindLoadedClass(d); c != nil {
				return c, nativeFound, nil
			}
			for _, f := range n.files.load() {
				id, ok := f.FindDefinedClass(d)
				if !ok {
					continue
				}
				c, err := s.define(n, f, id, d)
				if err != nil {
					return nil, nativeNotFound, err
				}
				return c, nativeFound, nil
			}
		}
	}
	return nil, nativeNotFound, nil
}

// loadManaged hands the lookup to the user-level loader of u.
func (s *Session) loadManaged(u *UserContext, d string) (*Class, error) {
	if s.l.bridge == nil {
		log.Debugf("%s: no managed bridge for %s", u, d)
		return nil, classNotFound(d)
	}
	rl := u.RuntimeLinker()
	if rl == nil {
		log.Debugf("%s: runtime linker collected, cannot load %s", u, d)
		return nil, classNotFound(d)
	}
	c, err := s.l.bridge.LoadClass(s, rl, descriptor.ToClassName(d), false)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, classNotFound(d)
	}
	if c.descriptor != d {
		return nil, newError(KindIncompatibleClassChange, d,
			"runtime linker %s returned %s", rl.Name, c.descriptor)
	}
	return c, nil
}

// loadArrayClass synthesizes an array class in the context that owns its
// component. Arrays of primitives belong to boot.
func (s *Session) loadArrayClass(lc LinkerContext, d string) (*Class, error) {
	comp, err := descriptor.Component(d)
	if err != nil {
		return nil, malformed(d, err)
	}
	var owner LinkerContext = s.l.boot
	var compCls *Class
	if !descriptor.IsPrimitive(comp) {
		compCls, err = s.loadClass(lc, comp)
		if err != nil {
			return nil, err
		}
		owner = compCls.ctx
	}
	if c := owner.FindLoadedClass(d); c != nil {
		return c, nil
	}

	arr := &Class{
		descriptor: d,
		flags:      pandafile.AccPublic | pandafile.AccFinal | pandafile.AccAbstract,
		component:  compCls,
		ctx:        owner,
		id:         pandafile.InvalidID,
	}
	if compCls == nil {
		arr.component = primitiveClass(comp)
	}
	var rootVT *VTable
	root, err := s.loadClass(s.l.boot, s.l.opts.Root)
	switch {
	case err == nil:
		arr.super = root
		rootVT = root.VTable()
	case !IsClassNotFound(err):
		return nil, err
	}
	arr.setVTable(&VTable{methods: rootVT.Methods()})
	arr.setITable(&ITable{})
	arr.setState(StateLinked)
	return owner.base().classes.insert(arr), nil
}

// primitiveClass stands in for the component of a primitive array.
func primitiveClass(code string) *Class {
	c := &Class{
		descriptor: code,
		flags:      pandafile.AccPublic | pandafile.AccFinal | pandafile.AccAbstract,
		id:         pandafile.InvalidID,
	}
	c.setVTable(&VTable{})
	c.setITable(&ITable{})
	c.setState(StateLinked)
	return c
}

// define creates, links and registers the class id of f in lc.
func (s *Session) define(lc LinkerContext, f *pandafile.File, id pandafile.EntityID, d string) (*Class, error) {
	key := loadKey{lc, d}
	if s.inProgress[key] {
		return nil, newError(KindClassCircularity, d, "%s is its own supertype", d)
	}
	s.inProgress[key] = true
	defer delete(s.inProgress, key)

	rec, err := f.Class(id)
	if err != nil {
		return nil, malformed(d, err)
	}
	if rec.External {
		return nil, newError(KindMalformedMetadata, d, "%s: id %d is external", f.Filename(), id)
	}
	cls := &Class{
		descriptor: d,
		flags:      rec.Flags,
		ctx:        lc,
		file:       f,
		id:         id,
	}
	log.Debugf("defining %s in %s from %s", d, lc, f.Filename())

	if err := s.linkSupertypes(cls, rec); err != nil {
		cls.setState(StateErroneous)
		return nil, err
	}
	if err := s.buildMembers(cls, rec); err != nil {
		cls.setState(StateErroneous)
		return nil, err
	}
	if err := s.buildTables(cls); err != nil {
		cls.setState(StateErroneous)
		return nil, err
	}
	cls.setState(StateLinked)
	return lc.base().classes.insert(cls), nil
}

func (s *Session) linkSupertypes(cls *Class, rec *pandafile.ClassRecord) error {
	f, d := cls.file, cls.descriptor
	if rec.Super != pandafile.InvalidID && !cls.IsInterface() {
		sd, err := f.ClassDescriptor(rec.Super)
		if err != nil {
			return malformed(d, err)
		}
		if sd == d {
			return newError(KindClassCircularity, d, "%s extends itself", d)
		}
		super, err := s.loadClass(cls.ctx, sd)
		if err != nil {
			return err
		}
		if super.IsInterface() {
			return newError(KindIncompatibleClassChange, d, "superclass %s is an interface", sd)
		}
		if super.IsFinal() {
			return newError(KindIncompatibleClassChange, d, "cannot inherit from final class %s", sd)
		}
		cls.super = super
	}
	for _, iid := range rec.Interfaces {
		idesc, err := f.ClassDescriptor(iid)
		if err != nil {
			return malformed(d, err)
		}
		if idesc == d {
			return newError(KindClassCircularity, d, "%s implements itself", d)
		}
		iface, err := s.loadClass(cls.ctx, idesc)
		if err != nil {
			return err
		}
		if !iface.IsInterface() {
			return newError(KindIncompatibleClassChange, d, "%s is not an interface", idesc)
		}
		cls.interfaces = append(cls.interfaces, iface)
	}
	return nil
}

func (s *Session) buildMembers(cls *Class, rec *pandafile.ClassRecord) error {
	f := cls.file
	for _, mr := range rec.Methods {
		name, err := f.String(mr.Name)
		if err != nil {
			return malformed(cls.descriptor, err)
		}
		m := &Method{
			class:       cls,
			name:        name,
			flags:       mr.Flags,
			proto:       Proto{file: f, raw: mr.Proto},
			vtableIndex: -1,
		}
		if m.isVirtual() {
			cls.virtual = append(cls.virtual, m)
		} else {
			cls.direct = append(cls.direct, m)
		}
	}
	for _, fr := range rec.Fields {
		name, err := f.String(fr.Name)
		if err != nil {
			return malformed(cls.descriptor, err)
		}
		typ := fr.Type.Code()
		if fr.Type.IsReference() {
			if typ, err = f.ClassDescriptor(fr.Ref); err != nil {
				return malformed(cls.descriptor, err)
			}
		}
		cls.fields = append(cls.fields, Field{Name: name, Flags: fr.Flags, Type: typ})
	}
	return nil
}

func (s *Session) buildTables(cls *Class) error {
	assign := NewAssignability(s.l.opts.Root, s.l.opts.MaxDepth, chainFiles(cls.ctx))
	checker := NewOverrideChecker(assign)

	vb := NewVTableBuilder(checker)
	var superVT *VTable
	if cls.super != nil {
		superVT = cls.super.VTable()
	}
	vb.Build(superVT, cls.virtual)
	vt, err := vb.Resolve()
	if err != nil {
		return err
	}
	cls.setVTable(vt)

	ib := NewITableBuilder(checker, s.l.opts.DumpTables)
	ib.Build(cls.super, cls.interfaces, cls.IsInterface())
	if _, err := ib.Resolve(cls); err != nil {
		return err
	}
	return nil
}
