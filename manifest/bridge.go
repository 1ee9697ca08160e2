package manifest

import (
	"github.com/chazu/classlink/descriptor"
	"github.com/chazu/classlink/linker"
	"github.com/chazu/classlink/pandafile"
)

// LoadClass implements linker.ManagedBridge for custom contexts declared
// in the manifest. It behaves like a delegating user-level loader: the
// parent chain is asked first, then the context's own files.
func (rt *Runtime) LoadClass(s *linker.Session, rl *linker.RuntimeLinker, name string, _ bool) (*linker.Class, error) {
	uc, ok := rt.Contexts[rl.Name]
	if !ok {
		return nil, nil
	}
	d := descriptor.FromClassName(name)

	c, err := s.Resolve(uc.Parent(), d)
	if err == nil {
		return c, nil
	}
	if !linker.IsClassNotFound(err) {
		return nil, err
	}

	var found *pandafile.File
	uc.EnumerateFiles(func(f *pandafile.File) bool {
		if _, ok := f.FindDefinedClass(d); ok {
			found = f
			return false
		}
		return true
	})
	if found == nil {
		return nil, nil
	}
	return s.Define(uc, found, d)
}
