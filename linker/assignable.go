package linker

import (
	"github.com/tliron/commonlog"

	"github.com/chazu/classlink/descriptor"
	"github.com/chazu/classlink/pandafile"
)

var log = commonlog.GetLogger("classlink.linker")

// DefaultMaxDepth bounds the assignability walk over supertype metadata.
const DefaultMaxDepth = 256

// Assignability answers subtype queries from raw file metadata. It never
// links classes, so it can run while the classes involved are still being
// defined.
type Assignability struct {
	root     string
	maxDepth int
	files    []*pandafile.File
}

// NewAssignability creates a checker over files, searched in order. root
// is the universal reference type descriptor.
func NewAssignability(root string, maxDepth int, files []*pandafile.File) *Assignability {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Assignability{root: root, maxDepth: maxDepth, files: files}
}

// lookup finds the defining record for d among the known files.
func (a *Assignability) lookup(d string) (*pandafile.File, *pandafile.ClassRecord, bool) {
	for _, f := range a.files {
		id, ok := f.FindDefinedClass(d)
		if !ok {
			continue
		}
		rec, err := f.Class(id)
		if err != nil {
			return nil, nil, false
		}
		return f, rec, true
	}
	return nil, nil, false
}

type assignQuery struct {
	*Assignability
	exceeded bool
}

// IsAssignable reports whether a value of type sub can be stored in a
// location of type super.
func (a *Assignability) IsAssignable(sub, super string) bool {
	q := &assignQuery{Assignability: a}
	ok := q.check(sub, super, 0)
	if q.exceeded {
		log.Errorf("assignability check %s <: %s exceeded depth %d", sub, super, a.maxDepth)
		return false
	}
	return ok
}

func (q *assignQuery) check(sub, super string, depth int) bool {
	if depth > q.maxDepth {
		q.exceeded = true
		return false
	}
	if sub == super {
		return true
	}
	if descriptor.IsPrimitive(sub) || descriptor.IsPrimitive(super) {
		return false
	}
	if super == q.root {
		return true
	}
	if descriptor.IsArray(super) {
		if !descriptor.IsArray(sub) {
			return false
		}
		return q.check(sub[1:], super[1:], depth+1)
	}
	// Arrays are assumed not to implement interfaces.
	if descriptor.IsArray(sub) {
		return false
	}

	_, superRec, ok := q.lookup(super)
	if !ok {
		return false
	}
	if superRec.Flags.Has(pandafile.AccFinal) {
		return false
	}
	subFile, subRec, ok := q.lookup(sub)
	if !ok {
		return false
	}

	if superRec.Flags.Has(pandafile.AccInterface) {
		for _, id := range subRec.Interfaces {
			d, err := subFile.ClassDescriptor(id)
			if err != nil {
				continue
			}
			if q.check(d, super, depth+1) {
				return true
			}
			if q.exceeded {
				return false
			}
		}
	}

	if subRec.Flags.Has(pandafile.AccInterface) || sub == q.root || subRec.Super == pandafile.InvalidID {
		return false
	}
	d, err := subFile.ClassDescriptor(subRec.Super)
	if err != nil {
		return false
	}
	return q.check(d, super, depth+1)
}
