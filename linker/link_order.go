package linker

import (
	"context"
	"errors"
	"sort"
	"strings"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/chazu/classlink/pandafile"
)

// LinkAll resolves every class defined in lc's own files, supertypes
// first. Supertype cycles among those classes are reported as a single
// ClassCircularity error before anything is loaded.
func (l *Linker) LinkAll(ctx context.Context, lc LinkerContext) ([]*Class, error) {
	order, err := linkOrder(lc)
	if err != nil {
		return nil, l.report(err)
	}

	l.mu.Lock()
	s := newSession(ctx, l)
	classes := make([]*Class, 0, len(order))
	for _, d := range order {
		c, err := s.loadClass(lc, d)
		if err != nil {
			l.mu.Unlock()
			return classes, l.report(err)
		}
		classes = append(classes, c)
	}
	l.mu.Unlock()
	return classes, nil
}

// linkOrder topologically sorts the classes defined in lc's files so that
// every supertype precedes its subtypes. The order is stable for a given
// set of files.
func linkOrder(lc LinkerContext) ([]string, error) {
	var descs []string
	ids := make(map[string]int64)
	type edge struct{ from, to string }
	var edges []edge

	lc.EnumerateFiles(func(f *pandafile.File) bool {
		for _, id := range f.DefinedClasses() {
			d, err := f.ClassDescriptor(id)
			if err != nil {
				continue
			}
			if _, dup := ids[d]; dup {
				continue
			}
			ids[d] = int64(len(descs))
			descs = append(descs, d)

			rec, _ := f.Class(id)
			supers := rec.Interfaces
			if rec.Super != pandafile.InvalidID {
				supers = append([]pandafile.EntityID{rec.Super}, supers...)
			}
			for _, sid := range supers {
				if sd, err := f.ClassDescriptor(sid); err == nil {
					edges = append(edges, edge{from: sd, to: d})
				}
			}
		}
		return true
	})

	g := simple.NewDirectedGraph()
	for i := range descs {
		g.AddNode(simple.Node(int64(i)))
	}
	for _, e := range edges {
		from, ok := ids[e.from]
		if !ok {
			continue // defined elsewhere in the chain
		}
		if e.from == e.to {
			return nil, newError(KindClassCircularity, e.to, "%s is its own supertype", e.to)
		}
		g.SetEdge(g.NewEdge(simple.Node(from), simple.Node(ids[e.to])))
	}

	sorted, err := topo.SortStabilized(g, func(nodes []graph.Node) {
		sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID() < nodes[j].ID() })
	})
	if err != nil {
		var cycles topo.Unorderable
		if errors.As(err, &cycles) && len(cycles) > 0 {
			names := make([]string, 0, len(cycles[0]))
			for _, n := range cycles[0] {
				names = append(names, descs[n.ID()])
			}
			sort.Strings(names)
			return nil, newError(KindClassCircularity, names[0], "supertype cycle among %s", strings.Join(names, ", "))
		}
		return nil, newError(KindMalformedMetadata, "", "cannot order classes: %v", err)
	}

	order := make([]string, len(sorted))
	for i, n := range sorted {
		order[i] = descs[n.ID()]
	}
	return order, nil
}
