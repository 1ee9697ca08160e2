package manifest

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/chazu/classlink/linker"
	"github.com/chazu/classlink/pandafile"
)

// Validate checks context names, kinds and parent links.
func (m *Manifest) Validate() error {
	seen := make(map[string]bool)
	for _, c := range m.Contexts {
		switch {
		case c.Name == "":
			return errors.New("context with empty name")
		case c.Name == BootName:
			return fmt.Errorf("context name %q is reserved", BootName)
		case seen[c.Name]:
			return fmt.Errorf("duplicate context %q", c.Name)
		}
		seen[c.Name] = true
		if _, err := linker.ParseLinkerKind(c.Kind); err != nil {
			return fmt.Errorf("context %q: %w", c.Name, err)
		}
	}
	for _, c := range m.Contexts {
		if c.Parent != BootName && !seen[c.Parent] {
			return fmt.Errorf("context %q: unknown parent %q", c.Name, c.Parent)
		}
	}
	_, err := m.ContextOrder()
	return err
}

// ContextNames returns the declared context names, sorted.
func (m *Manifest) ContextNames() []string {
	set := make(map[string]struct{}, len(m.Contexts))
	for _, c := range m.Contexts {
		set[c.Name] = struct{}{}
	}
	names := make([]string, 0, len(set))
	for _, n := range maps.Keys(set) {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// ContextOrder returns the context names with every parent before its
// children. Ties keep declaration order.
func (m *Manifest) ContextOrder() ([]string, error) {
	ids := make(map[string]int64, len(m.Contexts))
	g := simple.NewDirectedGraph()
	for i, c := range m.Contexts {
		ids[c.Name] = int64(i)
		g.AddNode(simple.Node(int64(i)))
	}
	for i, c := range m.Contexts {
		if c.Parent == BootName {
			continue
		}
		if c.Parent == c.Name {
			return nil, fmt.Errorf("context %q is its own parent", c.Name)
		}
		p, ok := ids[c.Parent]
		if !ok {
			continue // reported by Validate
		}
		g.SetEdge(g.NewEdge(simple.Node(p), simple.Node(int64(i))))
	}

	sorted, err := topo.SortStabilized(g, func(nodes []graph.Node) {
		sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID() < nodes[j].ID() })
	})
	if err != nil {
		var cycles topo.Unorderable
		if errors.As(err, &cycles) && len(cycles) > 0 {
			names := make([]string, 0, len(cycles[0]))
			for _, n := range cycles[0] {
				names = append(names, m.Contexts[n.ID()].Name)
			}
			slices.Sort(names)
			return nil, fmt.Errorf("context parent cycle among %s", strings.Join(names, ", "))
		}
		return nil, err
	}
	order := make([]string, len(sorted))
	for i, n := range sorted {
		order[i] = m.Contexts[n.ID()].Name
	}
	return order, nil
}

// Runtime is a linker built from a manifest together with its contexts.
type Runtime struct {
	Linker   *linker.Linker
	Contexts map[string]*linker.UserContext
	// Order lists context names parents first.
	Order []string

	// runtime linkers are only weakly referenced by their contexts
	runtimeLinkers map[string]*linker.RuntimeLinker
}

// Context returns the named context; "boot" names the boot context.
func (rt *Runtime) Context(name string) (linker.LinkerContext, bool) {
	if name == BootName {
		return rt.Linker.Boot(), true
	}
	uc, ok := rt.Contexts[name]
	if !ok {
		return nil, false
	}
	return uc, true
}

// RuntimeLinker returns the runtime linker object backing the named context.
func (rt *Runtime) RuntimeLinker(name string) *linker.RuntimeLinker {
	return rt.runtimeLinkers[name]
}

// Build validates the manifest, opens every listed file and constructs the
// linker with its contexts.
func (m *Manifest) Build() (*Runtime, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	order, _ := m.ContextOrder()

	boot, err := m.openFiles(m.Boot.Files)
	if err != nil {
		return nil, fmt.Errorf("boot: %w", err)
	}
	rt := &Runtime{
		Linker:         linker.New(m.Options(), boot...),
		Contexts:       make(map[string]*linker.UserContext, len(order)),
		Order:          order,
		runtimeLinkers: make(map[string]*linker.RuntimeLinker, len(order)),
	}
	rt.Linker.SetBridge(rt)

	for _, name := range order {
		c, _ := m.Context(name)
		files, err := m.openFiles(c.Files)
		if err != nil {
			return nil, fmt.Errorf("context %s: %w", name, err)
		}
		kind, _ := linker.ParseLinkerKind(c.Kind)
		rl := &linker.RuntimeLinker{Name: name, Kind: kind}
		var parent linker.LinkerContext
		if c.Parent != BootName {
			parent = rt.Contexts[c.Parent]
		}
		rt.Contexts[name] = rt.Linker.NewUserContext(name, parent, rl, files...)
		rt.runtimeLinkers[name] = rl
	}
	return rt, nil
}

func (m *Manifest) openFiles(paths []string) ([]*pandafile.File, error) {
	files := make([]*pandafile.File, 0, len(paths))
	for _, p := range paths {
		f, err := pandafile.Open(m.Path(p))
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}
