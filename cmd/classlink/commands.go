package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chazu/classlink/layoutdb"
	"github.com/chazu/classlink/linker"
	"github.com/chazu/classlink/manifest"
	"github.com/chazu/classlink/pandafile"
)

var (
	resolveOpts = struct {
		noManaged bool
		record    bool
	}{}

	linkOpts = struct {
		record bool
		check  bool
	}{}

	resolveCmd = &cobra.Command{
		Use:   "resolve <context> <descriptor>...",
		Short: "Resolve classes and print their dispatch tables",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, rt, err := loadRuntime()
			if err != nil {
				return err
			}
			lc, ok := rt.Context(args[0])
			if !ok {
				return fmt.Errorf("unknown context %q", args[0])
			}
			ctx := context.Background()
			if resolveOpts.noManaged {
				ctx = linker.NoManagedCode(ctx)
			}

			var classes []*linker.Class
			for _, d := range args[1:] {
				c, err := rt.Linker.Resolve(ctx, lc, d)
				if err != nil {
					return err
				}
				classes = append(classes, c)
				printClass(cmd, c)
			}
			if resolveOpts.record {
				return record(m, args[0], classes)
			}
			return nil
		},
	}

	linkCmd = &cobra.Command{
		Use:   "link [context]...",
		Short: "Link every class of the given contexts (all by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, rt, err := loadRuntime()
			if err != nil {
				return err
			}
			names := args
			if len(names) == 0 {
				names = append([]string{manifest.BootName}, rt.Order...)
			}

			var store *layoutdb.Store
			if linkOpts.record || linkOpts.check {
				if store, err = openStore(m); err != nil {
					return err
				}
				defer store.Close()
			}

			mismatches := 0
			for _, name := range names {
				lc, ok := rt.Context(name)
				if !ok {
					return fmt.Errorf("unknown context %q", name)
				}
				classes, err := rt.Linker.LinkAll(context.Background(), lc)
				if err != nil {
					return fmt.Errorf("context %s: %w", name, err)
				}
				cmd.Printf("%s: linked %d classes\n", name, len(classes))

				for _, c := range classes {
					switch {
					case linkOpts.check:
						same, err := store.Compare(name, c)
						if err != nil {
							return fmt.Errorf("%s %s: %w", name, c.Descriptor(), err)
						}
						if !same {
							cmd.Printf("  layout changed: %s\n", c.Name())
							mismatches++
						}
					case linkOpts.record:
						if err := store.Record(name, c); err != nil {
							return err
						}
					}
				}
			}
			if mismatches > 0 {
				return fmt.Errorf("%d layouts differ from %s", mismatches, m.LayoutPath())
			}
			return nil
		},
	}

	filesCmd = &cobra.Command{
		Use:   "files <context>",
		Short: "List the files visible from a context in lookup order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, rt, err := loadRuntime()
			if err != nil {
				return err
			}
			lc, ok := rt.Context(args[0])
			if !ok {
				return fmt.Errorf("unknown context %q", args[0])
			}
			linker.EnumerateFilesInChain(lc, func(f *pandafile.File) bool {
				cmd.Printf("%s\t%d classes\n", f.Filename(), len(f.DefinedClasses()))
				return true
			})
			return nil
		},
	}

	contextsCmd = &cobra.Command{
		Use:   "contexts",
		Short: "List the declared contexts, parents first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := manifest.FindAndLoad(projectDir)
			if err != nil {
				return err
			}
			if m == nil {
				return fmt.Errorf("no %s found", manifest.FileName)
			}
			if err := m.Validate(); err != nil {
				return err
			}
			order, _ := m.ContextOrder()
			for _, name := range order {
				c, _ := m.Context(name)
				cmd.Printf("%s\tparent=%s\tkind=%s\tfiles=%d\n", c.Name, c.Parent, c.Kind, len(c.Files))
			}
			return nil
		},
	}
)

func init() {
	resolveCmd.Flags().BoolVar(&resolveOpts.noManaged, "no-managed", false, "resolve as a thread that must not run managed code")
	resolveCmd.Flags().BoolVar(&resolveOpts.record, "record", false, "record the resolved layouts in the layout database")
	linkCmd.Flags().BoolVar(&linkOpts.record, "record", false, "record every layout in the layout database")
	linkCmd.Flags().BoolVar(&linkOpts.check, "check", false, "compare every layout against the layout database")
}

func printClass(cmd *cobra.Command, c *linker.Class) {
	cmd.Printf("%s (%s)\n", c.Name(), c.Context())
	if chain := c.Ancestors(); len(chain) > 0 {
		names := make([]string, len(chain))
		for i, a := range chain {
			names[i] = a.Name()
		}
		cmd.Printf("  extends %s\n", strings.Join(names, " < "))
	}
	cmd.Println("  vtable:")
	for i, m := range c.VTable().Methods() {
		cmd.Printf("    [%d] %s\n", i, m)
	}
	cmd.Println("  itable:")
	for _, e := range c.ITable().Entries() {
		cmd.Printf("    %s\n", e.Interface.Name())
		for j, m := range e.Methods {
			cmd.Printf("      [%d] %s\n", j, m)
		}
	}
}

func openStore(m *manifest.Manifest) (*layoutdb.Store, error) {
	path := m.LayoutPath()
	if path == "" {
		return nil, fmt.Errorf("no [layout] database configured in %s", manifest.FileName)
	}
	return layoutdb.Open(path)
}

func record(m *manifest.Manifest, contextName string, classes []*linker.Class) error {
	store, err := openStore(m)
	if err != nil {
		return err
	}
	defer store.Close()
	for _, c := range classes {
		if err := store.Record(contextName, c); err != nil {
			return err
		}
	}
	log.Infof("recorded %d layouts in %s", len(classes), m.LayoutPath())
	return nil
}
