// classlink CLI - inspects class resolution and dispatch tables of a
// classlink.toml project.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"

	"github.com/chazu/classlink/manifest"

	_ "github.com/tliron/commonlog/simple"
)

var (
	projectDir string
	verbosity  int
	logPath    string

	log = commonlog.GetLogger("classlink.cli")

	rootCmd = &cobra.Command{
		Use:   "classlink",
		Short: "Resolve classes and inspect their dispatch tables",
		Long: `classlink loads the boot and user contexts described by classlink.toml,
resolves classes through their context chains and prints the resulting
virtual and interface dispatch tables.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			var path *string
			if logPath != "" {
				path = &logPath
			}
			commonlog.Configure(verbosity, path)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&projectDir, "dir", "C", ".", "project directory (searched upward for classlink.toml)")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "increase log verbosity")
	rootCmd.PersistentFlags().StringVar(&logPath, "log", "", "write logs to this file instead of stderr")

	rootCmd.AddCommand(resolveCmd, linkCmd, filesCmd, contextsCmd)
}

// loadRuntime finds the project manifest and builds its linker.
func loadRuntime() (*manifest.Manifest, *manifest.Runtime, error) {
	m, err := manifest.FindAndLoad(projectDir)
	if err != nil {
		return nil, nil, err
	}
	if m == nil {
		return nil, nil, fmt.Errorf("no %s found in %s or its parents", manifest.FileName, projectDir)
	}
	rt, err := m.Build()
	if err != nil {
		return nil, nil, err
	}
	log.Infof("loaded %s: %d contexts", m.Dir, len(rt.Order))
	return m, rt, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
