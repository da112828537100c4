package cmd

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"
)

type GlobalFlags struct {
	Verbose bool
	JSON    bool
}

// SetGlobalFlags applies the global flags
func SetGlobalFlags(flags *flag.FlagSet) *GlobalFlags {
	globalFlags := &GlobalFlags{}

	flags.BoolVarP(&globalFlags.Verbose, "verbose", "v", false, "Log layout decisions to stderr")
	flags.BoolVar(&globalFlags.JSON, "json", false, "Print machine readable output where supported")
	return globalFlags
}

// Logger builds the stderr logger the library is handed.
func (g *GlobalFlags) Logger() hclog.Logger {
	level := hclog.Info
	if g.Verbose {
		level = hclog.Debug
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:   "petool",
		Level:  level,
		Output: os.Stderr,
	})
}

// NewRootCmd returns a new root command
func NewRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:           "petool",
		Short:         "Inspect, relayout and rewrite PE images and COFF objects",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

// Execute builds the root command and runs it. This is called by main.main().
func Execute() {
	rootCmd := BuildRoot()

	err := rootCmd.Execute()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// BuildRoot creates a new root command with every subcommand attached.
func BuildRoot() *cobra.Command {
	rootCmd := NewRootCmd()
	persistentFlags := rootCmd.PersistentFlags()
	globalFlags := SetGlobalFlags(persistentFlags)

	rootCmd.AddCommand(NewInfoCmd(globalFlags))
	rootCmd.AddCommand(NewHeadersCmd(globalFlags))
	rootCmd.AddCommand(NewLayoutCmd(globalFlags))
	rootCmd.AddCommand(NewRemoveCmd(globalFlags))
	rootCmd.AddCommand(NewRsrcCmd(globalFlags))
	rootCmd.AddCommand(NewObjCmd(globalFlags))
	return rootCmd
}
