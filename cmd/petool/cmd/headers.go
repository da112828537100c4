package cmd

import (
	"io"

	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	pe "github.com/wanglei-coder/petools"
)

// HeadersCmd holds the cmd flags
type HeadersCmd struct {
	*GlobalFlags

	Sections bool
}

// NewHeadersCmd creates a new command
func NewHeadersCmd(flags *GlobalFlags) *cobra.Command {
	cmd := &HeadersCmd{GlobalFlags: flags}
	headersCmd := &cobra.Command{
		Use:   "headers <file>",
		Short: "Dump the DOS, NT and optional headers and the data directories",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			f, err := pe.NewFile(args[0], pe.WithLogger(cmd.Logger()))
			if err != nil {
				return errors.WithMessagef(err, "parse %s", args[0])
			}
			cmd.Run(c.OutOrStdout(), f)
			return nil
		},
	}
	headersCmd.Flags().BoolVar(&cmd.Sections, "sections", false, "Also dump every section header")
	return headersCmd
}

var dumpConfig = spew.ConfigState{
	Indent:                  "  ",
	DisablePointerAddresses: true,
	DisableCapacities:       true,
	SortKeys:                true,
}

// Run runs the command logic
func (cmd *HeadersCmd) Run(out io.Writer, f *pe.File) {
	dumpConfig.Fdump(out, f.DOSHeader, f.FileHeader, f.OptionalHeader, f.DataDirectories)
	if !cmd.Sections {
		return
	}
	for _, s := range f.Sections {
		dumpConfig.Fdump(out, s.SectionHeader)
	}
}
