package cmd

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	pe "github.com/wanglei-coder/petools"
)

// LayoutCmd holds the cmd flags
type LayoutCmd struct {
	*GlobalFlags

	Output     string
	StartRVA   uint32
	SortMerged bool
}

// NewLayoutCmd creates a new command
func NewLayoutCmd(flags *GlobalFlags) *cobra.Command {
	cmd := &LayoutCmd{GlobalFlags: flags}
	layoutCmd := &cobra.Command{
		Use:   "layout <file>",
		Short: "Recompute section placement and write the image back",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			f, err := pe.NewFile(args[0], pe.WithLogger(cmd.Logger()))
			if err != nil {
				return errors.WithMessagef(err, "parse %s", args[0])
			}
			return cmd.Run(c.OutOrStdout(), f)
		},
	}
	layoutCmd.Flags().StringVarP(&cmd.Output, "output", "o", "", "Where to write the relaid image")
	layoutCmd.Flags().Uint32Var(&cmd.StartRVA, "start", pe.StartingVirtualAddress, "Virtual address of the first section")
	layoutCmd.Flags().BoolVar(&cmd.SortMerged, "sort", false, "Order sections by their $ grouping before layout")
	_ = layoutCmd.MarkFlagRequired("output")
	return layoutCmd
}

// Run runs the command logic
func (cmd *LayoutCmd) Run(out io.Writer, f *pe.File) error {
	if cmd.SortMerged {
		pe.SortSections(f.Sections)
	}
	if err := f.UpdateVirtualLayoutFrom(cmd.StartRVA); err != nil {
		return err
	}
	if err := f.WriteFile(cmd.Output); err != nil {
		return errors.WithMessagef(err, "write %s", cmd.Output)
	}
	return printSectionTable(out, f, cmd.JSON)
}

func printSectionTable(out io.Writer, f *pe.File, asJSON bool) error {
	if asJSON {
		return writeJSON(out, getSections(f))
	}
	for _, s := range f.Sections {
		_, err := fmt.Fprintf(out, "%-8s va=%#08x vsize=%#08x offset=%#08x rawsize=%#08x %s\n",
			s.NameString(), s.VirtualAddress, s.VirtualSize, s.PointerToRawData, s.SizeOfRawData, s.Flags())
		if err != nil {
			return err
		}
	}
	return nil
}
