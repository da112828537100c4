package cmd

import (
	"io"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	pe "github.com/wanglei-coder/petools"
)

// RemoveCmd holds the cmd flags
type RemoveCmd struct {
	*GlobalFlags

	Output string
}

// NewRemoveCmd creates a new command
func NewRemoveCmd(flags *GlobalFlags) *cobra.Command {
	cmd := &RemoveCmd{GlobalFlags: flags}
	removeCmd := &cobra.Command{
		Use:   "remove <file> <section>...",
		Short: "Remove sections, relayout and write the image back",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			f, err := pe.NewFile(args[0], pe.WithLogger(cmd.Logger()))
			if err != nil {
				return errors.WithMessagef(err, "parse %s", args[0])
			}
			return cmd.Run(c.OutOrStdout(), f, args[1:])
		},
	}
	removeCmd.Flags().StringVarP(&cmd.Output, "output", "o", "", "Where to write the rewritten image")
	_ = removeCmd.MarkFlagRequired("output")
	return removeCmd
}

// Run runs the command logic
func (cmd *RemoveCmd) Run(out io.Writer, f *pe.File, names []string) error {
	for _, name := range names {
		if err := f.RemoveSection(name); err != nil {
			return err
		}
	}
	if err := f.UpdateLayout(); err != nil {
		return err
	}
	if err := f.WriteFile(cmd.Output); err != nil {
		return errors.WithMessagef(err, "write %s", cmd.Output)
	}
	return printSectionTable(out, f, cmd.JSON)
}
