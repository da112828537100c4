package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	pe "github.com/wanglei-coder/petools"
)

// RsrcCmd holds the cmd flags
type RsrcCmd struct {
	*GlobalFlags
}

// NewRsrcCmd creates a new command
func NewRsrcCmd(flags *GlobalFlags) *cobra.Command {
	cmd := &RsrcCmd{GlobalFlags: flags}
	return &cobra.Command{
		Use:   "rsrc <file>",
		Short: "List the leaves of the resource tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			f, err := pe.NewFile(args[0], pe.WithLogger(cmd.Logger()))
			if err != nil {
				return errors.WithMessagef(err, "parse %s", args[0])
			}
			return cmd.Run(c.OutOrStdout(), f)
		},
	}
}

// Run runs the command logic
func (cmd *RsrcCmd) Run(out io.Writer, f *pe.File) error {
	if cmd.JSON {
		details, err := getResourceDetails(f)
		if err != nil {
			return err
		}
		return writeJSON(out, details)
	}

	tree, err := f.ResourceTree()
	if err != nil {
		return err
	}
	return tree.Walk(func(path []*pe.ResourceDirectoryEntry, leaf *pe.ResourceDataEntry) error {
		labels := make([]string, len(path))
		for i, e := range path {
			labels[i] = e.Label()
		}
		if len(path) > 0 && path[0].Name == nil {
			labels[0] = pe.GetResourceTypeName(path[0])
		}
		_, err := fmt.Fprintf(out, "%s rva=%#x size=%#x type=%s\n",
			strings.Join(labels, "/"), leaf.DataRVA(), leaf.Struct.Size, GetFileType(leaf))
		return err
	})
}

func writeJSON(out io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "%s\n", data)
	return err
}
