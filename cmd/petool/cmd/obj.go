package cmd

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	pe "github.com/wanglei-coder/petools"
)

// ObjCmd holds the cmd flags
type ObjCmd struct {
	*GlobalFlags

	Symbols     bool
	Relocations bool
}

// NewObjCmd creates a new command
func NewObjCmd(flags *GlobalFlags) *cobra.Command {
	cmd := &ObjCmd{GlobalFlags: flags}
	objCmd := &cobra.Command{
		Use:   "obj <file>...",
		Short: "Parse COFF objects and print their merged section order",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			objs := make([]*pe.Object, 0, len(args))
			for i, name := range args {
				obj, err := pe.NewObjectFile(name, i, pe.WithLogger(cmd.Logger()))
				if err != nil {
					return errors.WithMessagef(err, "parse %s", name)
				}
				objs = append(objs, obj)
			}
			return cmd.Run(c.OutOrStdout(), objs)
		},
	}
	objCmd.Flags().BoolVar(&cmd.Symbols, "symbols", false, "Print the symbol table of every object")
	objCmd.Flags().BoolVar(&cmd.Relocations, "relocs", false, "Print relocations under every section")
	return objCmd
}

type mergedSection struct {
	Name    string
	Ordinal int
	Size    uint32
	Relocs  int
}

// Run runs the command logic
func (cmd *ObjCmd) Run(out io.Writer, objs []*pe.Object) error {
	merged := pe.MergeSections(objs...)
	if cmd.JSON {
		rows := make([]mergedSection, 0, len(merged))
		for _, s := range merged {
			rows = append(rows, mergedSection{
				Name:    objs[s.Ordinal].SectionName(s),
				Ordinal: s.Ordinal,
				Size:    s.SizeOfRawData,
				Relocs:  len(s.Relocations),
			})
		}
		return writeJSON(out, rows)
	}

	for _, s := range merged {
		obj := objs[s.Ordinal]
		if _, err := fmt.Fprintf(out, "%-16s obj=%d size=%#x relocs=%d\n",
			obj.SectionName(s), s.Ordinal, s.SizeOfRawData, len(s.Relocations)); err != nil {
			return err
		}
		if !cmd.Relocations {
			continue
		}
		for _, r := range s.Relocations {
			typ, err := r.TypeName(obj.FileHeader.Machine)
			if err != nil {
				typ = fmt.Sprintf("%#x", r.Type)
			}
			target := "?"
			if sym, err := obj.RelocationSymbol(r); err == nil {
				target = sym.Name
			}
			if _, err := fmt.Fprintf(out, "\t%#08x %-24s %s\n", r.VirtualAddress, typ, target); err != nil {
				return err
			}
		}
	}

	if !cmd.Symbols {
		return nil
	}
	for _, obj := range objs {
		for _, sym := range obj.Symbols.Primary() {
			if _, err := fmt.Fprintf(out, "obj=%d [%3d] sect=%-3d value=%#08x class=%-3d %s\n",
				obj.Ordinal, sym.Index, sym.Record.SectionNumber, sym.Record.Value,
				sym.Record.StorageClass, sym.Name); err != nil {
				return err
			}
		}
	}
	return nil
}
