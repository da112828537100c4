package cmd

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/h2non/filetype"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	pe "github.com/wanglei-coder/petools"
)

type Info struct {
	MachineType     uint16
	EntryPoint      uint32
	ImageBase       uint64
	PE32Plus        bool
	CompilationTime uint32
	RichHeaderHash  string
	Authentihash    string
	Sections        []*Section
	ResourceDetails []*ResourceDetail
}

type Section struct {
	Name             string
	MD5              string
	Flags            string
	RawSize          uint32
	PointerToRawData uint32
	VirtualAddress   uint32
	VirtualSize      uint32
	Entropy          float64
}

type ResourceDetail struct {
	Type     string
	Name     string
	Language string
	DataRVA  uint32
	Size     uint32
	FileType string
	SHA256   string
	Entropy  float64
}

// InfoCmd holds the cmd flags
type InfoCmd struct {
	*GlobalFlags
}

// NewInfoCmd creates a new command
func NewInfoCmd(flags *GlobalFlags) *cobra.Command {
	cmd := &InfoCmd{GlobalFlags: flags}
	return &cobra.Command{
		Use:   "info <file>",
		Short: "Print a JSON summary of an image",
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
func (cmd *InfoCmd) Run(out io.Writer, f *pe.File) error {
	info := Info{
		CompilationTime: f.FileHeader.TimeDateStamp,
		MachineType:     f.FileHeader.Machine,
		EntryPoint:      f.EntryPoint(),
		ImageBase:       f.ImageBase(),
		PE32Plus:        f.Is64(),
		Authentihash:    hex.EncodeToString(f.Authentihash()),
		Sections:        getSections(f),
	}

	hash, err := f.RichHeaderHash()
	if err != nil {
		return err
	}
	info.RichHeaderHash = hash

	if f.HasSection(pe.SectionRsrc) {
		details, err := getResourceDetails(f)
		if err != nil {
			return err
		}
		info.ResourceDetails = details
	}

	data, err := json.MarshalIndent(&info, "", "    ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "%s\n", data)
	return err
}

func getSections(f *pe.File) []*Section {
	sections := make([]*Section, 0, f.FileHeader.NumberOfSections)
	for _, s := range f.Sections {
		var section Section
		section.Name = s.NameString()
		section.RawSize = s.SizeOfRawData
		section.PointerToRawData = s.PointerToRawData
		section.VirtualAddress = s.VirtualAddress
		section.VirtualSize = s.VirtualSize
		section.Flags = s.Flags()
		section.MD5 = s.MD5()
		section.Entropy = s.Entropy()
		sections = append(sections, &section)
	}
	return sections
}

func getResourceDetails(f *pe.File) ([]*ResourceDetail, error) {
	tree, err := f.ResourceTree()
	if err != nil {
		return nil, err
	}

	resourceDetails := make([]*ResourceDetail, 0)
	err = tree.Walk(func(path []*pe.ResourceDirectoryEntry, leaf *pe.ResourceDataEntry) error {
		rd := &ResourceDetail{
			DataRVA:  leaf.DataRVA(),
			Size:     leaf.Struct.Size,
			SHA256:   fmt.Sprintf("%x", sha256.Sum256(leaf.Data)),
			FileType: GetFileType(leaf),
		}
		var e pe.EntropyCalculator
		_, _ = e.Write(leaf.Data)
		rd.Entropy = e.Sum()

		if len(path) > 0 {
			rd.Type = pe.GetResourceTypeName(path[0])
		}
		if len(path) > 1 {
			rd.Name = path[1].Label()
		}
		if len(path) > 2 {
			rd.Language = fmt.Sprintf("%#x", path[len(path)-1].Struct.ID())
		}
		resourceDetails = append(resourceDetails, rd)
		return nil
	})
	return resourceDetails, err
}

func GetFileType(leaf *pe.ResourceDataEntry) string {
	kind, _ := leaf.FileType()
	if kind == filetype.Unknown {
		return "Data"
	}
	return kind.MIME.Value
}
