package commands

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/vkngwrapper/kiln/formats/dds"
)

var ddsCmd = &cobra.Command{
	Use:   "dds FILE...",
	Short: "Describe DDS textures",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runDDS,
}

func init() {
	rootCmd.AddCommand(ddsCmd)
}

func runDDS(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	for _, path := range args {
		texture, err := dds.Load(path)
		if err != nil {
			return err
		}

		var size uint64
		for _, subresource := range texture.Subresources {
			size += uint64(len(subresource.Data))
		}

		fmt.Fprintf(out, "%s\n", path)
		fmt.Fprintf(out, "  format:       %s\n", texture.Format)
		fmt.Fprintf(out, "  dimension:    %s\n", texture.Dimension)
		fmt.Fprintf(out, "  view:         %s\n", texture.SRVDimension)
		fmt.Fprintf(out, "  size:         %dx%dx%d\n", texture.Width, texture.Height, texture.Depth)
		fmt.Fprintf(out, "  mips:         %d\n", texture.MipLevels)
		fmt.Fprintf(out, "  slices:       %d\n", texture.ArraySize)
		fmt.Fprintf(out, "  subresources: %d (%s)\n", len(texture.Subresources), humanize.IBytes(size))
	}

	return nil
}
