package commands

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/vkngwrapper/kiln/formats/obj"
)

var objCmd = &cobra.Command{
	Use:   "obj FILE...",
	Short: "Describe OBJ meshes",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runOBJ,
}

func init() {
	rootCmd.AddCommand(objCmd)
}

func runOBJ(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	for _, path := range args {
		mesh, err := obj.Load(path)
		if err != nil {
			return err
		}

		center := mesh.Bounds.Center()
		fmt.Fprintf(out, "%s\n", path)
		fmt.Fprintf(out, "  vertices:  %s (%s)\n", humanize.Comma(int64(len(mesh.Vertices))),
			humanize.IBytes(uint64(len(mesh.Vertices)*obj.VertexStride)))
		fmt.Fprintf(out, "  triangles: %s\n", humanize.Comma(int64(mesh.TriangleCount())))
		fmt.Fprintf(out, "  texcoords: %t\n", mesh.HasTexCoords)
		fmt.Fprintf(out, "  normals:   %t\n", mesh.HasNormals)
		fmt.Fprintf(out, "  bounds:    %v to %v\n", mesh.Bounds.Min, mesh.Bounds.Max)
		fmt.Fprintf(out, "  center:    %v\n", center)
	}

	return nil
}
