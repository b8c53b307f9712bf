package commands

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	simulateFrames   int
	simulateMeshes   []string
	simulateTextures []string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Render frames on the software backend",
	Long: `simulate loads the given meshes and textures, uploads them on the first frame and then
renders the requested number of frames, reporting how much page memory the allocators hold.
Without meshes a textured quad is used.`,
	Args: cobra.NoArgs,
	RunE: runSimulate,
}

func init() {
	addSimulationFlags(simulateCmd)
	rootCmd.AddCommand(simulateCmd)
}

func addSimulationFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&simulateFrames, "frames", 120, "number of frames to render")
	cmd.Flags().StringSliceVar(&simulateMeshes, "mesh", nil, "OBJ mesh to upload (repeatable)")
	cmd.Flags().StringSliceVar(&simulateTextures, "texture", nil, "DDS or image texture to upload (repeatable)")
}

// simulate runs a simulation and hands it to report while the allocators are still alive
func simulate(ctx context.Context, report func(s *simulation) error) (err error) {
	s, err := newSimulation(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeErr := s.close()
		if err == nil {
			err = closeErr
		}
	}()

	loaded, err := s.loadAssets(ctx, simulateMeshes, simulateTextures)
	if err != nil {
		return err
	}

	err = s.run(ctx, simulateFrames, loaded)
	if err != nil {
		return err
	}

	return report(s)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	return simulate(cmd.Context(), func(s *simulation) error {
		out := cmd.OutOrStdout()
		stats := s.statistics()

		fmt.Fprintf(out, "frames:      %d\n", s.frames)
		fmt.Fprintf(out, "fence value: %d\n", s.renderer.Fence().CompletedValue())

		kinds := make([]string, 0, len(stats))
		for kind := range stats {
			kinds = append(kinds, kind)
		}
		slices.Sort(kinds)
		for _, kind := range kinds {
			total := stats[kind].Total
			fmt.Fprintf(out, "%-12s %d pages, %s held, %s allocated\n", kind+":", total.PageCount,
				humanize.IBytes(uint64(total.PageBytes)), humanize.IBytes(uint64(total.AllocationBytes)))
		}

		logger.Debug("simulation finished", slog.Int("frames", s.frames))
		return nil
	})
}
