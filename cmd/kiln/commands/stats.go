package commands

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	statsFormat   string
	statsDetailed bool
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print allocator statistics after a simulation",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	addSimulationFlags(statsCmd)
	statsCmd.Flags().StringVar(&statsFormat, "format", "json", "output format: json or yaml")
	statsCmd.Flags().BoolVar(&statsDetailed, "detailed", false, "include every page in json output")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	if statsFormat != "json" && statsFormat != "yaml" {
		return errors.Newf("unknown format %q", statsFormat)
	}

	return simulate(cmd.Context(), func(s *simulation) error {
		out := cmd.OutOrStdout()

		if statsFormat == "yaml" {
			encoder := yaml.NewEncoder(out)
			encoder.SetIndent(2)
			if err := encoder.Encode(s.statistics()); err != nil {
				return err
			}
			return encoder.Close()
		}

		_, err := fmt.Fprintf(out, `{"buffers":%s,"descriptors":%s,"textures":%s}`+"\n",
			s.buffers.BuildStatsString(statsDetailed),
			s.descriptors.BuildStatsString(statsDetailed),
			s.textures.BuildStatsString(statsDetailed))
		return err
	})
}
