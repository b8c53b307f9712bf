// Package commands implements the kiln developer CLI
package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/cockroachdb/errors"
	slogmulti "github.com/samber/slog-multi"
	"github.com/spf13/cobra"
	"github.com/vkngwrapper/kiln/config"
)

var (
	cfgFile string
	verbose bool

	cfg      *config.Config
	logger   *slog.Logger
	closeLog func() error
)

var rootCmd = &cobra.Command{
	Use:   "kiln",
	Short: "GPU page allocation and frame pacing toolkit",
	Long: `kiln exercises the page allocators, resource manager and frame renderer on the
software backend, and inspects the DDS and OBJ assets they load.`,
	SilenceUsage:       true,
	SilenceErrors:      true,
	PersistentPreRunE:  setup,
	PersistentPostRunE: teardown,
}

// Execute runs the root command and logs any error it returns
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		if logger != nil {
			logger.Error("command failed", slog.Any("error", err))
		} else {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		if closeLog != nil {
			_ = closeLog()
			closeLog = nil
		}
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./kiln.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
}

func setup(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	level, err := loaded.Log.SlogLevel()
	if err != nil {
		return err
	}
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	handlers := []slog.Handler{slog.NewTextHandler(cmd.ErrOrStderr(), opts)}
	if loaded.Log.JSONFile != "" {
		file, err := os.Create(loaded.Log.JSONFile)
		if err != nil {
			return errors.Wrapf(err, "failed to open log file %s", loaded.Log.JSONFile)
		}
		handlers = append(handlers, slog.NewJSONHandler(file, opts))
		closeLog = file.Close
	}

	cfg = loaded
	logger = slog.New(slogmulti.Fanout(handlers...))
	return nil
}

func teardown(cmd *cobra.Command, args []string) error {
	if closeLog == nil {
		return nil
	}

	err := closeLog()
	closeLog = nil
	return err
}
