// Command diarize assigns speakers to precomputed ivec windows and writes one
// RTTM file per recording.
//
// Usage:
//
//	diarize run --input-list list.txt --ivecs-dir ivecs/ --out-dir out/ [--norm-list norm.txt] [--reference ref.rttm]
//	diarize version
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cfg "github.com/maastricht-university/diarization-pipeline/config"
	"github.com/maastricht-university/diarization-pipeline/orchestrator"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	configFile string
	verbose    bool
	v          = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "diarize",
	Short: "Speaker diarization over precomputed ivecs",
	Long: `diarize clusters per-window speaker embeddings (ivecs) with a PLDA or cosine
scorer and writes RTTM files.

Recordings listed with a speaker count are clustered directly. Recordings
without one need a normalization cohort (--norm-list) to estimate the count.

Configuration is read from --config, config/$CONFIG_ENV/config.yaml or
./config.yaml. Every key can be overridden with DIAR_<SECTION>_<KEY>.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Score, label and optionally evaluate every recording in the input list",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := cfg.Load(v, configFile)
		if err != nil {
			return err
		}
		log, err := newLogger(conf)
		if err != nil {
			return err
		}
		log.WithFields(logrus.Fields{"pipeline": conf.Pipeline.Name, "version": version}).Info("starting")

		p, err := orchestrator.NewPipeline(conf, orchestrator.Deps{Log: log})
		if err != nil {
			return err
		}
		return p.Run(cmd.Context())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("diarize", version)
		if verbose {
			fmt.Printf("  go: %s\n", runtime.Version())
		}
	},
}

// flag name -> config key
var runFlags = map[string]string{
	"input-list": "paths.input_list",
	"norm-list":  "paths.norm_list",
	"ivecs-dir":  "paths.ivecs",
	"out-dir":    "paths.out",
	"plda-model": "paths.plda_model",
	"reference":  "paths.reference",
	"summary":    "paths.summary",
	"scorer":     "scoring.kind",
	"workers":    "pipeline.workers",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	f := runCmd.Flags()
	f.String("input-list", "", "manifest of recordings to diarize")
	f.String("norm-list", "", "manifest of the normalization cohort")
	f.String("ivecs-dir", "", "directory holding the ivec blobs")
	f.String("out-dir", "", "directory for RTTM output")
	f.String("plda-model", "", "PLDA model file")
	f.String("reference", "", "reference RTTM; enables DER evaluation")
	f.String("summary", "", "run summary path (default <out-dir>/summary.yaml)")
	f.String("scorer", "", "plda or cosine")
	f.Int("workers", 1, "recordings scored in parallel")
	for name, key := range runFlags {
		if err := v.BindPFlag(key, f.Lookup(name)); err != nil {
			panic(err)
		}
	}

	rootCmd.AddCommand(runCmd, versionCmd)
}

func newLogger(conf *cfg.Root) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	if conf.Pipeline.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	lvl, err := logrus.ParseLevel(conf.Pipeline.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("pipeline.log_level: %w", err)
	}
	if verbose {
		lvl = logrus.DebugLevel
	}
	log.SetLevel(lvl)
	return log, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
