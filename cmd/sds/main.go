package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/inferloop/sds/cmd/sds/commands"
	"github.com/inferloop/sds/cmd/sds/config"
	"github.com/inferloop/sds/pkg/constants"
)

var (
	cfgFile string
	verbose bool
)

// flagKeys binds persistent flags to their config keys
var flagKeys = map[string]string{
	"sensitive":        "sensitive_microdata_path",
	"output-dir":       "output_dir",
	"prefix":           "prefix",
	"resolution":       "reporting_resolution",
	"reporting-length": "reporting_length",
	"mode":             "synthesis_mode",
	"seed":             "random_seed",
	"log-level":        "log_level",
}

func main() {
	rootCmd := &cobra.Command{
		Use:   constants.AppName,
		Short: constants.AppDescription,
		Long: `Aggregate sensitive categorical microdata, synthesize records that never
reproduce rare attribute combinations, and evaluate the result.`,
		Version:      constants.AppVersion,
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	flags.String("sensitive", "", "sensitive microdata path, - for stdin or s3://bucket/key")
	flags.String("output-dir", "./", "output directory or s3://bucket/prefix")
	flags.String("prefix", "my", "output file prefix")
	flags.Int("resolution", 10, "reporting resolution")
	flags.Int("reporting-length", 3, "maximum combination length (0 for all columns)")
	flags.String("mode", "", "synthesis mode: seeded, unseeded, from_counts or from_aggregates")
	flags.Int64("seed", 0, "random seed (0 picks one)")
	flags.String("log-level", "info", "log level")

	for flag, key := range flagKeys {
		cobra.CheckErr(viper.BindPFlag(key, flags.Lookup(flag)))
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	load := func(ctx context.Context) (*commands.App, error) {
		cfg, err := config.LoadConfig(viper.GetViper(), cfgFile)
		if err != nil {
			return nil, err
		}
		if verbose {
			cfg.LogLevel = logrus.DebugLevel.String()
		}
		app, err := commands.NewApp(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		if viper.ConfigFileUsed() != "" {
			logger.WithField("config", viper.ConfigFileUsed()).Debug("Using config file")
		}
		return app, nil
	}

	rootCmd.AddCommand(commands.NewAggregateCmd(load))
	rootCmd.AddCommand(commands.NewGenerateCmd(load))
	rootCmd.AddCommand(commands.NewEvaluateCmd(load))
	rootCmd.AddCommand(commands.NewRunCmd(load))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
