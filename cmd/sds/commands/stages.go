package commands

import (
	"context"

	"github.com/spf13/cobra"
)

type stage func(a *App, ctx context.Context) error

func runStages(cmd *cobra.Command, load AppLoader, stages ...stage) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	app, err := load(ctx)
	if err != nil {
		return err
	}
	defer app.Close(context.Background())

	for _, s := range stages {
		if err := s(app, ctx); err != nil {
			return err
		}
	}
	return nil
}

func NewAggregateCmd(load AppLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "aggregate",
		Short: "Aggregate sensitive microdata",
		Long: `Count every attribute combination of the sensitive microdata up to the
reporting length and write the sensitive and the reportable aggregates.
Reportable aggregates leave out combinations below the reporting resolution
and carry differentially private noise when noise.enabled is set.`,
		Example: `  # Aggregate with a config file
  sds aggregate --config sds.yaml

  # Override the resolution
  sds aggregate --config sds.yaml --resolution 5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStages(cmd, load, (*App).Aggregate)
		},
	}
}

func NewGenerateCmd(load AppLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "generate",
		Short: "Generate synthetic microdata",
		Long: `Synthesize records that follow the sensitive combination counts without
reproducing any combination rarer than the reporting resolution.`,
		Example: `  # Seeded synthesis from sensitive microdata
  sds generate --config sds.yaml

  # Synthesis from previously released aggregates
  sds generate --config sds.yaml --mode from_counts --sensitive ""`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStages(cmd, load, (*App).Generate)
		},
	}
}

func NewEvaluateCmd(load AppLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate synthetic microdata",
		Long: `Compare the synthetic microdata with the sensitive data: leaked and fabricated
combinations by length, count preservation and record expansion.`,
		Example: `  sds evaluate --config sds.yaml --output-dir s3://bucket/showcase`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStages(cmd, load, (*App).Evaluate)
		},
	}
}

func NewRunCmd(load AppLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Aggregate, generate and evaluate in one pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStages(cmd, load, (*App).Aggregate, (*App).Generate, (*App).Evaluate)
		},
	}
}
