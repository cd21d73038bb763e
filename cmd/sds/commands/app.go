package commands

import (
	"context"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/sds/cmd/sds/config"
	"github.com/inferloop/sds/internal/aggregator"
	"github.com/inferloop/sds/internal/export"
	"github.com/inferloop/sds/internal/observability/metrics"
	"github.com/inferloop/sds/internal/processor"
	"github.com/inferloop/sds/internal/synthesizer"
	"github.com/inferloop/sds/internal/utils/progress"
	"github.com/inferloop/sds/internal/utils/threading"
	"github.com/inferloop/sds/pkg/errors"
)

// progressStep is how many percent a stage advances between progress logs
const progressStep = 10

// App wires the configured pipeline stages
type App struct {
	config    *config.SDSConfig
	logger    *logrus.Logger
	metrics   *metrics.PrometheusMetrics
	opener    *export.Opener
	processor *processor.Context
	// released is set once the reportable aggregates stand in for the
	// sensitive microdata
	released bool
}

// AppLoader builds the App once flags and config files are parsed
type AppLoader func(ctx context.Context) (*App, error)

// NewApp creates the stages from a loaded config and starts the metrics
// endpoint when enabled
func NewApp(ctx context.Context, cfg *config.SDSConfig, logger *logrus.Logger) (*App, error) {
	if logger == nil {
		logger = logrus.New()
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, errors.NewConfigurationError(errors.CodeInvalidConfig, "invalid log level", err)
	}
	logger.SetLevel(level)

	if cfg.NumThreads > 0 {
		threading.SetNumberOfThreads(cfg.NumThreads)
	}

	m, err := metrics.NewPrometheusMetrics(&cfg.Metrics, logger)
	if err != nil {
		return nil, errors.NewConfigurationError(errors.CodeInvalidConfig, "failed to create metrics", err)
	}
	if err := m.Start(ctx); err != nil {
		return nil, err
	}

	p := processor.NewContext(logger)
	p.SetMetrics(m)

	return &App{
		config:    cfg,
		logger:    logger,
		metrics:   m,
		opener:    export.NewOpener(&cfg.S3, logger),
		processor: p,
	}, nil
}

// Close stops the metrics endpoint
func (a *App) Close(ctx context.Context) error {
	return a.metrics.Stop(ctx)
}

// Aggregate writes the sensitive aggregates and the reportable aggregates,
// which leave out every combination below the resolution
func (a *App) Aggregate(ctx context.Context) error {
	start := time.Now()
	if err := a.loadSensitiveData(ctx); err != nil {
		return err
	}

	aggregates, err := a.processor.Aggregate(a.config.ReportingLength, a.config.Threshold(), a.reporter("aggregate"))
	if err != nil {
		return err
	}

	format := a.config.AggregatesFormat()
	resolution := a.config.ReportingResolution

	err = a.write(ctx, a.config.SensitiveAggregatesPath(), func(w io.Writer) error {
		return aggregates.WriteAggregates(w, format, resolution, false)
	})
	if err != nil {
		return err
	}

	reportable := aggregates
	if params := a.config.Noise.Parameters(); params != nil {
		if reportable, err = aggregates.WithNoise(*params); err != nil {
			return err
		}
	}
	err = a.write(ctx, a.config.ReportableAggregatesPath(), func(w io.Writer) error {
		return reportable.WriteAggregates(w, format, resolution, true)
	})
	if err != nil {
		return err
	}

	a.logger.WithFields(logrus.Fields{
		"run_id":       a.processor.RunID(),
		"combinations": len(aggregates.AggregatesCount),
		"noisy":        a.config.Noise.Enabled,
		"duration":     time.Since(start),
	}).Info("Aggregate stage completed")
	return nil
}

// Generate synthesizes records and writes the synthetic microdata. Count
// based modes without sensitive microdata read the reportable aggregates.
func (a *App) Generate(ctx context.Context) error {
	start := time.Now()

	synthesis, err := a.config.SynthesisConfig()
	if err != nil {
		return err
	}
	params := processor.GenerateParameters{Synthesis: synthesis}

	if synthesis.SeedSource.UsesRecords() || a.config.SensitiveMicrodataPath != "" {
		if err := a.loadSensitiveData(ctx); err != nil {
			return err
		}
		if synthesis.SeedSource == synthesizer.SeedSourceFromAggregates {
			params.Noise = a.config.Noise.Parameters()
		}
	} else if err := a.loadReportableAggregates(ctx); err != nil {
		return err
	}

	generated, err := a.processor.Generate(params, a.reporter("generate"))
	if err != nil {
		return err
	}

	err = a.write(ctx, a.config.SyntheticMicrodataPath(), func(w io.Writer) error {
		return generated.WriteSyntheticData(w, a.config.SyntheticDelimiter(), a.config.EmptyValue,
			a.config.JoinMultiValueColumns, a.config.LongForm)
	})
	if err != nil {
		return err
	}

	a.logger.WithFields(logrus.Fields{
		"run_id":          a.processor.RunID(),
		"records":         generated.NumberOfRecords(),
		"expansion_ratio": generated.ExpansionRatio,
		"duration":        time.Since(start),
	}).Info("Generate stage completed")
	return nil
}

// Evaluate compares the synthetic microdata with the sensitive data and
// writes the synthetic aggregates and the evaluation report
func (a *App) Evaluate(ctx context.Context) error {
	start := time.Now()

	if a.config.SensitiveMicrodataPath != "" {
		if err := a.loadSensitiveData(ctx); err != nil {
			return err
		}
	} else if err := a.loadReportableAggregates(ctx); err != nil {
		return err
	}

	if a.processor.SyntheticData() == nil {
		if err := a.loadSyntheticData(ctx); err != nil {
			return err
		}
	}

	result, err := a.processor.Evaluate(a.config.ReportingLength, a.config.Threshold(),
		a.reporter("aggregate sensitive"), a.reporter("aggregate synthetic"))
	if err != nil {
		return err
	}
	if a.config.ProtectSensitiveAggregates {
		if err := a.processor.ProtectSensitiveAggregatesCount(); err != nil {
			return err
		}
	}

	synthetic := a.processor.SyntheticAggregates()
	err = a.write(ctx, a.config.SyntheticAggregatesPath(), func(w io.Writer) error {
		return synthetic.WriteAggregates(w, a.config.AggregatesFormat(), result.Resolution, false)
	})
	if err != nil {
		return err
	}

	err = a.write(ctx, a.config.EvaluationReportPath(), result.WriteYAML)
	if err != nil {
		return err
	}

	a.logger.WithFields(logrus.Fields{
		"run_id":                  a.processor.RunID(),
		"leaked":                  result.TotalLeakage(),
		"fabricated":              result.TotalFabricated(),
		"mean_proportional_error": result.PreservationByCount.MeanProportionalError,
		"record_expansion":        result.RecordExpansion,
		"duration":                time.Since(start),
	}).Info("Evaluate stage completed")
	return nil
}

func (a *App) loadSensitiveData(ctx context.Context) error {
	if a.processor.SensitiveData() != nil {
		return nil
	}
	if a.config.SensitiveMicrodataPath == "" {
		return errors.NewConfigurationError(errors.CodeInvalidConfig, "sensitive_microdata_path is required", errors.ErrMissingSensitiveData)
	}

	r, err := a.opener.Open(ctx, a.config.SensitiveMicrodataPath)
	if err != nil {
		return err
	}
	defer r.Close()

	if err := a.processor.SetSensitiveData(r, a.config.CSVOptions()); err != nil {
		return err
	}
	a.released = false
	return nil
}

func (a *App) loadReportableAggregates(ctx context.Context) error {
	if a.released {
		return nil
	}

	r, err := a.opener.Open(ctx, a.config.ReportableAggregatesPath())
	if err != nil {
		return err
	}
	defer r.Close()

	aggregates, err := aggregator.ReadAggregates(r, a.config.AggregatesFormat())
	if err != nil {
		return err
	}
	a.processor.SetSensitiveAggregates(aggregates)
	a.released = true
	return nil
}

func (a *App) loadSyntheticData(ctx context.Context) error {
	if a.config.LongForm {
		return errors.NewParameterError(errors.CodeUnsupportedFormat, "long_form synthetic microdata cannot be evaluated", errors.ErrLongFormSynthetic).
			WithDetails(a.config.SyntheticMicrodataPath())
	}

	r, err := a.opener.Open(ctx, a.config.SyntheticMicrodataPath())
	if err != nil {
		return err
	}
	defer r.Close()

	return a.processor.SetSyntheticData(r, a.config.SyntheticCSVOptions(), a.config.ReportingResolution)
}

// write streams one output and reports a failed close, which is where
// uploads and compressed files are finalized
func (a *App) write(ctx context.Context, uri string, fn func(w io.Writer) error) error {
	w, err := a.opener.Create(ctx, uri)
	if err != nil {
		return err
	}
	if err := fn(w); err != nil {
		export.Abort(w, err)
		return err
	}
	if err := w.Close(); err != nil {
		return errors.NewIOError(errors.CodeWriteFailed, "failed to finalize output", err).WithDetails(uri)
	}

	a.logger.WithField("path", uri).Info("Wrote output")
	return nil
}

func (a *App) reporter(stage string) progress.Reporter {
	return progress.NewLogReporter(a.logger, stage, progressStep)
}
