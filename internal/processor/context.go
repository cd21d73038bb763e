// Package processor keeps the state of one showcase session: the sensitive
// data, the last synthesis and the last evaluation. Setting an earlier stage
// clears every later one.
package processor

import (
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/sds/internal/aggregator"
	"github.com/inferloop/sds/internal/datablock"
	"github.com/inferloop/sds/internal/evaluator"
	"github.com/inferloop/sds/internal/observability/metrics"
	"github.com/inferloop/sds/internal/synthesizer"
	"github.com/inferloop/sds/internal/utils/progress"
	"github.com/inferloop/sds/pkg/errors"
)

// GenerateParameters configures one synthesis run
type GenerateParameters struct {
	Synthesis synthesizer.Config
	// Noise, when set, replaces the sensitive aggregates by noisy counts
	// before count based synthesis
	Noise *aggregator.NoiseParameters
}

// Context chains the pipeline stages of a session
type Context struct {
	logger  *logrus.Logger
	metrics *metrics.PrometheusMetrics
	threads int
	runID   string

	options   datablock.CSVOptions
	sensitive *datablock.DataBlock
	// released holds aggregates read from a reportable table, used when no
	// sensitive records are available
	released *aggregator.AggregatedData

	generated  *synthesizer.GeneratedData
	resolution int
	synthetic  *datablock.DataBlock

	sensitiveAggregates *aggregator.AggregatedData
	syntheticAggregates *aggregator.AggregatedData
	result              *evaluator.EvaluateResult
}

// NewContext creates an empty session
func NewContext(logger *logrus.Logger) *Context {
	if logger == nil {
		logger = logrus.New()
	}
	return &Context{
		logger: logger,
		runID:  uuid.New().String(),
	}
}

// SetMetrics sets the metrics collector handed to every stage
func (c *Context) SetMetrics(m *metrics.PrometheusMetrics) {
	c.metrics = m
}

// SetThreads sets the aggregation worker count (0 uses the process default)
func (c *Context) SetThreads(threads int) {
	c.threads = threads
}

// RunID identifies the current session in logs
func (c *Context) RunID() string {
	return c.runID
}

func (c *Context) log() *logrus.Entry {
	return c.logger.WithField("run_id", c.runID)
}

// SetSensitiveData loads the sensitive records and clears every later stage
func (c *Context) SetSensitiveData(reader io.Reader, options datablock.CSVOptions) error {
	c.ClearSensitiveData()

	block, err := datablock.NewCSVBlockCreator(options, c.logger).Create(reader)
	if err != nil {
		return err
	}

	c.options = options
	c.sensitive = block

	c.log().WithFields(logrus.Fields{
		"records": block.NumberOfRecords(),
		"columns": block.NumberOfColumns(),
	}).Info("Sensitive data set")
	return nil
}

// SetSensitiveAggregates loads released aggregates for count based synthesis
// and evaluation when the sensitive records are not available
func (c *Context) SetSensitiveAggregates(aggregates *aggregator.AggregatedData) {
	c.ClearSensitiveData()
	c.released = aggregates

	c.log().WithFields(logrus.Fields{
		"records":      aggregates.NumberOfRecords(),
		"combinations": len(aggregates.AggregatesCount),
	}).Info("Sensitive aggregates set")
}

// SensitiveData returns the sensitive data block, nil until set
func (c *Context) SensitiveData() *datablock.DataBlock {
	return c.sensitive
}

// Aggregate aggregates the sensitive records
func (c *Context) Aggregate(reportingLength, sensitivityThreshold int, reporter progress.Reporter) (*aggregator.AggregatedData, error) {
	if c.sensitive == nil {
		return nil, errors.NewParameterError(errors.CodeMissingState, "aggregation needs sensitive data", errors.ErrMissingSensitiveData)
	}
	return c.newAggregator(c.sensitive).Aggregate(reportingLength, sensitivityThreshold, reporter), nil
}

// Generate synthesizes records from the sensitive data and parses them back
// into the synthetic data block used by evaluation
func (c *Context) Generate(params GenerateParameters, reporter progress.Reporter) (*synthesizer.GeneratedData, error) {
	c.ClearGenerate()
	start := time.Now()
	config := params.Synthesis

	input, err := c.synthesisInput(params)
	if err != nil {
		return nil, err
	}

	synth := synthesizer.NewSynthesizer(&config, c.logger)
	synth.SetMetrics(c.metrics)

	generated, err := synth.Generate(input, reporter)
	if err != nil {
		return nil, err
	}

	synthetic, err := c.parseSynthetic(generated)
	if err != nil {
		return nil, err
	}

	c.generated = generated
	c.resolution = max(config.ResolutionThreshold, 1)
	c.synthetic = synthetic

	c.log().WithFields(logrus.Fields{
		"mode":            config.SeedSource.String(),
		"records":         generated.NumberOfRecords(),
		"expansion_ratio": generated.ExpansionRatio,
		"duration":        time.Since(start),
	}).Info("Synthetic data generated")
	return generated, nil
}

func (c *Context) synthesisInput(params GenerateParameters) (synthesizer.Input, error) {
	config := params.Synthesis

	if config.SeedSource.UsesRecords() {
		if params.Noise != nil {
			return synthesizer.Input{}, errors.NewParameterError(errors.CodeInvalidNoise, "noise only applies to count based synthesis", errors.ErrInvalidNoise).
				WithDetails(config.SeedSource.String())
		}
		if c.sensitive == nil {
			return synthesizer.Input{}, errors.NewParameterError(errors.CodeMissingState, "synthesis needs sensitive data", errors.ErrMissingSensitiveData)
		}
		return synthesizer.Input{DataBlock: c.sensitive}, nil
	}

	aggregates := c.released
	if aggregates == nil {
		if c.sensitive == nil {
			return synthesizer.Input{}, errors.NewParameterError(errors.CodeMissingState, "synthesis needs sensitive data or aggregates", errors.ErrMissingSensitiveData)
		}
		aggregates = c.newAggregator(c.sensitive).Aggregate(config.ReportingLength, max(config.ResolutionThreshold, 1), nil)
	}

	if params.Noise != nil {
		noisy, err := aggregates.WithNoise(*params.Noise)
		if err != nil {
			return synthesizer.Input{}, err
		}
		c.log().WithFields(logrus.Fields{
			"kind":         params.Noise.Kind,
			"epsilon":      params.Noise.Epsilon,
			"combinations": len(noisy.AggregatesCount),
		}).Info("Added noise to sensitive aggregates")
		aggregates = noisy
	}
	return synthesizer.Input{Aggregates: aggregates}, nil
}

// parseSynthetic reads the generated records with the sensitive data options
// so both blocks normalize cells the same way. Multi-value columns are
// already exploded in the generated data.
func (c *Context) parseSynthetic(generated *synthesizer.GeneratedData) (*datablock.DataBlock, error) {
	delimiter := c.options.Delimiter
	if delimiter == 0 {
		delimiter = ','
	}

	csvData, err := generated.SyntheticDataToString(delimiter, "", false, false)
	if err != nil {
		return nil, err
	}

	options := datablock.CSVOptions{
		Delimiter:      delimiter,
		SensitiveZeros: c.options.SensitiveZeros,
	}
	block, err := datablock.NewCSVBlockCreator(options, c.logger).Create(strings.NewReader(csvData))
	if err != nil {
		return nil, err
	}
	block.MultiValueColumnMetadataMap = generated.MultiValueColumnMetadataMap
	return block, nil
}

// SetSyntheticData loads previously generated synthetic records for
// evaluation at the given resolution. options must match how the records
// were written: EmptyValue for the placeholder of absent cells and
// MultiValueColumns for joined multi-value columns. Long form files are
// rejected.
func (c *Context) SetSyntheticData(reader io.Reader, options datablock.CSVOptions, resolution int) error {
	c.ClearGenerate()

	block, err := datablock.NewCSVBlockCreator(options, c.logger).Create(reader)
	if err != nil {
		return err
	}
	if synthesizer.IsLongForm(block.Headers) {
		return errors.NewParameterError(errors.CodeUnsupportedFormat, "synthetic data must be in wide form", errors.ErrLongFormSynthetic)
	}

	c.synthetic = block
	c.resolution = max(resolution, 1)

	c.log().WithFields(logrus.Fields{
		"records":    block.NumberOfRecords(),
		"resolution": c.resolution,
	}).Info("Synthetic data set")
	return nil
}

// GeneratedData returns the last synthesis result, nil until generated
func (c *Context) GeneratedData() *synthesizer.GeneratedData {
	return c.generated
}

// SyntheticData returns the synthetic data block, nil until generated
func (c *Context) SyntheticData() *datablock.DataBlock {
	return c.synthetic
}

// Resolution returns the resolution of the last synthesis
func (c *Context) Resolution() int {
	return c.resolution
}

// Evaluate aggregates both sides and compares them at the synthesis resolution
func (c *Context) Evaluate(reportingLength, sensitivityThreshold int, sensitiveReporter, syntheticReporter progress.Reporter) (*evaluator.EvaluateResult, error) {
	c.ClearEvaluate()

	if c.synthetic == nil {
		return nil, errors.NewParameterError(errors.CodeMissingState, "evaluation needs synthetic data", errors.ErrMissingSyntheticData)
	}

	var sensitive *aggregator.AggregatedData
	switch {
	case c.sensitive != nil:
		c.log().Debug("Aggregating sensitive data")
		sensitive = c.newAggregator(c.sensitive).Aggregate(reportingLength, sensitivityThreshold, sensitiveReporter)
	case c.released != nil:
		sensitive = c.released
		progress.OrNoop(sensitiveReporter).Report(100)
	default:
		return nil, errors.NewParameterError(errors.CodeMissingState, "evaluation needs sensitive data", errors.ErrMissingSensitiveData)
	}

	c.log().Debug("Aggregating synthetic data")
	synthetic := c.newAggregator(c.synthetic).Aggregate(reportingLength, sensitivityThreshold, syntheticReporter)

	e := evaluator.NewEvaluator(c.logger)
	e.SetMetrics(c.metrics)

	c.sensitiveAggregates = sensitive
	c.syntheticAggregates = synthetic
	c.result = e.Evaluate(sensitive, synthetic, c.resolution)
	return c.result, nil
}

// ProtectSensitiveAggregatesCount removes the sensitive combinations below
// the synthesis resolution from the evaluation, so they can be reported
func (c *Context) ProtectSensitiveAggregatesCount() error {
	if c.result == nil {
		return errors.NewParameterError(errors.CodeMissingState, "nothing to protect", errors.ErrMissingEvaluateResult)
	}
	if c.result.SensitiveAggregatesProtected {
		return nil
	}

	before := len(c.sensitiveAggregates.AggregatesCount)
	c.sensitiveAggregates = c.sensitiveAggregates.Protect(c.resolution)
	c.result.SensitiveAggregates = evaluator.Summarize(c.sensitiveAggregates, c.resolution)
	c.result.SensitiveAggregatesProtected = true

	c.log().WithFields(logrus.Fields{
		"resolution": c.resolution,
		"removed":    before - len(c.sensitiveAggregates.AggregatesCount),
	}).Info("Protected sensitive aggregates")
	return nil
}

// SensitiveAggregates returns the sensitive aggregates of the last evaluation
func (c *Context) SensitiveAggregates() *aggregator.AggregatedData {
	return c.sensitiveAggregates
}

// SyntheticAggregates returns the synthetic aggregates of the last evaluation
func (c *Context) SyntheticAggregates() *aggregator.AggregatedData {
	return c.syntheticAggregates
}

// EvaluateResult returns the last evaluation, nil until evaluated
func (c *Context) EvaluateResult() *evaluator.EvaluateResult {
	return c.result
}

// ClearSensitiveData resets the session and starts a new run id
func (c *Context) ClearSensitiveData() {
	c.options = datablock.CSVOptions{}
	c.sensitive = nil
	c.released = nil
	c.runID = uuid.New().String()
	c.ClearGenerate()
}

// ClearGenerate drops the synthesis and everything after it
func (c *Context) ClearGenerate() {
	c.generated = nil
	c.resolution = 0
	c.synthetic = nil
	c.ClearEvaluate()
}

// ClearEvaluate drops the evaluation
func (c *Context) ClearEvaluate() {
	c.sensitiveAggregates = nil
	c.syntheticAggregates = nil
	c.result = nil
}

func (c *Context) newAggregator(block *datablock.DataBlock) *aggregator.Aggregator {
	return aggregator.New(block,
		aggregator.WithLogger(c.logger),
		aggregator.WithMetrics(c.metrics),
		aggregator.WithThreads(c.threads),
	)
}
