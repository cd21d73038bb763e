package constants

// Application metadata
const (
	AppName        = "sds"
	AppDescription = "Synthetic data showcase: aggregate, synthesize and evaluate categorical microdata"
	AppVersion     = "0.1.0"
)

// Aggregation defaults
const (
	DefaultReportingLength     = 3
	DefaultReportingResolution = 10
	DefaultRecordLimit         = -1
)

// Synthesis defaults
const (
	DefaultCacheMaxSize      = 100000
	DefaultOversamplingRatio = 0.1
	DefaultOversamplingTries = 10
)

// Noise defaults
const (
	DefaultNoiseKind    = "laplace"
	DefaultNoiseEpsilon = 4.0
)

// File format defaults
const (
	DefaultSensitiveDelimiter   = ","
	DefaultAggregatesDelimiter  = '\t'
	DefaultCombinationDelimiter = ";"
	DefaultSyntheticDelimiter   = "\t"
	DefaultOutputPrefix         = "my"
	DefaultOutputDir            = "./"
)

// Output file names, written as {output_dir}/{prefix}_{name}
const (
	SensitiveAggregatesFile  = "sensitive_aggregates.tsv"
	ReportableAggregatesFile = "reportable_aggregates.tsv"
	SyntheticMicrodataFile   = "synthetic_microdata.tsv"
	SyntheticAggregatesFile  = "synthetic_aggregates.tsv"
	EvaluationReportFile     = "evaluation.yaml"
)

// Metrics defaults
const (
	DefaultMetricsAddress   = ":9090"
	DefaultMetricsPath      = "/metrics"
	DefaultMetricsNamespace = "sds"
	DefaultLogLevel         = "info"
	DefaultS3MaxRetries     = 3
)
