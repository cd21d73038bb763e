package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/inferloop/sds/internal/export"
)

// Config describes the categorical microdata to generate
type Config struct {
	Records   int      `yaml:"records"`
	Seed      int64    `yaml:"seed"`
	Delimiter string   `yaml:"delimiter"`
	Output    string   `yaml:"output"`
	Columns   []Column `yaml:"columns"`
}

// Column describes one generated column
type Column struct {
	Name string `yaml:"name"`
	// Values is the column cardinality
	Values int `yaml:"values"`
	// Skew is the Zipf exponent, > 1; larger values make rare attributes rarer
	Skew float64 `yaml:"skew"`
	// EmptyRate is the probability of an empty cell
	EmptyRate float64 `yaml:"empty_rate"`
	// Numeric writes plain numbers starting at 0, as count columns do
	Numeric bool `yaml:"numeric"`
	// MultiValue, when set, joins up to MaxValues distinct values with it
	MultiValue string `yaml:"multi_value"`
	MaxValues  int    `yaml:"max_values"`
}

type Generator struct {
	config *Config
	logger *logrus.Logger
	rand   *rand.Rand
	zipfs  []*rand.Zipf
}

func main() {
	var (
		configFile = flag.String("config", "", "Configuration file path (yaml)")
		records    = flag.Int("records", 1000, "Number of records to generate")
		columns    = flag.Int("columns", 6, "Number of columns when no config file is given")
		values     = flag.Int("values", 8, "Values per column when no config file is given")
		skew       = flag.Float64("skew", 1.5, "Zipf exponent of every column when no config file is given")
		seed       = flag.Int64("seed", 0, "Random seed (0 picks one)")
		output     = flag.String("output", "sensitive_microdata.csv", "Output path, - for stdout or s3://bucket/key")
		delimiter  = flag.String("delimiter", ",", "Field delimiter")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	)
	flag.Parse()

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	var config *Config
	if *configFile != "" {
		var err error
		config, err = loadConfig(*configFile)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	} else {
		config = getDefaultConfig(*columns, *values, *skew)
		config.Records = *records
		config.Output = *output
		config.Delimiter = *delimiter
	}
	if *seed != 0 {
		config.Seed = *seed
	}
	if err := config.validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	generator := NewGenerator(config, logger)

	logger.WithFields(logrus.Fields{
		"records": config.Records,
		"columns": len(config.Columns),
		"seed":    config.Seed,
		"output":  config.Output,
	}).Info("Starting test data generation")

	ctx := context.Background()
	w, err := export.NewOpener(nil, logger).Create(ctx, config.Output)
	if err != nil {
		log.Fatalf("Failed to open output: %v", err)
	}
	if err := generator.Write(w); err != nil {
		w.Close()
		log.Fatalf("Failed to write data: %v", err)
	}
	if err := w.Close(); err != nil {
		log.Fatalf("Failed to close output: %v", err)
	}

	logger.WithField("output", config.Output).Info("Test data generation completed")
}

func NewGenerator(config *Config, logger *logrus.Logger) *Generator {
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	zipfs := make([]*rand.Zipf, len(config.Columns))
	for i, c := range config.Columns {
		zipfs[i] = rand.NewZipf(rng, c.Skew, 1, uint64(c.Values-1))
	}

	return &Generator{
		config: config,
		logger: logger,
		rand:   rng,
		zipfs:  zipfs,
	}
}

// Write writes the header and every generated record
func (g *Generator) Write(w io.Writer) error {
	delimiter, _ := utf8.DecodeRuneInString(g.config.Delimiter)
	writer := csv.NewWriter(w)
	writer.Comma = delimiter

	header := make([]string, len(g.config.Columns))
	for i, c := range g.config.Columns {
		header[i] = c.Name
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	row := make([]string, len(g.config.Columns))
	for r := 0; r < g.config.Records; r++ {
		for i := range g.config.Columns {
			row[i] = g.cell(i)
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func (g *Generator) cell(column int) string {
	c := g.config.Columns[column]
	if c.EmptyRate > 0 && g.rand.Float64() < c.EmptyRate {
		return ""
	}
	if c.MultiValue == "" {
		return g.value(column)
	}

	n := 1 + g.rand.Intn(c.MaxValues)
	picked := make(map[string]bool, n)
	for len(picked) < n {
		picked[g.value(column)] = true
	}
	parts := make([]string, 0, len(picked))
	for p := range picked {
		parts = append(parts, p)
	}
	sort.Strings(parts)
	return strings.Join(parts, c.MultiValue)
}

func (g *Generator) value(column int) string {
	c := g.config.Columns[column]
	v := g.zipfs[column].Uint64()
	if c.Numeric {
		return strconv.FormatUint(v, 10)
	}
	return fmt.Sprintf("%s_%d", c.Name, v)
}

func (c *Config) validate() error {
	if c.Records < 0 {
		return fmt.Errorf("records must not be negative")
	}
	if utf8.RuneCountInString(c.Delimiter) != 1 {
		return fmt.Errorf("delimiter must be a single character")
	}
	if len(c.Columns) == 0 {
		return fmt.Errorf("at least one column is required")
	}
	for _, col := range c.Columns {
		if col.Values < 2 {
			return fmt.Errorf("column %s needs at least 2 values", col.Name)
		}
		if col.Skew <= 1 {
			return fmt.Errorf("column %s skew must be greater than 1", col.Name)
		}
		if col.MultiValue != "" && (col.MaxValues < 1 || col.MaxValues > col.Values) {
			return fmt.Errorf("column %s max_values must be in [1, values]", col.Name)
		}
	}
	return nil
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := &Config{Delimiter: ",", Output: "sensitive_microdata.csv"}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, err
	}
	return config, nil
}

func getDefaultConfig(columns, values int, skew float64) *Config {
	config := &Config{Delimiter: ","}
	for i := 0; i < columns; i++ {
		config.Columns = append(config.Columns, Column{
			Name:   fmt.Sprintf("col%d", i),
			Values: values,
			Skew:   skew,
		})
	}
	return config
}
