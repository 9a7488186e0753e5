// Package config parses the command line and the optional YAML config file
package config

import (
	"errors"
	"flag"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"strconv"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"createabunch/countlog"
	"createabunch/workload"
)

var (
	// ErrUsage is returned for malformed command lines
	ErrUsage = errors.New("usage")

	// ErrNoLimit is returned when neither a file count nor a time limit is
	// given
	ErrNoLimit = errors.New("no file count or time limit specified")
)

const usageText = `usage: createabunch [flags] <target>

Creates empty files in <target> as fast as possible from every worker and
logs how many were created in each second. <target> is a directory,
s3://bucket/prefix or r2://bucket/prefix.

At least one of -c and -t is required.

`

// Config is the benchmark configuration. It does not change after Parse
type Config struct {
	Target       string
	FileCount    uint64
	FileCountSet bool
	TimeLimit    uint64 // seconds
	TimeLimitSet bool
	DumpAll      bool

	Workers        int
	RedisAddr      string
	RunID          string
	Rank           int
	Size           int
	OutputDir      string
	PrometheusAddr string
	ParquetDir     string
	MaxBuckets     int
	Check          bool
	Debug          bool
	ConfigFile     string
}

// File mirrors Config for YAML. Unset fields keep their defaults and flags
// given on the command line win over the file
type File struct {
	Target         *string `yaml:"target"`
	Count          *uint64 `yaml:"count"`
	Time           *uint64 `yaml:"time"`
	All            *bool   `yaml:"all"`
	Workers        *int    `yaml:"workers"`
	Redis          *string `yaml:"redis"`
	RunID          *string `yaml:"run_id"`
	Rank           *int    `yaml:"rank"`
	Size           *int    `yaml:"size"`
	Output         *string `yaml:"output"`
	PrometheusAddr *string `yaml:"prometheus_addr"`
	Parquet        *string `yaml:"parquet"`
	MaxBuckets     *int    `yaml:"max_buckets"`
	Check          *bool   `yaml:"check"`
	Debug          *bool   `yaml:"debug"`
}

// LoadFile reads a YAML config file
func LoadFile(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUsage, err)
	}
	var f File
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUsage, path, err)
	}
	return &f, nil
}

// Parse parses args, not including the program name. Usage and flag errors
// are written to output. -h returns flag.ErrHelp
func Parse(args []string, output io.Writer) (*Config, error) {
	c := &Config{}
	fs := flag.NewFlagSet("createabunch", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() {
		fmt.Fprint(output, usageText)
		fs.PrintDefaults()
	}

	fs.Uint64Var(&c.FileCount, "c", 0, "Total number of files to create across all workers")
	fs.Uint64Var(&c.TimeLimit, "t", 0, "Time limit in seconds")
	fs.BoolVar(&c.DumpAll, "a", false, "Also log every worker's per-second counts")
	fs.IntVar(&c.Workers, "workers", 1, "Number of in-process workers")
	fs.StringVar(&c.RedisAddr, "redis", "", "Redis address for multi-process runs")
	fs.StringVar(&c.RunID, "run-id", "", "Run id shared by every process of a multi-process run")
	fs.IntVar(&c.Rank, "rank", 0, "This process's rank in a multi-process run")
	fs.IntVar(&c.Size, "size", 1, "Number of processes in a multi-process run")
	fs.StringVar(&c.OutputDir, "output", ".", "Directory for the result logs")
	fs.StringVar(&c.PrometheusAddr, "prometheus-addr", "", "Prometheus metrics server address (disabled if empty)")
	fs.StringVar(&c.ParquetDir, "parquet", "", "Directory for the parquet export (disabled if empty)")
	fs.IntVar(&c.MaxBuckets, "max-buckets", countlog.DefaultMaxBuckets, "Maximum seconds a count log can hold")
	fs.BoolVar(&c.Check, "check", false, "Create and remove a probe file before the run")
	fs.BoolVar(&c.Debug, "debug", false, "Enable debug logging")
	fs.StringVar(&c.ConfigFile, "config", "", "YAML config file")

	if wantsHelp(args) {
		fs.Usage()
		return nil, flag.ErrHelp
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrUsage, err)
	}

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	c.FileCountSet = set["c"]
	c.TimeLimitSet = set["t"]

	switch fs.NArg() {
	case 0:
	case 1:
		c.Target = fs.Arg(0)
	default:
		fs.Usage()
		return nil, fmt.Errorf("%w: expected one target, got %d", ErrUsage, fs.NArg())
	}

	if c.ConfigFile != "" {
		f, err := LoadFile(c.ConfigFile)
		if err != nil {
			return nil, err
		}
		c.apply(f, set)
	}

	if err := c.Validate(); err != nil {
		if errors.Is(err, ErrUsage) {
			fs.Usage()
		}
		return nil, err
	}
	if c.RunID == "" {
		c.RunID = uuid.NewString()
	}
	return c, nil
}

// wantsHelp reports a help flag anywhere on the command line, including
// after the target
func wantsHelp(args []string) bool {
	for _, a := range args {
		switch a {
		case "-h", "-help", "--help":
			return true
		}
	}
	return false
}

func (c *Config) apply(f *File, set map[string]bool) {
	if f.Target != nil && c.Target == "" {
		c.Target = *f.Target
	}
	if f.Count != nil && !set["c"] {
		c.FileCount, c.FileCountSet = *f.Count, true
	}
	if f.Time != nil && !set["t"] {
		c.TimeLimit, c.TimeLimitSet = *f.Time, true
	}
	if f.All != nil && !set["a"] {
		c.DumpAll = *f.All
	}
	if f.Workers != nil && !set["workers"] {
		c.Workers = *f.Workers
	}
	if f.Redis != nil && !set["redis"] {
		c.RedisAddr = *f.Redis
	}
	if f.RunID != nil && !set["run-id"] {
		c.RunID = *f.RunID
	}
	if f.Rank != nil && !set["rank"] {
		c.Rank = *f.Rank
	}
	if f.Size != nil && !set["size"] {
		c.Size = *f.Size
	}
	if f.Output != nil && !set["output"] {
		c.OutputDir = *f.Output
	}
	if f.PrometheusAddr != nil && !set["prometheus-addr"] {
		c.PrometheusAddr = *f.PrometheusAddr
	}
	if f.Parquet != nil && !set["parquet"] {
		c.ParquetDir = *f.Parquet
	}
	if f.MaxBuckets != nil && !set["max-buckets"] {
		c.MaxBuckets = *f.MaxBuckets
	}
	if f.Check != nil && !set["check"] {
		c.Check = *f.Check
	}
	if f.Debug != nil && !set["debug"] {
		c.Debug = *f.Debug
	}
}

// Validate checks the configuration. A missing limit is reported after every
// usage error
func (c *Config) Validate() error {
	if c.Target == "" {
		return fmt.Errorf("%w: no target given", ErrUsage)
	}
	if c.Workers < 1 {
		return fmt.Errorf("%w: -workers must be at least 1", ErrUsage)
	}
	if c.RedisAddr != "" {
		if c.Workers != 1 {
			return fmt.Errorf("%w: -workers cannot be combined with -redis", ErrUsage)
		}
		if c.Size < 1 || c.Rank < 0 || c.Rank >= c.Size {
			return fmt.Errorf("%w: rank %d out of range for size %d", ErrUsage, c.Rank, c.Size)
		}
		if c.RunID == "" {
			return fmt.Errorf("%w: -run-id is required with -redis", ErrUsage)
		}
	}
	if c.MaxBuckets < 1 {
		return fmt.Errorf("%w: -max-buckets must be positive", ErrUsage)
	}
	if !c.FileCountSet && !c.TimeLimitSet {
		return ErrNoLimit
	}
	return nil
}

// Distributed reports whether workers are separate processes joined through
// Redis
func (c *Config) Distributed() bool {
	return c.RedisAddr != ""
}

// Limits returns the workload limits
func (c *Config) Limits() workload.Limits {
	return workload.Limits{
		FileCount:    c.FileCount,
		FileCountSet: c.FileCountSet,
		TimeLimit:    c.TimeLimit,
		TimeLimitSet: c.TimeLimitSet,
	}
}

// Fingerprint hashes the parameters every worker must agree on
func (c *Config) Fingerprint() uint64 {
	h := fnv.New64a()
	for _, s := range []string{
		c.Target,
		strconv.FormatUint(c.FileCount, 10),
		strconv.FormatBool(c.FileCountSet),
		strconv.FormatUint(c.TimeLimit, 10),
		strconv.FormatBool(c.TimeLimitSet),
		strconv.FormatBool(c.DumpAll),
		strconv.Itoa(c.MaxBuckets),
	} {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	if c.Distributed() {
		h.Write([]byte(strconv.Itoa(c.Size)))
	}
	return h.Sum64()
}
