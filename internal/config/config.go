package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"kbest/internal/forest"
	"kbest/internal/metric"
)

// ErrContractViolation matches every *ContractViolationError.
var ErrContractViolation = errors.New("filter contract violation")

// ContractViolationError reports a filter that sets both or neither of k and
// pr_metric.
type ContractViolationError struct {
	Filter string
	Reason string
}

func (e *ContractViolationError) Error() string {
	return fmt.Sprintf("filter %q: %s", e.Filter, e.Reason)
}

func (e *ContractViolationError) Is(target error) bool {
	return target == ErrContractViolation
}

const (
	DefaultTop        = 1
	DefaultCandidates = 1000
)

type Filter struct {
	K           *int   `yaml:"k" validate:"omitempty,gte=0"`
	PRMetric    string `yaml:"pr_metric" validate:"omitempty,oneof=prec rec f1 precision recall"`
	Top         int    `yaml:"top" validate:"gte=0"`
	Candidates  int    `yaml:"candidates" validate:"gte=0"`
	ChartFilter string `yaml:"chart_filter" validate:"omitempty,oneof=basic max"`
	Ignore      bool   `yaml:"ignore"`
}

// ByMetric reports whether the filter selects by pr_metric rather than k.
func (f Filter) ByMetric() bool { return f.PRMetric != "" }

// Metric returns the parsed pr_metric.
func (f Filter) Metric() (metric.Kind, error) {
	return metric.ParseKind(f.PRMetric)
}

// Policy returns the chart filter policy, or "" when none is set.
func (f Filter) Policy() (forest.Policy, error) {
	if f.ChartFilter == "" {
		return "", nil
	}
	return forest.ParsePolicy(f.ChartFilter)
}

// NamedFilter is a filter with its configured name.
type NamedFilter struct {
	Name string
	Filter
}

type Config struct {
	DataDir        string `yaml:"data_dir" validate:"required"`
	ModelDir       string `yaml:"model_dir" validate:"required"`
	PreprocDir     string `yaml:"preproc_dir" validate:"required"`
	First          *int   `yaml:"first" validate:"omitempty,gte=0"`
	Last           *int   `yaml:"last" validate:"omitempty,gte=0"`
	ArgPermutation bool   `yaml:"arg_permutation"`
	Workers        int    `yaml:"workers" validate:"gte=1"`
	DB             string `yaml:"db"`
	LogLevel       string `yaml:"log_level" validate:"oneof=debug info warn error"`
	ChartCaps      struct {
		Basic int `yaml:"basic" validate:"gte=0"`
		Max   int `yaml:"max" validate:"gte=0"`
	} `yaml:"chart_caps"`
	Filters map[string]Filter `yaml:"filters" validate:"min=1"`
}

// Caps returns the configured chart caps.
func (c *Config) Caps() forest.Caps {
	return forest.Caps{Basic: c.ChartCaps.Basic, Max: c.ChartCaps.Max}
}

// Enabled returns the non-ignored filters in name order.
func (c *Config) Enabled() []NamedFilter {
	names := make([]string, 0, len(c.Filters))
	for name, f := range c.Filters {
		if !f.Ignore {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]NamedFilter, len(names))
	for i, name := range names {
		out[i] = NamedFilter{Name: name, Filter: c.Filters[name]}
	}
	return out
}

// NeedsGold reports whether any enabled filter selects by metric.
func (c *Config) NeedsGold() bool {
	for _, f := range c.Enabled() {
		if f.ByMetric() {
			return true
		}
	}
	return false
}

func defaults() Config {
	var cfg Config
	cfg.DataDir = "."
	cfg.PreprocDir = "preproc"
	cfg.Workers = 1
	cfg.DB = "kbest.db"
	cfg.LogLevel = "info"
	cfg.ChartCaps.Basic = forest.DefaultBasicCap
	cfg.ChartCaps.Max = forest.DefaultMaxCap
	return cfg
}

// LoadConfig reads the YAML (or JSON) run configuration at path.
func LoadConfig(path string) (*Config, error) {
	// 1. Load .env if exists
	_ = godotenv.Load()

	// 2. Load YAML config
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(file)
}

// Parse decodes, overrides from the environment and validates a config.
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// 3. Override with Environment Variables if present
	if v := os.Getenv("KBEST_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("KBEST_MODEL_DIR"); v != "" {
		cfg.ModelDir = v
	}
	if v := os.Getenv("KBEST_DB"); v != "" {
		cfg.DB = v
	}
	if v := os.Getenv("KBEST_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("KBEST_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("KBEST_WORKERS: %w", err)
		}
		cfg.Workers = n
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.applyFilterDefaults()
	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints, the chart caps and the k / pr_metric
// contract of every enabled filter. Ignored filters are not checked.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.First != nil && c.Last != nil && *c.First > *c.Last {
		return fmt.Errorf("invalid config: first %d is after last %d", *c.First, *c.Last)
	}
	if err := c.validateCaps(); err != nil {
		return err
	}
	names := make([]string, 0, len(c.Filters))
	for name := range c.Filters {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		f := c.Filters[name]
		if f.Ignore {
			continue
		}
		if err := validate.Struct(f); err != nil {
			return fmt.Errorf("invalid config: filter %s: %w", name, err)
		}
		if _, err := f.Policy(); err != nil {
			return fmt.Errorf("invalid config: filter %s: %w", name, err)
		}
		switch {
		case f.K != nil && f.PRMetric != "":
			return &ContractViolationError{Filter: name, Reason: "both k and pr_metric are set"}
		case f.K == nil && f.PRMetric == "":
			return &ContractViolationError{Filter: name, Reason: "neither k nor pr_metric is set"}
		}
	}
	return nil
}

// validateCaps keeps max a relaxation of basic. A cap <= 0 is unlimited, so an
// unlimited basic needs an unlimited max.
func (c *Config) validateCaps() error {
	basic, limit := c.ChartCaps.Basic, c.ChartCaps.Max
	switch {
	case basic <= 0 && limit > 0:
		return fmt.Errorf("invalid config: chart_caps.max %d is stricter than unlimited basic", limit)
	case basic > 0 && limit > 0 && limit < basic:
		return fmt.Errorf("invalid config: chart_caps.max %d is below basic %d", limit, basic)
	}
	return nil
}

func (c *Config) applyFilterDefaults() {
	for name, f := range c.Filters {
		if f.ByMetric() {
			if f.Top == 0 {
				f.Top = DefaultTop
			}
			if f.Candidates == 0 {
				f.Candidates = DefaultCandidates
			}
		}
		c.Filters[name] = f
	}
}
