package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/dotcommander/bookwright/internal/core"
	"github.com/dotcommander/bookwright/internal/narrative"
)

const (
	ProviderOpenAI = "openai"
	// ProviderMock runs the crew against scripted replies, for dry runs.
	ProviderMock = "mock"

	apiKeyPlaceholder = "${OPENAI_API_KEY}"
)

type Config struct {
	AI       AIConfig       `yaml:"ai" validate:"required"`
	Book     BookConfig     `yaml:"book" validate:"required"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Limits   Limits         `yaml:"limits" validate:"required"`
	Output   OutputConfig   `yaml:"output" validate:"required"`
}

type AIConfig struct {
	Provider  string        `yaml:"provider" validate:"required,oneof=openai mock"`
	APIKey    string        `yaml:"api_key" validate:"required_if=Provider openai"`
	Model     string        `yaml:"model" validate:"required"`
	BaseURL   string        `yaml:"base_url" validate:"omitempty,url"`
	Timeout   time.Duration `yaml:"timeout" validate:"min=1s,max=1h"`
	MaxTokens int           `yaml:"max_tokens" validate:"min=0,max=128000"`
	// Temperatures overrides the sampling temperature per role.
	Temperatures map[string]float64 `yaml:"temperatures" validate:"dive,keys,role,endkeys,min=0,max=2"`
	// Fallbacks are tried in order when the primary endpoint fails.
	Fallbacks []FallbackConfig `yaml:"fallbacks" validate:"dive"`
}

// FallbackConfig is a secondary OpenAI-compatible endpoint. An empty API
// key reuses the primary one.
type FallbackConfig struct {
	BaseURL string `yaml:"base_url" validate:"required,url"`
	Model   string `yaml:"model" validate:"required"`
	APIKey  string `yaml:"api_key"`
}

type BookConfig struct {
	Title    string `yaml:"title"`
	Genre    string `yaml:"genre" validate:"required"`
	Premise  string `yaml:"premise" validate:"required,min=10"`
	Style    string `yaml:"style"`
	Chapters int    `yaml:"chapters" validate:"required,min=1,max=200"`
}

type PipelineConfig struct {
	Agents           []string      `yaml:"agents" validate:"dive,role"`
	MaxRevisions     int           `yaml:"max_revisions" validate:"min=0,max=20"`
	Aggressiveness   string        `yaml:"aggressiveness" validate:"aggressiveness"`
	Precedence       []string      `yaml:"precedence" validate:"dive,role"`
	OnExhausted      string        `yaml:"on_exhausted" validate:"policy"`
	CallTimeout      time.Duration `yaml:"call_timeout" validate:"min=1s,max=1h"`
	PlanningAttempts int           `yaml:"planning_attempts" validate:"min=1,max=10"`
	RetryBackoff     time.Duration `yaml:"retry_backoff" validate:"min=0,max=5m"`
}

type OutputConfig struct {
	Dir     string   `yaml:"dir" validate:"required"`
	Formats []string `yaml:"formats" validate:"min=1,dive,oneof=txt json markdown"`
	// MetricsFile, when set, receives the run metrics in Prometheus text
	// format.
	MetricsFile string `yaml:"metrics_file"`
}

// Default returns a complete configuration for an OpenAI-backed run. Book
// fields are left empty.
func Default() *Config {
	run := core.DefaultRunConfig(0)
	return &Config{
		AI: AIConfig{
			Provider: ProviderOpenAI,
			Model:    "gpt-4o-mini",
			BaseURL:  "https://api.openai.com/v1",
			Timeout:  2 * time.Minute,
		},
		Book: BookConfig{Style: "literary, character driven"},
		Pipeline: PipelineConfig{
			MaxRevisions:     run.MaxRevisions,
			Aggressiveness:   string(run.Aggressiveness),
			OnExhausted:      string(run.OnExhausted),
			CallTimeout:      run.CallTimeout,
			PlanningAttempts: run.PlanningAttempts,
			RetryBackoff:     run.RetryBackoff,
		},
		Limits: DefaultLimits(),
		Output: OutputConfig{
			Dir:     defaultOutputDir(),
			Formats: []string{"txt", "json"},
		},
	}
}

// Load reads the configuration at path, or from the search path when path
// is empty. A missing file on the search path yields the defaults; a
// missing explicit file is an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	explicit := path != ""
	if !explicit {
		path = getConfigPath()
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func getConfigPath() string {
	if path := os.Getenv("BOOKWRIGHT_CONFIG"); path != "" {
		return path
	}
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "bookwright", "config.yaml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "bookwright", "config.yaml")
}

func defaultOutputDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "bookwright", "output")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "bookwright", "output")
}

// expandTilde expands a leading ~/ to the user's home directory.
func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

func (c *Config) applyEnv() {
	if c.AI.APIKey == "" || c.AI.APIKey == apiKeyPlaceholder {
		c.AI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if url := os.Getenv("OPENAI_BASE_URL"); url != "" {
		c.AI.BaseURL = url
	}
	if model := os.Getenv("BOOKWRIGHT_MODEL"); model != "" {
		c.AI.Model = model
	}
	for i := range c.AI.Fallbacks {
		if key := c.AI.Fallbacks[i].APIKey; key == "" || key == apiKeyPlaceholder {
			c.AI.Fallbacks[i].APIKey = c.AI.APIKey
		}
	}
}

func (c *Config) validate() error {
	c.Output.Dir = expandTilde(c.Output.Dir)
	if c.Output.MetricsFile != "" {
		c.Output.MetricsFile = expandTilde(c.Output.MetricsFile)
	}
	if c.Limits.RateLimit.RequestsPerMinute == 0 {
		c.Limits.RateLimit = DefaultLimits().RateLimit
	}

	validate := validator.New()
	validate.RegisterValidation("role", func(fl validator.FieldLevel) bool {
		_, err := narrative.ParseRole(fl.Field().String())
		return err == nil
	})
	validate.RegisterValidation("aggressiveness", func(fl validator.FieldLevel) bool {
		_, err := core.ParseAggressiveness(fl.Field().String())
		return err == nil
	})
	validate.RegisterValidation("policy", func(fl validator.FieldLevel) bool {
		_, err := core.ParseExhaustionPolicy(fl.Field().String())
		return err == nil
	})

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// RunConfig converts the loaded configuration into the immutable value the
// orchestrator runs with.
func (c *Config) RunConfig() (core.RunConfig, error) {
	run := core.DefaultRunConfig(c.Book.Chapters)
	run.Brief = core.Brief{
		Title:    c.Book.Title,
		Genre:    c.Book.Genre,
		Premise:  c.Book.Premise,
		Style:    c.Book.Style,
		Chapters: c.Book.Chapters,
	}

	var err error
	if len(c.Pipeline.Agents) > 0 {
		if run.Enabled, err = parseRoles(c.Pipeline.Agents); err != nil {
			return core.RunConfig{}, err
		}
	}
	if len(c.Pipeline.Precedence) > 0 {
		if run.Precedence, err = parseRoles(c.Pipeline.Precedence); err != nil {
			return core.RunConfig{}, err
		}
	}
	if run.Aggressiveness, err = core.ParseAggressiveness(c.Pipeline.Aggressiveness); err != nil {
		return core.RunConfig{}, err
	}
	if run.OnExhausted, err = core.ParseExhaustionPolicy(c.Pipeline.OnExhausted); err != nil {
		return core.RunConfig{}, err
	}
	run.MaxRevisions = c.Pipeline.MaxRevisions
	run.CallTimeout = c.Pipeline.CallTimeout
	run.PlanningAttempts = c.Pipeline.PlanningAttempts
	run.RetryBackoff = c.Pipeline.RetryBackoff
	run.OutputFormats = c.Output.Formats

	if err := run.Validate(); err != nil {
		return core.RunConfig{}, fmt.Errorf("invalid pipeline: %w", err)
	}
	return run, nil
}

// Temperatures returns the per-role temperature overrides.
func (c *Config) Temperatures() map[narrative.Role]float64 {
	out := make(map[narrative.Role]float64, len(c.AI.Temperatures))
	for name, t := range c.AI.Temperatures {
		if role, err := narrative.ParseRole(name); err == nil {
			out[role] = t
		}
	}
	return out
}

func parseRoles(names []string) ([]narrative.Role, error) {
	roles := make([]narrative.Role, 0, len(names))
	for _, name := range names {
		role, err := narrative.ParseRole(name)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, nil
}

// Save writes cfg to path. The API key is replaced by an environment
// placeholder.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	cfgToSave := *cfg
	cfgToSave.AI.APIKey = apiKeyPlaceholder
	cfgToSave.AI.Fallbacks = make([]FallbackConfig, len(cfg.AI.Fallbacks))
	for i, fb := range cfg.AI.Fallbacks {
		fb.APIKey = ""
		cfgToSave.AI.Fallbacks[i] = fb
	}

	data, err := yaml.Marshal(&cfgToSave)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
