package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/types"
)

// Config captures the settings required to boot the guardian.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Storage      StorageConfig      `yaml:"storage"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Analyzer     AnalyzerConfig     `yaml:"analyzer"`
	Kube         KubeConfig         `yaml:"kube"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// ServerConfig controls the HTTP API listener.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// StorageConfig controls the embedded BoltDB store.
type StorageConfig struct {
	DataDir string `yaml:"dataDir"`
}

// OrchestratorConfig holds the episode policy knobs.
type OrchestratorConfig struct {
	AutonomyMode        types.AutonomyMode `yaml:"autonomyMode"`
	ConfidenceThreshold float64            `yaml:"confidenceThreshold"`
	MaxConcurrent       int                `yaml:"maxConcurrent"`
	ApprovalTimeout     time.Duration      `yaml:"approvalTimeout"`
	ActionTimeout       time.Duration      `yaml:"actionTimeout"`
	VerifyWindow        time.Duration      `yaml:"verifyWindow"`
	VerifyInterval      time.Duration      `yaml:"verifyInterval"`
	EpisodeTimeout      time.Duration      `yaml:"episodeTimeout"`
	EvidenceWindow      time.Duration      `yaml:"evidenceWindow"`

	// RiskPolicy overrides the built-in action kind → tier table,
	// e.g. {"drain_node": "high"}.
	RiskPolicy map[string]string `yaml:"riskPolicy"`
}

// AnalyzerConfig configures the LLM-backed analyzer.
type AnalyzerConfig struct {
	Provider string        `yaml:"provider"` // "openai" or "rules"
	Model    string        `yaml:"model"`
	APIKey   string        `yaml:"apiKey"`
	Timeout  time.Duration `yaml:"timeout"`
}

// KubeConfig configures cluster access for evidence collection and execution.
type KubeConfig struct {
	Kubeconfig string `yaml:"kubeconfig"` // empty means in-cluster
	Context    string `yaml:"context"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("GUARDIAN_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			GracefulTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{DataDir: "./guardian-data"},
		Orchestrator: OrchestratorConfig{
			AutonomyMode:        types.ModeApprove,
			ConfidenceThreshold: 0.6,
			MaxConcurrent:       5,
			ApprovalTimeout:     15 * time.Minute,
			ActionTimeout:       60 * time.Second,
			VerifyWindow:        5 * time.Minute,
			VerifyInterval:      15 * time.Second,
			EpisodeTimeout:      30 * time.Minute,
			EvidenceWindow:      15 * time.Minute,
		},
		Analyzer: AnalyzerConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
			Timeout:  60 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
	}
}

func validate(cfg *Config) error {
	switch cfg.Orchestrator.AutonomyMode {
	case types.ModeDryRun, types.ModeApprove, types.ModeAuto:
	default:
		return fmt.Errorf("invalid autonomy mode %q", cfg.Orchestrator.AutonomyMode)
	}
	if cfg.Orchestrator.ConfidenceThreshold < 0 || cfg.Orchestrator.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold %v outside [0,1]", cfg.Orchestrator.ConfidenceThreshold)
	}
	if cfg.Orchestrator.MaxConcurrent < 1 {
		return fmt.Errorf("maxConcurrent must be >= 1, got %d", cfg.Orchestrator.MaxConcurrent)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GUARDIAN_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("GUARDIAN_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("GUARDIAN_AUTONOMY_MODE"); v != "" {
		cfg.Orchestrator.AutonomyMode = types.AutonomyMode(strings.ToLower(v))
	}
	if v := os.Getenv("GUARDIAN_CONFIDENCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Orchestrator.ConfidenceThreshold = f
		}
	}
	if v := os.Getenv("GUARDIAN_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Orchestrator.MaxConcurrent = n
		}
	}
	if v := os.Getenv("GUARDIAN_APPROVAL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Orchestrator.ApprovalTimeout = d
		}
	}
	if v := os.Getenv("GUARDIAN_ACTION_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Orchestrator.ActionTimeout = d
		}
	}
	if v := os.Getenv("GUARDIAN_VERIFY_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Orchestrator.VerifyWindow = d
		}
	}
	if v := os.Getenv("GUARDIAN_VERIFY_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Orchestrator.VerifyInterval = d
		}
	}
	if v := os.Getenv("GUARDIAN_EPISODE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Orchestrator.EpisodeTimeout = d
		}
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Analyzer.APIKey = v
	}
	if v := os.Getenv("GUARDIAN_ANALYZER_PROVIDER"); v != "" {
		cfg.Analyzer.Provider = v
	}
	if v := os.Getenv("GUARDIAN_ANALYZER_MODEL"); v != "" {
		cfg.Analyzer.Model = v
	}
	if v := os.Getenv("KUBECONFIG"); v != "" && cfg.Kube.Kubeconfig == "" {
		cfg.Kube.Kubeconfig = v
	}
	if v := os.Getenv("GUARDIAN_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("GUARDIAN_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
}
