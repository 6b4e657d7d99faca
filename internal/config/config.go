package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/sjawhar/lingua-live/internal/audio"
	"github.com/sjawhar/lingua-live/internal/recap"
	"github.com/sjawhar/lingua-live/internal/tutor"
)

// EnvPrefix is the namespace prefix for all lingua-live environment variables.
const EnvPrefix = "LINGUA_LIVE_"

// ErrMissingGeminiKey is returned by CheckCredentials when no Gemini API key
// is set.
var ErrMissingGeminiKey = errors.New("gemini api key not configured: set GEMINI_API_KEY or " + EnvPrefix + "GEMINI_API_KEY")

// Config holds all application configuration. Secrets (API keys) are loaded
// exclusively from environment variables and never appear in the config file.
type Config struct {
	ListenAddr       string `yaml:"listen_addr"`
	Language         string `yaml:"language"`
	Scenario         string `yaml:"scenario"`
	Model            string `yaml:"model"`
	Voice            string `yaml:"voice"`
	LiveBaseURL      string `yaml:"live_base_url"`
	MicSampleRate    int    `yaml:"mic_sample_rate"`
	MicFrameSize     int    `yaml:"mic_frame_size"`
	OutputSampleRate int    `yaml:"output_sample_rate"`
	HandshakeTimeout string `yaml:"handshake_timeout"`
	RecapModel       string `yaml:"recap_model"`
	LogLevel         string `yaml:"log_level"`
	LogFormat        string `yaml:"log_format"`

	// Secrets, env vars only.
	GeminiAPIKey string `yaml:"-"`
	OpenAIAPIKey string `yaml:"-"`
}

func defaults() Config {
	return Config{
		ListenAddr:       "127.0.0.1:8080",
		Language:         string(tutor.French),
		Scenario:         string(tutor.Cafe),
		MicSampleRate:    audio.InputSampleRate,
		MicFrameSize:     4096,
		OutputSampleRate: audio.OutputSampleRate,
		HandshakeTimeout: "15s",
		LogLevel:         "info",
		LogFormat:        "text",
	}
}

// LoadDotEnv loads KEY=VALUE pairs from path into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads configuration from a YAML file (if it exists), applies
// environment variable overrides, loads secrets, and validates the result.
// It returns the config, any validation warnings, and an error if the file
// exists but cannot be read or parsed, or if the language or scenario is
// unknown.
func Load(path string) (Config, []string, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	loadSecrets(&cfg)

	if _, err := tutor.ParseLanguage(cfg.Language); err != nil {
		return cfg, nil, err
	}
	if _, err := tutor.ParseScenario(cfg.Scenario); err != nil {
		return cfg, nil, err
	}

	warnings := validate(&cfg)
	return cfg, warnings, nil
}

// TutorLanguage returns the validated practice language.
func (c *Config) TutorLanguage() tutor.Language {
	l, _ := tutor.ParseLanguage(c.Language)
	return l
}

// TutorScenario returns the validated role-play scenario.
func (c *Config) TutorScenario() tutor.Scenario {
	s, _ := tutor.ParseScenario(c.Scenario)
	return s
}

// CheckCredentials reports whether the live service credential is present.
func (c *Config) CheckCredentials() error {
	if c.GeminiAPIKey == "" {
		return ErrMissingGeminiKey
	}
	return nil
}

// ParsedHandshakeTimeout returns HandshakeTimeout as a time.Duration,
// falling back to 15s if the value is invalid.
func (c *Config) ParsedHandshakeTimeout() time.Duration {
	d, err := time.ParseDuration(c.HandshakeTimeout)
	if err != nil || d <= 0 {
		return 15 * time.Second
	}
	return d
}

func applyEnvOverrides(cfg *Config) {
	str := map[string]*string{
		"LISTEN_ADDR":       &cfg.ListenAddr,
		"LANGUAGE":          &cfg.Language,
		"SCENARIO":          &cfg.Scenario,
		"MODEL":             &cfg.Model,
		"VOICE":             &cfg.Voice,
		"LIVE_BASE_URL":     &cfg.LiveBaseURL,
		"HANDSHAKE_TIMEOUT": &cfg.HandshakeTimeout,
		"RECAP_MODEL":       &cfg.RecapModel,
		"LOG_LEVEL":         &cfg.LogLevel,
		"LOG_FORMAT":        &cfg.LogFormat,
	}
	for key, dst := range str {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"MIC_SAMPLE_RATE":    &cfg.MicSampleRate,
		"MIC_FRAME_SIZE":     &cfg.MicFrameSize,
		"OUTPUT_SAMPLE_RATE": &cfg.OutputSampleRate,
	}
	for key, dst := range ints {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
				*dst = n
			}
		}
	}
}

// loadSecrets prefers the prefixed variable and falls back to the name the
// provider SDKs use.
func loadSecrets(cfg *Config) {
	cfg.GeminiAPIKey = firstEnv(EnvPrefix+"GEMINI_API_KEY", "GEMINI_API_KEY")
	cfg.OpenAIAPIKey = firstEnv(EnvPrefix+"OPENAI_API_KEY", "OPENAI_API_KEY")
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func validate(cfg *Config) []string {
	var warnings []string

	if cfg.MicSampleRate != audio.InputSampleRate {
		warnings = append(warnings, fmt.Sprintf("mic_sample_rate %d is not supported by the live service, using %d.", cfg.MicSampleRate, audio.InputSampleRate))
		cfg.MicSampleRate = audio.InputSampleRate
	}
	if cfg.MicFrameSize <= 0 {
		warnings = append(warnings, fmt.Sprintf("Invalid mic_frame_size %d, using 4096.", cfg.MicFrameSize))
		cfg.MicFrameSize = 4096
	}
	if cfg.OutputSampleRate <= 0 {
		warnings = append(warnings, fmt.Sprintf("Invalid output_sample_rate %d, using %d.", cfg.OutputSampleRate, audio.OutputSampleRate))
		cfg.OutputSampleRate = audio.OutputSampleRate
	}
	if d, err := time.ParseDuration(cfg.HandshakeTimeout); err != nil || d <= 0 {
		warnings = append(warnings, fmt.Sprintf("Invalid handshake_timeout %q, using default 15s.", cfg.HandshakeTimeout))
	}
	if cfg.RecapModel != "" {
		if provider, _, err := recap.ParseModel(cfg.RecapModel); err != nil {
			warnings = append(warnings, fmt.Sprintf("Invalid recap_model %q, recaps are disabled.", cfg.RecapModel))
			cfg.RecapModel = ""
		} else if provider == "openai" && cfg.OpenAIAPIKey == "" {
			warnings = append(warnings, "OpenAI API key not configured, recaps are disabled. Set OPENAI_API_KEY.")
			cfg.RecapModel = ""
		}
	}

	return warnings
}
