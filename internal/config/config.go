// Package config loads service configuration from defaults, an optional YAML
// file named by CONFIG_FILE, a .env file and the process environment, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Provider names
const (
	ProviderGoogle     = "google"
	ProviderGemini     = "gemini"
	ProviderOpenAI     = "openai"
	ProviderElevenLabs = "elevenlabs"
	ProviderMock       = "mock"
	ProviderNone       = "none"
)

// Config represents the complete service configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Auth        AuthConfig        `yaml:"auth"`
	Mongo       MongoConfig       `yaml:"mongo"`
	Storage     StorageConfig     `yaml:"storage"`
	Speech      SpeechConfig      `yaml:"speech"`
	Translation TranslationConfig `yaml:"translation"`
	LLM         LLMConfig         `yaml:"llm"`
	TTS         TTSConfig         `yaml:"tts"`
	Relay       RelayConfig       `yaml:"relay"`
	Session     SessionConfig     `yaml:"session"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	BodyLimit       string        `yaml:"body_limit"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	// AccessCode, when set, must be presented to obtain a token
	AccessCode string        `yaml:"access_code"`
	TokenTTL   time.Duration `yaml:"token_ttl"`
}

// MongoConfig enables the MongoDB conversation store when URI is set
type MongoConfig struct {
	URI         string `yaml:"uri"`
	Database    string `yaml:"database"`
	MaxPoolSize uint64 `yaml:"max_pool_size"`
}

// StorageConfig enables audio archiving when Endpoint is set
type StorageConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type SpeechConfig struct {
	Provider   string `yaml:"provider"`
	FFmpegPath string `yaml:"ffmpeg_path"`
}

type TranslationConfig struct {
	Provider string `yaml:"provider"`
	APIKey   string `yaml:"api_key"`
}

type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// OpenAIConfig also covers OpenAI-compatible routers such as Hugging Face
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

type LLMConfig struct {
	Provider     string        `yaml:"provider"`
	Fallbacks    []string      `yaml:"fallbacks"`
	SystemPrompt string        `yaml:"system_prompt"`
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	Gemini       GeminiConfig  `yaml:"gemini"`
	OpenAI       OpenAIConfig  `yaml:"openai"`
}

type ElevenLabsConfig struct {
	APIKey  string `yaml:"api_key"`
	VoiceID string `yaml:"voice_id"`
	// Voices maps a language code to the voice that speaks it
	Voices       map[string]string `yaml:"voices"`
	ModelID      string            `yaml:"model_id"`
	OutputFormat string            `yaml:"output_format"`
}

type TTSConfig struct {
	Provider   string           `yaml:"provider"`
	ElevenLabs ElevenLabsConfig `yaml:"elevenlabs"`
}

type RelayConfig struct {
	HistoryTurns    int           `yaml:"history_turns"`
	TurnTimeout     time.Duration `yaml:"turn_timeout"`
	GenerateTimeout time.Duration `yaml:"generate_timeout"`
}

type SessionConfig struct {
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration that runs locally with mock providers
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			BodyLimit:       "25M",
			AllowedOrigins:  []string{"*"},
			ShutdownTimeout: 10 * time.Second,
		},
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
		},
		Mongo: MongoConfig{
			Database: "bridgetalk",
		},
		Storage: StorageConfig{
			Bucket: "bridgetalk-audio",
		},
		Speech:      SpeechConfig{Provider: ProviderMock, FFmpegPath: "ffmpeg"},
		Translation: TranslationConfig{Provider: ProviderNone},
		LLM: LLMConfig{
			Provider:     ProviderMock,
			MaxFailures:  3,
			ResetTimeout: 30 * time.Second,
		},
		TTS: TTSConfig{Provider: ProviderMock},
		Relay: RelayConfig{
			HistoryTurns:    20,
			TurnTimeout:     90 * time.Second,
			GenerateTimeout: 60 * time.Second,
		},
		Session: SessionConfig{
			IdleTimeout:     30 * time.Minute,
			CleanupInterval: 5 * time.Minute,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load builds the configuration. A missing .env file is not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	e := envReader{lookup: lookup}

	e.setInt("PORT", &c.Server.Port)
	e.setString("BODY_LIMIT", &c.Server.BodyLimit)
	e.setList("ALLOWED_ORIGINS", &c.Server.AllowedOrigins)

	e.setString("JWT_SECRET", &c.Auth.JWTSecret)
	e.setString("ACCESS_CODE", &c.Auth.AccessCode)
	e.setDuration("TOKEN_TTL", &c.Auth.TokenTTL)

	e.setString("MONGODB_URI", &c.Mongo.URI)
	e.setString("MONGODB_DATABASE", &c.Mongo.Database)

	e.setString("S3_ENDPOINT", &c.Storage.Endpoint)
	e.setString("S3_ACCESS_KEY", &c.Storage.AccessKey)
	e.setString("S3_SECRET_KEY", &c.Storage.SecretKey)
	e.setString("S3_BUCKET", &c.Storage.Bucket)
	e.setString("S3_REGION", &c.Storage.Region)
	e.setBool("S3_USE_SSL", &c.Storage.UseSSL)

	e.setString("STT_PROVIDER", &c.Speech.Provider)
	e.setString("FFMPEG_PATH", &c.Speech.FFmpegPath)

	e.setString("TRANSLATE_PROVIDER", &c.Translation.Provider)
	e.setString("GOOGLE_TRANSLATE_API_KEY", &c.Translation.APIKey)

	e.setString("LLM_PROVIDER", &c.LLM.Provider)
	e.setList("LLM_FALLBACKS", &c.LLM.Fallbacks)
	e.setString("LLM_SYSTEM_PROMPT", &c.LLM.SystemPrompt)
	e.setInt("LLM_MAX_FAILURES", &c.LLM.MaxFailures)
	e.setDuration("LLM_RESET_TIMEOUT", &c.LLM.ResetTimeout)
	e.setString("GEMINI_API_KEY", &c.LLM.Gemini.APIKey)
	e.setString("GEMINI_MODEL", &c.LLM.Gemini.Model)
	e.setString("OPENAI_API_KEY", &c.LLM.OpenAI.APIKey)
	e.setString("OPENAI_BASE_URL", &c.LLM.OpenAI.BaseURL)
	e.setString("OPENAI_MODEL", &c.LLM.OpenAI.Model)

	e.setString("TTS_PROVIDER", &c.TTS.Provider)
	e.setString("ELEVENLABS_API_KEY", &c.TTS.ElevenLabs.APIKey)
	e.setString("ELEVENLABS_VOICE_ID", &c.TTS.ElevenLabs.VoiceID)
	e.setString("ELEVENLABS_MODEL_ID", &c.TTS.ElevenLabs.ModelID)
	e.setString("ELEVENLABS_OUTPUT_FORMAT", &c.TTS.ElevenLabs.OutputFormat)

	e.setInt("HISTORY_TURNS", &c.Relay.HistoryTurns)
	e.setDuration("TURN_TIMEOUT", &c.Relay.TurnTimeout)
	e.setDuration("GENERATE_TIMEOUT", &c.Relay.GenerateTimeout)
	e.setDuration("SESSION_IDLE_TIMEOUT", &c.Session.IdleTimeout)
	e.setDuration("SESSION_CLEANUP_INTERVAL", &c.Session.CleanupInterval)

	e.setString("LOG_LEVEL", &c.Logging.Level)
	e.setString("LOG_FORMAT", &c.Logging.Format)

	return errors.Join(e.errs...)
}

// Validate checks ranges and provider names
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("JWT secret is required")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("token TTL must be positive, got %s", c.Auth.TokenTTL)
	}
	if err := oneOf("speech provider", c.Speech.Provider, ProviderGoogle, ProviderMock); err != nil {
		return err
	}
	if err := oneOf("translation provider", c.Translation.Provider, ProviderGoogle, ProviderNone); err != nil {
		return err
	}
	if err := oneOf("llm provider", c.LLM.Provider, ProviderGemini, ProviderOpenAI, ProviderMock, ProviderNone); err != nil {
		return err
	}
	for _, f := range c.LLM.Fallbacks {
		if err := oneOf("llm fallback", f, ProviderGemini, ProviderOpenAI, ProviderMock); err != nil {
			return err
		}
	}
	if err := oneOf("tts provider", c.TTS.Provider, ProviderGoogle, ProviderElevenLabs, ProviderMock, ProviderNone); err != nil {
		return err
	}
	if c.Relay.HistoryTurns < 0 {
		return fmt.Errorf("history turns must not be negative, got %d", c.Relay.HistoryTurns)
	}
	if c.Relay.GenerateTimeout > 0 && c.Relay.TurnTimeout > 0 && c.Relay.GenerateTimeout >= c.Relay.TurnTimeout {
		return fmt.Errorf("generate timeout %s must be shorter than turn timeout %s", c.Relay.GenerateTimeout, c.Relay.TurnTimeout)
	}
	if c.Session.IdleTimeout <= 0 || c.Session.CleanupInterval <= 0 {
		return errors.New("session idle timeout and cleanup interval must be positive")
	}
	if err := oneOf("log format", c.Logging.Format, "json", "console"); err != nil {
		return err
	}
	return nil
}

func oneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s, got %q", field, strings.Join(allowed, ", "), value)
}

// envReader overrides fields from variables that are present, collecting parse errors
type envReader struct {
	lookup lookupFunc
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *envReader) setString(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) setList(key string, dst *[]string) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func (e *envReader) setInt(key string, dst *int) {
	v, ok := e.get(key)
	if !ok || v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = n
}

func (e *envReader) setBool(key string, dst *bool) {
	v, ok := e.get(key)
	if !ok || v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = b
}

func (e *envReader) setDuration(key string, dst *time.Duration) {
	v, ok := e.get(key)
	if !ok || v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = d
}
