package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/royalbadminton/streakbot/runtime/schedule"
	"github.com/royalbadminton/streakbot/runtime/streak"
)

type (
	// config holds the service settings. Values are read from the YAML file
	// named by STREAKBOT_CONFIG, then overridden by environment variables.
	config struct {
		HTTPAddr string `yaml:"http_addr"`
		Debug    bool   `yaml:"debug"`

		Mongo struct {
			URL        string        `yaml:"url"`
			Database   string        `yaml:"database"`
			Collection string        `yaml:"collection"`
			Runs       string        `yaml:"runs_collection"`
			Timeout    time.Duration `yaml:"timeout"`
		} `yaml:"mongo"`

		Redis struct {
			URL       string        `yaml:"url"`
			Password  string        `yaml:"password"`
			LedgerTTL time.Duration `yaml:"ledger_ttl"`
		} `yaml:"redis"`

		Check struct {
			Mode          string `yaml:"mode"`
			Schedule      string `yaml:"schedule"`
			Timezone      string `yaml:"timezone"`
			PortalURL     string `yaml:"portal_url"`
			LookbackWeeks int    `yaml:"lookback_weeks"`
			MinSessions   int    `yaml:"min_sessions"`
		} `yaml:"check"`

		Model struct {
			Provider    string        `yaml:"provider"`
			ID          string        `yaml:"id"`
			MaxTokens   int           `yaml:"max_tokens"`
			Temperature float32       `yaml:"temperature"`
			MaxTurns    int           `yaml:"max_turns"`
			ToolTimeout time.Duration `yaml:"tool_timeout"`
			RunTimeout  time.Duration `yaml:"run_timeout"`
			InitialTPM  float64       `yaml:"initial_tpm"`
			MaxTPM      float64       `yaml:"max_tpm"`
		} `yaml:"model"`

		Anthropic struct {
			APIKey string `yaml:"api_key"`
		} `yaml:"anthropic"`

		OpenAI struct {
			APIKey string `yaml:"api_key"`
		} `yaml:"openai"`

		Bedrock struct {
			Region          string `yaml:"region"`
			AccessKeyID     string `yaml:"access_key_id"`
			SecretAccessKey string `yaml:"secret_access_key"`
			SessionToken    string `yaml:"session_token"`
		} `yaml:"bedrock"`

		Twilio struct {
			AccountSID     string `yaml:"account_sid"`
			AuthToken      string `yaml:"auth_token"`
			From           string `yaml:"from"`
			SendsPerMinute int    `yaml:"sends_per_minute"`
		} `yaml:"twilio"`

		// location is Check.Timezone parsed by validate.
		location *time.Location
	}
)

const (
	providerAnthropic = "anthropic"
	providerOpenAI    = "openai"
	providerBedrock   = "bedrock"
)

func defaultConfig() *config {
	c := &config{HTTPAddr: ":8000"}
	c.Mongo.Database = "badminton_club"
	c.Mongo.Collection = "bookings"
	c.Mongo.Runs = "streak_runs"
	c.Mongo.Timeout = 5 * time.Second
	c.Redis.LedgerTTL = 48 * time.Hour
	c.Check.Mode = string(streak.ModeAgent)
	c.Check.Schedule = schedule.DefaultSpec
	c.Check.Timezone = "UTC"
	c.Check.PortalURL = streak.DefaultPortalURL
	c.Check.LookbackWeeks = streak.DefaultLookbackWeeks
	c.Check.MinSessions = streak.DefaultMinSessions
	c.Model.MaxTokens = 2048
	c.Model.MaxTurns = 8
	c.Model.ToolTimeout = 30 * time.Second
	c.Model.RunTimeout = 5 * time.Minute
	c.Model.InitialTPM = 60000
	c.Model.MaxTPM = 240000
	c.Twilio.From = "whatsapp:+14155238886"
	c.Twilio.SendsPerMinute = 30
	return c
}

// loadConfig builds the configuration from defaults, the optional YAML file,
// and the environment, in that order, and validates the result.
func loadConfig() (*config, error) {
	c := defaultConfig()
	if path := os.Getenv("STREAKBOT_CONFIG"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, c); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	c.applyEnv()
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *config) applyEnv() {
	c.HTTPAddr = envOr("HTTP_ADDR", c.HTTPAddr)
	c.Debug = envBoolOr("DEBUG", c.Debug)

	c.Mongo.URL = envOr("MONGODB_URL", c.Mongo.URL)
	c.Mongo.Database = envOr("DB_NAME", c.Mongo.Database)
	c.Mongo.Collection = envOr("COLLECTION_NAME", c.Mongo.Collection)
	c.Mongo.Runs = envOr("RUNS_COLLECTION_NAME", c.Mongo.Runs)
	c.Mongo.Timeout = envDurationOr("MONGODB_TIMEOUT", c.Mongo.Timeout)

	c.Redis.URL = envOr("REDIS_URL", c.Redis.URL)
	c.Redis.Password = envOr("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.LedgerTTL = envDurationOr("REMINDER_LEDGER_TTL", c.Redis.LedgerTTL)

	c.Check.Mode = envOr("CHECK_MODE", c.Check.Mode)
	c.Check.Schedule = envOr("CHECK_SCHEDULE", c.Check.Schedule)
	c.Check.Timezone = envOr("CLUB_TIMEZONE", c.Check.Timezone)
	c.Check.PortalURL = envOr("BOOKING_PORTAL_URL", c.Check.PortalURL)
	c.Check.LookbackWeeks = envIntOr("LOOKBACK_WEEKS", c.Check.LookbackWeeks)
	c.Check.MinSessions = envIntOr("MIN_SESSIONS", c.Check.MinSessions)

	c.Model.Provider = envOr("MODEL_PROVIDER", c.Model.Provider)
	c.Model.ID = envOr("MODEL_ID", c.Model.ID)
	c.Model.MaxTokens = envIntOr("MODEL_MAX_TOKENS", c.Model.MaxTokens)
	c.Model.MaxTurns = envIntOr("MAX_TURNS", c.Model.MaxTurns)
	c.Model.ToolTimeout = envDurationOr("TOOL_TIMEOUT", c.Model.ToolTimeout)
	c.Model.RunTimeout = envDurationOr("RUN_TIMEOUT", c.Model.RunTimeout)

	c.Anthropic.APIKey = envOr("ANTHROPIC_API_KEY", c.Anthropic.APIKey)
	c.OpenAI.APIKey = envOr("OPENAI_API_KEY", c.OpenAI.APIKey)
	c.Bedrock.Region = envOr("AWS_REGION", c.Bedrock.Region)
	c.Bedrock.AccessKeyID = envOr("AWS_ACCESS_KEY_ID", c.Bedrock.AccessKeyID)
	c.Bedrock.SecretAccessKey = envOr("AWS_SECRET_ACCESS_KEY", c.Bedrock.SecretAccessKey)
	c.Bedrock.SessionToken = envOr("AWS_SESSION_TOKEN", c.Bedrock.SessionToken)

	c.Twilio.AccountSID = envOr("TWILIO_ACCOUNT_SID", c.Twilio.AccountSID)
	c.Twilio.AuthToken = envOr("TWILIO_AUTH_TOKEN", c.Twilio.AuthToken)
	c.Twilio.From = envOr("TWILIO_WHATSAPP_NUMBER", c.Twilio.From)
	c.Twilio.SendsPerMinute = envIntOr("REMINDERS_PER_MINUTE", c.Twilio.SendsPerMinute)
}

func (c *config) validate() error {
	var errs []error
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http address is required"))
	}
	mode, err := streak.ParseMode(c.Check.Mode)
	if err != nil {
		errs = append(errs, err)
	}
	loc, err := time.LoadLocation(c.Check.Timezone)
	if err != nil {
		errs = append(errs, fmt.Errorf("invalid timezone %q: %w", c.Check.Timezone, err))
	}
	c.location = loc
	if c.Check.LookbackWeeks < 1 {
		errs = append(errs, errors.New("lookback weeks must be >= 1"))
	}
	if c.Check.MinSessions < 1 {
		errs = append(errs, errors.New("min sessions must be >= 1"))
	}
	if c.Model.MaxTurns < 1 {
		errs = append(errs, errors.New("max turns must be >= 1"))
	}
	if c.Model.ToolTimeout <= 0 || c.Model.RunTimeout <= 0 {
		errs = append(errs, errors.New("tool and run timeouts must be positive"))
	}
	if mode == streak.ModeAgent {
		switch c.Model.Provider {
		case providerAnthropic:
			if c.Anthropic.APIKey == "" {
				errs = append(errs, errors.New("ANTHROPIC_API_KEY is required for the anthropic provider"))
			}
		case providerOpenAI:
			if c.OpenAI.APIKey == "" {
				errs = append(errs, errors.New("OPENAI_API_KEY is required for the openai provider"))
			}
		case providerBedrock:
			if c.Bedrock.Region == "" || c.Bedrock.AccessKeyID == "" || c.Bedrock.SecretAccessKey == "" {
				errs = append(errs, errors.New("AWS_REGION, AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY are required for the bedrock provider"))
			}
		case "":
			errs = append(errs, errors.New("agent mode requires MODEL_PROVIDER (anthropic, openai, bedrock); set CHECK_MODE=deterministic to run without a model"))
		default:
			errs = append(errs, fmt.Errorf("unknown model provider %q", c.Model.Provider))
		}
	}
	if (c.Twilio.AccountSID == "") != (c.Twilio.AuthToken == "") {
		errs = append(errs, errors.New("TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN must be set together"))
	}
	return errors.Join(errs...)
}

// modelID returns the configured model or the provider default.
func (c *config) modelID() string {
	if c.Model.ID != "" {
		return c.Model.ID
	}
	switch c.Model.Provider {
	case providerOpenAI:
		return "gpt-4o"
	case providerBedrock:
		return "anthropic.claude-3-5-sonnet-20240620-v1:0"
	default:
		return "claude-sonnet-4-5"
	}
}

// envOr returns the environment variable value or a default.
func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// envIntOr returns the environment variable as int or a default.
func envIntOr(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

// envDurationOr returns the environment variable as duration or a default.
func envDurationOr(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func envBoolOr(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}
