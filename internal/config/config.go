package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	Environment   string `mapstructure:"environment"`
	DevModeBypass bool   `mapstructure:"dev_mode_bypass"`
	Server        struct {
		Addr            string        `mapstructure:"addr"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"server"`
	DB struct {
		Driver      string `mapstructure:"driver"`
		Host        string `mapstructure:"host"`
		Port        int    `mapstructure:"port"`
		User        string `mapstructure:"user"`
		Password    string `mapstructure:"password"`
		Name        string `mapstructure:"name"`
		SSLMode     string `mapstructure:"sslmode"`
		AutoMigrate bool   `mapstructure:"auto_migrate"`
	} `mapstructure:"db"`
	LLM struct {
		APIKey  string        `mapstructure:"api_key"`
		BaseURL string        `mapstructure:"base_url"`
		Model   string        `mapstructure:"model"`
		Timeout time.Duration `mapstructure:"timeout"`
		Pricing struct {
			InputPer1K  float64 `mapstructure:"input_per_1k"`
			OutputPer1K float64 `mapstructure:"output_per_1k"`
		} `mapstructure:"pricing"`
	} `mapstructure:"llm"`
	Workflow struct {
		DefaultLanguage     string        `mapstructure:"default_language"`
		Locales             []string      `mapstructure:"locales"`
		SpawnDelay          time.Duration `mapstructure:"spawn_delay"`
		MaxParallelChildren int           `mapstructure:"max_parallel_children"`
		PhaseCatalogFile    string        `mapstructure:"phase_catalog_file"`
	} `mapstructure:"workflow"`
	NATS struct {
		URL           string `mapstructure:"url"`
		SubjectPrefix string `mapstructure:"subject_prefix"`
	} `mapstructure:"nats"`
	Auth struct {
		OktaDomain      string `mapstructure:"okta_domain"`
		ClientID        string `mapstructure:"client_id"`
		ClientSecret    string `mapstructure:"client_secret"`
		RedirectURL     string `mapstructure:"redirect_url"`
		SwaggerClientID string `mapstructure:"swagger_client_id"`
	} `mapstructure:"auth"`
	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
}

// LoadConfig loads the configuration from a file and the environment. When
// envFile is set its variables are loaded into the process environment first.
// A missing config file is not an error; defaults and environment apply.
func LoadConfig(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	setDefaults(viper.GetViper())

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	// normalize OKTA issuer url (strip trailing slash if any)
	config.Auth.OktaDomain = normalizeOktaIssuer(config.Auth.OktaDomain)
	config.Workflow.Locales = normalizeLocales(config.Workflow.Locales, config.Workflow.DefaultLanguage)

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "PROD")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("db.driver", "postgres")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.timeout", 120*time.Second)
	v.SetDefault("llm.pricing.input_per_1k", 0.00015)
	v.SetDefault("llm.pricing.output_per_1k", 0.0006)
	v.SetDefault("workflow.default_language", "en")
	v.SetDefault("workflow.locales", []string{"de", "fr", "es", "it", "ja", "ko"})
	v.SetDefault("workflow.spawn_delay", 2*time.Second)
	v.SetDefault("workflow.max_parallel_children", 2)
	v.SetDefault("nats.subject_prefix", "content")
	v.SetDefault("log.level", "info")

	// AutomaticEnv only reaches keys viper already knows about.
	v.SetDefault("dev_mode_bypass", false)
	v.SetDefault("db.auto_migrate", false)
	for _, key := range []string{
		"db.user", "db.password", "db.name",
		"llm.api_key", "workflow.phase_catalog_file", "nats.url",
		"auth.okta_domain", "auth.client_id", "auth.client_secret",
		"auth.redirect_url", "auth.swagger_client_id",
	} {
		v.SetDefault(key, "")
	}
}

// DSN returns the pgx keyword/value connection string for the database.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Name, c.DB.SSLMode,
	)
}

// MigrationURL returns the database URL understood by the migration driver.
func (c *Config) MigrationURL() string {
	return fmt.Sprintf("pgx5://%s:%s@%s:%d/%s?sslmode=%s",
		c.DB.User, c.DB.Password, c.DB.Host, c.DB.Port, c.DB.Name, c.DB.SSLMode)
}

// normalizeOktaIssuer ensures the provided Okta issuer string is in a
// predictable form. It removes any trailing slash and leaves the scheme and
// path intact.
func normalizeOktaIssuer(input string) string {
	return strings.TrimRight(strings.TrimSpace(input), "/")
}

// normalizeLocales lowercases the configured locales, drops blanks, duplicates
// and the default language (it never gets a translation child).
func normalizeLocales(locales []string, defaultLang string) []string {
	seen := map[string]bool{strings.ToLower(defaultLang): true}
	out := make([]string, 0, len(locales))
	for _, l := range locales {
		l = strings.ToLower(strings.TrimSpace(l))
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}
