package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	API struct {
		BaseURL       string `yaml:"base_url" validate:"required,url"`
		Timeout       string `yaml:"timeout"`
		SubmitTimeout string `yaml:"submit_timeout"`
		MaxRetries    *int   `yaml:"max_retries" validate:"omitempty,gte=0,lte=5"`
	} `yaml:"api"`
	Auth struct {
		CredentialsPath string `yaml:"credentials_path" validate:"required"`
	} `yaml:"auth"`
	Session struct {
		MaxStrikes       int    `yaml:"max_strikes" validate:"gte=1"`
		TickInterval     string `yaml:"tick_interval"`
		AutosaveInterval string `yaml:"autosave_interval"`
		LowTimeThreshold string `yaml:"low_time_threshold"`
		ForceSubmitDelay string `yaml:"force_submit_delay"`
		MaxUploadMB      int    `yaml:"max_upload_mb" validate:"gte=1,lte=100"`
	} `yaml:"session"`
	Snapshot struct {
		Backend string `yaml:"backend" validate:"oneof=file memory redis postgres"`
		Dir     string `yaml:"dir"`
		TTL     string `yaml:"ttl"`
	} `yaml:"snapshot"`
	Exams struct {
		TTL string `yaml:"ttl"`
	} `yaml:"exams"`
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db" validate:"gte=0"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format" validate:"omitempty,oneof=json pretty"`
	} `yaml:"log"`
}

// Load reads YAML config from path, overlays .env and environment variables,
// fills defaults and validates the result. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return cfg, err
	}

	_ = godotenv.Load() // .env is optional
	applyEnv(&cfg)
	applyDefaults(&cfg)

	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

const defaultMaxRetries = 3

// Retries is the GET retry budget; an explicit 0 disables retries.
func (c Config) Retries() int {
	if c.API.MaxRetries == nil {
		return defaultMaxRetries
	}
	return *c.API.MaxRetries
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

func applyEnv(cfg *Config) {
	setString(&cfg.API.BaseURL, "MENTARA_API_URL")
	setString(&cfg.Auth.CredentialsPath, "MENTARA_CREDENTIALS")
	setString(&cfg.Snapshot.Backend, "SNAPSHOT_BACKEND")
	setString(&cfg.Snapshot.Dir, "SNAPSHOT_DIR")
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setString(&cfg.Postgres.URL, "DATABASE_URL")
	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Log.Format, "LOG_FORMAT")
	setString(&cfg.Server.Port, "PORT")
	if v := os.Getenv("MAX_STRIKES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Session.MaxStrikes = n
		}
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = "http://127.0.0.1:8000/api"
	}
	cfg.API.BaseURL = strings.TrimRight(cfg.API.BaseURL, "/")
	if cfg.API.MaxRetries == nil {
		retries := defaultMaxRetries
		cfg.API.MaxRetries = &retries
	}
	if cfg.Auth.CredentialsPath == "" {
		cfg.Auth.CredentialsPath = filepath.Join(userDir(os.UserConfigDir), "credentials.yaml")
	}
	if cfg.Session.MaxStrikes == 0 {
		cfg.Session.MaxStrikes = 3
	}
	if cfg.Session.MaxUploadMB == 0 {
		cfg.Session.MaxUploadMB = 10
	}
	if cfg.Snapshot.Backend == "" {
		cfg.Snapshot.Backend = "file"
	}
	if cfg.Snapshot.Dir == "" {
		cfg.Snapshot.Dir = filepath.Join(userDir(os.UserCacheDir), "snapshots")
	}
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "pretty"
	}
}

func userDir(base func() (string, error)) string {
	dir, err := base()
	if err != nil || dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "mentara")
}

var (
	validate *validator.Validate
	trans    ut.Translator
)

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	enLocale := en.New()
	uni := ut.New(enLocale, enLocale)
	trans, _ = uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(validate, trans)
}

// Validate checks field constraints and backend requirements.
func Validate(cfg Config) error {
	var problems []string
	if err := validate.Struct(cfg); err != nil {
		var ve validator.ValidationErrors
		if !errors.As(err, &ve) {
			return err
		}
		for _, fe := range ve {
			problems = append(problems, fmt.Sprintf("%s: %s", fe.Namespace(), fe.Translate(trans)))
		}
	}
	switch cfg.Snapshot.Backend {
	case "redis":
		if cfg.Redis.Addr == "" {
			problems = append(problems, "redis.addr: required when snapshot.backend is redis")
		}
	case "postgres":
		if cfg.Postgres.URL == "" {
			problems = append(problems, "postgres.url: required when snapshot.backend is postgres")
		}
	}
	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
}
