package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/mchmarny/loanscore/pkg/predict"
	"gopkg.in/yaml.v3"
)

const (
	DirName        = ".loanscore"
	ConfigFileName = "config.yaml"
	EnvPrefix      = "LOANSCORE_"

	dirMode  = 0700
	fileMode = 0600
)

// Config represents app config object.
type Config struct {
	Model  Model  `yaml:"model"`
	DB     DB     `yaml:"db"`
	Server Server `yaml:"server"`
	Auth   Auth   `yaml:"auth"`
	Log    Log    `yaml:"log"`
}

// Model configures the external scoring process.
type Model struct {
	Command        string        `yaml:"command"`
	Args           []string      `yaml:"args"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxConcurrency int           `yaml:"max_concurrency"`
	MaxOutputBytes int           `yaml:"max_output_bytes"`
	WorkDir        string        `yaml:"work_dir,omitempty"`
	Env            []string      `yaml:"env,omitempty"`
}

type DB struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type Server struct {
	Address      string        `yaml:"address"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	RateLimit    RateLimit     `yaml:"rate_limit"`
}

// RateLimit is the per-client request budget. Zero RPS disables limiting.
type RateLimit struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type Auth struct {
	Issuer   string        `yaml:"issuer"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the config used when no file exists. dir holds the
// default sqlite database.
func Default(dir string) *Config {
	return &Config{
		Model: Model{
			Command:        predict.DefaultCommand(),
			Args:           []string{"mlPredictor.py"},
			Timeout:        predict.DefaultTimeout,
			MaxConcurrency: runtime.NumCPU(),
			MaxOutputBytes: predict.DefaultMaxOutputBytes,
		},
		DB: DB{
			Driver: "sqlite",
			DSN:    filepath.Join(dir, "loanscore.db"),
		},
		Server: Server{
			Address:      "0.0.0.0",
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			RateLimit: RateLimit{
				RPS:   10,
				Burst: 20,
			},
		},
		Auth: Auth{
			Issuer:   "loanscore",
			TokenTTL: 24 * time.Hour,
		},
		Log: Log{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the config for values the app cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Model.Command) == "" {
		errs = append(errs, errors.New("model.command required"))
	}
	if c.Model.Timeout <= 0 {
		errs = append(errs, errors.New("model.timeout must be positive"))
	}
	if c.Model.MaxConcurrency < 1 {
		errs = append(errs, errors.New("model.max_concurrency must be at least 1"))
	}
	if c.Model.MaxOutputBytes < 1 {
		errs = append(errs, errors.New("model.max_output_bytes must be positive"))
	}
	switch c.DB.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("db.driver %q not supported", c.DB.Driver))
	}
	if c.DB.DSN == "" {
		errs = append(errs, errors.New("db.dsn required"))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.RateLimit.RPS < 0 || c.Server.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("server.rate_limit values must not be negative"))
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format %q not supported", c.Log.Format))
	}
	return errors.Join(errs...)
}

// ApplyEnv overrides config values from LOANSCORE_* environment variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	str := map[string]*string{
		"MODEL_COMMAND": &c.Model.Command,
		"MODEL_DIR":     &c.Model.WorkDir,
		"DB_DRIVER":     &c.DB.Driver,
		"DB_DSN":        &c.DB.DSN,
		"SERVER_ADDR":   &c.Server.Address,
		"LOG_LEVEL":     &c.Log.Level,
		"LOG_FORMAT":    &c.Log.Format,
	}
	for k, p := range str {
		if v, ok := lookup(EnvPrefix + k); ok && v != "" {
			*p = v
		}
	}

	if v, ok := lookup(EnvPrefix + "MODEL_ARGS"); ok {
		c.Model.Args = strings.Fields(v)
	}
	if v, ok := lookup(EnvPrefix + "MODEL_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parsing %sMODEL_TIMEOUT: %w", EnvPrefix, err)
		}
		c.Model.Timeout = d
	}
	if v, ok := lookup(EnvPrefix + "SERVER_PORT"); ok && v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing %sSERVER_PORT: %w", EnvPrefix, err)
		}
		c.Server.Port = p
	}
	return nil
}

func Save(path string, c *Config) error {
	if path == "" {
		return errors.New("config path required")
	}
	if c == nil {
		return errors.New("config required")
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return fmt.Errorf("failed to create dir for %s: %w", path, err)
	}
	if err := os.WriteFile(path, b, fileMode); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return nil
}

// ReadOrCreate reads app config from path or creates it with defaults.
// Values missing from the file keep their defaults.
func ReadOrCreate(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path required")
	}

	c := Default(filepath.Dir(path))

	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if err := Save(path, c); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("error unmarshalling config file %s: %w", path, err)
	}
	return c, nil
}

// GetOrCreateHomeDir returns the app directory under the user home.
// The create flag is set to true if the directory was created.
func GetOrCreateHomeDir(name string) (path string, created bool, err error) {
	if name == "" {
		return "", false, errors.New("name cannot be empty")
	}

	if !strings.HasPrefix(name, ".") {
		name = "." + name
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", false, fmt.Errorf("failed to get user home dir: %w", err)
	}

	dir := filepath.Join(home, name)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		if err := os.Mkdir(dir, dirMode); err != nil {
			return "", false, fmt.Errorf("failed to create dir %s: %w", dir, err)
		}
		created = true
	}
	return dir, created, nil
}
