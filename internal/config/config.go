package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	ModeDirect  = "direct"
	ModeAverage = "average"

	PolicyFixed   = "fixed"
	PolicyRolling = "rolling"

	FeedWebSocket = "websocket"
	FeedPoll      = "poll"
)

// Config stores all configuration for the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Log        LogConfig
	Derivation DerivationConfig
	Feed       FeedConfig
	Database   DatabaseConfig
}

// LogConfig controls the slog handler built by NewLogger.
type LogConfig struct {
	Level  string
	Format string
}

// DerivationConfig defines how rows are derived from snapshots.
type DerivationConfig struct {
	PriceA PriceRule `mapstructure:"price_a"`
	PriceB PriceRule `mapstructure:"price_b"`
	Bounds BoundsConfig
}

// PriceRule resolves one side of the ratio from a snapshot.
// Mode "direct" reads Symbols[0]; mode "average" takes the mean of all Symbols.
type PriceRule struct {
	Mode    string
	Symbols []string
}

// BoundsConfig selects exactly one bounds policy.
// "fixed" uses Upper/Lower as literal bounds for every row.
// "rolling" multiplies the mean of prior finite ratios by UpperFactor/LowerFactor.
type BoundsConfig struct {
	Policy      string
	Upper       float64
	Lower       float64
	UpperFactor float64 `mapstructure:"upper_factor"`
	LowerFactor float64 `mapstructure:"lower_factor"`
}

// FeedConfig defines where raw quotes come from.
type FeedConfig struct {
	Kind         string
	URL          string
	Subscribe    string
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BufferSize   int           `mapstructure:"buffer_size"`
}

// DatabaseConfig defines the database connection settings.
type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	RunID    string `mapstructure:"run_id"`
}

// DSN returns a postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", d.User, d.Password, d.Host, d.Port, d.DBName)
}

// LoadConfig reads configuration from file or environment variables.
// A missing config file is not an error; defaults and the environment still apply.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("derivation.price_a.mode", ModeDirect)
	v.SetDefault("derivation.price_a.symbols", []string{"ABC"})
	v.SetDefault("derivation.price_b.mode", ModeDirect)
	v.SetDefault("derivation.price_b.symbols", []string{"DEF"})
	v.SetDefault("derivation.bounds.policy", PolicyRolling)
	v.SetDefault("derivation.bounds.upper", 1.05)
	v.SetDefault("derivation.bounds.lower", 0.95)
	v.SetDefault("derivation.bounds.upper_factor", 1.1)
	v.SetDefault("derivation.bounds.lower_factor", 0.9)

	v.SetDefault("feed.kind", FeedPoll)
	v.SetDefault("feed.url", "http://localhost:8080/query?id=1")
	v.SetDefault("feed.poll_interval", 100*time.Millisecond)
	v.SetDefault("feed.buffer_size", 64)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "ratiowatch")
	v.SetDefault("database.dbname", "ratiowatch")
	v.SetDefault("database.run_id", "default")
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	errs := []error{c.Derivation.Validate()}

	switch c.Feed.Kind {
	case FeedWebSocket:
	case FeedPoll:
		if c.Feed.PollInterval <= 0 {
			errs = append(errs, fmt.Errorf("feed.poll_interval must be positive, got %s", c.Feed.PollInterval))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown feed kind: %q", c.Feed.Kind))
	}
	if c.Feed.URL == "" {
		errs = append(errs, errors.New("feed.url is required"))
	}

	if c.Database.Enabled && c.Database.RunID == "" {
		errs = append(errs, errors.New("database.run_id is required when the database is enabled"))
	}

	return errors.Join(errs...)
}

// Validate checks the price rules and the bounds policy.
func (d DerivationConfig) Validate() error {
	var errs []error
	if err := d.PriceA.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("price_a: %w", err))
	}
	if err := d.PriceB.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("price_b: %w", err))
	}
	if err := d.Bounds.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("bounds: %w", err))
	}
	return errors.Join(errs...)
}

// Validate checks that the rule names a known mode and usable symbols.
func (r PriceRule) Validate() error {
	for _, s := range r.Symbols {
		if s == "" {
			return errors.New("empty symbol name")
		}
	}
	switch r.Mode {
	case ModeDirect:
		if len(r.Symbols) != 1 {
			return fmt.Errorf("direct rule needs exactly one symbol, got %d", len(r.Symbols))
		}
	case ModeAverage:
		if len(r.Symbols) == 0 {
			return errors.New("average rule needs at least one symbol")
		}
	default:
		return fmt.Errorf("unknown price rule mode: %q", r.Mode)
	}
	return nil
}

// Validate checks that the selected policy has sane parameters.
// A NaN or infinite parameter would make every bound NaN and silence all alerts.
func (b BoundsConfig) Validate() error {
	switch b.Policy {
	case PolicyFixed:
		if !isFinite(b.Upper) || !isFinite(b.Lower) {
			return fmt.Errorf("bounds must be finite, got upper %v lower %v", b.Upper, b.Lower)
		}
		if b.Lower > b.Upper {
			return fmt.Errorf("lower bound %v is above upper bound %v", b.Lower, b.Upper)
		}
	case PolicyRolling:
		if !isFinite(b.UpperFactor) || !isFinite(b.LowerFactor) {
			return fmt.Errorf("factors must be finite, got upper %v lower %v", b.UpperFactor, b.LowerFactor)
		}
		if b.UpperFactor <= 0 || b.LowerFactor <= 0 {
			return fmt.Errorf("factors must be positive, got upper %v lower %v", b.UpperFactor, b.LowerFactor)
		}
		if b.LowerFactor > b.UpperFactor {
			return fmt.Errorf("lower factor %v is above upper factor %v", b.LowerFactor, b.UpperFactor)
		}
	default:
		return fmt.Errorf("unknown bounds policy: %q", b.Policy)
	}
	return nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// NewLogger builds the application logger from the log section.
func NewLogger(cfg LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
