package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment key: --db-dsn reads
// BITACORA_DB_DSN.
const EnvPrefix = "BITACORA"

type Config struct {
	Addr string

	DBDriver string
	DBDSN    string

	JWTSecret string
	JWTIssuer string

	LogLevel  string
	LogFormat string
	LogFile   string

	CORSOrigins []string
	SiteID      string

	SweepInterval time.Duration

	// exam assembly and grading
	TotalPoints     float64
	PartialMulti    bool
	OrderingLCS     bool
	MaxEditDistance int

	// bitácora rollups
	PartialPolicy string
	StrictWeights bool
}

// RegisterFlags adds every configuration flag with its default.
func RegisterFlags(f *pflag.FlagSet) {
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db-driver", "sqlite", "Database driver (sqlite, postgres)")
	f.String("db-dsn", "", "Database DSN (driver default when empty)")
	f.String("jwt-secret", "", "HS256 secret used to verify bearer tokens")
	f.String("jwt-issuer", "bitacora", "Expected token issuer")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "console", "Log format (console, json)")
	f.String("log-file", "", "Optional rotated JSON log file")
	f.StringSlice("cors-origins", []string{"http://localhost:3000"}, "Allowed CORS origins")
	f.String("site-id", "local", "Site id stamped on event log entries")
	f.Duration("sweep-interval", time.Minute, "Interval of the overdue attempt sweeper (0 disables)")
	f.Float64("total-points", 10, "Default total points of a blueprint")
	f.Bool("partial-multi", false, "Grant partial credit on multi_choice without false positives")
	f.Bool("ordering-lcs", false, "Grade ordering questions by longest common subsequence")
	f.Int("max-edit-distance", 0, "Fuzzy tolerance for free-text keyword hints")
	f.String("partial-policy", "zero_if_any_present", "Missing component policy (zero_if_any_present, exclude_missing)")
	f.Bool("strict-weights", false, "Fail rollups whose weights do not add to 100")
}

// NewViper binds flags and environment to a fresh viper instance and reads
// bitacora.yaml from the usual places when present.
func NewViper(f *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	if f != nil {
		if err := v.BindPFlags(f); err != nil {
			return nil, err
		}
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("bitacora")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/bitacora")
	v.AddConfigPath("/etc/bitacora")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

// Load reads a Config out of v and validates it.
func Load(v *viper.Viper) (Config, error) {
	c := Config{
		Addr:            v.GetString("addr"),
		DBDriver:        strings.ToLower(v.GetString("db-driver")),
		DBDSN:           v.GetString("db-dsn"),
		JWTSecret:       v.GetString("jwt-secret"),
		JWTIssuer:       v.GetString("jwt-issuer"),
		LogLevel:        v.GetString("log-level"),
		LogFormat:       v.GetString("log-format"),
		LogFile:         v.GetString("log-file"),
		CORSOrigins:     csv(v.GetStringSlice("cors-origins")),
		SiteID:          v.GetString("site-id"),
		SweepInterval:   v.GetDuration("sweep-interval"),
		TotalPoints:     v.GetFloat64("total-points"),
		PartialMulti:    v.GetBool("partial-multi"),
		OrderingLCS:     v.GetBool("ordering-lcs"),
		MaxEditDistance: v.GetInt("max-edit-distance"),
		PartialPolicy:   v.GetString("partial-policy"),
		StrictWeights:   v.GetBool("strict-weights"),
	}
	return c, c.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if c.TotalPoints <= 0 {
		errs = append(errs, fmt.Errorf("total-points must be positive, got %g", c.TotalPoints))
	}
	if c.SweepInterval < 0 {
		errs = append(errs, fmt.Errorf("sweep-interval must not be negative"))
	}
	if c.MaxEditDistance < 0 {
		errs = append(errs, fmt.Errorf("max-edit-distance must not be negative"))
	}
	switch c.PartialPolicy {
	case "zero_if_any_present", "exclude_missing":
	default:
		errs = append(errs, fmt.Errorf("partial-policy %q: want zero_if_any_present or exclude_missing", c.PartialPolicy))
	}
	return errors.Join(errs...)
}

// csv flattens values that arrived as one comma-separated string, which is
// how environment variables carry lists.
func csv(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
