package auth

import (
	goerrors "github.com/goliatone/go-errors"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// Config is the full configuration tree. YAML keys mirror the struct tags,
// e.g. app.jwt.expiration-seconds.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	DB       DBConfig       `koanf:"db"`
	App      AppConfig      `koanf:"app"`
	Security SecurityConfig `koanf:"security"`
}

type ServerConfig struct {
	Addr string `koanf:"addr"`
}

type DBConfig struct {
	DSN string `koanf:"dsn"`
}

type AppConfig struct {
	JWT           JWTConfig         `koanf:"jwt"`
	PasswordReset ResetTokenConfig  `koanf:"password-reset"`
	VerifyEmail   VerifyEmailConfig `koanf:"verify-email"`
	Mail          MailConfig        `koanf:"mail"`
	SeedAdmin     SeedAdminConfig   `koanf:"seed-admin"`
}

type JWTConfig struct {
	// Secret is base64-encoded key material for HS256.
	Secret             string `koanf:"secret"`
	ExpirationSeconds  int    `koanf:"expiration-seconds"`
	Issuer             string `koanf:"issuer"`
	MaxSessionsPerUser int    `koanf:"max-sessions-per-user"`
}

type ResetTokenConfig struct {
	ExpirationMinutes int `koanf:"expiration-minutes"`
}

type VerifyEmailConfig struct {
	TTLHours           int    `koanf:"ttl-hours"`
	BackendVerifyURL   string `koanf:"backend-verify-url"`
	FrontendSuccessURL string `koanf:"frontend-success-url"`
	FrontendErrorURL   string `koanf:"frontend-error-url"`
}

type MailConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	From     string `koanf:"from"`
	ReplyTo  string `koanf:"replyTo"`
}

type SeedAdminConfig struct {
	Username string `koanf:"username"`
	Email    string `koanf:"email"`
	Password string `koanf:"password"`
}

type SecurityConfig struct {
	// PermitAll is the CORS allow-list of origins.
	PermitAll []string `koanf:"permit-all"`
}

// DefaultConfig mirrors the documented defaults.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{Addr: ":8080"},
		App: AppConfig{
			JWT: JWTConfig{
				ExpirationSeconds:  3600,
				Issuer:             "opsimulator",
				MaxSessionsPerUser: 5,
			},
			PasswordReset: ResetTokenConfig{ExpirationMinutes: 30},
			VerifyEmail: VerifyEmailConfig{
				TTLHours:           24,
				FrontendSuccessURL: "https://opsimulator.com/verified",
				FrontendErrorURL:   "https://opsimulator.com/verify-error",
			},
			Mail: MailConfig{Port: 587},
		},
	}
}

// LoadConfig layers the YAML file (when given) and command-line flags over
// the defaults.
func LoadConfig(path string, flags *pflag.FlagSet) (Config, error) {
	cfg := DefaultConfig()
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return cfg, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to load config file")
		}
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return cfg, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to load config flags")
		}
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to decode configuration")
	}

	return cfg, nil
}

// Validate checks the keys the server cannot start without.
func (c Config) Validate() error {
	if c.App.JWT.Secret == "" {
		return goerrors.New("app.jwt.secret is required", goerrors.CategoryBadInput)
	}
	if c.DB.DSN == "" {
		return goerrors.New("db.dsn is required", goerrors.CategoryBadInput)
	}
	return nil
}
