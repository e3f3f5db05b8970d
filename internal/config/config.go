package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App    AppConfig
	DB     DBConfig
	Redis  RedisConfig
	Auth   AuthConfig
	Dialer DialerConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit. Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int

	// Enabled gates the Redis-backed sid index and per-agent call caps.
	// Disabled deployments fall back to in-process state.
	Enabled bool
}

type AuthConfig struct {
	JWTSecret      string
	JWTIssuer      string
	JWTAudience    string
	AccessTokenTTL time.Duration
}

// DialerConfig tunes the dialing engine and the simulated provider.
type DialerConfig struct {
	// MaxAttempts is the per-contact retry budget. A contact with
	// attempts >= MaxAttempts leaves the dial pool.
	MaxAttempts int

	// CallerID is the outbound caller id presented on dials.
	CallerID string

	// AgentCallCap bounds concurrent in-flight calls per agent.
	// Only enforced when Redis is enabled; 0 disables the cap.
	AgentCallCap int

	// Simulated provider timing.
	DialDelayMin time.Duration
	DialDelayMax time.Duration
	RingDelayMin time.Duration
	RingDelayMax time.Duration

	// TerminalRetention is how long a finished call stays queryable.
	TerminalRetention time.Duration

	// SidIndexTTL is how long a sid-to-call binding stays resolvable. It
	// must comfortably outlive any call, not just the provider's terminal
	// retention, so control and status lookups keep working.
	SidIndexTTL time.Duration

	// Outcome probabilities; must sum to 1.
	AnsweredRate  float64
	NoAnswerRate  float64
	BusyRate      float64
	VoicemailRate float64
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	c.Redis.Enabled = c.Redis.Host != ""
	if c.Redis.Enabled {
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	c.Auth.AccessTokenTTL = optDuration("JWT_ACCESS_TTL")

	c.Dialer.MaxAttempts = optInt("DIALER_MAX_ATTEMPTS")
	c.Dialer.CallerID = strings.TrimSpace(os.Getenv("DIALER_CALLER_ID"))
	c.Dialer.AgentCallCap = optInt("DIALER_AGENT_CALL_CAP")
	c.Dialer.DialDelayMin = optDuration("DIALER_DIAL_DELAY_MIN")
	c.Dialer.DialDelayMax = optDuration("DIALER_DIAL_DELAY_MAX")
	c.Dialer.RingDelayMin = optDuration("DIALER_RING_DELAY_MIN")
	c.Dialer.RingDelayMax = optDuration("DIALER_RING_DELAY_MAX")
	c.Dialer.TerminalRetention = optDuration("DIALER_TERMINAL_RETENTION")
	c.Dialer.SidIndexTTL = optDuration("DIALER_SID_INDEX_TTL")
	c.Dialer.AnsweredRate = optFloat("DIALER_ANSWERED_RATE")
	c.Dialer.NoAnswerRate = optFloat("DIALER_NO_ANSWER_RATE")
	c.Dialer.BusyRate = optFloat("DIALER_BUSY_RATE")
	c.Dialer.VoicemailRate = optFloat("DIALER_VOICEMAIL_RATE")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Enabled && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 8 * time.Hour
	}

	if c.Dialer.MaxAttempts <= 0 {
		c.Dialer.MaxAttempts = 3
	}
	if c.Dialer.AgentCallCap < 0 {
		errs = append(errs, errors.New("DIALER_AGENT_CALL_CAP must be >= 0"))
	}
	if c.Dialer.SidIndexTTL <= 0 {
		c.Dialer.SidIndexTTL = time.Hour
	}

	// Outcome mix: either fully unset (simulator defaults apply) or it must
	// sum to 1.
	sum := c.Dialer.AnsweredRate + c.Dialer.NoAnswerRate + c.Dialer.BusyRate + c.Dialer.VoicemailRate
	if sum != 0 && (sum < 0.999 || sum > 1.001) {
		errs = append(errs, fmt.Errorf("dialer outcome rates must sum to 1, got %v", sum))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optInt(key string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func optDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func optFloat(key string) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
