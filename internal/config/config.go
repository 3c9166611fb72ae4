// Package config loads gateway configuration from an optional YAML file and
// environment variables. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sumup/ucp/ap2"
)

// FileEnv names the environment variable pointing at the YAML file.
const FileEnv = "UCP_CONFIG_FILE"

// Config holds gateway configuration.
type Config struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	BaseURL  string `yaml:"base_url"`
	LogLevel string `yaml:"log_level"`
	// MerchantName is advertised in the discovery profile.
	MerchantName string `yaml:"merchant_name"`

	Magento Magento `yaml:"magento"`

	PaymentMethodCode   string `yaml:"payment_method_code"`
	APIKey              string `yaml:"api_key"`
	APIKeyHeader        string `yaml:"api_key_header"`
	ExposeBackendErrors bool   `yaml:"expose_backend_errors"`
	ExposeDebug         bool   `yaml:"expose_debug"`

	Redis     Redis     `yaml:"redis"`
	RateLimit RateLimit `yaml:"rate_limit"`
	Webhook   Webhook   `yaml:"webhook"`

	RequestSigningSecret string `yaml:"request_signing_secret"`

	AP2 AP2 `yaml:"ap2"`
}

// Magento configures the commerce backend. An empty BaseURL selects the
// in-memory demo catalog.
type Magento struct {
	BaseURL     string        `yaml:"base_url"`
	StoreCode   string        `yaml:"store_code"`
	AdminToken  string        `yaml:"admin_token"`
	CheckoutURL string        `yaml:"checkout_url"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Redis configures the session store. An empty Addr keeps sessions in
// memory.
type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// RateLimit is disabled while RPS is zero.
type RateLimit struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type Webhook struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
}

// AP2 mirrors [ap2.Settings] with file and env friendly types.
type AP2 struct {
	Enabled              bool     `yaml:"enabled"`
	SigningAlg           string   `yaml:"signing_alg"`
	SigningPrivateKeyPEM string   `yaml:"signing_private_key_pem"`
	SigningPublicKeyPEM  string   `yaml:"signing_public_key_pem"`
	PlatformPublicKeyPEM string   `yaml:"platform_public_key_pem"`
	PlatformSigningAlg   string   `yaml:"platform_signing_alg"`
	PaymentPublicKeyPEM  string   `yaml:"payment_public_key_pem"`
	PaymentSigningAlg    string   `yaml:"payment_signing_alg"`
	Issuer               string   `yaml:"issuer"`
	Audience             string   `yaml:"audience"`
	ClockSkewSec         int      `yaml:"clock_skew_sec"`
	MandateMaxAgeSec     int      `yaml:"mandate_max_age_sec"`
	SupportedVPFormats   []string `yaml:"supported_vp_formats"`
}

// Load reads the file named by UCP_CONFIG_FILE, when set, and applies
// environment overrides.
func Load() (*Config, error) {
	cfg := defaults()
	if path := os.Getenv(FileEnv); path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.finish()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Port:         "8080",
		LogLevel:     "info",
		MerchantName: "Adobe Commerce Merchant",
		Magento: Magento{
			StoreCode: "default",
			Timeout:   20 * time.Second,
		},
	}
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.Host, "HOST")
	setString(&c.Port, "PORT")
	setString(&c.BaseURL, "BASE_URL")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.MerchantName, "MERCHANT_NAME")

	setString(&c.Magento.BaseURL, "MAGENTO_BASE_URL")
	setString(&c.Magento.StoreCode, "MAGENTO_STORE_CODE")
	setString(&c.Magento.AdminToken, "MAGENTO_ADMIN_TOKEN")
	setString(&c.Magento.CheckoutURL, "MAGENTO_CHECKOUT_URL")

	setString(&c.PaymentMethodCode, "PAYMENT_METHOD_CODE")
	setString(&c.APIKey, "API_KEY")
	setString(&c.APIKeyHeader, "API_KEY_HEADER")
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setString(&c.Webhook.URL, "WEBHOOK_URL")
	setString(&c.Webhook.Secret, "WEBHOOK_SECRET")
	setString(&c.RequestSigningSecret, "REQUEST_SIGNING_SECRET")

	setString(&c.AP2.SigningAlg, "AP2_SIGNING_ALG")
	setString(&c.AP2.SigningPrivateKeyPEM, "AP2_SIGNING_PRIVATE_KEY_PEM")
	setString(&c.AP2.SigningPublicKeyPEM, "AP2_SIGNING_PUBLIC_KEY_PEM")
	setString(&c.AP2.PlatformPublicKeyPEM, "AP2_PLATFORM_PUBLIC_KEY_PEM")
	setString(&c.AP2.PlatformSigningAlg, "AP2_PLATFORM_SIGNING_ALG")
	setString(&c.AP2.PaymentPublicKeyPEM, "AP2_PAYMENT_PUBLIC_KEY_PEM")
	setString(&c.AP2.PaymentSigningAlg, "AP2_PAYMENT_SIGNING_ALG")
	setString(&c.AP2.Issuer, "AP2_ISSUER")
	setString(&c.AP2.Audience, "AP2_AUDIENCE")
	if v := os.Getenv("AP2_SUPPORTED_VP_FORMATS"); v != "" {
		c.AP2.SupportedVPFormats = splitList(v)
	}

	return errors.Join(
		setBool(&c.ExposeBackendErrors, "EXPOSE_BACKEND_ERRORS"),
		setBool(&c.ExposeDebug, "EXPOSE_DEBUG"),
		setBool(&c.AP2.Enabled, "AP2_ENABLED"),
		setDuration(&c.Magento.Timeout, "MAGENTO_TIMEOUT"),
		setInt(&c.Redis.DB, "REDIS_DB"),
		setInt(&c.RateLimit.Burst, "RATE_LIMIT_BURST"),
		setFloat(&c.RateLimit.RPS, "RATE_LIMIT_RPS"),
		setInt(&c.AP2.ClockSkewSec, "AP2_CLOCK_SKEW_SEC"),
		setInt(&c.AP2.MandateMaxAgeSec, "AP2_MANDATE_MAX_AGE_SEC"),
	)
}

// finish fills derived defaults once all sources are merged.
func (c *Config) finish() {
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	c.Magento.BaseURL = strings.TrimRight(c.Magento.BaseURL, "/")
	if c.RateLimit.RPS > 0 && c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = max(1, int(c.RateLimit.RPS))
	}
	c.AP2.SigningPrivateKeyPEM = unescapePEM(c.AP2.SigningPrivateKeyPEM)
	c.AP2.SigningPublicKeyPEM = unescapePEM(c.AP2.SigningPublicKeyPEM)
	c.AP2.PlatformPublicKeyPEM = unescapePEM(c.AP2.PlatformPublicKeyPEM)
	c.AP2.PaymentPublicKeyPEM = unescapePEM(c.AP2.PaymentPublicKeyPEM)
}

func (c *Config) validate() error {
	var errs []error
	if c.Magento.BaseURL != "" && c.Magento.AdminToken == "" {
		errs = append(errs, errors.New("config: MAGENTO_ADMIN_TOKEN is required with MAGENTO_BASE_URL"))
	}
	if c.RateLimit.RPS < 0 || c.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("config: rate limit must not be negative"))
	}
	if c.Magento.Timeout <= 0 {
		errs = append(errs, errors.New("config: MAGENTO_TIMEOUT must be positive"))
	}
	if c.AP2.ClockSkewSec < 0 || c.AP2.MandateMaxAgeSec < 0 {
		errs = append(errs, errors.New("config: AP2 durations must not be negative"))
	}
	return errors.Join(errs...)
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// AP2Settings converts the AP2 block for [ap2.NewConfig].
func (c *Config) AP2Settings() ap2.Settings {
	return ap2.Settings{
		Enabled:              c.AP2.Enabled,
		SigningAlg:           c.AP2.SigningAlg,
		SigningPrivateKeyPEM: c.AP2.SigningPrivateKeyPEM,
		SigningPublicKeyPEM:  c.AP2.SigningPublicKeyPEM,
		PlatformPublicKeyPEM: c.AP2.PlatformPublicKeyPEM,
		PlatformAlg:          c.AP2.PlatformSigningAlg,
		PaymentPublicKeyPEM:  c.AP2.PaymentPublicKeyPEM,
		PaymentAlg:           c.AP2.PaymentSigningAlg,
		Issuer:               c.AP2.Issuer,
		Audience:             c.AP2.Audience,
		ClockSkew:            time.Duration(c.AP2.ClockSkewSec) * time.Second,
		MandateMaxAge:        time.Duration(c.AP2.MandateMaxAgeSec) * time.Second,
		SupportedVPFormats:   c.AP2.SupportedVPFormats,
	}
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = b
	return nil
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = n
	return nil
}

func setFloat(dst *float64, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = f
	return nil
}

// setDuration accepts Go durations ("15s") or whole seconds ("15").
func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(n) * time.Second
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = d
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// unescapePEM turns literal "\n" sequences into newlines so keys fit in a
// single environment variable.
func unescapePEM(s string) string {
	return strings.ReplaceAll(s, `\n`, "\n")
}
