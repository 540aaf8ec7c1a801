// Package config reads the TOML configuration used by the command line
// tool. The validation library itself never touches configuration files;
// everything here is handed to it as explicit values.
package config

import (
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/asaskevich/govalidator"

	"github.com/vaultsign/pdfvalidate/certs"
	"github.com/vaultsign/pdfvalidate/tsa"
)

func init() {
	govalidator.SetFieldsRequiredByDefault(true)
}

// DefaultLocation is the config file path used when none is given.
var DefaultLocation = "./pdfvalidate.conf"

// Config is the root of the config file.
type Config struct {
	// TrustedRoots is the path of a PEM bundle with the trust anchors.
	TrustedRoots string `toml:"trusted_roots" valid:"required"`

	TSA TSA `toml:"tsa" valid:"-"`
}

// TSA configures the primary Time-Stamp Authority and its fallbacks.
type TSA struct {
	URL            string   `toml:"url" valid:"url,optional"`
	Username       string   `toml:"username" valid:"-"`
	Password       string   `toml:"password" valid:"-"`
	Fallbacks      []string `toml:"fallbacks" valid:"-"`
	TimeoutSeconds int      `toml:"timeout_seconds" valid:"-"`
	RetryAttempts  int      `toml:"retry_attempts" valid:"-"`
}

// ValidateFields validates all the fields of the config.
func (c Config) ValidateFields() error {
	_, err := govalidator.ValidateStruct(c)
	return err
}

// Load reads and validates the config file at path.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file is missing: %s", path)
	}

	var c Config
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.ValidateFields(); err != nil {
		return nil, fmt.Errorf("config is not valid: %w", err)
	}
	return &c, nil
}

// LoadTrustedRoots reads the PEM bundle named by the config.
func (c *Config) LoadTrustedRoots() ([]*x509.Certificate, error) {
	data, err := os.ReadFile(c.TrustedRoots)
	if err != nil {
		return nil, fmt.Errorf("read trusted roots: %w", err)
	}
	return certs.NewManager().LoadFromPEM(data)
}

// FailoverConfig maps the TSA section onto the timestamp manager's
// failover configuration.
func (c *Config) FailoverConfig() tsa.FailoverConfig {
	timeout := time.Duration(c.TSA.TimeoutSeconds) * time.Second

	fc := tsa.FailoverConfig{
		Primary: tsa.Config{
			URL:           c.TSA.URL,
			Username:      c.TSA.Username,
			Password:      c.TSA.Password,
			Timeout:       timeout,
			RetryAttempts: c.TSA.RetryAttempts,
		},
	}
	for _, url := range c.TSA.Fallbacks {
		fc.Fallbacks = append(fc.Fallbacks, tsa.Config{
			URL:           url,
			Timeout:       timeout,
			RetryAttempts: c.TSA.RetryAttempts,
		})
	}
	return fc
}
