// Package dbconfig holds the ClickHouse connection settings shared by the
// config and driver packages. It exists to break the import cycle between them.
package dbconfig

import (
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// ClickHouseConfig holds connection settings for a ClickHouse server.
type ClickHouseConfig struct {
	Host        string            `yaml:"host"`
	Port        int               `yaml:"port"`     // native protocol port (default: 9000, 9440 with secure)
	Database    string            `yaml:"database"` // default database for unqualified names
	User        string            `yaml:"user"`
	Password    string            `yaml:"password"`
	Secure      bool              `yaml:"secure"`      // TLS
	SkipVerify  bool              `yaml:"skip_verify"` // accept any server certificate
	DialTimeout time.Duration     `yaml:"dial_timeout"`
	Compression string            `yaml:"compression"` // none, lz4, zstd (default: lz4)
	Settings    map[string]string `yaml:"settings"`    // per-query server settings
}

// Addr returns host:port.
func (c *ClickHouseConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// CompressionMethod maps the configured name onto the driver's constant.
func (c *ClickHouseConfig) CompressionMethod() (clickhouse.CompressionMethod, error) {
	switch strings.ToLower(c.Compression) {
	case "", "lz4":
		return clickhouse.CompressionLZ4, nil
	case "zstd":
		return clickhouse.CompressionZSTD, nil
	case "none":
		return clickhouse.CompressionNone, nil
	}
	return clickhouse.CompressionNone, fmt.Errorf("unknown compression %q (want none, lz4 or zstd)", c.Compression)
}

// Options builds the clickhouse-go options for this config.
func (c *ClickHouseConfig) Options() (*clickhouse.Options, error) {
	method, err := c.CompressionMethod()
	if err != nil {
		return nil, err
	}
	opts := &clickhouse.Options{
		Addr: []string{c.Addr()},
		Auth: clickhouse.Auth{
			Database: c.Database,
			Username: c.User,
			Password: c.Password,
		},
		DialTimeout: c.DialTimeout,
		Compression: &clickhouse.Compression{Method: method},
	}
	if c.Secure {
		opts.TLS = &tls.Config{InsecureSkipVerify: c.SkipVerify}
	}
	if len(c.Settings) > 0 {
		opts.Settings = clickhouse.Settings{}
		for k, v := range c.Settings {
			opts.Settings[k] = v
		}
	}
	return opts, nil
}

// Redacted returns a copy safe to print.
func (c ClickHouseConfig) Redacted() ClickHouseConfig {
	if c.Password != "" {
		c.Password = "********"
	}
	return c
}
