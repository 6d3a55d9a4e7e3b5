// Package secrets reads ClickHouse passwords from a private credentials file
// so they stay out of chkit.yaml.
package secrets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultSecretsDir is the directory under the user's home directory
	DefaultSecretsDir = ".chkit"
	// DefaultSecretsFile is the credentials file name
	DefaultSecretsFile = "credentials.yaml"
	// SecretsFileEnvVar allows overriding the credentials file location
	SecretsFileEnvVar = "CHKIT_CREDENTIALS_FILE"

	// AnyHost matches every host without its own entry.
	AnyHost = "*"
)

// Credential is a user/password pair for one server.
type Credential struct {
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// File is the parsed credentials file:
//
//	hosts:
//	  ch-prod.internal:
//	    user: etl
//	    password: s3cret
//	  "*":
//	    password: local
type File struct {
	Hosts map[string]Credential `yaml:"hosts"`
}

// ErrNotFound is returned when the credentials file does not exist.
var ErrNotFound = errors.New("credentials file not found")

var (
	cached    *File
	cacheOnce sync.Once
	cacheErr  error
)

// Load reads the credentials file from the default or override location.
// The result is cached for the life of the process.
func Load() (*File, error) {
	cacheOnce.Do(func() {
		cached, cacheErr = LoadFile(GetSecretsPath())
	})
	return cached, cacheErr
}

// Reset clears the cached file (useful for testing)
func Reset() {
	cacheOnce = sync.Once{}
	cached = nil
	cacheErr = nil
}

// GetSecretsPath returns the path to the credentials file
func GetSecretsPath() string {
	if envPath := os.Getenv(SecretsFileEnvVar); envPath != "" {
		return envPath
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", DefaultSecretsDir, DefaultSecretsFile)
	}
	return filepath.Join(homeDir, DefaultSecretsDir, DefaultSecretsFile)
}

// LoadFile parses the credentials file at path. Files readable by group or
// others are rejected.
func LoadFile(path string) (*File, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("checking credentials file: %w", err)
	}
	if mode := info.Mode().Perm(); mode&0077 != 0 {
		return nil, fmt.Errorf("credentials file %s has insecure permissions (%04o). "+
			"Run: chmod 600 %s", path, mode, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading credentials file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing credentials file: %w", err)
	}
	return &f, nil
}

// Lookup returns the credential for host. An exact host entry wins over the
// "*" entry. An entry naming a different user does not match.
func (f *File) Lookup(host, user string) (Credential, bool) {
	if f == nil {
		return Credential{}, false
	}
	for _, key := range []string{host, AnyHost} {
		cred, ok := f.Hosts[key]
		if !ok {
			continue
		}
		if cred.User != "" && user != "" && cred.User != user {
			continue
		}
		return cred, true
	}
	return Credential{}, false
}
