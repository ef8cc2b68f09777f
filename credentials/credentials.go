// Package credentials loads gateway and provider secrets from standard locations.
package credentials

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
)

// ErrInsecurePermissions is returned when the credentials file has overly
// permissive permissions.
var ErrInsecurePermissions = fmt.Errorf("credentials file has insecure permissions")

// Known provider section names.
const (
	ProviderMeF    = "mef"
	ProviderIFile  = "ifile"
	ProviderTwilio = "twilio"
)

// ProviderCreds holds credentials for a single external system.
type ProviderCreds struct {
	// Username is the login or account identifier (ETIN for MeF,
	// account SID for Twilio).
	Username string `toml:"username"`

	// Secret is the password or auth token.
	Secret string `toml:"secret"`
}

// Credentials holds secrets loaded from credentials.toml.
// Sections are loaded generically so new providers need no code change.
type Credentials struct {
	providers map[string]*ProviderCreds
}

// StandardPaths returns the standard credential file locations in order of priority.
func StandardPaths() []string {
	paths := []string{"credentials.toml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "navigator", "credentials.toml"))
	}
	paths = append(paths, "/etc/navigator/credentials.toml")

	return paths
}

// Load loads credentials from the first available standard location.
func Load() (*Credentials, string, error) {
	for _, path := range StandardPaths() {
		if _, err := os.Stat(path); err == nil {
			creds, err := LoadFile(path)
			if err != nil {
				return nil, path, err
			}
			return creds, path, nil
		}
	}
	return nil, "", nil // No credentials file found (not an error)
}

// LoadFile loads credentials from a specific file.
// Returns ErrInsecurePermissions if file is readable by group or others.
func LoadFile(path string) (*Credentials, error) {
	// Check file permissions (Unix only)
	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		mode := info.Mode().Perm()
		// Credentials must be 0400 (owner read-only)
		if mode != 0400 {
			return nil, fmt.Errorf("%w: %s has mode %04o (must be 0400)",
				ErrInsecurePermissions, path, mode)
		}
	}

	// Decode into a generic map so any provider section is picked up.
	var rawData map[string]interface{}
	if _, err := toml.DecodeFile(path, &rawData); err != nil {
		return nil, err
	}

	creds := &Credentials{
		providers: make(map[string]*ProviderCreds),
	}

	for key, value := range rawData {
		section, ok := value.(map[string]interface{})
		if !ok {
			continue
		}

		secret, _ := section["secret"].(string)
		username, _ := section["username"].(string)
		if secret == "" && username == "" {
			continue
		}

		creds.providers[key] = &ProviderCreds{
			Username: username,
			Secret:   secret,
		}
	}

	return creds, nil
}

// Get returns the credentials for a provider, or nil if absent.
// Priority: file section > environment variables.
func (c *Credentials) Get(provider string) *ProviderCreds {
	if c != nil {
		if creds, ok := c.providers[provider]; ok {
			return creds
		}
		// Try normalized name (lowercase, no dashes)
		normalized := strings.ToLower(strings.ReplaceAll(provider, "-", ""))
		if creds, ok := c.providers[normalized]; ok {
			return creds
		}
	}

	// Fallback to environment variables
	envUser := os.Getenv(envVarForProvider(provider, "USERNAME"))
	envSecret := os.Getenv(envVarForProvider(provider, "SECRET"))
	if envUser != "" || envSecret != "" {
		return &ProviderCreds{Username: envUser, Secret: envSecret}
	}
	return nil
}

// GetSecret returns the secret for a provider, or empty string.
func (c *Credentials) GetSecret(provider string) string {
	if creds := c.Get(provider); creds != nil {
		return creds.Secret
	}
	return ""
}

// envVarForProvider returns the environment variable name for a provider field.
func envVarForProvider(provider, field string) string {
	return "NAVIGATOR_" + strings.ToUpper(strings.ReplaceAll(provider, "-", "_")) + "_" + field
}
