// internal/auth/credentials.go
package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	// KeyringService is the service name for keyring storage
	KeyringService = "harvest-cli"
	// FallbackDir is the directory for file-based credential storage (when
	// keyring fails)
	FallbackDir = ".harvest/credentials"
)

// Credentials is a per-shop username/password pair.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// useFileBasedStorage checks if we should use file-based storage.
// This is a fallback for environments where keyring isn't available
// (Codespaces, CI).
var fileBasedStorageCache *bool

func useFileBasedStorage() bool {
	if fileBasedStorageCache != nil {
		return *fileBasedStorageCache
	}

	if os.Getenv("CODESPACES") != "" || os.Getenv("CI") != "" {
		result := true
		fileBasedStorageCache = &result
		return true
	}

	testKey := "_test_keyring_access_"
	err := keyring.Set(KeyringService, testKey, "test")
	result := (err != nil)
	fileBasedStorageCache = &result

	if !result {
		keyring.Delete(KeyringService, testKey)
	}

	return result
}

func getCredentialsDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, FallbackDir)
	return dir, os.MkdirAll(dir, 0700)
}

func getCredentialsPath(key string) (string, error) {
	dir, err := getCredentialsDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, key+".json"), nil
}

// Save stores the credentials for a shop under key, in the OS keyring when
// available and a 0600 file otherwise.
func Save(key string, creds Credentials) error {
	if key == "" {
		return fmt.Errorf("credentials key cannot be empty")
	}
	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("failed to serialize credentials: %w", err)
	}

	if useFileBasedStorage() {
		path, err := getCredentialsPath(key)
		if err != nil {
			return fmt.Errorf("failed to get credentials path: %w", err)
		}
		if err := os.WriteFile(path, data, 0600); err != nil {
			return fmt.Errorf("failed to save credentials file: %w", err)
		}
		return nil
	}

	if err := keyring.Set(KeyringService, key, string(data)); err != nil {
		return fmt.Errorf("failed to save to keyring: %w", err)
	}
	return nil
}

// Load retrieves the credentials stored under key.
func Load(key string) (Credentials, error) {
	var creds Credentials
	if key == "" {
		return creds, fmt.Errorf("credentials key cannot be empty")
	}

	var data string
	if useFileBasedStorage() {
		path, err := getCredentialsPath(key)
		if err != nil {
			return creds, fmt.Errorf("failed to get credentials path: %w", err)
		}
		fileData, err := os.ReadFile(path)
		if err != nil {
			return creds, fmt.Errorf("failed to load credentials file: %w", err)
		}
		data = string(fileData)
	} else {
		stored, err := keyring.Get(KeyringService, key)
		if err != nil {
			return creds, fmt.Errorf("failed to load from keyring: %w", err)
		}
		data = stored
	}

	if err := json.Unmarshal([]byte(data), &creds); err != nil {
		return creds, fmt.Errorf("failed to deserialize credentials: %w", err)
	}
	return creds, nil
}

// Delete removes the credentials stored under key.
func Delete(key string) error {
	if key == "" {
		return fmt.Errorf("credentials key cannot be empty")
	}

	if useFileBasedStorage() {
		path, err := getCredentialsPath(key)
		if err != nil {
			return fmt.Errorf("failed to get credentials path: %w", err)
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete credentials file: %w", err)
		}
		return nil
	}

	if err := keyring.Delete(KeyringService, key); err != nil {
		return fmt.Errorf("failed to delete from keyring: %w", err)
	}
	return nil
}

// List returns the keys with stored file-based credentials. Keyring-backed
// entries are not enumerable across platforms, so only the fallback store is
// listed.
func List() ([]string, error) {
	if !useFileBasedStorage() {
		return nil, nil
	}
	dir, err := getCredentialsDir()
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}
	var keys []string
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".json" {
			keys = append(keys, strings.TrimSuffix(entry.Name(), ".json"))
		}
	}
	return keys, nil
}
