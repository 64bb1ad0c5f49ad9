package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// SecretsStore persists provider API keys in secrets.json next to the config file.
//
// An APPFORGE_<PROVIDER_ID>_API_KEY environment variable takes precedence over the file.
type SecretsStore struct {
	path   string
	getenv func(string) string
	mu     sync.Mutex
}

func NewSecretsStore(path string) *SecretsStore {
	return &SecretsStore{path: filepath.Clean(strings.TrimSpace(path)), getenv: os.Getenv}
}

func (s *SecretsStore) Path() string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(s.path)
}

// KeySource reports where a provider key was found.
type KeySource string

const (
	KeySourceNone KeySource = ""
	KeySourceEnv  KeySource = "env"
	KeySourceFile KeySource = "file"
)

// EnvVarName returns the override variable for a provider id, e.g. "my-openai" -> APPFORGE_MY_OPENAI_API_KEY.
func EnvVarName(providerID string) string {
	var b strings.Builder
	b.WriteString("APPFORGE_")
	for _, r := range strings.TrimSpace(providerID) {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - 'a' + 'A')
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	b.WriteString("_API_KEY")
	return b.String()
}

type secretsFile struct {
	SchemaVersion   int               `json:"schema_version"`
	ProviderAPIKeys map[string]string `json:"provider_api_keys,omitempty"`
}

// APIKey resolves the key for providerID. source is KeySourceNone when neither the environment nor the file has one.
func (s *SecretsStore) APIKey(providerID string) (key string, source KeySource, err error) {
	if s == nil {
		return "", KeySourceNone, errors.New("nil secrets store")
	}
	providerID = strings.TrimSpace(providerID)
	if providerID == "" {
		return "", KeySourceNone, errors.New("missing provider id")
	}
	if s.getenv != nil {
		if v := strings.TrimSpace(s.getenv(EnvVarName(providerID))); v != "" {
			return v, KeySourceEnv, nil
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sf, err := s.loadLocked()
	if err != nil {
		return "", KeySourceNone, err
	}
	if v := strings.TrimSpace(sf.ProviderAPIKeys[providerID]); v != "" {
		return v, KeySourceFile, nil
	}
	return "", KeySourceNone, nil
}

// KeyStatus reports the key source per provider without exposing key material.
func (s *SecretsStore) KeyStatus(providerIDs []string) (map[string]KeySource, error) {
	out := make(map[string]KeySource, len(providerIDs))
	for _, id := range providerIDs {
		if strings.TrimSpace(id) == "" {
			continue
		}
		_, src, err := s.APIKey(id)
		if err != nil {
			return nil, err
		}
		out[strings.TrimSpace(id)] = src
	}
	return out, nil
}

func (s *SecretsStore) SetAPIKey(providerID string, apiKey string) error {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return errors.New("missing api key")
	}
	return s.update(providerID, &apiKey)
}

func (s *SecretsStore) ClearAPIKey(providerID string) error {
	return s.update(providerID, nil)
}

func (s *SecretsStore) update(providerID string, apiKey *string) error {
	if s == nil {
		return errors.New("nil secrets store")
	}
	providerID = strings.TrimSpace(providerID)
	if providerID == "" {
		return errors.New("missing provider id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sf, err := s.loadLocked()
	if err != nil {
		return err
	}
	if sf.ProviderAPIKeys == nil {
		sf.ProviderAPIKeys = make(map[string]string)
	}
	if apiKey == nil {
		delete(sf.ProviderAPIKeys, providerID)
	} else {
		sf.ProviderAPIKeys[providerID] = *apiKey
	}
	if len(sf.ProviderAPIKeys) == 0 {
		sf.ProviderAPIKeys = nil
	}
	return s.saveLocked(sf)
}

func (s *SecretsStore) loadLocked() (*secretsFile, error) {
	path := strings.TrimSpace(s.path)
	if path == "" || path == "." {
		return nil, errors.New("missing secrets path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &secretsFile{SchemaVersion: 1}, nil
		}
		return nil, err
	}
	var sf secretsFile
	if err := json.Unmarshal(b, &sf); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	if sf.SchemaVersion == 0 {
		sf.SchemaVersion = 1
	}
	return &sf, nil
}

func (s *SecretsStore) saveLocked(sf *secretsFile) error {
	path := strings.TrimSpace(s.path)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	b, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
