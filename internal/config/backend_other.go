//go:build !darwin

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
)

// xdgPath joins name under $envVar, or under ~/fallback when it is unset.
func xdgPath(envVar, fallback, name string) string {
	root := os.Getenv(envVar)
	if root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".", "aide", name)
		}
		root = filepath.Join(home, fallback)
	}
	return filepath.Join(root, "aide", name)
}

func defaultDataDir() string {
	return xdgPath("XDG_DATA_HOME", filepath.Join(".local", "share"), "")
}

func configFilePath() string {
	return xdgPath("XDG_CONFIG_HOME", ".config", "config.json")
}

func secretsFilePath() string {
	return xdgPath("XDG_DATA_HOME", filepath.Join(".local", "share"), "secrets.json")
}

func apiKeyHint(account string) string {
	return fmt.Sprintf(" or %s (service: aide, account: %s)", secretsFilePath(), account)
}

// jsonFileBackend keeps settings in one flat JSON document. Values written
// by hand may be numbers or booleans; they are read back in string form.
type jsonFileBackend struct {
	path   string
	values map[string]any
}

func newPlatformBackend() ConfigBackend {
	b := &jsonFileBackend{path: configFilePath(), values: map[string]any{}}
	if err := b.reload(); err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] ignoring config file %s: %v\n", b.path, err)
	}
	return b
}

func (b *jsonFileBackend) reload() error {
	raw, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, &b.values)
}

func (b *jsonFileBackend) flush() error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	raw, err := json.MarshalIndent(b.values, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(b.path, append(raw, '\n'), 0o600)
}

func (b *jsonFileBackend) Get(key string) (string, bool, error) {
	v, ok := b.values[key]
	if !ok || v == nil {
		return "", false, nil
	}
	switch t := v.(type) {
	case string:
		return t, true, nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true, nil
	case bool:
		return strconv.FormatBool(t), true, nil
	default:
		return "", true, fmt.Errorf("config key %s holds a %T", key, v)
	}
}

func (b *jsonFileBackend) Set(key, val string) error {
	b.values[key] = val
	return b.flush()
}

func (b *jsonFileBackend) Delete(key string) error {
	if _, ok := b.values[key]; !ok {
		return nil
	}
	delete(b.values, key)
	return b.flush()
}

// keychainExec looks the secret up in secrets.json, laid out as
// {"<service>": {"<account>": "<value>"}}.
func keychainExec(service, account string) ([]byte, error) {
	raw, err := os.ReadFile(secretsFilePath())
	if err != nil {
		return nil, fmt.Errorf("read secrets: %w", err)
	}
	var bySvc map[string]map[string]string
	if err := json.Unmarshal(raw, &bySvc); err != nil {
		return nil, fmt.Errorf("decode secrets: %w", err)
	}
	val, ok := bySvc[service][account]
	if !ok {
		return nil, fmt.Errorf("no secret for %s/%s", service, account)
	}
	return []byte(val), nil
}
