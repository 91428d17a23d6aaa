package config

import (
	"fmt"
)

// KeyInfo is one row of `aide config show`.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// ShowAll lists every non-secret key with its effective value in cfg.
func ShowAll(cfg Config) []KeyInfo {
	rows := make([]KeyInfo, 0, len(specs))
	for _, s := range specs {
		if !s.secret {
			rows = append(rows, KeyInfo{Key: s.key, EnvVar: s.env, Value: fmt.Sprint(s.extract(cfg))})
		}
	}
	return rows
}

// SetKey validates value against the key's type and persists it.
func SetKey(key, value string) error {
	return setKeyWith(newPlatformBackend(), key, value)
}

func setKeyWith(b ConfigBackend, key, value string) error {
	s, ok := lookupSpec(key)
	switch {
	case !ok:
		return fmt.Errorf("unknown config key: %q", key)
	case s.secret:
		return fmt.Errorf("%s is a secret; export %s or store it in the keychain instead", key, s.env)
	}
	if _, err := s.parse(value); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return b.Set(key, value)
}

// ValidKeys names the keys SetKey accepts.
func ValidKeys() []string {
	var keys []string
	for _, row := range ShowAll(Config{}) {
		keys = append(keys, row.Key)
	}
	return keys
}
