//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const defaultsDomain = "com.aide.app"

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "aide")
	}
	return filepath.Join(home, "Library", "Application Support", "aide")
}

func apiKeyHint(account string) string {
	return fmt.Sprintf(" or the login keychain (service: aide, account: %s)", account)
}

// userDefaults shells out to defaults(1) for the com.aide.app domain.
type userDefaults struct {
	domain string
}

func newPlatformBackend() ConfigBackend {
	return userDefaults{domain: defaultsDomain}
}

func (d userDefaults) run(args ...string) (string, error) {
	out, err := exec.Command("defaults", append([]string{args[0], d.domain}, args[1:]...)...).CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

func (d userDefaults) Get(key string) (string, bool, error) {
	out, err := d.run("read", key)
	var exit *exec.ExitError
	switch {
	case err == nil:
		return out, true, nil
	case errors.As(err, &exit) && exit.ExitCode() == 1:
		// defaults exits 1 when the key is absent.
		return "", false, nil
	default:
		return "", false, fmt.Errorf("defaults read %s: %w: %s", key, err, out)
	}
}

func (d userDefaults) Set(key, val string) error {
	if out, err := d.run("write", key, "-string", val); err != nil {
		return fmt.Errorf("defaults write %s: %w: %s", key, err, out)
	}
	return nil
}

func (d userDefaults) Delete(key string) error {
	if _, ok, err := d.Get(key); err != nil || !ok {
		return err
	}
	if out, err := d.run("delete", key); err != nil {
		return fmt.Errorf("defaults delete %s: %w: %s", key, err, out)
	}
	return nil
}

func keychainExec(service, account string) ([]byte, error) {
	return exec.Command("security", "find-generic-password", "-w", "-s", service, "-a", account).Output()
}
