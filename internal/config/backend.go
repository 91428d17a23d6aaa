package config

// ConfigBackend is the persistent store behind `aide config set`. Values
// travel as strings; each key's parser in the key table converts it.
type ConfigBackend interface {
	// Get reports ok=false for keys that were never written.
	Get(key string) (val string, ok bool, err error)
	Set(key, val string) error
	Delete(key string) error
}
