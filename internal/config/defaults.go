package config

// Daemon setting defaults, applied whenever a value is absent or malformed.
const (
	DefaultCheckInterval = 300
	DefaultMaxContainers = 5
	DefaultAPIServerPort = 5555
)

// Init writes a starter configuration file.
func Init(path string, force bool) error {
	return writeStarterConfig(path, force)
}
