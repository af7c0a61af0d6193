package config

// ServerConfig holds the introspection HTTP server settings.
type ServerConfig struct {
	// Addr is the listen address (host:port).
	Addr string `yaml:"addr"`
}

// DefaultServerConfig returns the built-in server settings.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{Addr: ":8080"}
}
