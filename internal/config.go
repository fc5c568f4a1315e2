package internal

import "time"

// Config holds every tunable of the session engine. Values map 1:1 to
// environment variables; binaries load a .env first via godotenv.
type Config struct {
	APIBaseURL string `env:"API_BASE_URL,default=http://localhost:3000"`
	SocketURL  string `env:"SOCKET_URL,default=ws://localhost:3000/socket"`

	HTTPTimeout    time.Duration `env:"HTTP_TIMEOUT,default=10s"`
	ConnectTimeout time.Duration `env:"CONNECT_TIMEOUT,default=10s"`

	// Reconnection is bounded: after ReconnectAttempts failed redials the
	// connection parks in the failed state until an explicit connect.
	ReconnectAttempts int           `env:"RECONNECT_ATTEMPTS,default=5"`
	ReconnectDelay    time.Duration `env:"RECONNECT_DELAY,default=1s"`

	LogLevel string `env:"LOG_LEVEL,default=info"`
}
