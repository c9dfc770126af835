package config

import (
	"os"
	"strconv"
)

type Config struct {
	Port                 int
	DBDSN                string
	JWTSecret            string
	WSInsecureSkipVerify bool
	StartingCredits      int
}

func Load() Config {
	port := 8084
	if v := os.Getenv("APP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			port = p
		}
	}

	startingCredits := 500
	if v := os.Getenv("STARTING_CREDITS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			startingCredits = n
		}
	}

	wsInsecure := false
	if os.Getenv("WS_INSECURE_SKIP_VERIFY") == "true" {
		wsInsecure = true
	}

	return Config{
		Port:                 port,
		DBDSN:                os.Getenv("DB_DSN"),
		JWTSecret:            os.Getenv("JWT_SECRET"),
		WSInsecureSkipVerify: wsInsecure,
		StartingCredits:      startingCredits,
	}
}
