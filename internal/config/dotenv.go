package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads .env.local then .env from the working directory and
// returns the files it read. Variables already set in the process win.
func LoadDotEnv() ([]string, error) {
	if DotEnvDisabled() {
		return nil, nil
	}
	var loaded []string
	for _, p := range []string{".env.local", ".env"} {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return loaded, fmt.Errorf("load %s: %w", p, err)
		}
		loaded = append(loaded, p)
	}
	return loaded, nil
}

func DotEnvDisabled() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("APP_DOTENV"))) {
	case "0", "false", "off", "no":
		return true
	default:
		return false
	}
}
