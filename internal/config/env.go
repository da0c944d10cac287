package config

import (
	"fmt"
	"os"
	"regexp"

	"github.com/joho/godotenv"
)

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// InterpolateEnv replaces ${VAR} references in text. Values come from the
// OS environment first, then from the dotenv file when it exists.
// Unresolved references are left untouched.
func InterpolateEnv(text, dotenvPath string) (string, error) {
	if !envRef.MatchString(text) {
		return text, nil
	}
	fileVars, err := readDotEnv(dotenvPath)
	if err != nil {
		return "", err
	}
	return envRef.ReplaceAllStringFunc(text, func(match string) string {
		name := envRef.FindStringSubmatch(match)[1]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		if v, ok := fileVars[name]; ok {
			return v
		}
		return match
	}), nil
}

func readDotEnv(path string) (map[string]string, error) {
	vars, err := godotenv.Read(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return vars, nil
}
