package config

import (
	"os"

	"github.com/joho/godotenv"
)

// secretEnvKeys are the only variables a .env file may provide
var secretEnvKeys = []string{
	EnvDatabasePassword,
	EnvLoadDataPassword,
	EnvSMTPPassword,
	EnvBackupAccessKey,
	EnvBackupSecretKey,
}

// LoadDotEnv copies secret variables from the given .env files into the
// environment. Variables already set in the process environment win, and
// earlier files win over later ones. Missing files are skipped.
func LoadDotEnv(paths ...string) {
	orig := map[string]struct{}{}
	for _, key := range secretEnvKeys {
		if _, ok := os.LookupEnv(key); ok {
			orig[key] = struct{}{}
		}
	}

	for _, path := range paths {
		env, err := godotenv.Read(path)
		if err != nil {
			continue
		}

		for _, key := range secretEnvKeys {
			val, ok := env[key]
			if !ok {
				continue
			}
			if _, ok := orig[key]; ok {
				continue
			}
			_ = os.Setenv(key, val)
			orig[key] = struct{}{}
		}
	}
}
