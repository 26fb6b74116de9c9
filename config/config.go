package config

import (
	"errors"
	"io/fs"
	"log"

	"github.com/joho/godotenv"
)

// LoadEnv loads the given env files (".env" when none are given) into the
// process environment. Variables already set win over the files. A missing
// file is not an error: in containers everything comes from the environment.
func LoadEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				log.Printf("no %s file, using process environment", f)
				continue
			}
			log.Printf("load %s: %v", f, err)
		}
	}
}
