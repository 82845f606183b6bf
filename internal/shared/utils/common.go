package utils

import (
	"errors"
	"os"

	"github.com/joho/godotenv"
)

// LoadEnv reads a local .env file unless running in a deployed environment.
// A missing file is not an error, the process environment may already be set.
func LoadEnv() {
	if os.Getenv("ENV") != "PROD" && os.Getenv("ENV") != "DEV" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			panic(err)
		}
	}
}

func ErrorsIsAny(err error, errs ...error) bool {
	for _, e := range errs {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}
