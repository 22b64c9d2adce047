package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/askdocs/askdocs/cmd"
)

func main() {
	// Missing .env files are fine; environment variables win either way.
	_ = godotenv.Load()
	if err := cmd.RootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
