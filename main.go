package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"stealthcompany.com/hisextract/internal/cli"
	"stealthcompany.com/hisextract/pkg/zerolog_config"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("No .env file found, assuming environment variables are set")
	}

	if err := zerolog_config.Startup(os.Getenv("ELASTICSEARCH_URL"), "hisextract"); err != nil {
		log.Fatal().Err(err).Msg("Failed to configure logging")
	}

	cli.Execute()
}
