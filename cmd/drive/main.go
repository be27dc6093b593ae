package main

import (
	"os"

	_ "github.com/joho/godotenv/autoload"

	"github.com/sir_venger/drive_lite/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
