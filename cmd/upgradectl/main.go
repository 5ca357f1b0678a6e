package main

import (
	"log"
	_ "time/tzdata"

	"upgrade-service/internal/cli"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, relying on system env vars")
	}
	cli.Execute()
}
