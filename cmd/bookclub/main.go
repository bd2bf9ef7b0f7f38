package main

import (
	stdLog "log"
	"time"

	"github.com/joho/godotenv"

	"github.com/AlexKenbo/book-club/app"
	"github.com/AlexKenbo/book-club/config"
)

func main() {
	if err := godotenv.Load(); err != nil {
		stdLog.Println("no .env file, using process environment")
	}
	cfg := config.NewConfig(
		config.WithWriteTimeout(time.Minute),
	)

	app.Run(cfg)
}
