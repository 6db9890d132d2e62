// This file is used to run database schema migrations
// How to run:
// go run cmd/migrate/main.go                  # Migrate using DB_* env vars
// go run cmd/migrate/main.go -host db -port 5433
package main

import (
	"flag"
	"log"

	"github.com/joho/godotenv"

	"github.com/docuflow/docuflow/internal/config"
	"github.com/docuflow/docuflow/internal/constants"
	"github.com/docuflow/docuflow/internal/db"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	var (
		host     = flag.String("host", config.GetEnv(constants.EnvDBHost, db.DefaultHost), "Database host")
		port     = flag.Int("port", config.GetEnvInt(constants.EnvDBPort, db.DefaultPort), "Database port")
		user     = flag.String("user", config.GetEnv(constants.EnvDBUser, db.DefaultUser), "Database user")
		password = flag.String("password", config.GetEnv(constants.EnvDBPassword, db.DefaultPassword), "Database password")
		name     = flag.String("name", config.GetEnv(constants.EnvDBName, db.DefaultDBName), "Database name")
	)
	flag.Parse()

	// db.New runs the schema migrations as part of connecting
	if _, err := db.New(db.Options{
		Host:     *host,
		Port:     *port,
		User:     *user,
		Password: *password,
		DBName:   *name,
	}); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	log.Println("Migrations applied")
}
