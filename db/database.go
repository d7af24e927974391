package db

import (
	"database/sql"
	"fmt"
	"log"

	"AutoFM/config"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
)

var DB *sql.DB

// ConnectDB establishes a connection to the database.
func ConnectDB(cfg *config.Config) error {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)

	var err error
	DB, err = sql.Open("mysql", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	if err = DB.Ping(); err != nil {
		DB.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("Successfully connected to the database.")
	return nil
}

// InitDB initializes the database schema, creating tables if they
// don't exist.
func InitDB() error {
	if err := createMixesTable(); err != nil {
		return err
	}
	log.Println("Database initialization completed.")
	return nil
}

func createMixesTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS mixes (
		id VARCHAR(36) PRIMARY KEY,
		title VARCHAR(255) NOT NULL,
		genre VARCHAR(100) NOT NULL,
		requested_minutes INT NOT NULL,
		status VARCHAR(20) NOT NULL,
		duration DOUBLE NULL,
		artifact_path VARCHAR(512) NOT NULL DEFAULT '',
		fail_reason VARCHAR(255) NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		completed_at TIMESTAMP NULL,
		INDEX idx_mixes_genre (genre),
		INDEX idx_mixes_status (status)
	);
	`
	_, err := DB.Exec(query)
	if err != nil {
		return fmt.Errorf("failed to create mixes table: %w", err)
	}
	return nil
}
