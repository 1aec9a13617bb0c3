package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	_ "github.com/lib/pq"

	"aqi-platform/internal/config"
	"aqi-platform/pkg/database"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	dir := flag.String("dir", "migrations", "Directory containing migration files")
	flag.Parse()

	if *direction != "up" && *direction != "down" {
		fmt.Fprintf(os.Stderr, "Unknown direction %q, expected up or down\n", *direction)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	dbCfg := database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Database,
		SSLMode:  cfg.Database.SSLMode,
	}

	db, err := sql.Open("postgres", dbCfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to ping database: %v\n", err)
		os.Exit(1)
	}

	files, err := filepath.Glob(filepath.Join(*dir, "*."+*direction+".sql"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list migrations: %v\n", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintf(os.Stderr, "No *.%s.sql files found in %s\n", *direction, *dir)
		os.Exit(1)
	}

	// Up migrations apply in file order, down migrations unwind in reverse.
	sort.Strings(files)
	if *direction == "down" {
		for i, j := 0, len(files)-1; i < j; i, j = i+1, j-1 {
			files[i], files[j] = files[j], files[i]
		}
	}

	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read %s: %v\n", file, err)
			os.Exit(1)
		}

		fmt.Printf("Applying %s\n", file)

		tx, err := db.Begin()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to begin transaction: %v\n", err)
			os.Exit(1)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			fmt.Fprintf(os.Stderr, "Migration %s failed: %v\n", file, err)
			os.Exit(1)
		}
		if err := tx.Commit(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to commit %s: %v\n", file, err)
			os.Exit(1)
		}
	}

	fmt.Printf("Applied %d migration(s)\n", len(files))
}
