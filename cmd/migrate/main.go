package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ignite/habit-coach/internal/config"
	"github.com/ignite/habit-coach/internal/repository/postgres"
)

const ledgerDDL = `CREATE TABLE IF NOT EXISTS schema_migrations (
	name       TEXT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

func main() {
	cfg, err := config.LoadFromEnv(os.Getenv("COACH_CONFIG"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	dir := "migrations"
	listOnly := false
	for _, a := range os.Args[1:] {
		if a == "--list" {
			listOnly = true
		} else {
			dir = a
		}
	}

	ctx := context.Background()
	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer db.Close()
	log.Println("Connected to database")

	if _, err := db.ExecContext(ctx, ledgerDDL); err != nil {
		log.Fatalf("create schema_migrations: %v", err)
	}
	applied, err := appliedMigrations(ctx, db)
	if err != nil {
		log.Fatal(err)
	}

	if listOnly {
		names := make([]string, 0, len(applied))
		for n := range applied {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			fmt.Println(" ", n)
		}
		fmt.Printf("Total: %d applied\n", len(names))
		return
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Fatalf("read migrations dir %s: %v", dir, err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	var okCount, skipCount int
	for _, f := range files {
		if applied[f] {
			skipCount++
			continue
		}
		path := filepath.Join(dir, f)
		data, err := os.ReadFile(path)
		if err != nil {
			log.Fatalf("read %s: %v", path, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}
		fmt.Printf("  %s ... ", f)
		if err := apply(ctx, db, f, string(data)); err != nil {
			fmt.Println("ERROR")
			// Later files build on earlier ones; stop at the first failure.
			log.Fatalf("%s: %v", f, err)
		}
		fmt.Println("OK")
		okCount++
	}
	log.Printf("Done: %d applied, %d already up to date", okCount, skipCount)
	log.Println("Migrations complete")
}

func appliedMigrations(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT name FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	defer rows.Close()
	out := make(map[string]bool)
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out[n] = true
	}
	return out, rows.Err()
}

// apply runs one file and records it in the same transaction.
func apply(ctx context.Context, db *sql.DB, name, content string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, content); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, name); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
