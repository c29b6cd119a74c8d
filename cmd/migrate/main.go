package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"streetcount/internal/repository/sqlite"
	"streetcount/internal/services/report"
)

func main() {
	dbPath := flag.String("db", "data/results.db", "Database path")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintf(os.Stderr, "Usage: %s [-db path] <report.json>...\n", os.Args[0])
		os.Exit(2)
	}

	// Ensure database directory exists
	if err := os.MkdirAll(filepath.Dir(*dbPath), 0755); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	db, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	repo := sqlite.NewBatchRepository(db)
	ctx := context.Background()

	imported, skipped := 0, 0
	for _, path := range flag.Args() {
		b, err := report.Read(path)
		if err != nil {
			log.Printf("⚠️  Skipping %s: %v", path, err)
			skipped++
			continue
		}
		if b.Summary.BatchID == "" {
			log.Printf("⚠️  Skipping %s: report has no batch id", path)
			skipped++
			continue
		}
		if err := repo.Save(ctx, b); err != nil {
			log.Fatalf("Failed to import %s: %v", path, err)
		}
		fmt.Printf("Imported batch %s from %s (%d results, %d errors)\n", b.Summary.BatchID, path, len(b.Results()), len(b.Errors()))
		imported++
	}

	fmt.Printf("✅ Imported %d report(s) into %s\n", imported, *dbPath)
	if skipped > 0 {
		fmt.Printf("⚠️  Skipped %d file(s)\n", skipped)
	}

	summaries, err := repo.List(ctx, 0)
	if err == nil {
		fmt.Printf("\n📊 Database Statistics:\n")
		fmt.Printf("   Stored batches: %d\n", len(summaries))
		for _, s := range summaries {
			fmt.Printf("      - %s: %d images, %d people, %d vehicles, %d traffic lights\n",
				s.BatchID, s.TotalImages, s.TotalPeople, s.TotalVehicles, s.TotalTrafficLights)
		}
	}
}
