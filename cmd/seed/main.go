package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"mangafeed/internal/library"
	"mangafeed/pkg/database"
	"mangafeed/pkg/models"
	"mangafeed/pkg/utils"
)

// seedFile is the JSON shape this command consumes:
//
//	{
//	  "records": [ {manga record}, ... ],
//	  "library": [ 1, 5, 9 ],
//	  "history": [ {history entry}, ... ]
//	}
type seedFile struct {
	Records []models.Manga        `json:"records"`
	Library []int                 `json:"library"`
	History []models.HistoryEntry `json:"history"`
}

func main() {
	in := flag.String("in", "data/seed.json", "input JSON path")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg, err := utils.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	db := database.MustOpen(database.Config{Path: cfg.DB.Path})
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatalf("db migrate failed: %v", err)
	}

	if err := seed(ctx, db, *in); err != nil {
		log.Fatalf("seed failed: %v", err)
	}

	log.Printf("seeded from %s", *in)
}

func seed(ctx context.Context, db *sql.DB, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var sf seedFile
	if err := json.Unmarshal(b, &sf); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}

	repo := library.NewRepo(db)

	for _, rec := range sf.Records {
		if err := repo.UpsertRecord(ctx, rec); err != nil {
			return fmt.Errorf("record %d: %w", rec.ID, err)
		}
	}
	for _, id := range sf.Library {
		if _, err := repo.SetInLibrary(ctx, id, true); err != nil {
			return fmt.Errorf("library flag %d: %w", id, err)
		}
	}
	for _, entry := range sf.History {
		if err := repo.AddHistory(ctx, entry); err != nil {
			return fmt.Errorf("history for %d: %w", entry.MangaID, err)
		}
	}

	log.Printf("inserted %d records, %d library flags, %d history entries",
		len(sf.Records), len(sf.Library), len(sf.History))
	return nil
}
