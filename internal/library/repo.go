package library

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"mangafeed/pkg/models"
)

type Repo struct {
	DB *sql.DB
}

func NewRepo(db *sql.DB) *Repo {
	return &Repo{DB: db}
}

// Records returns every locally known manga record.
func (r *Repo) Records(ctx context.Context) ([]models.Manga, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, title, author, genres, status, description, cover_url, in_library, source_id
		FROM manga
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// RecordByID returns one record, or (nil, nil) if it doesn't exist.
func (r *Repo) RecordByID(ctx context.Context, id int) (*models.Manga, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT id, title, author, genres, status, description, cover_url, in_library, source_id
		FROM manga
		WHERE id = ?
	`, id)

	m, err := scanRecord(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get record: %w", err)
	}
	return &m, nil
}

// UpsertRecord inserts or refreshes a record. The in_library flag is only
// written on insert; updates keep the user's existing flag.
func (r *Repo) UpsertRecord(ctx context.Context, m models.Manga) error {
	genres, err := json.Marshal(m.Genres)
	if err != nil {
		return fmt.Errorf("marshal genres: %w", err)
	}

	_, err = r.DB.ExecContext(ctx, `
		INSERT INTO manga (id, title, author, genres, status, description, cover_url, in_library, source_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			author = excluded.author,
			genres = excluded.genres,
			status = excluded.status,
			description = excluded.description,
			cover_url = excluded.cover_url,
			source_id = excluded.source_id
	`, m.ID, m.Title, m.Author, string(genres), m.Status, m.Description, m.CoverURL, boolToInt(m.InLibrary), m.SourceID)
	if err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}

// SetInLibrary flips the library flag. Returns false when the record is
// unknown.
func (r *Repo) SetInLibrary(ctx context.Context, id int, inLibrary bool) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE manga SET in_library = ? WHERE id = ?
	`, boolToInt(inLibrary), id)
	if err != nil {
		return false, fmt.Errorf("set in_library: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// History returns reading history ordered most recent first.
func (r *Repo) History(ctx context.Context) ([]models.HistoryEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT manga_id, chapter_name, page_number, read_at
		FROM history
		ORDER BY read_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	out := make([]models.HistoryEntry, 0, 64)
	for rows.Next() {
		var (
			e      models.HistoryEntry
			readAt time.Time
		)
		if err := rows.Scan(&e.MangaID, &e.ChapterName, &e.PageNumber, &readAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		e.ReadAt = readAt
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows err: %w", err)
	}
	return out, nil
}

// AddHistory appends one reading session.
func (r *Repo) AddHistory(ctx context.Context, e models.HistoryEntry) error {
	at := e.ReadAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO history (manga_id, chapter_name, page_number, read_at)
		VALUES (?, ?, ?, ?)
	`, e.MangaID, e.ChapterName, e.PageNumber, at)
	if err != nil {
		return fmt.Errorf("add history: %w", err)
	}
	return nil
}

func scanRecords(rows *sql.Rows) ([]models.Manga, error) {
	out := make([]models.Manga, 0, 64)
	for rows.Next() {
		m, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan record row: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows err: %w", err)
	}
	return out, nil
}

func scanRecord(scan func(...any) error) (models.Manga, error) {
	var (
		m          models.Manga
		author     sql.NullString
		genresJSON string
		status     sql.NullString
		desc       sql.NullString
		coverURL   sql.NullString
		inLibrary  int
		sourceID   sql.NullString
	)

	if err := scan(
		&m.ID, &m.Title, &author, &genresJSON, &status, &desc, &coverURL, &inLibrary, &sourceID,
	); err != nil {
		return models.Manga{}, err
	}

	m.Author = author.String
	m.Status = status.String
	m.Description = desc.String
	m.CoverURL = coverURL.String
	m.InLibrary = inLibrary != 0
	m.SourceID = sourceID.String
	_ = json.Unmarshal([]byte(genresJSON), &m.Genres)
	return m, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
