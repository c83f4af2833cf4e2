package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/zombar/imageharvest/models"
	"github.com/zombar/imageharvest/slug"
)

// DB wraps the database connection and provides data access methods
type DB struct {
	conn *sql.DB
}

// Config contains database configuration
type Config struct {
	DSN string // PostgreSQL connection string
}

// New creates a new database connection
func New(config Config) (*DB, error) {
	conn, err := sql.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Configure connection pool
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn}

	if err := Migrate(conn); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// DB returns the underlying database connection for metrics collection
func (db *DB) DB() *sql.DB {
	return db.conn
}

// SaveJobResult persists a finished job and its images atomically.
// Re-running a job for the same ID replaces the previous result.
func (db *DB) SaveJobResult(resp *models.ExtractResponse) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	jsonData, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to marshal job result: %w", err)
	}

	query := `
		INSERT INTO harvest_jobs (id, source_url, status, error, data, processing_time_ms, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), $7)
		ON CONFLICT(id) DO UPDATE SET
			source_url = excluded.source_url,
			status = excluded.status,
			error = excluded.error,
			data = excluded.data,
			processing_time_ms = excluded.processing_time_ms,
			completed_at = excluded.completed_at
	`

	_, err = tx.Exec(
		query,
		resp.JobID,
		resp.SourceURL,
		resp.Status,
		resp.Error,
		string(jsonData),
		resp.ProcessingTimeMS,
		resp.GeneratedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}

	// Delete old images for this job (if re-run)
	_, err = tx.Exec("DELETE FROM harvest_job_images WHERE job_id = $1", resp.JobID)
	if err != nil {
		return fmt.Errorf("failed to delete old images: %w", err)
	}

	imageQuery := `
		INSERT INTO harvest_job_images (job_id, position, url, landing_page, alt, hash, type, confidence, width, height, content_type, exif_data, slug, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())
	`

	for i, image := range resp.Images {
		var exifJSON []byte
		if image.EXIF != nil {
			exifJSON, err = json.Marshal(image.EXIF)
			if err != nil {
				return fmt.Errorf("failed to marshal EXIF: %w", err)
			}
		}

		_, err = tx.Exec(
			imageQuery,
			resp.JobID,
			i,
			image.URL,
			image.LandingPage,
			image.Alt,
			image.Hash,
			image.Type,
			image.Confidence,
			image.Width,
			image.Height,
			image.ContentType,
			string(exifJSON),
			slug.FromImageInfo(image.Alt, image.URL),
		)
		if err != nil {
			return fmt.Errorf("failed to save image %s: %w", image.URL, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetJob retrieves a stored job result by ID. Returns nil when no job
// exists with that ID.
func (db *DB) GetJob(id string) (*models.ExtractResponse, error) {
	var jsonData string
	query := "SELECT data FROM harvest_jobs WHERE id = $1"

	err := db.conn.QueryRow(query, id).Scan(&jsonData)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query job: %w", err)
	}

	var resp models.ExtractResponse
	if err := json.Unmarshal([]byte(jsonData), &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return &resp, nil
}

// GetJobBySourceURL retrieves the most recent stored job for a source URL
func (db *DB) GetJobBySourceURL(sourceURL string) (*models.ExtractResponse, error) {
	var jsonData string
	query := `
		SELECT data FROM harvest_jobs
		WHERE source_url = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	err := db.conn.QueryRow(query, sourceURL).Scan(&jsonData)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query job by URL: %w", err)
	}

	var resp models.ExtractResponse
	if err := json.Unmarshal([]byte(jsonData), &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return &resp, nil
}

// GetJobImages retrieves the stored images for a job in result order
func (db *DB) GetJobImages(jobID string) ([]models.FinalImage, error) {
	query := `
		SELECT url, landing_page, alt, hash, type, confidence, width, height, content_type, exif_data
		FROM harvest_job_images
		WHERE job_id = $1
		ORDER BY position
	`
	rows, err := db.conn.Query(query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query job images: %w", err)
	}
	defer rows.Close()

	var results []models.FinalImage
	for rows.Next() {
		var (
			image       models.FinalImage
			imgType     sql.NullString
			confidence  sql.NullFloat64
			width       sql.NullInt64
			height      sql.NullInt64
			contentType sql.NullString
			exifJSON    sql.NullString
		)

		if err := rows.Scan(&image.URL, &image.LandingPage, &image.Alt, &image.Hash,
			&imgType, &confidence, &width, &height, &contentType, &exifJSON); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		if imgType.Valid {
			image.Type = imgType.String
		}
		if confidence.Valid {
			c := confidence.Float64
			image.Confidence = &c
		}
		if width.Valid {
			image.Width = int(width.Int64)
		}
		if height.Valid {
			image.Height = int(height.Int64)
		}
		if contentType.Valid {
			image.ContentType = contentType.String
		}
		if exifJSON.Valid && exifJSON.String != "" && exifJSON.String != "null" {
			var exif models.EXIFData
			if err := json.Unmarshal([]byte(exifJSON.String), &exif); err != nil {
				return nil, fmt.Errorf("failed to unmarshal EXIF: %w", err)
			}
			image.EXIF = &exif
		}

		results = append(results, image)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return results, nil
}

// List returns stored jobs newest-first with pagination
func (db *DB) List(limit, offset int) ([]*models.ExtractResponse, error) {
	query := `
		SELECT data FROM harvest_jobs
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := db.conn.Query(query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var results []*models.ExtractResponse
	for rows.Next() {
		var jsonData string
		if err := rows.Scan(&jsonData); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		var resp models.ExtractResponse
		if err := json.Unmarshal([]byte(jsonData), &resp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job: %w", err)
		}

		results = append(results, &resp)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return results, nil
}

// Count returns the total count of stored jobs
func (db *DB) Count() (int, error) {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM harvest_jobs").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return count, nil
}

// JobStats contains statistics about stored jobs for metrics collection
type JobStats struct {
	TotalJobs   int
	TotalImages int
}

// GetJobStats returns aggregate counts for Prometheus metrics
func (db *DB) GetJobStats() (*JobStats, error) {
	stats := &JobStats{}

	if err := db.conn.QueryRow("SELECT COUNT(*) FROM harvest_jobs").Scan(&stats.TotalJobs); err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	if err := db.conn.QueryRow("SELECT COUNT(*) FROM harvest_job_images").Scan(&stats.TotalImages); err != nil {
		return nil, fmt.Errorf("failed to count images: %w", err)
	}

	return stats, nil
}
