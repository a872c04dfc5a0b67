package postgres

import (
	"context"
	"fmt"
)

// Capabilities records which optional columns exist in the connected schema.
// It is probed once at startup and shared read-only by the stores.
type Capabilities struct {
	CredsEncrypted       bool
	CredsStatus          bool
	CredsStatusUpdatedAt bool
	TotalRecords         bool
}

// AllCapabilities describes a fully migrated schema.
func AllCapabilities() Capabilities {
	return Capabilities{
		CredsEncrypted:       true,
		CredsStatus:          true,
		CredsStatusUpdatedAt: true,
		TotalRecords:         true,
	}
}

const probeSQL = `
SELECT table_name, column_name
FROM information_schema.columns
WHERE table_schema = current_schema()
  AND table_name IN ('users', 'scrape_jobs')
  AND column_name IN ('creds_encrypted', 'creds_status', 'creds_status_updated_at', 'total_records')`

// ProbeSchema inspects information_schema for the optional columns.
func ProbeSchema(ctx context.Context, db DB) (Capabilities, error) {
	rows, err := db.Query(ctx, probeSQL)
	if err != nil {
		return Capabilities{}, fmt.Errorf("probe schema: %w", err)
	}
	defer rows.Close()

	var caps Capabilities
	for rows.Next() {
		var table, column string
		if err := rows.Scan(&table, &column); err != nil {
			return Capabilities{}, fmt.Errorf("scan schema column: %w", err)
		}
		switch table + "." + column {
		case "users.creds_encrypted":
			caps.CredsEncrypted = true
		case "users.creds_status":
			caps.CredsStatus = true
		case "users.creds_status_updated_at":
			caps.CredsStatusUpdatedAt = true
		case "scrape_jobs.total_records":
			caps.TotalRecords = true
		}
	}
	if err := rows.Err(); err != nil {
		return Capabilities{}, fmt.Errorf("iterate schema columns: %w", err)
	}
	return caps, nil
}
