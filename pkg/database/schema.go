package database

import (
	"context"
	"fmt"
)

// InitSchema creates the job, log and findings tables.
func (db *PostgresDB) InitSchema(ctx context.Context, findingsTable string, dimension int) error {
	// 1. Research Jobs Table
	jobsQuery := `
		CREATE TABLE IF NOT EXISTS research_jobs (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			topic TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			config JSONB,
			report TEXT,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);
	`
	if _, err := db.Pool.Exec(ctx, jobsQuery); err != nil {
		return fmt.Errorf("failed to create research_jobs table: %w", err)
	}

	// 2. Research Logs Table
	logsQuery := `
		CREATE TABLE IF NOT EXISTS research_logs (
			id SERIAL PRIMARY KEY,
			job_id UUID NOT NULL REFERENCES research_jobs(id) ON DELETE CASCADE,
			timestamp TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			metadata JSONB
		);
	`
	if _, err := db.Pool.Exec(ctx, logsQuery); err != nil {
		return fmt.Errorf("failed to create research_logs table: %w", err)
	}

	if _, err := db.Pool.Exec(ctx, "CREATE INDEX IF NOT EXISTS idx_research_logs_job_id ON research_logs(job_id)"); err != nil {
		return fmt.Errorf("failed to create index on research_logs: %w", err)
	}
	if _, err := db.Pool.Exec(ctx, "CREATE INDEX IF NOT EXISTS idx_research_jobs_created_at ON research_jobs(created_at DESC)"); err != nil {
		return fmt.Errorf("failed to create index on research_jobs: %w", err)
	}

	// 3. Result columns (migration for older databases)
	migrations := []string{
		"ALTER TABLE research_jobs ADD COLUMN IF NOT EXISTS state JSONB",
		"ALTER TABLE research_jobs ADD COLUMN IF NOT EXISTS confidence_score INTEGER",
		"ALTER TABLE research_jobs ADD COLUMN IF NOT EXISTS iterations INTEGER",
		"ALTER TABLE research_jobs ADD COLUMN IF NOT EXISTS sources JSONB",
		"ALTER TABLE research_jobs ADD COLUMN IF NOT EXISTS error TEXT",
	}
	for _, m := range migrations {
		if _, err := db.Pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("failed to migrate research_jobs: %w", err)
		}
	}

	// 4. Findings (pgvector)
	if err := db.EnsureVectorExtension(ctx); err != nil {
		return fmt.Errorf("failed to enable pgvector: %w", err)
	}
	return db.CreateFindingsTable(ctx, findingsTable, dimension)
}
