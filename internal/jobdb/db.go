package jobdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
)

const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

const (
	outboxPending   = "pending"
	outboxClaimed   = "claimed"
	outboxPublished = "published"
)

// OutboxClaimTimeout is how long a claimed outbox row stays invisible to
// other publishers before it can be claimed again.
const OutboxClaimTimeout = 30 * time.Second

var ErrIdempotencyKeyConflict = errors.New("idempotency key reused with different payload")

type Job struct {
	ID        string
	Status    string
	Payload   json.RawMessage
	Result    json.RawMessage
	Error     sql.NullString
	CreatedAt string
	UpdatedAt string
}

type OutboxMessage struct {
	ID        string
	JobID     string
	Payload   json.RawMessage
	Attempts  int
	CreatedAt string
}

// Envelope is the message published for a new job.
type Envelope struct {
	JobID string `json:"jobId"`
}

func Open(dsn string) (*sql.DB, error) {
	// Open a MySQL connection pool for job storage.
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetMaxIdleConns(5)
	db.SetMaxOpenConns(10)
	return db, nil
}

// Init creates the job tables when they are missing. Deployments normally run
// cmd/migrate instead; Init keeps local workers self-contained.
func Init(db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	var columnType string
	if err := db.QueryRow(`
		SELECT COLUMN_TYPE
		FROM information_schema.columns
		WHERE table_schema = DATABASE() AND table_name = 'jobs' AND column_name = 'id'`,
	).Scan(&columnType); err != nil {
		return err
	}
	columnType = strings.ToLower(columnType)
	if !strings.HasPrefix(columnType, "char(36)") && !strings.HasPrefix(columnType, "varchar(36)") {
		return fmt.Errorf("jobs.id must be CHAR(36) or VARCHAR(36) for UUIDs; migrate existing table")
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		id CHAR(36) PRIMARY KEY,
		status VARCHAR(32) NOT NULL,
		payload JSON NOT NULL,
		result JSON,
		error TEXT,
		created_at VARCHAR(32) NOT NULL,
		updated_at VARCHAR(32) NOT NULL,
		INDEX idx_jobs_status_created (status, created_at)
	)`,
	`CREATE TABLE IF NOT EXISTS job_outbox (
		id CHAR(36) PRIMARY KEY,
		job_id CHAR(36) NOT NULL,
		payload JSON NOT NULL,
		status VARCHAR(32) NOT NULL,
		attempts INT NOT NULL DEFAULT 0,
		last_error TEXT,
		claimed_at VARCHAR(32),
		published_at VARCHAR(32),
		created_at VARCHAR(32) NOT NULL,
		INDEX idx_outbox_status_created (status, created_at)
	)`,
	`CREATE TABLE IF NOT EXISTS job_idempotency (
		idem_key VARCHAR(255) PRIMARY KEY,
		request_hash CHAR(64) NOT NULL,
		job_id CHAR(36) NOT NULL,
		created_at VARCHAR(32) NOT NULL
	)`,
}

func NowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// InsertJobWithOutbox stores a pending job and the outbox row announcing it
// in one transaction.
func InsertJobWithOutbox(db *sql.DB, payload json.RawMessage) (Job, OutboxMessage, error) {
	ctx := context.Background()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return Job{}, OutboxMessage{}, err
	}

	job, outbox, err := insertJobAndOutbox(ctx, tx, payload)
	if err != nil {
		_ = tx.Rollback()
		return Job{}, OutboxMessage{}, err
	}
	if err := tx.Commit(); err != nil {
		return Job{}, OutboxMessage{}, err
	}
	return job, outbox, nil
}

// InsertJobWithOutboxAndIdempotency behaves like InsertJobWithOutbox unless
// idemKey was seen before: the earlier job is returned with reused=true when
// requestHash matches, ErrIdempotencyKeyConflict otherwise.
func InsertJobWithOutboxAndIdempotency(db *sql.DB, payload json.RawMessage, idemKey, requestHash string) (Job, OutboxMessage, bool, error) {
	ctx := context.Background()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return Job{}, OutboxMessage{}, false, err
	}

	job, outbox, err := insertJobAndOutbox(ctx, tx, payload)
	if err != nil {
		_ = tx.Rollback()
		return Job{}, OutboxMessage{}, false, err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO job_idempotency (idem_key, request_hash, job_id, created_at) VALUES (?, ?, ?, ?)`,
		idemKey, requestHash, job.ID, job.CreatedAt,
	)
	if err != nil {
		_ = tx.Rollback()
		if !isDuplicateKeyError(err) {
			return Job{}, OutboxMessage{}, false, err
		}
		existing, err := lookupIdempotentJob(ctx, db, idemKey, requestHash)
		if err != nil {
			return Job{}, OutboxMessage{}, false, err
		}
		return existing, OutboxMessage{}, true, nil
	}

	if err := tx.Commit(); err != nil {
		return Job{}, OutboxMessage{}, false, err
	}
	return job, outbox, false, nil
}

func lookupIdempotentJob(ctx context.Context, db *sql.DB, idemKey, requestHash string) (Job, error) {
	var storedHash, jobID string
	err := db.QueryRowContext(ctx,
		`SELECT request_hash, job_id FROM job_idempotency WHERE idem_key = ?`, idemKey,
	).Scan(&storedHash, &jobID)
	if err != nil {
		return Job{}, err
	}
	if storedHash != requestHash {
		return Job{}, ErrIdempotencyKeyConflict
	}
	job, ok, err := GetJob(db, jobID)
	if err != nil {
		return Job{}, err
	}
	if !ok {
		return Job{}, fmt.Errorf("idempotency key %q points at missing job %s", idemKey, jobID)
	}
	return job, nil
}

func GetJob(db *sql.DB, jobID string) (Job, bool, error) {
	// Fetch a job by ID; ok=false when not found.
	var payload string
	var result sql.NullString
	var errText sql.NullString
	var job Job

	row := db.QueryRow(
		`SELECT id, status, payload, result, error, created_at, updated_at
		 FROM jobs WHERE id = ?`, jobID,
	)
	if err := row.Scan(&job.ID, &job.Status, &payload, &result, &errText, &job.CreatedAt, &job.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Job{}, false, nil
		}
		return Job{}, false, err
	}

	job.Payload = json.RawMessage(payload)
	if result.Valid {
		job.Result = json.RawMessage(result.String)
	}
	job.Error = errText

	return job, true, nil
}

func ClaimJob(ctx context.Context, db *sql.DB) (Job, bool, error) {
	// Atomically select and mark a pending job as in_progress.
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return Job{}, false, err
	}

	var job Job
	var payload string
	row := tx.QueryRowContext(
		ctx,
		`SELECT id, payload FROM jobs
		 WHERE status = 'pending'
		 ORDER BY created_at
		 LIMIT 1
		 FOR UPDATE SKIP LOCKED`,
	)
	if err := row.Scan(&job.ID, &payload); err != nil {
		_ = tx.Rollback()
		if errors.Is(err, sql.ErrNoRows) {
			return Job{}, false, nil
		}
		return Job{}, false, err
	}

	job.Payload = json.RawMessage(payload)
	job.Status = StatusInProgress
	job.UpdatedAt = NowISO()
	if _, err := tx.ExecContext(
		ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`,
		job.Status, job.UpdatedAt, job.ID,
	); err != nil {
		_ = tx.Rollback()
		return Job{}, false, err
	}

	if err := tx.Commit(); err != nil {
		return Job{}, false, err
	}

	return job, true, nil
}

func CompleteJob(db *sql.DB, jobID string, result json.RawMessage) error {
	// Mark a job as done and store its result JSON.
	_, err := db.Exec(
		`UPDATE jobs SET status = ?, result = ?, error = NULL, updated_at = ? WHERE id = ?`,
		StatusDone, string(result), NowISO(), jobID,
	)
	return err
}

func FailJob(db *sql.DB, jobID string, errMsg string) error {
	// Mark a job as failed and store the error string.
	_, err := db.Exec(
		`UPDATE jobs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		StatusFailed, errMsg, NowISO(), jobID,
	)
	return err
}

// ClaimOutboxBatch returns up to limit unpublished outbox rows, oldest first,
// and hides them from other publishers for OutboxClaimTimeout.
func ClaimOutboxBatch(ctx context.Context, db *sql.DB, limit int) ([]OutboxMessage, error) {
	if limit <= 0 {
		limit = 10
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	staleBefore := now.Add(-OutboxClaimTimeout).Format(time.RFC3339)
	rows, err := tx.QueryContext(ctx,
		`SELECT id, job_id, payload, attempts, created_at FROM job_outbox
		 WHERE status = ? OR (status = ? AND claimed_at < ?)
		 ORDER BY created_at
		 LIMIT ?
		 FOR UPDATE SKIP LOCKED`,
		outboxPending, outboxClaimed, staleBefore, limit,
	)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	var messages []OutboxMessage
	for rows.Next() {
		var msg OutboxMessage
		var payload string
		if err := rows.Scan(&msg.ID, &msg.JobID, &payload, &msg.Attempts, &msg.CreatedAt); err != nil {
			_ = rows.Close()
			_ = tx.Rollback()
			return nil, err
		}
		msg.Payload = json.RawMessage(payload)
		messages = append(messages, msg)
	}
	if err := rows.Close(); err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := rows.Err(); err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	claimedAt := now.Format(time.RFC3339)
	for i := range messages {
		messages[i].Attempts++
		if _, err := tx.ExecContext(ctx,
			`UPDATE job_outbox SET status = ?, claimed_at = ?, attempts = ? WHERE id = ?`,
			outboxClaimed, claimedAt, messages[i].Attempts, messages[i].ID,
		); err != nil {
			_ = tx.Rollback()
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return messages, nil
}

func MarkOutboxPublished(db *sql.DB, outboxID string) error {
	_, err := db.Exec(
		`UPDATE job_outbox SET status = ?, published_at = ?, last_error = NULL WHERE id = ?`,
		outboxPublished, NowISO(), outboxID,
	)
	return err
}

// RecordOutboxError stores a publish failure and returns the row to the
// pending queue.
func RecordOutboxError(db *sql.DB, outboxID string, errMsg string) error {
	_, err := db.Exec(
		`UPDATE job_outbox SET status = ?, last_error = ?, claimed_at = NULL WHERE id = ?`,
		outboxPending, errMsg, outboxID,
	)
	return err
}

func newJob(payload json.RawMessage) Job {
	createdAt := NowISO()
	return Job{
		ID:        uuid.NewString(),
		Status:    StatusPending,
		Payload:   payload,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertJob(ctx context.Context, db execer, job Job) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO jobs (id, status, payload, result, error, created_at, updated_at)
		 VALUES (?, ?, ?, NULL, NULL, ?, ?)`,
		job.ID, job.Status, string(job.Payload), job.CreatedAt, job.UpdatedAt,
	)
	return err
}

func insertJobAndOutbox(ctx context.Context, tx *sql.Tx, payload json.RawMessage) (Job, OutboxMessage, error) {
	job := newJob(payload)
	if err := insertJob(ctx, tx, job); err != nil {
		return Job{}, OutboxMessage{}, err
	}

	envelope, err := json.Marshal(Envelope{JobID: job.ID})
	if err != nil {
		return Job{}, OutboxMessage{}, err
	}
	outbox := OutboxMessage{
		ID:        uuid.NewString(),
		JobID:     job.ID,
		Payload:   envelope,
		CreatedAt: job.CreatedAt,
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO job_outbox (id, job_id, payload, status, attempts, created_at)
		 VALUES (?, ?, ?, ?, 0, ?)`,
		outbox.ID, outbox.JobID, string(outbox.Payload), outboxPending, outbox.CreatedAt,
	); err != nil {
		return Job{}, OutboxMessage{}, err
	}
	return job, outbox, nil
}

func isDuplicateKeyError(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}
