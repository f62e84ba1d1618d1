// Package jobstore implements the ephemeral job metadata store on Redis
// hashes. Every record is created with a TTL and is never deleted
// explicitly; removal happens through expiry only.
package jobstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces all job metadata keys
const KeyPrefix = "job:"

// Metadata field names
const (
	FieldStatus      = "status"
	FieldModel       = "model"
	FieldLanguage    = "language"
	FieldFilename    = "filename"
	FieldSubmittedAt = "submitted_at"
	FieldCompletedAt = "completed_at"
	FieldProgress    = "progress"
	FieldResult      = "result"
	FieldError       = "error"
)

// Client-visible status values stored in the metadata record
const (
	StatusSubmitted  = "submitted"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// NoExpiry is the TTL reported by Redis for a key without an expiration
const NoExpiry = time.Duration(-1)

// ErrNotFound is returned when no metadata record exists for a job id
var ErrNotFound = errors.New("job not found")

// Store provides field-level access to per-job metadata records
type Store struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewStore creates a new metadata store instance
func NewStore(rdb *redis.Client, logger *slog.Logger) *Store {
	return &Store{
		rdb:    rdb,
		logger: logger,
	}
}

// Key returns the Redis key for a job id
func Key(jobID string) string {
	return KeyPrefix + jobID
}

// JobID extracts the job id from a metadata key
func JobID(key string) string {
	return strings.TrimPrefix(key, KeyPrefix)
}

// Create writes a new metadata record with an initial TTL
func (s *Store) Create(ctx context.Context, jobID string, fields map[string]interface{}, ttl time.Duration) error {
	key := Key(jobID)

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to create job metadata: %w", err)
	}

	s.logger.Debug("Job metadata created",
		slog.String("job_id", jobID),
		slog.Duration("ttl", ttl),
	)

	return nil
}

// UpdateFields merges the given fields into an existing record. The TTL
// set at creation is left untouched.
func (s *Store) UpdateFields(ctx context.Context, jobID string, fields map[string]interface{}) error {
	if err := s.rdb.HSet(ctx, Key(jobID), fields).Err(); err != nil {
		return fmt.Errorf("failed to update job metadata: %w", err)
	}
	return nil
}

// SetStatus updates only the status field
func (s *Store) SetStatus(ctx context.Context, jobID, status string) error {
	if err := s.rdb.HSet(ctx, Key(jobID), FieldStatus, status).Err(); err != nil {
		return fmt.Errorf("failed to set job status: %w", err)
	}
	return nil
}

// GetAll returns every field of a metadata record, or ErrNotFound when
// the record does not exist or has expired
func (s *Store) GetAll(ctx context.Context, jobID string) (map[string]string, error) {
	fields, err := s.rdb.HGetAll(ctx, Key(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get job metadata: %w", err)
	}

	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	return fields, nil
}

// Exists reports whether a metadata record is present
func (s *Store) Exists(ctx context.Context, jobID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, Key(jobID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check job metadata: %w", err)
	}
	return n > 0, nil
}

// TTL returns the remaining time to live of a metadata key. NoExpiry
// means the key exists without an expiration.
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := s.rdb.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get ttl: %w", err)
	}
	return ttl, nil
}

// Expire assigns a TTL to a metadata key
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.rdb.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set ttl: %w", err)
	}
	return nil
}

// ScanKeys enumerates metadata keys up to limit. The scan is bounded by
// the flat cap only; listing is not paginated.
func (s *Store) ScanKeys(ctx context.Context, limit int) ([]string, error) {
	var keys []string
	var cursor uint64

	for {
		batch, next, err := s.rdb.Scan(ctx, cursor, KeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan job keys: %w", err)
		}

		keys = append(keys, batch...)
		if limit > 0 && len(keys) >= limit {
			return keys[:limit], nil
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return keys, nil
}
