package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/visage-project/visage/internal/logging"
	"github.com/visage-project/visage/internal/vision"
)

const schema = `
CREATE TABLE IF NOT EXISTS models (
	model_id      TEXT PRIMARY KEY,
	user          TEXT NOT NULL,
	label         TEXT NOT NULL,
	created_at    INTEGER NOT NULL,
	embedding     BLOB NOT NULL,
	model_version TEXT NOT NULL,
	quality_score REAL,
	pose_label    TEXT
);
CREATE INDEX IF NOT EXISTS idx_models_user ON models(user);
`

// Record is a persisted enrollment row (spec.md §4 C4 FaceModel), with the
// embedding decrypted into plain float32s.
type Record struct {
	ID           string
	User         string
	Label        string
	CreatedAt    time.Time
	Embedding    vision.Embedding
	QualityScore *float64
	PoseLabel    *string
}

// Store is the model store: a WAL-mode SQLite database of per-user
// enrolled embeddings, encrypted at rest under a per-installation key.
// Every method that reads or writes rows filters on the caller-supplied
// user so one user's enrollment is never visible through another's
// request (spec.md §8 testable property 4).
type Store struct {
	pool *pool
	key  [KeySize]byte
}

// Open opens (creating if absent) the model store at dbPath, running
// schema migrations and loading or generating the encryption key beside
// it (spec.md §4.1 step 4, §6).
func Open(dbPath string) (*Store, error) {
	key, err := loadOrCreateKey(dbPath)
	if err != nil {
		return nil, err
	}

	p, err := openPool(dbPath, 1, func(conn *sqlite.Conn) error {
		return sqlitex.ExecuteScript(conn, schema, nil)
	})
	if err != nil {
		return nil, err
	}

	return &Store{pool: p, key: key}, nil
}

// Close releases the store's database connections.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Enroll inserts a new enrollment row for rec.User, generating a model_id
// if rec.ID is empty, and returns the assigned ID.
func (s *Store) Enroll(ctx context.Context, rec Record) (string, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return "", err
	}
	defer s.pool.Put(conn)

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	plaintext := encodeEmbedding(rec.Embedding.Values)
	ciphertext, err := encryptEmbedding(s.key, plaintext)
	if err != nil {
		return "", err
	}

	var quality, pose any
	if rec.QualityScore != nil {
		quality = *rec.QualityScore
	}
	if rec.PoseLabel != nil {
		pose = *rec.PoseLabel
	}

	err = sqlitex.Execute(conn, `INSERT INTO models
		(model_id, user, label, created_at, embedding, model_version, quality_score, pose_label)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{
			rec.ID, rec.User, rec.Label, rec.CreatedAt.Unix(),
			ciphertext, rec.Embedding.ModelVersion, quality, pose,
		},
	})
	if err != nil {
		return "", fmt.Errorf("store: enroll: %w", err)
	}

	logging.Component("store").WithFields(logging.Fields{"user": rec.User, "model_id": rec.ID}).Info("enrolled face model")
	return rec.ID, nil
}

// ListModels returns every enrollment belonging to user, oldest first.
func (s *Store) ListModels(ctx context.Context, user string) ([]Record, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var records []Record
	var scanErr error
	err = sqlitex.Execute(conn, `SELECT model_id, user, label, created_at, embedding, model_version, quality_score, pose_label
		FROM models WHERE user = ? ORDER BY created_at ASC`, &sqlitex.ExecOptions{
		Args: []any{user},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			rec, err := s.scanRecord(stmt)
			if err != nil {
				scanErr = err
				return err
			}
			records = append(records, rec)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: list models for %s: %w", user, err)
	}
	return records, scanErr
}

// RemoveModel deletes the enrollment modelID if, and only if, it belongs
// to user. Returns false (no error) when the row doesn't exist or belongs
// to a different user, so a caller can't distinguish the two cases.
func (s *Store) RemoveModel(ctx context.Context, user, modelID string) (bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return false, err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `DELETE FROM models WHERE model_id = ? AND user = ?`, &sqlitex.ExecOptions{
		Args: []any{modelID, user},
	})
	if err != nil {
		return false, fmt.Errorf("store: remove model %s: %w", modelID, err)
	}
	removed := conn.Changes() > 0

	if removed {
		logging.Component("store").WithFields(logging.Fields{"user": user, "model_id": modelID}).Info("removed face model")
	}
	return removed, nil
}

// CountUsers returns the number of distinct users with at least one
// enrollment, for Status's "enrolled user count" (spec.md §4.1).
func (s *Store) CountUsers(ctx context.Context) (int, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)

	var count int
	err = sqlitex.Execute(conn, `SELECT COUNT(DISTINCT user) FROM models`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			count = stmt.ColumnInt(0)
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("store: count users: %w", err)
	}
	return count, nil
}

// Gallery loads user's enrollments as a vision.FaceModel slice, ready to
// hand to a vision.Matcher.
func (s *Store) Gallery(ctx context.Context, user string) ([]vision.FaceModel, error) {
	records, err := s.ListModels(ctx, user)
	if err != nil {
		return nil, err
	}
	gallery := make([]vision.FaceModel, len(records))
	for i, rec := range records {
		gallery[i] = vision.FaceModel{
			ID:        rec.ID,
			User:      rec.User,
			Label:     rec.Label,
			Embedding: rec.Embedding,
		}
	}
	return gallery, nil
}

func (s *Store) scanRecord(stmt *sqlite.Stmt) (Record, error) {
	var rec Record
	rec.ID = stmt.ColumnText(0)
	rec.User = stmt.ColumnText(1)
	rec.Label = stmt.ColumnText(2)
	rec.CreatedAt = time.Unix(stmt.ColumnInt64(3), 0)

	ciphertext := make([]byte, stmt.ColumnLen(4))
	stmt.ColumnBytes(4, ciphertext)
	plaintext, err := decryptEmbedding(s.key, ciphertext)
	if err != nil {
		return rec, fmt.Errorf("store: model %s: %w", rec.ID, err)
	}
	values, err := decodeEmbedding(plaintext)
	if err != nil {
		return rec, fmt.Errorf("store: model %s: %w", rec.ID, err)
	}
	rec.Embedding = vision.Embedding{Values: values, ModelVersion: stmt.ColumnText(5)}

	if !stmt.ColumnIsNull(6) {
		q := stmt.ColumnFloat(6)
		rec.QualityScore = &q
	}
	if !stmt.ColumnIsNull(7) {
		p := stmt.ColumnText(7)
		rec.PoseLabel = &p
	}
	return rec, nil
}
