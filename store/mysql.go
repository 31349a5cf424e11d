package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dshills/pregel"
	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a pregel.CheckpointSaver backed by MySQL, for deployments
// that share checkpoint state across multiple processes. The wire layout
// mirrors SQLiteStore's: checkpoints, checkpoint_blobs,
// checkpoint_writes, checkpoint_migrations.
type MySQLStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewMySQLStore opens (and migrates) a MySQL database using dsn, e.g.
// "user:pass@tcp(127.0.0.1:3306)/pregel?parseTime=true".
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	s := &MySQLStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MySQLStore) migrate() error {
	for _, stmt := range checkpointSchemaMySQL {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

var checkpointSchemaMySQL = []string{
	`CREATE TABLE IF NOT EXISTS checkpoints (
		thread_id VARCHAR(255) NOT NULL,
		checkpoint_ns VARCHAR(255) NOT NULL,
		checkpoint_id VARCHAR(255) NOT NULL,
		parent_checkpoint_id VARCHAR(255),
		type VARCHAR(32) NOT NULL,
		checkpoint LONGBLOB NOT NULL,
		metadata LONGBLOB NOT NULL,
		PRIMARY KEY (thread_id, checkpoint_ns, checkpoint_id)
	)`,
	`CREATE TABLE IF NOT EXISTS checkpoint_blobs (
		thread_id VARCHAR(255) NOT NULL,
		checkpoint_ns VARCHAR(255) NOT NULL,
		channel VARCHAR(255) NOT NULL,
		version VARCHAR(64) NOT NULL,
		type VARCHAR(32) NOT NULL,
		blob LONGBLOB,
		PRIMARY KEY (thread_id, checkpoint_ns, channel, version)
	)`,
	`CREATE TABLE IF NOT EXISTS checkpoint_writes (
		thread_id VARCHAR(255) NOT NULL,
		checkpoint_ns VARCHAR(255) NOT NULL,
		checkpoint_id VARCHAR(255) NOT NULL,
		task_id VARCHAR(255) NOT NULL,
		idx INT NOT NULL,
		channel VARCHAR(255) NOT NULL,
		type VARCHAR(32) NOT NULL,
		blob LONGBLOB,
		PRIMARY KEY (thread_id, checkpoint_ns, checkpoint_id, task_id, idx)
	)`,
	`CREATE TABLE IF NOT EXISTS checkpoint_migrations (
		v INT PRIMARY KEY
	)`,
	`INSERT IGNORE INTO checkpoint_migrations (v) VALUES (1)`,
}

func (s *MySQLStore) Close() error {
	return s.db.Close()
}

func (s *MySQLStore) GetTuple(ctx context.Context, cfg pregel.ThreadConfig) (*pregel.CheckpointTuple, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var row *sql.Row
	if cfg.CheckpointID == "" {
		row = s.db.QueryRowContext(ctx,
			`SELECT checkpoint_id, parent_checkpoint_id, checkpoint, metadata FROM checkpoints
			 WHERE thread_id = ? AND checkpoint_ns = ? ORDER BY checkpoint_id DESC LIMIT 1`,
			cfg.ThreadID, cfg.CheckpointNS)
	} else {
		row = s.db.QueryRowContext(ctx,
			`SELECT checkpoint_id, parent_checkpoint_id, checkpoint, metadata FROM checkpoints
			 WHERE thread_id = ? AND checkpoint_ns = ? AND checkpoint_id = ?`,
			cfg.ThreadID, cfg.CheckpointNS, cfg.CheckpointID)
	}

	t, err := scanTuple(row, cfg.ThreadID, cfg.CheckpointNS)
	if err != nil {
		return nil, err
	}

	writes, err := s.loadWrites(ctx, cfg.ThreadID, cfg.CheckpointNS, t.Checkpoint.ID)
	if err != nil {
		return nil, err
	}
	t.PendingWrites = writes
	return t, nil
}

func (s *MySQLStore) loadWrites(ctx context.Context, threadID, ns, checkpointID string) ([]pregel.PendingWrite, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT task_id, idx, channel, blob FROM checkpoint_writes
		 WHERE thread_id = ? AND checkpoint_ns = ? AND checkpoint_id = ? ORDER BY task_id, idx`,
		threadID, ns, checkpointID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []pregel.PendingWrite
	for rows.Next() {
		var w pregel.PendingWrite
		var blob []byte
		if err := rows.Scan(&w.TaskID, &w.Idx, &w.Channel, &blob); err != nil {
			return nil, err
		}
		if len(blob) > 0 {
			if err := json.Unmarshal(blob, &w.Value); err != nil {
				return nil, fmt.Errorf("decode write value: %w", err)
			}
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *MySQLStore) List(ctx context.Context, cfg pregel.ThreadConfig, opts pregel.ListOptions) ([]*pregel.CheckpointTuple, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT checkpoint_id, parent_checkpoint_id, checkpoint, metadata FROM checkpoints
		 WHERE thread_id = ? AND checkpoint_ns = ?`
	args := []any{cfg.ThreadID, cfg.CheckpointNS}
	if opts.Before != "" {
		query += ` AND checkpoint_id < ?`
		args = append(args, opts.Before)
	}
	query += ` ORDER BY checkpoint_id DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*pregel.CheckpointTuple
	for rows.Next() {
		var checkpointID string
		var parentID sql.NullString
		var cpBlob, mdBlob []byte
		if err := rows.Scan(&checkpointID, &parentID, &cpBlob, &mdBlob); err != nil {
			return nil, err
		}
		var cp pregel.Checkpoint
		if err := json.Unmarshal(cpBlob, &cp); err != nil {
			return nil, err
		}
		var md pregel.CheckpointMetadata
		if err := json.Unmarshal(mdBlob, &md); err != nil {
			return nil, err
		}
		if !matchesFilter(md, opts.Filter) {
			continue
		}
		t := &pregel.CheckpointTuple{
			Config:     pregel.ThreadConfig{ThreadID: cfg.ThreadID, CheckpointNS: cfg.CheckpointNS, CheckpointID: checkpointID},
			Checkpoint: &cp,
			Metadata:   md,
		}
		if parentID.Valid && parentID.String != "" {
			t.ParentConfig = &pregel.ThreadConfig{ThreadID: cfg.ThreadID, CheckpointNS: cfg.CheckpointNS, CheckpointID: parentID.String}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *MySQLStore) Put(ctx context.Context, cfg pregel.ThreadConfig, cp *pregel.Checkpoint, metadata pregel.CheckpointMetadata) (pregel.ThreadConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cpBlob, err := json.Marshal(cp)
	if err != nil {
		return pregel.ThreadConfig{}, err
	}
	mdBlob, err := json.Marshal(metadata)
	if err != nil {
		return pregel.ThreadConfig{}, err
	}

	var parent any
	if cfg.CheckpointID != "" {
		parent = cfg.CheckpointID
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (thread_id, checkpoint_ns, checkpoint_id, parent_checkpoint_id, type, checkpoint, metadata)
		 VALUES (?, ?, ?, ?, 'json', ?, ?)
		 ON DUPLICATE KEY UPDATE checkpoint = VALUES(checkpoint), metadata = VALUES(metadata)`,
		cfg.ThreadID, cfg.CheckpointNS, cp.ID, parent, cpBlob, mdBlob)
	if err != nil {
		return pregel.ThreadConfig{}, err
	}

	for channel, value := range cp.ChannelValues {
		blob, err := json.Marshal(value)
		if err != nil {
			return pregel.ThreadConfig{}, err
		}
		version := fmt.Sprintf("%d", cp.ChannelVersions[channel])
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO checkpoint_blobs (thread_id, checkpoint_ns, channel, version, type, blob)
			 VALUES (?, ?, ?, ?, 'json', ?)
			 ON DUPLICATE KEY UPDATE blob = VALUES(blob)`,
			cfg.ThreadID, cfg.CheckpointNS, channel, version, blob)
		if err != nil {
			return pregel.ThreadConfig{}, err
		}
	}

	return pregel.ThreadConfig{ThreadID: cfg.ThreadID, CheckpointNS: cfg.CheckpointNS, CheckpointID: cp.ID}, nil
}

func (s *MySQLStore) PutWrites(ctx context.Context, cfg pregel.ThreadConfig, writes []pregel.PendingWrite, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range writes {
		blob, err := json.Marshal(w.Value)
		if err != nil {
			return err
		}
		idx := w.Idx
		var query string
		if idx >= 0 {
			// Idempotent upsert that keeps the earliest value.
			query = `INSERT IGNORE INTO checkpoint_writes (thread_id, checkpoint_ns, checkpoint_id, task_id, idx, channel, type, blob)
				 VALUES (?, ?, ?, ?, ?, ?, 'json', ?)`
		} else {
			query = `INSERT INTO checkpoint_writes (thread_id, checkpoint_ns, checkpoint_id, task_id, idx, channel, type, blob)
				 VALUES (?, ?, ?, ?, ?, ?, 'json', ?)`
		}
		if _, err := s.db.ExecContext(ctx, query,
			cfg.ThreadID, cfg.CheckpointNS, cfg.CheckpointID, taskID, idx, w.Channel, blob); err != nil {
			return err
		}
	}
	return nil
}
