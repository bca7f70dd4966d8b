package cache

import (
	"context"
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/voicekit-labs/voxd/internal/config"
	"github.com/voicekit-labs/voxd/internal/synth"
	_ "modernc.org/sqlite"
)

// Entry is a cached utterance: a synthesized audio file on disk plus its
// bookkeeping row.
type Entry struct {
	Hash         string
	Path         string
	AudioType    string
	Size         int64
	LastAccessed time.Time
	CreatedAt    time.Time
}

// Store is a SQLite-backed, size-bounded LRU cache of synthesized utterances.
type Store struct {
	db    *sql.DB
	cfg   config.CacheConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the cache according to config. A disabled cache returns a
// store whose operations are no-ops.
func Open(ctx context.Context, cfg config.CacheConfig, log *slog.Logger) (*Store, error) {
	if !cfg.Enabled {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	for _, dir := range []string{filepath.Dir(cfg.Path), cfg.Directory} {
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create cache dir: %w", err)
			}
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("cache vacuum failed", slog.String("error", err.Error()))
		}
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS utterances (
    hash TEXT PRIMARY KEY,
    file TEXT NOT NULL,
    audio_type TEXT,
    size INTEGER NOT NULL,
    last_accessed TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_utterances_accessed ON utterances(last_accessed);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Enabled reports whether the cache persists anything.
func (s *Store) Enabled() bool { return s.db != nil }

// Key derives the cache key for a synthesis request. The hash covers every
// parameter that can change the produced audio.
func Key(req synth.Request) string {
	canonical, _ := json.Marshal(struct {
		Text         string  `json:"text"`
		Voice        string  `json:"voice"`
		OutputFormat string  `json:"output_format"`
		TextType     string  `json:"text_type"`
		SampleRate   int     `json:"sample_rate"`
		Channels     int     `json:"channels"`
		Rate         float64 `json:"rate"`
		Pitch        float64 `json:"pitch"`
	}(req))
	sum := md5.Sum(canonical)
	return hex.EncodeToString(sum[:])
}

// FilePath returns the cache-managed path for a key and audio format.
func (s *Store) FilePath(hash, format string) string {
	return filepath.Join(s.cfg.Directory, "voice_"+hash+synth.FileExtension(format))
}

// Lookup returns the cached entry for hash, touching its access time. A row
// whose file no longer exists on disk is removed and treated as a miss.
func (s *Store) Lookup(ctx context.Context, hash string) (*Entry, error) {
	if s.db == nil {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT hash, file, audio_type, size, last_accessed, created_at FROM utterances WHERE hash = ?`, hash)
	var e Entry
	var accessed, created string
	if err := row.Scan(&e.Hash, &e.Path, &e.AudioType, &e.Size, &accessed, &created); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if ts, err := time.Parse(time.RFC3339Nano, accessed); err == nil {
		e.LastAccessed = ts
	}
	if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
		e.CreatedAt = ts
	}

	if _, err := os.Stat(e.Path); err != nil {
		s.log.Warn("cached file missing on disk, dropping row", slog.String("file", e.Path))
		if err := s.remove(ctx, e.Hash, ""); err != nil {
			return nil, err
		}
		return nil, nil
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE utterances SET last_accessed = ? WHERE hash = ?`,
		s.clock().UTC().Format(time.RFC3339Nano), hash)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Insert records an utterance and evicts least-recently-accessed entries until
// the cache fits its byte budget. At least one entry is always retained.
func (s *Store) Insert(ctx context.Context, e Entry) error {
	if s.db == nil {
		return nil
	}
	now := s.clock().UTC().Format(time.RFC3339Nano)
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO utterances(hash, file, audio_type, size, last_accessed, created_at)
		 VALUES(?, ?, ?, ?, ?, ?)
		 ON CONFLICT(hash) DO UPDATE SET file=excluded.file, audio_type=excluded.audio_type,
		 size=excluded.size, last_accessed=excluded.last_accessed`,
		e.Hash, e.Path, e.AudioType, e.Size, now, now); err != nil {
		return err
	}
	return s.evict(ctx)
}

func (s *Store) evict(ctx context.Context) error {
	for {
		size, count, err := s.usage(ctx)
		if err != nil {
			return err
		}
		if size <= s.cfg.MaxBytes || count <= 1 {
			return nil
		}
		row := s.db.QueryRowContext(ctx,
			`SELECT hash, file FROM utterances ORDER BY last_accessed ASC LIMIT 1`)
		var hash, file string
		if err := row.Scan(&hash, &file); err != nil {
			return err
		}
		if err := s.remove(ctx, hash, file); err != nil {
			return err
		}
		s.log.Info("evicted cached utterance", slog.String("file", file))
	}
}

func (s *Store) remove(ctx context.Context, hash, file string) error {
	if file != "" {
		if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
			s.log.Warn("failed to remove cached file", slog.String("file", file), slog.String("error", err.Error()))
		}
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM utterances WHERE hash = ?`, hash)
	return err
}

func (s *Store) usage(ctx context.Context) (int64, int, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(size), 0), COUNT(*) FROM utterances`)
	var size int64
	var count int
	if err := row.Scan(&size, &count); err != nil {
		return 0, 0, err
	}
	return size, count, nil
}

// TotalSize reports the summed byte size of all cached utterances.
func (s *Store) TotalSize(ctx context.Context) (int64, error) {
	if s.db == nil {
		return 0, nil
	}
	size, _, err := s.usage(ctx)
	return size, err
}
