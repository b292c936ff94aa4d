package corpus

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	benchtypes "github.com/jingkaihe/crmmembench/pkg/types/bench"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	person_id TEXT NOT NULL,
	contains_evidence INTEGER NOT NULL DEFAULT 0,
	messages TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_person ON conversations(person_id);
`

// SQLiteStore keeps the filler corpus in a single SQLite database, which is
// easier to ship around than a directory of JSON files. It implements Loader.
type SQLiteStore struct {
	db *sqlx.DB

	once   sync.Once
	corpus map[string][]benchtypes.Conversation
	err    error
}

type conversationRow struct {
	ID               string `db:"id"`
	PersonID         string `db:"person_id"`
	ContainsEvidence bool   `db:"contains_evidence"`
	Messages         string `db:"messages"`
}

// OpenSQLiteStore opens or creates the corpus database at dbPath.
func OpenSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open corpus database %s", dbPath)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping corpus database")
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "failed to execute pragma %s", pragma)
		}
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create corpus schema")
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Put inserts or replaces the conversations for one person.
func (s *SQLiteStore) Put(ctx context.Context, personID string, conversations []benchtypes.Conversation) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin corpus transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM conversations WHERE person_id = ?", personID); err != nil {
		return errors.Wrap(err, "failed to clear existing conversations")
	}
	for i := range conversations {
		conversations[i].EnsureID()
		messages, err := json.Marshal(conversations[i].Messages)
		if err != nil {
			return errors.Wrap(err, "failed to marshal messages")
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO conversations (id, person_id, contains_evidence, messages) VALUES (?, ?, ?, ?)",
			conversations[i].ID, personID, conversations[i].ContainsEvidence, string(messages))
		if err != nil {
			return errors.Wrapf(err, "failed to insert conversation %s", conversations[i].ID)
		}
	}
	return errors.Wrap(tx.Commit(), "failed to commit corpus transaction")
}

// Load reads the whole corpus grouped by person, caching after the first
// call.
func (s *SQLiteStore) Load(ctx context.Context) (map[string][]benchtypes.Conversation, error) {
	s.once.Do(func() {
		s.corpus, s.err = s.load(ctx)
	})
	return s.corpus, s.err
}

func (s *SQLiteStore) load(ctx context.Context) (map[string][]benchtypes.Conversation, error) {
	var rows []conversationRow
	if err := s.db.SelectContext(ctx, &rows,
		"SELECT id, person_id, contains_evidence, messages FROM conversations ORDER BY person_id, id"); err != nil {
		return nil, errors.Wrap(err, "failed to query corpus")
	}
	if len(rows) == 0 {
		return nil, benchtypes.Fatal(errors.Wrap(benchtypes.ErrNoConversations,
			"corpus database is empty; run crmmembench cases generate first"))
	}

	corpus := make(map[string][]benchtypes.Conversation)
	for _, row := range rows {
		var messages []benchtypes.Message
		if err := json.Unmarshal([]byte(row.Messages), &messages); err != nil {
			return nil, errors.Wrapf(err, "failed to parse messages for conversation %s", row.ID)
		}
		corpus[row.PersonID] = append(corpus[row.PersonID], benchtypes.Conversation{
			ID:               row.ID,
			Messages:         messages,
			ContainsEvidence: row.ContainsEvidence,
		})
	}
	return corpus, nil
}
