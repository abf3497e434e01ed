package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore persists sessions and leads as JSON documents, one row each.
// Point updates run as read-modify-write inside an immediate transaction,
// which serialises writers on the database lock.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and creates tables if they don't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=5000&_journal_mode=WAL", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := createTables(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		doc TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS leads (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL UNIQUE,
		score INTEGER NOT NULL,
		captured_at DATETIME NOT NULL,
		doc TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_leads_score ON leads(score DESC, captured_at ASC);
	`
	_, err := db.Exec(schema)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) CreateSession(ctx context.Context, sess *Session) error {
	doc, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, doc, updated_at) VALUES (?, ?, ?)`,
		sess.ID, string(doc), sess.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	return loadSession(ctx, s.db, id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func loadSession(ctx context.Context, q queryer, id string) (*Session, error) {
	var doc string
	err := q.QueryRowContext(ctx, `SELECT doc FROM sessions WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal([]byte(doc), &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

// update applies fn to the stored document inside one transaction.
func (s *SQLiteStore) update(ctx context.Context, id string, fn func(sess *Session) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	sess, err := loadSession(ctx, tx, id)
	if err != nil {
		return err
	}
	if err = fn(sess); err != nil {
		return err
	}
	doc, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if _, err = tx.ExecContext(ctx,
		`UPDATE sessions SET doc = ?, updated_at = ? WHERE id = ?`,
		string(doc), time.Now().UTC(), id,
	); err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, id string, msg Message) error {
	return s.update(ctx, id, func(sess *Session) error {
		sess.ConversationHistory = append(sess.ConversationHistory, msg)
		sess.UpdatedAt = msg.Timestamp
		return nil
	})
}

func (s *SQLiteStore) SetStage(ctx context.Context, id string, stage Stage) error {
	return s.update(ctx, id, func(sess *Session) error {
		sess.Stage = stage
		sess.UpdatedAt = time.Now().UTC()
		return nil
	})
}

func (s *SQLiteStore) SaveSection(ctx context.Context, id string, sec Section, content string, at time.Time) error {
	return s.update(ctx, id, func(sess *Session) error {
		sess.applySection(sec, content, at)
		return nil
	})
}

func (s *SQLiteStore) UpdateIdea(ctx context.Context, id, idea string, rec RefinementRecord) error {
	return s.update(ctx, id, func(sess *Session) error {
		sess.Idea = idea
		sess.RefinementHistory = append(sess.RefinementHistory, rec)
		sess.UpdatedAt = rec.Timestamp
		return nil
	})
}

func (s *SQLiteStore) AppendVersion(ctx context.Context, id string, v Version) error {
	return s.update(ctx, id, func(sess *Session) error {
		sess.Versions = append(sess.Versions, v)
		return nil
	})
}

func (s *SQLiteStore) IncrementRefinements(ctx context.Context, id string) (int, error) {
	var used int
	err := s.update(ctx, id, func(sess *Session) error {
		sess.RefinementsUsed++
		used = sess.RefinementsUsed
		return nil
	})
	return used, err
}

func (s *SQLiteStore) MarkLeadCaptured(ctx context.Context, id string, c LeadCapture) error {
	return s.update(ctx, id, func(sess *Session) error {
		return sess.applyLeadCapture(c)
	})
}

func (s *SQLiteStore) MarkEmailSent(ctx context.Context, id string, r EmailReceipt) error {
	return s.update(ctx, id, func(sess *Session) error {
		sess.applyEmailReceipt(r)
		return nil
	})
}

func (s *SQLiteStore) CreateLead(ctx context.Context, l *Lead) error {
	doc, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("encode lead: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO leads (id, session_id, score, captured_at, doc) VALUES (?, ?, ?, ?, ?)`,
		l.LeadID, l.SessionID, l.LeadScore, l.CapturedAt, string(doc),
	)
	if err != nil {
		return fmt.Errorf("insert lead: %w", err)
	}
	return nil
}

func loadLead(ctx context.Context, q queryer, leadID string) (*Lead, error) {
	var doc string
	err := q.QueryRowContext(ctx, `SELECT doc FROM leads WHERE id = ?`, leadID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLeadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan lead: %w", err)
	}
	var l Lead
	if err := json.Unmarshal([]byte(doc), &l); err != nil {
		return nil, fmt.Errorf("decode lead: %w", err)
	}
	return &l, nil
}

func (s *SQLiteStore) GetLead(ctx context.Context, leadID string) (*Lead, error) {
	return loadLead(ctx, s.db, leadID)
}

func (s *SQLiteStore) updateLead(ctx context.Context, leadID string, fn func(l *Lead)) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	l, err := loadLead(ctx, tx, leadID)
	if err != nil {
		return err
	}
	fn(l)
	doc, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("encode lead: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `UPDATE leads SET doc = ? WHERE id = ?`, string(doc), leadID); err != nil {
		return fmt.Errorf("update lead: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) UpdateLeadStatus(ctx context.Context, leadID string, status LeadStatus) error {
	return s.updateLead(ctx, leadID, func(l *Lead) { l.Status = status })
}

func (s *SQLiteStore) AppendLeadNote(ctx context.Context, leadID string, note LeadNote) error {
	return s.updateLead(ctx, leadID, func(l *Lead) { l.Notes = append(l.Notes, note) })
}

func (s *SQLiteStore) TopLeads(ctx context.Context, limit int) ([]Lead, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM leads ORDER BY score DESC, captured_at ASC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query leads: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var leads []Lead
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		var l Lead
		if err := json.Unmarshal([]byte(doc), &l); err != nil {
			return nil, fmt.Errorf("decode lead: %w", err)
		}
		leads = append(leads, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return leads, nil
}

func (s *SQLiteStore) LeadStats(ctx context.Context, highScore int) (LeadStats, error) {
	var st LeadStats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN score >= ? THEN 1 ELSE 0 END), 0),
		        COALESCE(AVG(score), 0)
		 FROM leads`,
		highScore,
	).Scan(&st.Total, &st.HighQuality, &st.AverageScore)
	if err != nil {
		return LeadStats{}, fmt.Errorf("lead stats: %w", err)
	}
	return st, nil
}
