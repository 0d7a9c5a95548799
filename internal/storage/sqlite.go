package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	logx "birthdaybot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA busy_timeout = 5000")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) LoadBirthdays(ctx context.Context) (map[string]string, error) {
	return s.loadKV(ctx, `SELECT member_id, month_day FROM birthdays`)
}

func (s *sqliteStore) SaveBirthdays(ctx context.Context, m map[string]string) error {
	return s.saveKV(ctx, "birthdays", `INSERT INTO birthdays(member_id, month_day) VALUES(?,?)`, m)
}

func (s *sqliteStore) LoadChannels(ctx context.Context) (map[string]string, error) {
	return s.loadKV(ctx, `SELECT community_id, channel_id FROM channels`)
}

func (s *sqliteStore) SaveChannels(ctx context.Context, m map[string]string) error {
	return s.saveKV(ctx, "channels", `INSERT INTO channels(community_id, channel_id) VALUES(?,?)`, m)
}

func (s *sqliteStore) loadKV(ctx context.Context, query string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	m := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		m[k] = v
	}
	return m, rows.Err()
}

// saveKV rewrites the whole table inside one transaction to keep the
// overwrite discipline of the file driver.
func (s *sqliteStore) saveKV(ctx context.Context, table, insert string, m map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
		return err
	}
	for k, v := range m {
		if _, err := tx.ExecContext(ctx, insert, k, v); err != nil {
			return fmt.Errorf("%s insert: %w", table, err)
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) LoadRoster(ctx context.Context) ([]CommunityRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title FROM communities ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var cs []CommunityRecord
	for rows.Next() {
		var c CommunityRecord
		if err := rows.Scan(&c.ID, &c.Title); err != nil {
			return nil, err
		}
		cs = append(cs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range cs {
		mrows, err := s.db.QueryContext(ctx,
			`SELECT member_id, name FROM members WHERE community_id = ? ORDER BY seq`, cs[i].ID)
		if err != nil {
			return nil, err
		}
		for mrows.Next() {
			var m MemberRecord
			if err := mrows.Scan(&m.ID, &m.Name); err != nil {
				_ = mrows.Close()
				return nil, err
			}
			cs[i].Members = append(cs[i].Members, m)
		}
		err = mrows.Err()
		_ = mrows.Close()
		if err != nil {
			return nil, err
		}
	}
	return cs, nil
}

func (s *sqliteStore) SaveRoster(ctx context.Context, cs []CommunityRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM members`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM communities`); err != nil {
		return err
	}
	for ci, c := range cs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO communities(id, title, seq) VALUES(?,?,?)`, c.ID, c.Title, ci); err != nil {
			return err
		}
		for mi, m := range c.Members {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO members(community_id, member_id, name, seq) VALUES(?,?,?,?)`,
				c.ID, m.ID, m.Name, mi); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}
