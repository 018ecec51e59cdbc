package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	msqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"relaybot/internal/relay"
	logx "relaybot/pkg/logx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	keyInterval     = "interval"
	keyIntervalUnit = "interval_unit"
)

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (*sqliteStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection serializes writers, which also makes ":memory:" a
	// single shared database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			log.Debug("sqlite pragma failed", logx.String("pragma", pragma), logx.Err(err))
		}
	}

	st := &sqliteStore{db: db, log: log}
	version, err := st.migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info("sqlite ready", logx.String("path", path), logx.Uint64("schema_version", uint64(version)))
	return st, nil
}

// migrate applies embedded migrations. The migrate instance is not closed
// because that would close the shared *sql.DB.
func (s *sqliteStore) migrate() (uint, error) {
	driver, err := msqlite.WithInstance(s.db, &msqlite.Config{})
	if err != nil {
		return 0, fmt.Errorf("migrate driver: %w", err)
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return 0, fmt.Errorf("migrate source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return 0, fmt.Errorf("migrate init: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("migrate up: %w", err)
	}
	version, dirty, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("migrate version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("schema version %d is dirty", version)
	}
	return version, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) insertChat(ctx context.Context, table string, chatID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO `+table+`(chat_id) VALUES(?) ON CONFLICT(chat_id) DO NOTHING`, chatID)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (s *sqliteStore) deleteChat(ctx context.Context, table string, chatID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE chat_id = ?`, chatID)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (s *sqliteStore) listChats(ctx context.Context, table string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT chat_id FROM `+table+` ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AddSource(ctx context.Context, chatID int64) (bool, error) {
	return s.insertChat(ctx, "sources", chatID)
}

func (s *sqliteStore) RemoveSource(ctx context.Context, chatID int64) (bool, error) {
	return s.deleteChat(ctx, "sources", chatID)
}

func (s *sqliteStore) ListSources(ctx context.Context) ([]int64, error) {
	return s.listChats(ctx, "sources")
}

func (s *sqliteStore) HasSource(ctx context.Context, chatID int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM sources WHERE chat_id = ?`, chatID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *sqliteStore) AddDestination(ctx context.Context, chatID int64) (bool, error) {
	return s.insertChat(ctx, "destinations", chatID)
}

func (s *sqliteStore) RemoveDestination(ctx context.Context, chatID int64) (bool, error) {
	return s.deleteChat(ctx, "destinations", chatID)
}

func (s *sqliteStore) ListDestinations(ctx context.Context) ([]int64, error) {
	return s.listChats(ctx, "destinations")
}

func (s *sqliteStore) InsertPost(ctx context.Context, p relay.Post) (bool, error) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO posts(id, source_ref, message_ref, link, active, created_at)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(id) DO NOTHING`,
		p.ID, p.SourceRef, p.MessageRef, nullStr(p.Link), boolInt(p.Active), p.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, err
	}
	return affected(res)
}

const postColumns = `id, source_ref, message_ref, COALESCE(link, ''), active, created_at`

func scanPost(sc interface{ Scan(...any) error }) (relay.Post, error) {
	var (
		p       relay.Post
		active  int
		created string
	)
	if err := sc.Scan(&p.ID, &p.SourceRef, &p.MessageRef, &p.Link, &active, &created); err != nil {
		return relay.Post{}, err
	}
	p.Active = active != 0
	p.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return p, nil
}

func (s *sqliteStore) GetPost(ctx context.Context, id string) (relay.Post, bool, error) {
	p, err := scanPost(s.db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return relay.Post{}, false, nil
	}
	if err != nil {
		return relay.Post{}, false, err
	}
	return p, true, nil
}

func (s *sqliteStore) TogglePost(ctx context.Context, id string) (bool, bool, error) {
	var active int
	err := s.db.QueryRowContext(ctx, `UPDATE posts SET active = 1 - active WHERE id = ? RETURNING active`, id).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return active != 0, true, nil
}

func (s *sqliteStore) ListPosts(ctx context.Context, active bool) ([]relay.Post, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+postColumns+` FROM posts WHERE active = ? ORDER BY rowid`, boolInt(active))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []relay.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Settings(ctx context.Context) (relay.Settings, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings WHERE key IN (?, ?)`, keyInterval, keyIntervalUnit)
	if err != nil {
		return relay.Settings{}, err
	}
	defer rows.Close()
	st := relay.DefaultSettings
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return relay.Settings{}, err
		}
		switch k {
		case keyInterval:
			n, err := strconv.Atoi(v)
			if err != nil {
				return relay.Settings{}, fmt.Errorf("settings.interval: %w", err)
			}
			st.Interval = n
		case keyIntervalUnit:
			st.Unit = relay.Unit(v)
		}
	}
	return st, rows.Err()
}

// SetSettings writes both keys in one transaction so readers never see a
// mixed pair.
func (s *sqliteStore) SetSettings(ctx context.Context, st relay.Settings) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	const upsert = `INSERT INTO settings(key, value) VALUES(?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	if _, err := tx.ExecContext(ctx, upsert, keyInterval, strconv.Itoa(st.Interval)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, upsert, keyIntervalUnit, string(st.Unit)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) AddAdmin(ctx context.Context, a Admin) (bool, error) {
	if a.AddedAt.IsZero() {
		a.AddedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO admins(user_id, username, added_by, added_at) VALUES(?,?,?,?) ON CONFLICT(user_id) DO NOTHING`,
		a.UserID, nullStr(a.Username), a.AddedBy, a.AddedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (s *sqliteStore) RemoveAdmin(ctx context.Context, userID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM admins WHERE user_id = ?`, userID)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (s *sqliteStore) ListAdmins(ctx context.Context) ([]Admin, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, COALESCE(username, ''), added_by, added_at FROM admins ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Admin
	for rows.Next() {
		var (
			a  Admin
			at string
		)
		if err := rows.Scan(&a.UserID, &a.Username, &a.AddedBy, &at); err != nil {
			return nil, err
		}
		a.AddedAt, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqliteStore) IsAdmin(ctx context.Context, userID int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM admins WHERE user_id = ?`, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, actor_username, chat_id, action, target, ok, err)
		 VALUES(?,?,?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.ActorID, nullStr(e.ActorUsername), e.ChatID,
		e.Action, nullStr(e.Target), boolInt(e.OK), nullStr(e.Error),
	)
	return err
}

func (s *sqliteStore) RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, actor_id, COALESCE(actor_username, ''), chat_id, action, COALESCE(target, ''), ok, COALESCE(err, '')
		 FROM audit ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AuditEntry
	for rows.Next() {
		var (
			e  AuditEntry
			at string
			ok int
		)
		if err := rows.Scan(&at, &e.ActorID, &e.ActorUsername, &e.ChatID, &e.Action, &e.Target, &ok, &e.Error); err != nil {
			return nil, err
		}
		e.At, _ = time.Parse(time.RFC3339Nano, at)
		e.OK = ok != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
