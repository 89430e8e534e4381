package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	migrate "github.com/rubenv/sql-migrate"
	"go.uber.org/zap"

	"github.com/sweeney/irrigation-scheduler/internal/logic"
)

// migrations are shared by both dialects; timestamps are unix nanoseconds so
// ordering does not depend on the engine's timestamp type.
var migrations = &migrate.MemoryMigrationSource{
	Migrations: []*migrate.Migration{
		{
			Id: "0001_usuarios",
			Up: []string{`CREATE TABLE usuarios (
				id         VARCHAR(36)  PRIMARY KEY,
				nome       VARCHAR(100) NOT NULL,
				email      VARCHAR(120) NOT NULL UNIQUE,
				senha_hash VARCHAR(200) NOT NULL,
				criado_em  BIGINT       NOT NULL
			)`},
			Down: []string{`DROP TABLE usuarios`},
		},
		{
			Id: "0002_horarios",
			Up: []string{
				`CREATE TABLE horarios (
					id          VARCHAR(36) PRIMARY KEY,
					usuario_id  VARCHAR(36) NOT NULL REFERENCES usuarios(id) ON DELETE CASCADE,
					hora        VARCHAR(5)  NOT NULL,
					duracao     INTEGER     NOT NULL DEFAULT 600,
					dias_semana VARCHAR(50) NOT NULL DEFAULT 'Seg,Sex',
					ativo       BOOLEAN     NOT NULL DEFAULT TRUE,
					criado_em   BIGINT      NOT NULL
				)`,
				`CREATE INDEX horarios_ativo_criado ON horarios (ativo, criado_em)`,
				`CREATE INDEX horarios_usuario ON horarios (usuario_id)`,
			},
			Down: []string{`DROP TABLE horarios`},
		},
	},
}

// SQL is a Store over database/sql for the postgres and sqlite3 drivers.
type SQL struct {
	db     *sql.DB
	driver string
	log    *zap.Logger
	stamp  *stamper
}

// OpenSQL opens driver/dsn, waits for the database with exponential backoff
// and applies pending migrations.
func OpenSQL(ctx context.Context, driver, dsn string, log *zap.Logger) (*SQL, error) {
	if log == nil {
		log = zap.NewNop()
	}
	switch driver {
	case "postgres":
	case "sqlite3":
		dsn = sqliteDSN(dsn)
	default:
		return nil, fmt.Errorf("store: unsupported sql driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
	err = backoff.Retry(func() error {
		if err := db.PingContext(ctx); err != nil {
			log.Warn("database not reachable", zap.String("driver", driver), zap.Error(err))
			return err
		}
		return nil
	}, bo)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	n, err := migrate.Exec(db, driver, migrations, migrate.Up)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Info("database ready", zap.String("driver", driver), zap.Int("migrations_applied", n))

	return &SQL{db: db, driver: driver, log: log, stamp: newStamper(nil)}, nil
}

// sqliteDSN turns a bare path into a DSN with foreign keys enforced.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_foreign_keys") || strings.Contains(dsn, "_fk=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_foreign_keys=on"
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQL) rebind(q string) string {
	if s.driver != "postgres" {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const entryColumns = `id, usuario_id, hora, duracao, dias_semana, ativo, criado_em`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (logic.Entry, error) {
	var (
		e                logic.Entry
		hora, dias       string
		duracao, created int64
	)
	if err := row.Scan(&e.ID, &e.OwnerID, &hora, &duracao, &dias, &e.Enabled, &created); err != nil {
		return logic.Entry{}, err
	}
	tod, err := logic.ParseTimeOfDay(hora)
	if err != nil {
		return logic.Entry{}, fmt.Errorf("entry %s: %w", e.ID, err)
	}
	set, err := logic.ParseWeekdaySet(dias)
	if err != nil {
		return logic.Entry{}, fmt.Errorf("entry %s: %w", e.ID, err)
	}
	e.Time = tod
	e.Weekdays = set
	e.Duration = time.Duration(duracao) * time.Second
	e.CreatedAt = time.Unix(0, created)
	return e, nil
}

func (s *SQL) queryEntries(ctx context.Context, q string, args ...interface{}) ([]logic.Entry, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []logic.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			// A corrupt row must not hide the rest of the schedule.
			s.log.Warn("skipping unreadable entry", zap.Error(err))
			continue
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQL) ActiveEntries(ctx context.Context) ([]logic.Entry, error) {
	out, err := s.queryEntries(ctx, `SELECT `+entryColumns+` FROM horarios WHERE ativo = ? ORDER BY criado_em, id`, true)
	if err != nil {
		return nil, fmt.Errorf("store.ActiveEntries: %w", err)
	}
	return out, nil
}

func (s *SQL) ListByOwner(ctx context.Context, ownerID string) ([]logic.Entry, error) {
	out, err := s.queryEntries(ctx, `SELECT `+entryColumns+` FROM horarios WHERE usuario_id = ? ORDER BY hora, criado_em`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("store.ListByOwner: %w", err)
	}
	// hora is zero-padded in storage, but older rows may carry "6:00".
	logic.SortByTime(out)
	return out, nil
}

func (s *SQL) CreateEntry(ctx context.Context, e logic.Entry) (logic.Entry, error) {
	if err := e.Validate(); err != nil {
		return logic.Entry{}, err
	}
	if _, err := s.UserByID(ctx, e.OwnerID); err != nil {
		return logic.Entry{}, err
	}
	e.ID = newID()
	e.CreatedAt = s.stamp.next()
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO horarios (`+entryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`),
		e.ID, e.OwnerID, e.Time.String(), int64(e.Duration/time.Second), e.Weekdays.String(), e.Enabled, e.CreatedAt.UnixNano())
	if err != nil {
		return logic.Entry{}, fmt.Errorf("store.CreateEntry: %w", err)
	}
	return e, nil
}

func (s *SQL) checkOwner(ctx context.Context, ownerID, id string) error {
	var owner string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT usuario_id FROM horarios WHERE id = ?`), id).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if owner != ownerID {
		return ErrForbidden
	}
	return nil
}

func (s *SQL) SetEnabled(ctx context.Context, ownerID, id string, enabled bool) error {
	if err := s.checkOwner(ctx, ownerID, id); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.rebind(`UPDATE horarios SET ativo = ? WHERE id = ?`), enabled, id); err != nil {
		return fmt.Errorf("store.SetEnabled: %w", err)
	}
	return nil
}

func (s *SQL) DeleteEntry(ctx context.Context, ownerID, id string) error {
	if err := s.checkOwner(ctx, ownerID, id); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM horarios WHERE id = ?`), id); err != nil {
		return fmt.Errorf("store.DeleteEntry: %w", err)
	}
	return nil
}

// isUniqueViolation recognises duplicate-key errors from either driver.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

func (s *SQL) CreateUser(ctx context.Context, u User) (User, error) {
	u.ID = newID()
	u.CreatedAt = s.stamp.next()
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO usuarios (id, nome, email, senha_hash, criado_em) VALUES (?, ?, ?, ?, ?)`),
		u.ID, u.Name, u.Email, u.PasswordHash, u.CreatedAt.UnixNano())
	if isUniqueViolation(err) {
		return User{}, ErrEmailTaken
	}
	if err != nil {
		return User{}, fmt.Errorf("store.CreateUser: %w", err)
	}
	return u, nil
}

func (s *SQL) userBy(ctx context.Context, column, value string) (User, error) {
	var (
		u       User
		created int64
	)
	q := `SELECT id, nome, email, senha_hash, criado_em FROM usuarios WHERE ` + column + ` = ?`
	err := s.db.QueryRowContext(ctx, s.rebind(q), value).Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("store.userBy %s: %w", column, err)
	}
	u.CreatedAt = time.Unix(0, created)
	return u, nil
}

func (s *SQL) UserByEmail(ctx context.Context, email string) (User, error) {
	return s.userBy(ctx, "email", email)
}

func (s *SQL) UserByID(ctx context.Context, id string) (User, error) {
	return s.userBy(ctx, "id", id)
}

// Close closes the database.
func (s *SQL) Close() error {
	return s.db.Close()
}
