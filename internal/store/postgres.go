package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"prizedraw/internal/apperrors"
	"prizedraw/internal/models"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/logger"
	"github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresOptions tunes the connection pool.
type PostgresOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Postgres stores lottery data in PostgreSQL through lib/pq.
type Postgres struct {
	db   *sql.DB
	q    querier
	inTx bool
}

// OpenPostgres connects, applies pending migrations and returns a ready store.
func OpenPostgres(ctx context.Context, dsn string, opts PostgresOptions) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := NewPostgres(db)
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	logger.Infof("store: postgres connected and migrated")
	return s, nil
}

// NewPostgres wraps an already opened database without migrating it.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db, q: db}
}

// Migrate applies the embedded schema migrations.
func (s *Postgres) Migrate() error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := migratepg.WithInstance(s.db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (s *Postgres) Close() error {
	return s.db.Close()
}

// WithTx runs fn in one transaction. Prize reads inside it take a row lock,
// which serializes read-decrement-write across processes.
func (s *Postgres) WithTx(ctx context.Context, fn func(Store) error) error {
	if s.inTx {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewPersistence("DB_BEGIN", "begin transaction", err)
	}
	if err := fn(&Postgres{db: s.db, q: tx, inTx: true}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		tx.Rollback()
		return apperrors.NewPersistence("DB_COMMIT", "commit transaction", err)
	}
	return nil
}

// LockOwner takes a transaction-scoped advisory lock on the owner. It only
// works on a store handed out by WithTx.
func (s *Postgres) LockOwner(ctx context.Context, ownerID string) error {
	if !s.inTx {
		return apperrors.NewPersistence("DB_LOCK_OWNER", "owner lock outside a transaction", errors.New("not in a transaction"))
	}
	if _, err := s.q.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, ownerID); err != nil {
		return mapError(err, "DB_LOCK_OWNER", "lock owner")
	}
	return nil
}

const prizeColumns = `id, owner_id, name, total_count, remaining_count, image_url, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrize(row rowScanner) (models.Prize, error) {
	var p models.Prize
	err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.TotalCount, &p.RemainingCount, &p.ImageURL, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (s *Postgres) GetPrize(ctx context.Context, ownerID, id string) (models.Prize, error) {
	query := `SELECT ` + prizeColumns + ` FROM prizes WHERE id = $1 AND owner_id = $2`
	if s.inTx {
		query += ` FOR UPDATE`
	}
	p, err := scanPrize(s.q.QueryRowContext(ctx, query, id, ownerID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Prize{}, prizeNotFound(id)
	}
	if err != nil {
		return models.Prize{}, mapError(err, "DB_GET_PRIZE", "get prize")
	}
	return p, nil
}

func (s *Postgres) ListPrizes(ctx context.Context, ownerID string) ([]models.Prize, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+prizeColumns+` FROM prizes WHERE owner_id = $1 ORDER BY seq`, ownerID)
	if err != nil {
		return nil, mapError(err, "DB_LIST_PRIZES", "list prizes")
	}
	defer rows.Close()

	prizes := []models.Prize{}
	for rows.Next() {
		p, err := scanPrize(rows)
		if err != nil {
			return nil, mapError(err, "DB_LIST_PRIZES", "scan prize")
		}
		prizes = append(prizes, p)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "DB_LIST_PRIZES", "iterate prizes")
	}
	return prizes, nil
}

func (s *Postgres) CreatePrize(ctx context.Context, p models.Prize) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO prizes (id, owner_id, name, total_count, remaining_count, image_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.OwnerID, p.Name, p.TotalCount, p.RemainingCount, p.ImageURL, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return mapError(err, "DB_CREATE_PRIZE", "create prize")
	}
	return nil
}

func (s *Postgres) UpdatePrize(ctx context.Context, p models.Prize) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE prizes SET name = $1, total_count = $2, remaining_count = $3, image_url = $4, updated_at = now()
		WHERE id = $5 AND owner_id = $6`,
		p.Name, p.TotalCount, p.RemainingCount, p.ImageURL, p.ID, p.OwnerID)
	if err != nil {
		return mapError(err, "DB_UPDATE_PRIZE", "update prize")
	}
	return requireAffected(res, prizeNotFound(p.ID))
}

func (s *Postgres) DeletePrize(ctx context.Context, ownerID, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM prizes WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return mapError(err, "DB_DELETE_PRIZE", "delete prize")
	}
	return requireAffected(res, prizeNotFound(id))
}

func (s *Postgres) DeleteAllPrizes(ctx context.Context, ownerID string) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM prizes WHERE owner_id = $1`, ownerID); err != nil {
		return mapError(err, "DB_DELETE_PRIZES", "delete prizes")
	}
	return nil
}

func (s *Postgres) UpdatePrizeRemaining(ctx context.Context, ownerID, id string, expected, value int) error {
	if value < 0 {
		return apperrors.NewInvalidRequest("PRIZE_COUNT_RANGE", fmt.Sprintf("remaining count %d is negative", value))
	}
	res, err := s.q.ExecContext(ctx,
		`UPDATE prizes SET remaining_count = $1, updated_at = now()
		WHERE id = $2 AND owner_id = $3 AND remaining_count = $4`,
		value, id, ownerID, expected)
	if err != nil {
		return mapError(err, "DB_UPDATE_REMAINING", "update remaining count")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapError(err, "DB_UPDATE_REMAINING", "rows affected")
	}
	if n == 1 {
		return nil
	}

	var exists bool
	err = s.q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM prizes WHERE id = $1 AND owner_id = $2)`, id, ownerID).Scan(&exists)
	if err != nil {
		return mapError(err, "DB_UPDATE_REMAINING", "check prize")
	}
	if !exists {
		return prizeNotFound(id)
	}
	return apperrors.ErrRemainingConflict
}

func (s *Postgres) ResetPrizeCounts(ctx context.Context, ownerID string) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE prizes SET remaining_count = total_count, updated_at = now() WHERE owner_id = $1`, ownerID)
	if err != nil {
		return mapError(err, "DB_RESET_PRIZES", "reset prize counts")
	}
	return nil
}

func (s *Postgres) ListParticipants(ctx context.Context, ownerID string) ([]models.Participant, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, owner_id, name, department, created_at FROM participants WHERE owner_id = $1 ORDER BY seq`, ownerID)
	if err != nil {
		return nil, mapError(err, "DB_LIST_PARTICIPANTS", "list participants")
	}
	defer rows.Close()

	participants := []models.Participant{}
	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Department, &p.CreatedAt); err != nil {
			return nil, mapError(err, "DB_LIST_PARTICIPANTS", "scan participant")
		}
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "DB_LIST_PARTICIPANTS", "iterate participants")
	}
	return participants, nil
}

func (s *Postgres) CreateParticipants(ctx context.Context, ownerID string, ps []models.Participant) error {
	if len(ps) == 0 {
		return nil
	}
	return s.WithTx(ctx, func(tx Store) error {
		q := tx.(*Postgres).q
		for _, p := range ps {
			_, err := q.ExecContext(ctx,
				`INSERT INTO participants (id, owner_id, name, department, created_at) VALUES ($1, $2, $3, $4, $5)`,
				p.ID, ownerID, p.Name, p.Department, p.CreatedAt)
			if err != nil {
				return mapError(err, "DB_CREATE_PARTICIPANTS", "create participant")
			}
		}
		return nil
	})
}

func (s *Postgres) DeleteParticipant(ctx context.Context, ownerID, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM participants WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return mapError(err, "DB_DELETE_PARTICIPANT", "delete participant")
	}
	return requireAffected(res, apperrors.NewNotFound(apperrors.ErrParticipantNotFound.Code,
		fmt.Sprintf("participant %s does not exist", id)))
}

func (s *Postgres) DeleteAllParticipants(ctx context.Context, ownerID string) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM participants WHERE owner_id = $1`, ownerID); err != nil {
		return mapError(err, "DB_DELETE_PARTICIPANTS", "delete participants")
	}
	return nil
}

func (s *Postgres) ListWinners(ctx context.Context, ownerID string) ([]models.Winner, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, owner_id, batch_id, participant_id, participant_name, prize_id, prize_name, created_at
		FROM winners WHERE owner_id = $1 ORDER BY seq`, ownerID)
	if err != nil {
		return nil, mapError(err, "DB_LIST_WINNERS", "list winners")
	}
	defer rows.Close()

	winners := []models.Winner{}
	for rows.Next() {
		var w models.Winner
		err := rows.Scan(&w.ID, &w.OwnerID, &w.BatchID, &w.ParticipantID, &w.ParticipantName, &w.PrizeID, &w.PrizeName, &w.CreatedAt)
		if err != nil {
			return nil, mapError(err, "DB_LIST_WINNERS", "scan winner")
		}
		winners = append(winners, w)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "DB_LIST_WINNERS", "iterate winners")
	}
	return winners, nil
}

func (s *Postgres) CreateWinner(ctx context.Context, w models.Winner) (bool, error) {
	var prizeOK, participantOK bool
	err := s.q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM prizes WHERE id = $1 AND owner_id = $3),
		EXISTS (SELECT 1 FROM participants WHERE id = $2 AND owner_id = $3)`,
		w.PrizeID, w.ParticipantID, w.OwnerID).Scan(&prizeOK, &participantOK)
	if err != nil {
		return false, mapError(err, "DB_CREATE_WINNER", "check winner references")
	}
	if !prizeOK {
		return false, prizeNotFound(w.PrizeID)
	}
	if !participantOK {
		return false, apperrors.NewNotFound(apperrors.ErrParticipantNotFound.Code,
			fmt.Sprintf("participant %s does not exist", w.ParticipantID))
	}

	res, err := s.q.ExecContext(ctx,
		`INSERT INTO winners (id, owner_id, batch_id, participant_id, participant_name, prize_id, prize_name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT DO NOTHING`,
		w.ID, w.OwnerID, w.BatchID, w.ParticipantID, w.ParticipantName, w.PrizeID, w.PrizeName, w.CreatedAt)
	if err != nil {
		return false, mapError(err, "DB_CREATE_WINNER", "insert winner")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, mapError(err, "DB_CREATE_WINNER", "rows affected")
	}
	return n == 1, nil
}

func (s *Postgres) DeleteAllWinners(ctx context.Context, ownerID string) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM winners WHERE owner_id = $1`, ownerID); err != nil {
		return mapError(err, "DB_DELETE_WINNERS", "delete winners")
	}
	return nil
}

func requireAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return mapError(err, "DB_ROWS_AFFECTED", "rows affected")
	}
	if n == 0 {
		return notFound
	}
	return nil
}

// mapError turns driver errors into application errors. A violated count
// check means the caller asked for an impossible value.
func mapError(err error, code, message string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Name() {
		case "check_violation":
			return apperrors.NewInvalidRequest("PRIZE_COUNT_RANGE", pqErr.Message)
		case "unique_violation":
			return apperrors.NewConflict("DUPLICATE_ENTITY", pqErr.Message)
		}
	}
	return apperrors.NewPersistence(code, message, err)
}
