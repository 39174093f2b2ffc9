package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/phihocnguyen/ridemate-server/internal/models"
)

// uniqueViolation is the Postgres error code for a unique constraint hit.
const uniqueViolation = pq.ErrorCode("23505")

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// PostgresMatchStore implements MatchStore on Postgres. Every transition
// is a single conditional UPDATE, so the database serializes racing
// callers the same way the memory store's per-match mutex does.
type PostgresMatchStore struct {
	db *sql.DB
}

func OpenPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return db, nil
}

func NewPostgresMatchStore(db *sql.DB) *PostgresMatchStore {
	return &PostgresMatchStore{db: db}
}

func (p *PostgresMatchStore) Create(m *models.Match) error {
	res, err := p.db.Exec(`
		INSERT INTO matches(id, requester_id, pickup_lat, pickup_lon, dest_lat, dest_lon,
			pickup_address, dest_address, vehicle_type, fare, status, created_at)
		SELECT $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
		WHERE NOT EXISTS (
			SELECT 1 FROM matches
			WHERE requester_id = $2 AND status NOT IN ('COMPLETED','CANCELLED')
		)`,
		m.ID, m.RequesterID, m.Pickup.Lat, m.Pickup.Lon, m.Destination.Lat, m.Destination.Lon,
		m.PickupAddress, m.DestinationAddress, m.VehicleType, m.Fare, string(m.Status), m.CreatedAt)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: requester %s already has an active match", models.ErrValidation, m.RequesterID)
	}
	return nil
}

func (p *PostgresMatchStore) Get(id string) (*models.Match, error) {
	row := p.db.QueryRow(`
		SELECT id, requester_id, COALESCE(driver_id,''), pickup_lat, pickup_lon, dest_lat, dest_lon,
			pickup_address, dest_address, vehicle_type, fare, status, created_at,
			accepted_at, started_at, completed_at, cancelled_at
		FROM matches WHERE id = $1`, id)
	return scanMatch(row, id)
}

func (p *PostgresMatchStore) Accept(id, driverID string, at time.Time) (*models.Match, error) {
	// Status check and driver assignment in one statement; the row lock
	// taken by UPDATE serializes racing accepts on the same match. The
	// NOT EXISTS guard alone cannot stop one driver accepting two
	// different matches concurrently (the statements touch different
	// rows and neither snapshot sees the other's uncommitted write), so
	// the unique partial index on active driver_id is the backstop: the
	// second commit fails with a unique violation.
	res, err := p.db.Exec(`
		UPDATE matches SET driver_id = $1, status = 'ACCEPTED', accepted_at = $2
		WHERE id = $3 AND status = 'WAITING' AND driver_id IS NULL
		AND NOT EXISTS (
			SELECT 1 FROM matches
			WHERE driver_id = $1 AND status IN ('ACCEPTED','IN_PROGRESS')
		)`, driverID, at, id)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: driver %s already assigned to an active match", models.ErrValidation, driverID)
		}
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, p.classifyAcceptFailure(id, driverID)
	}
	return p.Get(id)
}

func (p *PostgresMatchStore) classifyAcceptFailure(id, driverID string) error {
	var status string
	err := p.db.QueryRow(`SELECT status FROM matches WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: match %s", models.ErrNotFound, id)
	}
	if err != nil {
		return err
	}
	switch models.MatchStatus(status) {
	case models.MatchWaiting:
		// the match was still open, so the driver must be busy elsewhere
		return fmt.Errorf("%w: driver %s already assigned to an active match", models.ErrValidation, driverID)
	case models.MatchCancelled:
		return models.NewInvalidTransition(models.MatchCancelled, "accept")
	default:
		return models.ErrMatchAlreadyTaken
	}
}

func (p *PostgresMatchStore) Start(id, driverID string, at time.Time) (*models.Match, error) {
	return p.transition(id, driverID, "start",
		`UPDATE matches SET status = 'IN_PROGRESS', started_at = $1
		 WHERE id = $2 AND status = 'ACCEPTED' AND driver_id = $3`, at)
}

func (p *PostgresMatchStore) Complete(id, driverID string, at time.Time) (*models.Match, error) {
	return p.transition(id, driverID, "complete",
		`UPDATE matches SET status = 'COMPLETED', completed_at = $1
		 WHERE id = $2 AND status = 'IN_PROGRESS' AND driver_id = $3`, at)
}

func (p *PostgresMatchStore) transition(id, driverID, action, query string, at time.Time) (*models.Match, error) {
	res, err := p.db.Exec(query, at, id, driverID)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		m, err := p.Get(id)
		if err != nil {
			return nil, err
		}
		if m.DriverID != driverID {
			return nil, models.ErrUnauthorized
		}
		return nil, models.NewInvalidTransition(m.Status, action)
	}
	return p.Get(id)
}

func (p *PostgresMatchStore) Cancel(id string, at time.Time) (*models.Match, error) {
	res, err := p.db.Exec(`
		UPDATE matches SET status = 'CANCELLED', cancelled_at = $1
		WHERE id = $2 AND status IN ('WAITING','ACCEPTED')`, at, id)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		m, err := p.Get(id)
		if err != nil {
			return nil, err
		}
		return nil, models.NewInvalidTransition(m.Status, "cancel")
	}
	return p.Get(id)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMatch(row rowScanner, id string) (*models.Match, error) {
	var m models.Match
	var status string
	var acceptedAt, startedAt, completedAt, cancelledAt sql.NullTime
	err := row.Scan(&m.ID, &m.RequesterID, &m.DriverID,
		&m.Pickup.Lat, &m.Pickup.Lon, &m.Destination.Lat, &m.Destination.Lon,
		&m.PickupAddress, &m.DestinationAddress, &m.VehicleType, &m.Fare, &status,
		&m.CreatedAt, &acceptedAt, &startedAt, &completedAt, &cancelledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: match %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	m.Status = models.MatchStatus(status)
	if acceptedAt.Valid {
		m.AcceptedAt = &acceptedAt.Time
	}
	if startedAt.Valid {
		m.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		m.CompletedAt = &completedAt.Time
	}
	if cancelledAt.Valid {
		m.CancelledAt = &cancelledAt.Time
	}
	return &m, nil
}

// PostgresAccountStore keeps coin balances with the check-and-deduct
// done inside a transaction holding the account's row lock.
type PostgresAccountStore struct {
	db *sql.DB
}

func NewPostgresAccountStore(db *sql.DB) *PostgresAccountStore {
	return &PostgresAccountStore{db: db}
}

func (p *PostgresAccountStore) Deduct(userID string, amount int) (int, error) {
	tx, err := p.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var balance int
	err = tx.QueryRow(`SELECT balance FROM coin_accounts WHERE user_id = $1 FOR UPDATE`, userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %d coins needed, account empty", models.ErrInsufficientBalance, amount)
	}
	if err != nil {
		return 0, err
	}
	if balance < amount {
		return balance, fmt.Errorf("%w: have %d, need %d", models.ErrInsufficientBalance, balance, amount)
	}
	balance -= amount
	if _, err := tx.Exec(`UPDATE coin_accounts SET balance = $1 WHERE user_id = $2`, balance, userID); err != nil {
		return 0, err
	}
	return balance, tx.Commit()
}

func (p *PostgresAccountStore) Credit(userID string, amount int) (int, error) {
	var balance int
	err := p.db.QueryRow(`
		INSERT INTO coin_accounts(user_id, balance) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET balance = coin_accounts.balance + $2
		RETURNING balance`, userID, amount).Scan(&balance)
	return balance, err
}

func (p *PostgresAccountStore) Balance(userID string) (int, error) {
	var balance int
	err := p.db.QueryRow(`SELECT balance FROM coin_accounts WHERE user_id = $1`, userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return balance, err
}

// PostgresSessionStore mirrors MemorySessionStore on the sessions table.
type PostgresSessionStore struct {
	db *sql.DB
}

func NewPostgresSessionStore(db *sql.DB) *PostgresSessionStore {
	return &PostgresSessionStore{db: db}
}

func (p *PostgresSessionStore) Save(s *models.Session) error {
	_, err := p.db.Exec(`
		INSERT INTO sessions(id, match_id, started_at, active) VALUES ($1,$2,$3,$4)`,
		s.ID, s.MatchID, s.StartedAt, s.Active)
	return err
}

func (p *PostgresSessionStore) GetByMatch(matchID string) (*models.Session, error) {
	var s models.Session
	var endedAt sql.NullTime
	err := p.db.QueryRow(`
		SELECT id, match_id, started_at, ended_at, active FROM sessions WHERE match_id = $1`,
		matchID).Scan(&s.ID, &s.MatchID, &s.StartedAt, &endedAt, &s.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: session for match %s", models.ErrNotFound, matchID)
	}
	if err != nil {
		return nil, err
	}
	if endedAt.Valid {
		s.EndedAt = &endedAt.Time
	}
	return &s, nil
}

func (p *PostgresSessionStore) End(matchID string, at time.Time) (*models.Session, error) {
	_, err := p.db.Exec(`
		UPDATE sessions SET active = false, ended_at = $1 WHERE match_id = $2 AND active`,
		at, matchID)
	if err != nil {
		return nil, err
	}
	return p.GetByMatch(matchID)
}
