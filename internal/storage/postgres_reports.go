package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/phihocnguyen/ridemate-server/internal/models"
)

// PostgresReportStore implements ReportStore on the reports table.
// Update holds the report's row lock across the mutation so two admins
// racing on the same report see exactly one resolution, mirroring the
// memory store's per-report mutex.
type PostgresReportStore struct {
	db *sql.DB
}

func NewPostgresReportStore(db *sql.DB) *PostgresReportStore {
	return &PostgresReportStore{db: db}
}

const reportColumns = `id, reporter_id, COALESCE(reported_user_id,''), COALESCE(match_id,''),
	title, description, category, status, COALESCE(action,''), COALESCE(notes,''),
	COALESCE(resolved_by,''), created_at, resolved_at`

func (p *PostgresReportStore) Create(r *models.Report) error {
	_, err := p.db.Exec(`
		INSERT INTO reports(id, reporter_id, reported_user_id, match_id, title, description,
			category, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		r.ID, r.ReporterID, r.ReportedUserID, r.MatchID, r.Title, r.Description,
		string(r.Category), string(r.Status), r.CreatedAt)
	return err
}

func (p *PostgresReportStore) Get(id string) (*models.Report, error) {
	row := p.db.QueryRow(`SELECT `+reportColumns+` FROM reports WHERE id = $1`, id)
	return scanReport(row, id)
}

func (p *PostgresReportStore) ListByReporter(reporterID string) ([]models.Report, error) {
	rows, err := p.db.Query(`SELECT `+reportColumns+` FROM reports WHERE reporter_id = $1 ORDER BY created_at`, reporterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Report
	for rows.Next() {
		r, err := scanReport(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (p *PostgresReportStore) Update(id string, mutate func(*models.Report) error) (*models.Report, error) {
	tx, err := p.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRow(`SELECT `+reportColumns+` FROM reports WHERE id = $1 FOR UPDATE`, id)
	r, err := scanReport(row, id)
	if err != nil {
		return nil, err
	}
	if err := mutate(r); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(`
		UPDATE reports SET status = $1, action = $2, notes = $3, resolved_by = $4, resolved_at = $5
		WHERE id = $6`,
		string(r.Status), string(r.Action), r.Notes, r.ResolvedBy, r.ResolvedAt, id); err != nil {
		return nil, err
	}
	return r, tx.Commit()
}

func scanReport(row rowScanner, id string) (*models.Report, error) {
	var r models.Report
	var category, status, action string
	var resolvedAt sql.NullTime
	err := row.Scan(&r.ID, &r.ReporterID, &r.ReportedUserID, &r.MatchID,
		&r.Title, &r.Description, &category, &status, &action, &r.Notes,
		&r.ResolvedBy, &r.CreatedAt, &resolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: report %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	r.Category = models.ReportCategory(category)
	r.Status = models.ReportStatus(status)
	r.Action = models.SanctionAction(action)
	if resolvedAt.Valid {
		r.ResolvedAt = &resolvedAt.Time
	}
	return &r, nil
}

// PostgresSanctionStore keeps warning counters and locks on the
// user_sanctions table; Put is an upsert so first-offense writes and
// later updates share one path.
type PostgresSanctionStore struct {
	db *sql.DB
}

func NewPostgresSanctionStore(db *sql.DB) *PostgresSanctionStore {
	return &PostgresSanctionStore{db: db}
}

func (p *PostgresSanctionStore) Get(userID string) (models.UserSanction, error) {
	s := models.UserSanction{UserID: userID}
	var lockedUntil sql.NullTime
	err := p.db.QueryRow(`
		SELECT warnings, locked_until FROM user_sanctions WHERE user_id = $1`,
		userID).Scan(&s.Warnings, &lockedUntil)
	if errors.Is(err, sql.ErrNoRows) {
		return s, nil
	}
	if err != nil {
		return s, err
	}
	if lockedUntil.Valid {
		s.LockedUntil = &lockedUntil.Time
	}
	return s, nil
}

func (p *PostgresSanctionStore) Put(s models.UserSanction) error {
	_, err := p.db.Exec(`
		INSERT INTO user_sanctions(user_id, warnings, locked_until) VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET warnings = $2, locked_until = $3`,
		s.UserID, s.Warnings, s.LockedUntil)
	return err
}
