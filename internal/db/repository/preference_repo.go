package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/pizza-nz/print-agent/internal/models"
)

// ErrNotFound is returned when no preference is stored for a role.
var ErrNotFound = errors.New("preference not found")

// PreferenceRepository persists the device chosen for each printer role
type PreferenceRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewPreferenceRepository creates a new preference repository
func NewPreferenceRepository(db *sqlx.DB) *PreferenceRepository {
	return &PreferenceRepository{db: db, now: time.Now}
}

type preferenceRow struct {
	Role          string        `db:"role"`
	Backend       string        `db:"backend"`
	VendorID      sql.NullInt64 `db:"vendor_id"`
	ProductID     sql.NullInt64 `db:"product_id"`
	Address       string        `db:"address"`
	FallbackIndex sql.NullInt64 `db:"fallback_index"`
	AutoConnect   bool          `db:"auto_connect"`
	UpdatedAt     time.Time     `db:"updated_at"`
}

func (r preferenceRow) model() models.Preference {
	p := models.Preference{
		Role:        models.Role(r.Role),
		Backend:     models.BackendKind(r.Backend),
		VendorID:    uint16(r.VendorID.Int64),
		ProductID:   uint16(r.ProductID.Int64),
		Address:     r.Address,
		AutoConnect: r.AutoConnect,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.FallbackIndex.Valid {
		idx := int(r.FallbackIndex.Int64)
		p.FallbackIndex = &idx
	}
	return p
}

func nullID(v uint16) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(v), Valid: v != 0}
}

const preferenceColumns = `role, backend, vendor_id, product_id, address, fallback_index, auto_connect, updated_at`

// Get retrieves the preference for a role
func (r *PreferenceRepository) Get(ctx context.Context, role models.Role) (*models.Preference, error) {
	query := r.db.Rebind(`SELECT ` + preferenceColumns + ` FROM printer_preferences WHERE role = ?`)

	var row preferenceRow
	if err := r.db.GetContext(ctx, &row, query, string(role)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get preference: %w", err)
	}

	p := row.model()
	return &p, nil
}

// List retrieves the preferences of every role
func (r *PreferenceRepository) List(ctx context.Context) ([]models.Preference, error) {
	query := `SELECT ` + preferenceColumns + ` FROM printer_preferences ORDER BY role ASC`

	var rows []preferenceRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list preferences: %w", err)
	}

	prefs := make([]models.Preference, 0, len(rows))
	for _, row := range rows {
		prefs = append(prefs, row.model())
	}
	return prefs, nil
}

// Save creates or overwrites the preference for pref.Role
func (r *PreferenceRepository) Save(ctx context.Context, pref models.Preference) error {
	query := r.db.Rebind(`
		INSERT INTO printer_preferences (` + preferenceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (role) DO UPDATE SET
			backend = excluded.backend,
			vendor_id = excluded.vendor_id,
			product_id = excluded.product_id,
			address = excluded.address,
			fallback_index = excluded.fallback_index,
			auto_connect = excluded.auto_connect,
			updated_at = excluded.updated_at
	`)

	var fallback sql.NullInt64
	if pref.FallbackIndex != nil {
		fallback = sql.NullInt64{Int64: int64(*pref.FallbackIndex), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query,
		string(pref.Role),
		string(pref.Backend),
		nullID(pref.VendorID),
		nullID(pref.ProductID),
		pref.Address,
		fallback,
		pref.AutoConnect,
		r.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save preference: %w", err)
	}
	return nil
}

// SetAutoConnect updates only the auto-connect flag. It returns ErrNotFound
// when the role has no stored preference.
func (r *PreferenceRepository) SetAutoConnect(ctx context.Context, role models.Role, enabled bool) error {
	query := r.db.Rebind(`UPDATE printer_preferences SET auto_connect = ?, updated_at = ? WHERE role = ?`)

	result, err := r.db.ExecContext(ctx, query, enabled, r.now().UTC(), string(role))
	if err != nil {
		return fmt.Errorf("failed to update auto-connect: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update auto-connect: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
