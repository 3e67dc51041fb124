package device

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nerrad567/greemqtt/internal/bridges/gree"
)

// Repository persists appliance identities.
type Repository interface {
	// GetAll returns every stored identity ordered by device id.
	GetAll(ctx context.Context) ([]gree.Identity, error)

	// Save inserts or replaces an identity. The seen_at column is kept.
	Save(ctx context.Context, id gree.Identity) error

	// MarkSeen records a successful state read.
	// Returns ErrDeviceNotFound for an unknown device id.
	MarkSeen(ctx context.Context, deviceID string, at time.Time) error

	// LastSeen returns the last successful state read per device.
	// Devices never seen map to the zero time.
	LastSeen(ctx context.Context) (map[string]time.Time, error)
}

// SQLiteRepository implements Repository on the devices table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on db. The schema is created by
// the embedded migrations.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetAll returns every stored identity.
func (r *SQLiteRepository) GetAll(ctx context.Context) ([]gree.Identity, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT device_id, device_ip, name, is_gcm, key FROM devices ORDER BY device_id")
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var out []gree.Identity
	for rows.Next() {
		var (
			id    gree.Identity
			isGCM int
		)
		if err := rows.Scan(&id.DeviceID, &id.IP, &id.Name, &isGCM, &id.Key); err != nil {
			return nil, fmt.Errorf("scanning device row: %w", err)
		}
		id.IsGCM = isGCM != 0
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return out, nil
}

// Save upserts id.
func (r *SQLiteRepository) Save(ctx context.Context, id gree.Identity) error {
	if id.DeviceID == "" || id.IP == "" {
		return fmt.Errorf("%w: device id and ip are required", ErrInvalidIdentity)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (device_id, device_ip, name, is_gcm, key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			device_ip  = excluded.device_ip,
			name       = excluded.name,
			is_gcm     = excluded.is_gcm,
			key        = excluded.key,
			updated_at = excluded.updated_at`,
		id.DeviceID, id.IP, id.Name, boolToInt(id.IsGCM), id.Key, now, now,
	)
	if err != nil {
		return fmt.Errorf("saving device %s: %w", id.DeviceID, err)
	}
	return nil
}

// MarkSeen sets seen_at for deviceID.
func (r *SQLiteRepository) MarkSeen(ctx context.Context, deviceID string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE devices SET seen_at = ? WHERE device_id = ?",
		at.UTC().Format(time.RFC3339Nano), deviceID,
	)
	if err != nil {
		return fmt.Errorf("marking device %s seen: %w", deviceID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// LastSeen returns seen_at for every stored device.
func (r *SQLiteRepository) LastSeen(ctx context.Context) (map[string]time.Time, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT device_id, seen_at FROM devices")
	if err != nil {
		return nil, fmt.Errorf("querying seen_at: %w", err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var (
			id     string
			seenAt sql.NullString
		)
		if err := rows.Scan(&id, &seenAt); err != nil {
			return nil, fmt.Errorf("scanning seen_at: %w", err)
		}
		var t time.Time
		if seenAt.Valid {
			t, err = time.Parse(time.RFC3339Nano, seenAt.String)
			if err != nil {
				return nil, fmt.Errorf("parsing seen_at for %s: %w", id, err)
			}
		}
		out[id] = t
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
