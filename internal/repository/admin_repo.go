package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/infrapilot/infrapilot/internal/domain"
)

// AdminRepository handles admin user persistence
type AdminRepository struct {
	db *DB
}

// NewAdminRepository creates a new admin repository
func NewAdminRepository(db *DB) *AdminRepository {
	return &AdminRepository{db: db}
}

// Create inserts a new admin. Email and username must be unique.
func (r *AdminRepository) Create(admin *domain.Admin) error {
	var existing int
	err := r.db.QueryRow(`
		SELECT COUNT(*) FROM admins WHERE email = ? OR username = ?
	`, admin.Email, admin.Username).Scan(&existing)
	if err != nil {
		return err
	}
	if existing > 0 {
		return fmt.Errorf("%w: admin with this email or username", domain.ErrConflict)
	}

	now := time.Now().UTC()
	admin.CreatedAt = now
	admin.UpdatedAt = now
	admin.IsActive = true

	result, err := r.db.Exec(`
		INSERT INTO admins (email, username, hashed_password, full_name, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, ?)
	`, admin.Email, admin.Username, admin.HashedPassword, admin.FullName,
		admin.CreatedAt, admin.UpdatedAt)
	if err != nil {
		return err
	}

	admin.ID, err = result.LastInsertId()
	return err
}

func (r *AdminRepository) scanAdmin(row *sql.Row) (*domain.Admin, error) {
	admin := &domain.Admin{}
	var fullName sql.NullString
	err := row.Scan(&admin.ID, &admin.Email, &admin.Username,
		&admin.HashedPassword, &fullName, &admin.IsActive,
		&admin.CreatedAt, &admin.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: admin", domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	admin.FullName = fullName.String
	return admin, nil
}

// Get retrieves an admin by ID
func (r *AdminRepository) Get(id int64) (*domain.Admin, error) {
	return r.scanAdmin(r.db.QueryRow(`
		SELECT id, email, username, hashed_password, full_name, is_active, created_at, updated_at
		FROM admins WHERE id = ?
	`, id))
}

// GetByEmail retrieves an admin by email
func (r *AdminRepository) GetByEmail(email string) (*domain.Admin, error) {
	return r.scanAdmin(r.db.QueryRow(`
		SELECT id, email, username, hashed_password, full_name, is_active, created_at, updated_at
		FROM admins WHERE email = ?
	`, email))
}

// List retrieves all admins, newest first
func (r *AdminRepository) List() ([]*domain.Admin, error) {
	rows, err := r.db.Query(`
		SELECT id, email, username, hashed_password, full_name, is_active, created_at, updated_at
		FROM admins ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var admins []*domain.Admin
	for rows.Next() {
		admin := &domain.Admin{}
		var fullName sql.NullString
		if err := rows.Scan(&admin.ID, &admin.Email, &admin.Username,
			&admin.HashedPassword, &fullName, &admin.IsActive,
			&admin.CreatedAt, &admin.UpdatedAt); err != nil {
			return nil, err
		}
		admin.FullName = fullName.String
		admins = append(admins, admin)
	}
	return admins, rows.Err()
}

// Update updates an admin's profile fields
func (r *AdminRepository) Update(admin *domain.Admin) error {
	admin.UpdatedAt = time.Now().UTC()

	result, err := r.db.Exec(`
		UPDATE admins SET email = ?, username = ?, hashed_password = ?, full_name = ?, updated_at = ?
		WHERE id = ?
	`, admin.Email, admin.Username, admin.HashedPassword, admin.FullName,
		admin.UpdatedAt, admin.ID)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("%w: admin %d", domain.ErrNotFound, admin.ID)
	}
	return nil
}

// SetActive toggles an admin's active flag
func (r *AdminRepository) SetActive(id int64, active bool) error {
	result, err := r.db.Exec(`
		UPDATE admins SET is_active = ?, updated_at = ? WHERE id = ?
	`, active, time.Now().UTC(), id)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("%w: admin %d", domain.ErrNotFound, id)
	}
	return nil
}

// Delete deletes an admin
func (r *AdminRepository) Delete(id int64) error {
	result, err := r.db.Exec(`DELETE FROM admins WHERE id = ?`, id)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("%w: admin %d", domain.ErrNotFound, id)
	}
	return nil
}
