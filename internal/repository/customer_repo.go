package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/infrapilot/infrapilot/internal/domain"
)

// CustomerRepository handles customer persistence
type CustomerRepository struct {
	db *DB
}

// NewCustomerRepository creates a new customer repository
func NewCustomerRepository(db *DB) *CustomerRepository {
	return &CustomerRepository{db: db}
}

// Create inserts a new customer. Email and username must be unique.
func (r *CustomerRepository) Create(customer *domain.Customer) error {
	var existing int
	err := r.db.QueryRow(`
		SELECT COUNT(*) FROM customers WHERE email = ? OR username = ?
	`, customer.Email, customer.Username).Scan(&existing)
	if err != nil {
		return err
	}
	if existing > 0 {
		return fmt.Errorf("%w: customer with this email or username", domain.ErrConflict)
	}

	now := time.Now().UTC()
	customer.CreatedAt = now
	customer.UpdatedAt = now
	customer.IsActive = true

	result, err := r.db.Exec(`
		INSERT INTO customers (email, username, hashed_password, full_name, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, ?)
	`, customer.Email, customer.Username, customer.HashedPassword, customer.FullName,
		customer.CreatedAt, customer.UpdatedAt)
	if err != nil {
		return err
	}

	customer.ID, err = result.LastInsertId()
	return err
}

func (r *CustomerRepository) scanCustomer(row *sql.Row) (*domain.Customer, error) {
	customer := &domain.Customer{}
	var fullName sql.NullString
	err := row.Scan(&customer.ID, &customer.Email, &customer.Username,
		&customer.HashedPassword, &fullName, &customer.IsActive,
		&customer.CreatedAt, &customer.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: customer", domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	customer.FullName = fullName.String
	return customer, nil
}

// Get retrieves a customer by ID
func (r *CustomerRepository) Get(id int64) (*domain.Customer, error) {
	return r.scanCustomer(r.db.QueryRow(`
		SELECT id, email, username, hashed_password, full_name, is_active, created_at, updated_at
		FROM customers WHERE id = ?
	`, id))
}

// GetByEmail retrieves a customer by email
func (r *CustomerRepository) GetByEmail(email string) (*domain.Customer, error) {
	return r.scanCustomer(r.db.QueryRow(`
		SELECT id, email, username, hashed_password, full_name, is_active, created_at, updated_at
		FROM customers WHERE email = ?
	`, email))
}

// List retrieves customers with pagination, newest first
func (r *CustomerRepository) List(limit, offset int) ([]*domain.Customer, error) {
	rows, err := r.db.Query(`
		SELECT id, email, username, hashed_password, full_name, is_active, created_at, updated_at
		FROM customers ORDER BY created_at DESC LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var customers []*domain.Customer
	for rows.Next() {
		customer := &domain.Customer{}
		var fullName sql.NullString
		if err := rows.Scan(&customer.ID, &customer.Email, &customer.Username,
			&customer.HashedPassword, &fullName, &customer.IsActive,
			&customer.CreatedAt, &customer.UpdatedAt); err != nil {
			return nil, err
		}
		customer.FullName = fullName.String
		customers = append(customers, customer)
	}
	return customers, rows.Err()
}

// Update updates a customer's profile fields
func (r *CustomerRepository) Update(customer *domain.Customer) error {
	customer.UpdatedAt = time.Now().UTC()

	result, err := r.db.Exec(`
		UPDATE customers SET email = ?, username = ?, hashed_password = ?, full_name = ?, updated_at = ?
		WHERE id = ?
	`, customer.Email, customer.Username, customer.HashedPassword, customer.FullName,
		customer.UpdatedAt, customer.ID)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("%w: customer %d", domain.ErrNotFound, customer.ID)
	}
	return nil
}

// SetActive toggles a customer's active flag
func (r *CustomerRepository) SetActive(id int64, active bool) error {
	result, err := r.db.Exec(`
		UPDATE customers SET is_active = ?, updated_at = ? WHERE id = ?
	`, active, time.Now().UTC(), id)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("%w: customer %d", domain.ErrNotFound, id)
	}
	return nil
}

// Delete deletes a customer
func (r *CustomerRepository) Delete(id int64) error {
	result, err := r.db.Exec(`DELETE FROM customers WHERE id = ?`, id)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("%w: customer %d", domain.ErrNotFound, id)
	}
	return nil
}
