package service

import (
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/infrapilot/infrapilot/internal/domain"
	"github.com/infrapilot/infrapilot/internal/repository"
)

// ProfileUpdate carries optional account fields; nil means unchanged.
type ProfileUpdate struct {
	Email    *string `json:"email"`
	Username *string `json:"username"`
	FullName *string `json:"full_name"`
	Password *string `json:"password"`
}

// AdminService manages customer and admin accounts on behalf of operators.
type AdminService struct {
	customers *repository.CustomerRepository
	admins    *repository.AdminRepository
	logger    *zap.Logger
}

// NewAdminService creates an admin service.
func NewAdminService(customers *repository.CustomerRepository, admins *repository.AdminRepository, logger *zap.Logger) *AdminService {
	return &AdminService{customers: customers, admins: admins, logger: logger}
}

// GetCustomer retrieves one customer.
func (s *AdminService) GetCustomer(id int64) (*domain.Customer, error) {
	return s.customers.Get(id)
}

// ListCustomers pages through customers.
func (s *AdminService) ListCustomers(limit, offset int) ([]*domain.Customer, error) {
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}
	return s.customers.List(limit, offset)
}

// UpdateCustomer applies a partial profile update to a customer.
func (s *AdminService) UpdateCustomer(id int64, update ProfileUpdate) (*domain.Customer, error) {
	customer, err := s.customers.Get(id)
	if err != nil {
		return nil, err
	}
	if err := applyProfileUpdate(update, &customer.Email, &customer.Username, &customer.FullName, &customer.HashedPassword); err != nil {
		return nil, err
	}
	if err := s.customers.Update(customer); err != nil {
		return nil, err
	}
	s.logger.Info("customer updated", zap.Int64("id", id))
	return customer, nil
}

// SetCustomerActive toggles a customer's active flag.
func (s *AdminService) SetCustomerActive(id int64, active bool) error {
	if err := s.customers.SetActive(id, active); err != nil {
		return err
	}
	s.logger.Info("customer active flag set", zap.Int64("id", id), zap.Bool("active", active))
	return nil
}

// DeleteCustomer removes a customer and, via cascade, their jobs.
func (s *AdminService) DeleteCustomer(id int64) error {
	if err := s.customers.Delete(id); err != nil {
		return err
	}
	s.logger.Info("customer deleted", zap.Int64("id", id))
	return nil
}

// CreateAdmin creates a new admin account.
func (s *AdminService) CreateAdmin(email, username, fullName, password string) (*domain.Admin, error) {
	if email == "" || username == "" || password == "" {
		return nil, fmt.Errorf("%w: email, username and password are required", domain.ErrValidation)
	}
	if len(password) < 8 {
		return nil, fmt.Errorf("%w: password must be at least 8 characters", domain.ErrValidation)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	admin := &domain.Admin{
		Email:          email,
		Username:       username,
		FullName:       fullName,
		HashedPassword: string(hash),
	}
	if err := s.admins.Create(admin); err != nil {
		return nil, err
	}
	s.logger.Info("admin created", zap.Int64("id", admin.ID), zap.String("email", email))
	return admin, nil
}

// GetAdmin retrieves one admin.
func (s *AdminService) GetAdmin(id int64) (*domain.Admin, error) {
	return s.admins.Get(id)
}

// ListAdmins retrieves all admins.
func (s *AdminService) ListAdmins() ([]*domain.Admin, error) {
	return s.admins.List()
}

// UpdateAdmin applies a partial profile update to an admin.
func (s *AdminService) UpdateAdmin(id int64, update ProfileUpdate) (*domain.Admin, error) {
	admin, err := s.admins.Get(id)
	if err != nil {
		return nil, err
	}
	if err := applyProfileUpdate(update, &admin.Email, &admin.Username, &admin.FullName, &admin.HashedPassword); err != nil {
		return nil, err
	}
	if err := s.admins.Update(admin); err != nil {
		return nil, err
	}
	s.logger.Info("admin updated", zap.Int64("id", id))
	return admin, nil
}

// SetAdminActive toggles an admin's active flag. An admin cannot
// deactivate their own account.
func (s *AdminService) SetAdminActive(id, actorID int64, active bool) error {
	if id == actorID && !active {
		return fmt.Errorf("%w: cannot deactivate your own account", domain.ErrValidation)
	}
	if err := s.admins.SetActive(id, active); err != nil {
		return err
	}
	s.logger.Info("admin active flag set", zap.Int64("id", id), zap.Bool("active", active))
	return nil
}

// DeleteAdmin removes an admin account. An admin cannot delete their own.
func (s *AdminService) DeleteAdmin(id, actorID int64) error {
	if id == actorID {
		return fmt.Errorf("%w: cannot delete your own account", domain.ErrValidation)
	}
	if err := s.admins.Delete(id); err != nil {
		return err
	}
	s.logger.Info("admin deleted", zap.Int64("id", id))
	return nil
}

func applyProfileUpdate(update ProfileUpdate, email, username, fullName, hashedPassword *string) error {
	if update.Email != nil {
		if *update.Email == "" {
			return fmt.Errorf("%w: email must not be empty", domain.ErrValidation)
		}
		*email = *update.Email
	}
	if update.Username != nil {
		if *update.Username == "" {
			return fmt.Errorf("%w: username must not be empty", domain.ErrValidation)
		}
		*username = *update.Username
	}
	if update.FullName != nil {
		*fullName = *update.FullName
	}
	if update.Password != nil {
		if len(*update.Password) < 8 {
			return fmt.Errorf("%w: password must be at least 8 characters", domain.ErrValidation)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(*update.Password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}
		*hashedPassword = string(hash)
	}
	return nil
}
