package service

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/infrapilot/infrapilot/internal/config"
	"github.com/infrapilot/infrapilot/internal/domain"
	"github.com/infrapilot/infrapilot/internal/repository"
)

// Token roles and kinds carried in the typ/tkn claims.
const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"

	tokenKindAccess  = "access"
	tokenKindRefresh = "refresh"
)

// TokenClaims is the decoded identity of a verified token.
type TokenClaims struct {
	SubjectID int64
	Role      string
	Kind      string
}

// AuthService handles registration, login, and token verification for both
// customer and admin accounts.
type AuthService struct {
	customers  *repository.CustomerRepository
	admins     *repository.AdminRepository
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	logger     *zap.Logger
}

// NewAuthService creates an auth service.
func NewAuthService(customers *repository.CustomerRepository, admins *repository.AdminRepository, cfg config.AuthConfig, logger *zap.Logger) *AuthService {
	return &AuthService{
		customers:  customers,
		admins:     admins,
		secret:     []byte(cfg.JWTSecret),
		accessTTL:  cfg.AccessTokenTTL,
		refreshTTL: cfg.RefreshTokenTTL,
		logger:     logger,
	}
}

// RegisterCustomer creates a new customer account.
func (s *AuthService) RegisterCustomer(email, username, fullName, password string) (*domain.Customer, error) {
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

	customer := &domain.Customer{
		Email:          email,
		Username:       username,
		FullName:       fullName,
		HashedPassword: string(hash),
	}
	if err := s.customers.Create(customer); err != nil {
		return nil, err
	}

	s.logger.Info("customer registered", zap.Int64("id", customer.ID), zap.String("email", email))
	return customer, nil
}

// LoginCustomer verifies credentials and issues a token pair.
func (s *AuthService) LoginCustomer(email, password string) (*domain.TokenPair, error) {
	customer, err := s.customers.GetByEmail(email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: incorrect email or password", domain.ErrUnauthorized)
		}
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(customer.HashedPassword), []byte(password)) != nil {
		s.logger.Warn("failed customer login", zap.String("email", email))
		return nil, fmt.Errorf("%w: incorrect email or password", domain.ErrUnauthorized)
	}
	if !customer.IsActive {
		return nil, fmt.Errorf("%w: account is deactivated", domain.ErrForbidden)
	}

	return s.issueTokens(customer.ID, RoleCustomer)
}

// LoginAdmin verifies credentials and issues a token pair.
func (s *AuthService) LoginAdmin(email, password string) (*domain.TokenPair, error) {
	admin, err := s.admins.GetByEmail(email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: incorrect email or password", domain.ErrUnauthorized)
		}
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(admin.HashedPassword), []byte(password)) != nil {
		s.logger.Warn("failed admin login", zap.String("email", email))
		return nil, fmt.Errorf("%w: incorrect email or password", domain.ErrUnauthorized)
	}
	if !admin.IsActive {
		return nil, fmt.Errorf("%w: account is deactivated", domain.ErrForbidden)
	}

	return s.issueTokens(admin.ID, RoleAdmin)
}

// Refresh exchanges a valid refresh token for a new token pair.
func (s *AuthService) Refresh(refreshToken string) (*domain.TokenPair, error) {
	claims, err := s.VerifyToken(refreshToken)
	if err != nil {
		return nil, err
	}
	if claims.Kind != tokenKindRefresh {
		return nil, fmt.Errorf("%w: not a refresh token", domain.ErrUnauthorized)
	}
	return s.issueTokens(claims.SubjectID, claims.Role)
}

// VerifyToken validates a signed token and returns its claims.
func (s *AuthService) VerifyToken(tokenString string) (*TokenClaims, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: invalid token", domain.ErrUnauthorized)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: invalid token claims", domain.ErrUnauthorized)
	}

	sub, _ := claims["sub"].(string)
	id, err := strconv.ParseInt(sub, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid token subject", domain.ErrUnauthorized)
	}
	role, _ := claims["typ"].(string)
	kind, _ := claims["tkn"].(string)

	return &TokenClaims{SubjectID: id, Role: role, Kind: kind}, nil
}

func (s *AuthService) issueTokens(id int64, role string) (*domain.TokenPair, error) {
	access, err := s.signToken(id, role, tokenKindAccess, s.accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := s.signToken(id, role, tokenKindRefresh, s.refreshTTL)
	if err != nil {
		return nil, err
	}
	return &domain.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
	}, nil
}

func (s *AuthService) signToken(id int64, role, kind string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": strconv.FormatInt(id, 10),
		"typ": role,
		"tkn": kind,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
