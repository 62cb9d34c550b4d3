package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tienda/internal/models"
	"tienda/internal/repositories"

	"github.com/dgrijalva/jwt-go"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrUserExists is returned when a username or email is already registered.
	ErrUserExists = errors.New("user already exists")
	// ErrInvalidCredentials hides whether the username or the password was wrong.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Claims identifies the caller of an authenticated request.
type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
	jwt.StandardClaims
}

// AuthService handles business logic for authentication and authorization.
type AuthService struct {
	userRepo   repositories.UserRepository
	jwtSecret  []byte
	tokenDurat time.Duration
	log        *zap.Logger
}

// NewAuthService creates a new AuthService.
func NewAuthService(userRepo repositories.UserRepository, jwtSecret string, log *zap.Logger) *AuthService {
	return &AuthService{
		userRepo:   userRepo,
		jwtSecret:  []byte(jwtSecret),
		tokenDurat: 24 * time.Hour,
		log:        log,
	}
}

// RegisterUser hashes the password and stores a new customer account.
func (s *AuthService) RegisterUser(ctx context.Context, user *models.User) error {
	if _, err := s.userRepo.GetByUsername(ctx, user.Username); err == nil {
		return fmt.Errorf("%w: username '%s' already taken", ErrUserExists, user.Username)
	} else if !errors.Is(err, repositories.ErrUserNotFound) {
		return err
	}
	if _, err := s.userRepo.GetByEmail(ctx, user.Email); err == nil {
		return fmt.Errorf("%w: email '%s' already registered", ErrUserExists, user.Email)
	} else if !errors.Is(err, repositories.ErrUserNotFound) {
		return err
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(user.Password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	user.Password = string(hashedPassword)

	if err := s.userRepo.Create(ctx, user); err != nil {
		return fmt.Errorf("failed to register user: %w", err)
	}
	s.log.Info("user registered", zap.String("user_id", user.ID), zap.Bool("is_admin", user.IsAdmin))
	return nil
}

// EnsureAdmin creates the bootstrap administrator if no user has that username yet.
func (s *AuthService) EnsureAdmin(ctx context.Context, username, email, password string) error {
	if username == "" {
		return nil
	}
	if _, err := s.userRepo.GetByUsername(ctx, username); err == nil {
		return nil
	} else if !errors.Is(err, repositories.ErrUserNotFound) {
		return err
	}
	if email == "" {
		email = username + "@localhost"
	}
	return s.RegisterUser(ctx, &models.User{Username: username, Email: email, Password: password, IsAdmin: true})
}

// LoginUser authenticates a user and returns a signed JWT.
func (s *AuthService) LoginUser(ctx context.Context, username, password string) (string, error) {
	user, err := s.userRepo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID:   user.ID,
		Username: user.Username,
		IsAdmin:  user.IsAdmin,
		StandardClaims: jwt.StandardClaims{
			Subject:   user.ID,
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(s.tokenDurat).Unix(),
		},
	})

	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return tokenString, nil
}

// ValidateToken parses and validates a JWT, returning its claims.
func (s *AuthService) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid || claims.UserID == "" {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
