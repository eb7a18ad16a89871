package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// JWTConfig holds configuration for JWT token generation
type JWTConfig struct {
	Secret    string
	ExpiresIn int // hours
}

// Token roles
const (
	RoleOperator = "operator"
	RoleService  = "service"
)

// AuthService handles authentication and authorization
type AuthService struct {
	pinHash   []byte
	jwtConfig JWTConfig
	now       func() time.Time
}

// NewAuthService creates a new authentication service. pinHash is the
// bcrypt hash of the operator PIN; an empty hash disables PIN login.
func NewAuthService(pinHash string, jwtConfig JWTConfig) *AuthService {
	return &AuthService{
		pinHash:   []byte(pinHash),
		jwtConfig: jwtConfig,
		now:       time.Now,
	}
}

// Claims represents JWT claims
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Login checks the operator PIN and returns a JWT token
func (s *AuthService) Login(pin string) (string, error) {
	if len(s.pinHash) == 0 || pin == "" {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(s.pinHash, []byte(pin)); err != nil {
		return "", ErrInvalidCredentials
	}

	token, err := s.generateToken(uuid.NewString(), RoleOperator)
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return token, nil
}

// ServiceToken mints the bearer token the agent presents to the POS backend
func (s *AuthService) ServiceToken() (string, error) {
	return s.generateToken("print-agent", RoleService)
}

// generateToken generates a JWT token for a subject
func (s *AuthService) generateToken(userID, role string) (string, error) {
	now := s.now()
	expirationTime := now.Add(time.Duration(s.jwtConfig.ExpiresIn) * time.Hour)

	claims := &Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expirationTime),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.jwtConfig.Secret))
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// ValidateToken validates a JWT token and returns the claims
func (s *AuthService) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.jwtConfig.Secret), nil
	})

	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	return claims, nil
}

// HashPIN returns the bcrypt hash to store in auth.pin_hash
func HashPIN(pin string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash pin: %w", err)
	}
	return string(hash), nil
}
