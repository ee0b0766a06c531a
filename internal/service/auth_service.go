package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/vedran77/chatsync/internal/domain"
	"github.com/vedran77/chatsync/internal/repository"
	"github.com/vedran77/chatsync/pkg/validator"
	"golang.org/x/crypto/argon2"
)

var (
	ErrEmailTaken    = errors.New("email already taken")
	ErrUsernameTaken = errors.New("username already taken")
	ErrInvalidCreds  = errors.New("invalid email or password")
	ErrInvalidToken  = errors.New("invalid or expired token")
)

const tokenIssuer = "chatsync"

// AuthService signs users in on a device. A device that sends its push token
// along with the credentials becomes the one that receives their pushes.
type AuthService struct {
	users    repository.UserRepository
	profiles *ProfileService
	secret   []byte
	ttl      time.Duration
	now      func() time.Time
}

func NewAuthService(users repository.UserRepository, profiles *ProfileService, secret string, ttl time.Duration) *AuthService {
	return &AuthService{
		users:    users,
		profiles: profiles,
		secret:   []byte(secret),
		ttl:      ttl,
		now:      time.Now,
	}
}

type RegisterInput struct {
	Email     string  `json:"email"`
	Username  string  `json:"username"`
	Password  string  `json:"password"`
	AvatarURL *string `json:"avatar_url,omitempty"`
	PushToken string  `json:"push_token,omitempty"`
}

type LoginInput struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	PushToken string `json:"push_token,omitempty"`
}

// Session is what a signed-in device keeps.
type Session struct {
	User        *domain.User `json:"user"`
	AccessToken string       `json:"access_token"`
	ExpiresAt   time.Time    `json:"expires_at"`
}

func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*Session, error) {
	email := normalizeEmail(input.Email)
	username := strings.TrimSpace(input.Username)

	errs := validator.ValidateRegister(email, username, input.Password)
	checkPushToken(input.PushToken, errs)
	if errs.HasErrors() {
		return nil, errs
	}

	if err := s.checkAvailable(ctx, email, username); err != nil {
		return nil, err
	}

	hash, err := hashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	now := s.now().UTC()
	user := &domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		Username:     username,
		PasswordHash: hash,
		AvatarURL:    input.AvatarURL,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			// Lost a race with another sign-up; report whichever now exists.
			if err := s.checkAvailable(ctx, email, username); err != nil {
				return nil, err
			}
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}

	if err := s.bindDevice(ctx, user, input.PushToken); err != nil {
		return nil, err
	}
	return s.issue(user)
}

func (s *AuthService) Login(ctx context.Context, input LoginInput) (*Session, error) {
	email := normalizeEmail(input.Email)

	errs := validator.ValidateLogin(email, input.Password)
	checkPushToken(input.PushToken, errs)
	if errs.HasErrors() {
		return nil, errs
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil || !verifyPassword(input.Password, user.PasswordHash) {
		return nil, ErrInvalidCreds
	}

	if err := s.bindDevice(ctx, user, input.PushToken); err != nil {
		return nil, err
	}
	return s.issue(user)
}

func (s *AuthService) checkAvailable(ctx context.Context, email, username string) error {
	if u, err := s.users.GetByEmail(ctx, email); err != nil {
		return err
	} else if u != nil {
		return ErrEmailTaken
	}
	if u, err := s.users.GetByUsername(ctx, username); err != nil {
		return err
	} else if u != nil {
		return ErrUsernameTaken
	}
	return nil
}

// bindDevice stores the device's push token for user, if one was sent.
func (s *AuthService) bindDevice(ctx context.Context, user *domain.User, token string) error {
	if token == "" {
		return nil
	}
	if err := s.profiles.RegisterPushToken(ctx, user.ID, token); err != nil {
		return fmt.Errorf("registering push token: %w", err)
	}
	user.PushToken = token
	return nil
}

func (s *AuthService) issue(user *domain.User) (*Session, error) {
	now := s.now()
	expires := now.Add(s.ttl)
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   user.ID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("signing token: %w", err)
	}
	return &Session{User: user, AccessToken: token, ExpiresAt: expires.UTC()}, nil
}

// ParseToken validates an access token and returns the user id it was issued
// for.
func (s *AuthService) ParseToken(tokenStr string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(tokenStr, &claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func checkPushToken(token string, errs validator.ValidationErrors) {
	if token == "" {
		return
	}
	for _, msg := range validator.ValidatePushToken(token) {
		errs.Add("push_token", msg)
	}
}

// Passwords are stored in the PHC string format, so the cost can be raised
// later without breaking existing hashes.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
)

func hashPassword(password string) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

func verifyPassword(password, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false
	}
	var memory, iterations uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}

	got := argon2.IDKey([]byte(password), salt, iterations, memory, threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}
