package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/vedran77/chatsync/internal/repository/memory"
	"github.com/vedran77/chatsync/pkg/validator"
)

func newAuth(store *memory.Store, secret string) *AuthService {
	return NewAuthService(store.Users(), NewProfileService(store.Users()), secret, time.Hour)
}

func TestRegisterLoginAndParseToken(t *testing.T) {
	ctx := context.Background()
	auth := newAuth(memory.NewStore(), "test-secret")

	sess, err := auth.Register(ctx, RegisterInput{Email: " Ana@Example.com", Username: "ana ", Password: "Secret123"})
	if err != nil {
		t.Fatal(err)
	}
	if sess.User.ID == "" || sess.AccessToken == "" {
		t.Fatalf("session = %+v", sess)
	}
	if sess.User.Email != "ana@example.com" || sess.User.Username != "ana" {
		t.Errorf("stored %q / %q", sess.User.Email, sess.User.Username)
	}
	if !strings.HasPrefix(sess.User.PasswordHash, "$argon2id$") {
		t.Errorf("hash = %q", sess.User.PasswordHash)
	}
	if d := time.Until(sess.ExpiresAt); d <= 0 || d > time.Hour {
		t.Errorf("expires in %v", d)
	}

	userID, err := auth.ParseToken(sess.AccessToken)
	if err != nil || userID != sess.User.ID {
		t.Errorf("ParseToken = %q, %v", userID, err)
	}

	if _, err := auth.Register(ctx, RegisterInput{Email: "ANA@example.com", Username: "other", Password: "Secret123"}); !errors.Is(err, ErrEmailTaken) {
		t.Errorf("duplicate email = %v", err)
	}
	if _, err := auth.Register(ctx, RegisterInput{Email: "x@example.com", Username: "ana", Password: "Secret123"}); !errors.Is(err, ErrUsernameTaken) {
		t.Errorf("duplicate username = %v", err)
	}

	if _, err := auth.Login(ctx, LoginInput{Email: "ana@example.com", Password: "wrong"}); !errors.Is(err, ErrInvalidCreds) {
		t.Errorf("wrong password = %v", err)
	}
	if _, err := auth.Login(ctx, LoginInput{Email: "nobody@example.com", Password: "Secret123"}); !errors.Is(err, ErrInvalidCreds) {
		t.Errorf("unknown email = %v", err)
	}
	login, err := auth.Login(ctx, LoginInput{Email: "Ana@example.com", Password: "Secret123"})
	if err != nil || login.User.ID != sess.User.ID {
		t.Errorf("Login = %+v, %v", login, err)
	}
}

func TestRegisterValidates(t *testing.T) {
	auth := newAuth(memory.NewStore(), "test-secret")

	_, err := auth.Register(context.Background(), RegisterInput{
		Email: "not-an-email", Username: "x", Password: "short", PushToken: "abc",
	})
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("err = %v", err)
	}
	for _, field := range []string{"email", "username", "password", "push_token"} {
		if _, ok := verrs[field]; !ok {
			t.Errorf("no error for %s in %v", field, verrs)
		}
	}
}

func TestSignInBindsDevice(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	auth := newAuth(store, "test-secret")
	avatar := "https://cdn/ana.png"

	sess, err := auth.Register(ctx, RegisterInput{
		Email: "ana@example.com", Username: "ana", Password: "Secret123",
		AvatarURL: &avatar, PushToken: "ExponentPushToken[phone]",
	})
	if err != nil {
		t.Fatal(err)
	}
	user, _ := store.Users().GetByID(ctx, sess.User.ID)
	if user.PushToken != "ExponentPushToken[phone]" || user.AvatarURL == nil || *user.AvatarURL != avatar {
		t.Errorf("after register = %+v", user)
	}

	if _, err := auth.Login(ctx, LoginInput{Email: "ana@example.com", Password: "Secret123"}); err != nil {
		t.Fatal(err)
	}
	user, _ = store.Users().GetByID(ctx, sess.User.ID)
	if user.PushToken != "ExponentPushToken[phone]" {
		t.Errorf("login without a token replaced it with %q", user.PushToken)
	}

	if _, err := auth.Login(ctx, LoginInput{Email: "ana@example.com", Password: "Secret123", PushToken: "ExponentPushToken[tablet]"}); err != nil {
		t.Fatal(err)
	}
	user, _ = store.Users().GetByID(ctx, sess.User.ID)
	if user.PushToken != "ExponentPushToken[tablet]" {
		t.Errorf("push token = %q, want the tablet", user.PushToken)
	}
}

func TestParseTokenRejects(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	sess, err := newAuth(store, "one").Register(ctx, RegisterInput{Email: "a@example.com", Username: "abc", Password: "Secret123"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := newAuth(store, "two").ParseToken(sess.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("ParseToken with other secret = %v", err)
	}
	if _, err := newAuth(store, "one").ParseToken("garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("ParseToken garbage = %v", err)
	}

	later := newAuth(store, "one")
	later.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := later.ParseToken(sess.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("ParseToken after expiry = %v", err)
	}
}

func TestVerifyPassword(t *testing.T) {
	hash, err := hashPassword("Secret123")
	if err != nil {
		t.Fatal(err)
	}
	if !verifyPassword("Secret123", hash) {
		t.Error("right password rejected")
	}
	if verifyPassword("Secret124", hash) {
		t.Error("wrong password accepted")
	}
	for _, bad := range []string{"", "salt:hash", "$argon2i$v=19$m=1,t=1,p=1$AA$AA", strings.Replace(hash, "v=19", "v=16", 1)} {
		if verifyPassword("Secret123", bad) {
			t.Errorf("accepted malformed hash %q", bad)
		}
	}
}
