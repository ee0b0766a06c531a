package handlers

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/vedran77/chatsync/internal/repository/memory"
	"github.com/vedran77/chatsync/internal/service"
	"github.com/vedran77/chatsync/internal/transport/http/middleware"
	"go.uber.org/zap"
)

const mediaBaseURL = "http://media.test"

func newTestMux(t *testing.T) http.Handler {
	t.Helper()
	log := zap.NewNop()
	store := memory.NewStore()

	profileService := service.NewProfileService(store.Users())
	authService := service.NewAuthService(store.Users(), profileService, "test-secret", time.Hour)
	chatService := service.NewChatService(store.Rooms(), store.Messages(), store.Users(), log, 100)
	mediaService := service.NewMediaService(store.Media(), mediaBaseURL)

	authHandler := NewAuthHandler(authService, log)
	profileHandler := NewProfileHandler(profileService, log)
	roomHandler := NewRoomHandler(chatService, profileService, log)
	notificationHandler := NewNotificationHandler(chatService, log)
	mediaHandler := NewMediaHandler(mediaService, log)

	mux := http.NewServeMux()
	auth := middleware.Auth(authService)
	protect := func(pattern string, h http.HandlerFunc) { mux.Handle(pattern, auth(h)) }

	mux.HandleFunc("POST /api/v1/auth/register", authHandler.Register)
	mux.HandleFunc("POST /api/v1/auth/login", authHandler.Login)
	mux.HandleFunc("GET /media/{key}", mediaHandler.Get)
	protect("GET /api/v1/me", profileHandler.Me)
	protect("PUT /api/v1/me/profile", profileHandler.Save)
	protect("PUT /api/v1/me/push-token", profileHandler.PushToken)
	protect("POST /api/v1/rooms/{peer}", roomHandler.Open)
	protect("POST /api/v1/rooms/{peer}/messages", roomHandler.Send)
	protect("PATCH /api/v1/rooms/{peer}/messages/{id}", roomHandler.Edit)
	protect("DELETE /api/v1/rooms/{peer}/messages/{id}", roomHandler.Delete)
	protect("POST /api/v1/rooms/{peer}/read", roomHandler.MarkRead)
	protect("POST /api/v1/media", mediaHandler.Upload)
	protect("POST /api/v1/notifications/reply", notificationHandler.Reply)
	protect("POST /api/v1/notifications/read", notificationHandler.Read)
	return mux
}

func do(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatal(err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %s: %v", rec.Body.String(), err)
	}
	return v
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status = %d, want %d (%s)", rec.Code, status, rec.Body.String())
	}
	if got := decode[errorBody](t, rec).Error.Code; got != code {
		t.Errorf("code = %q, want %q", got, code)
	}
}

type session struct {
	token string
	id    string
}

func register(t *testing.T, h http.Handler, username string) session {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"email":    username + "@example.com",
		"username": username,
		"password": "Secret123",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register %s = %d %s", username, rec.Code, rec.Body.String())
	}
	resp := decode[service.Session](t, rec)
	return session{token: resp.AccessToken, id: resp.User.ID}
}

type messageBody struct {
	ID       string  `json:"id"`
	AuthorID string  `json:"author_id"`
	Body     *string `json:"body"`
	Type     string  `json:"type"`
}

func TestRegisterAndLogin(t *testing.T) {
	h := newTestMux(t)
	register(t, h, "alice")

	rec := do(t, h, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"email": "alice@example.com", "username": "alice2", "password": "Secret123",
	})
	expectError(t, rec, http.StatusConflict, "EMAIL_TAKEN")

	rec = do(t, h, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"email": "not-an-email", "username": "x", "password": "short",
	})
	expectError(t, rec, http.StatusBadRequest, "VALIDATION_ERROR")

	rec = do(t, h, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"email": "carol@example.com", "username": "carol", "password": "Secret123", "push_token": "not-a-token",
	})
	expectError(t, rec, http.StatusBadRequest, "VALIDATION_ERROR")

	rec = do(t, h, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"email": " Carol@Example.com ", "username": "carol", "password": "Secret123", "push_token": "ExponentPushToken[carol]",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register with device = %d %s", rec.Code, rec.Body.String())
	}
	if sess := decode[service.Session](t, rec); sess.User.Email != "carol@example.com" || sess.ExpiresAt.IsZero() {
		t.Errorf("session = %+v", sess)
	}

	rec = do(t, h, http.MethodPost, "/api/v1/auth/register", "", "{")
	expectError(t, rec, http.StatusBadRequest, "INVALID_JSON")

	rec = do(t, h, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": "Wrong1234",
	})
	expectError(t, rec, http.StatusUnauthorized, "INVALID_CREDENTIALS")

	rec = do(t, h, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": "Secret123",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login = %d %s", rec.Code, rec.Body.String())
	}
	if resp := decode[service.Session](t, rec); resp.AccessToken == "" || resp.User.Username != "alice" {
		t.Errorf("login = %+v", resp)
	}
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	h := newTestMux(t)

	expectError(t, do(t, h, http.MethodGet, "/api/v1/me", "", nil), http.StatusUnauthorized, "UNAUTHORIZED")
	expectError(t, do(t, h, http.MethodGet, "/api/v1/me", "garbage", nil), http.StatusUnauthorized, "UNAUTHORIZED")
}

func TestProfileRoutes(t *testing.T) {
	h := newTestMux(t)
	alice := register(t, h, "alice")
	register(t, h, "bob")

	rec := do(t, h, http.MethodGet, "/api/v1/me", alice.token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("me = %d", rec.Code)
	}
	if me := decode[map[string]any](t, rec); me["username"] != "alice" || me["id"] != alice.id {
		t.Errorf("me = %v", me)
	}

	rec = do(t, h, http.MethodPut, "/api/v1/me/profile", alice.token, map[string]string{"username": "alice.k"})
	if rec.Code != http.StatusOK {
		t.Fatalf("save = %d %s", rec.Code, rec.Body.String())
	}
	if me := decode[map[string]any](t, rec); me["username"] != "alice.k" {
		t.Errorf("saved = %v", me)
	}

	expectError(t, do(t, h, http.MethodPut, "/api/v1/me/profile", alice.token, map[string]string{"username": " "}),
		http.StatusBadRequest, "VALIDATION_ERROR")
	expectError(t, do(t, h, http.MethodPut, "/api/v1/me/profile", alice.token, map[string]string{"username": "bob"}),
		http.StatusConflict, "USERNAME_TAKEN")

	rec = do(t, h, http.MethodPut, "/api/v1/me/push-token", alice.token, map[string]string{"token": "ExponentPushToken[abc]"})
	if rec.Code != http.StatusNoContent {
		t.Errorf("push token = %d %s", rec.Code, rec.Body.String())
	}
	expectError(t, do(t, h, http.MethodPut, "/api/v1/me/push-token", alice.token, map[string]string{"token": "abc"}),
		http.StatusBadRequest, "VALIDATION_ERROR")
}

func TestRoomRoutes(t *testing.T) {
	h := newTestMux(t)
	alice := register(t, h, "alice")
	bob := register(t, h, "bob")
	toBob := "/api/v1/rooms/" + bob.id
	toAlice := "/api/v1/rooms/" + alice.id

	rec := do(t, h, http.MethodPost, toBob, alice.token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("open = %d %s", rec.Code, rec.Body.String())
	}
	room := decode[map[string]any](t, rec)

	rec = do(t, h, http.MethodPost, toAlice, bob.token, nil)
	if again := decode[map[string]any](t, rec); again["id"] != room["id"] {
		t.Errorf("room ids differ: %v vs %v", room["id"], again["id"])
	}

	rec = do(t, h, http.MethodPost, toBob+"/messages", alice.token, map[string]string{"text": "hi bob"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("send = %d %s", rec.Code, rec.Body.String())
	}
	msg := decode[messageBody](t, rec)
	if msg.ID == "" || msg.AuthorID != alice.id || msg.Body == nil || *msg.Body != "hi bob" {
		t.Errorf("sent = %+v", msg)
	}

	expectError(t, do(t, h, http.MethodPost, toBob+"/messages", alice.token, map[string]string{"text": ""}),
		http.StatusBadRequest, "VALIDATION_ERROR")
	expectError(t, do(t, h, http.MethodPost, "/api/v1/rooms/nobody/messages", alice.token, map[string]string{"text": "hello?"}),
		http.StatusNotFound, "NOT_FOUND")
	expectError(t, do(t, h, http.MethodPost, "/api/v1/rooms/nobody", alice.token, nil),
		http.StatusNotFound, "NOT_FOUND")

	for i, want := range []int{1, 0} {
		rec = do(t, h, http.MethodPost, toAlice+"/read", bob.token, nil)
		if got := decode[map[string]int](t, rec)["marked"]; got != want {
			t.Errorf("read #%d marked %d, want %d", i+1, got, want)
		}
	}

	rec = do(t, h, http.MethodPatch, toBob+"/messages/"+msg.ID, alice.token, map[string]string{"text": "hi bob!"})
	if rec.Code != http.StatusOK {
		t.Fatalf("edit = %d %s", rec.Code, rec.Body.String())
	}
	if edited := decode[messageBody](t, rec); edited.Body == nil || *edited.Body != "hi bob!" {
		t.Errorf("edited = %+v", edited)
	}

	expectError(t, do(t, h, http.MethodPatch, toAlice+"/messages/"+msg.ID, bob.token, map[string]string{"text": "mine"}),
		http.StatusForbidden, "FORBIDDEN")
	expectError(t, do(t, h, http.MethodDelete, toAlice+"/messages/"+msg.ID, bob.token, nil),
		http.StatusForbidden, "FORBIDDEN")

	rec = do(t, h, http.MethodDelete, toBob+"/messages/"+msg.ID, alice.token, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete = %d %s", rec.Code, rec.Body.String())
	}
	expectError(t, do(t, h, http.MethodDelete, toBob+"/messages/"+msg.ID, alice.token, nil),
		http.StatusNotFound, "NOT_FOUND")
}

func TestNotificationRoutes(t *testing.T) {
	h := newTestMux(t)
	alice := register(t, h, "alice")
	bob := register(t, h, "bob")

	rec := do(t, h, http.MethodPost, "/api/v1/rooms/"+bob.id+"/messages", alice.token, map[string]string{"text": "lunch?"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("send = %d", rec.Code)
	}
	opened := decode[map[string]any](t, do(t, h, http.MethodPost, "/api/v1/rooms/"+bob.id, alice.token, nil))
	if opened["last_message"] != "lunch?" {
		t.Errorf("room opened by the first send = %v", opened)
	}
	roomID := opened["id"].(string)

	toBob := map[string]string{"roomId": roomID, "forwardId": bob.id, "reverseId": alice.id}

	rec = do(t, h, http.MethodPost, "/api/v1/notifications/reply", bob.token, map[string]any{"data": toBob, "text": "sure"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("reply = %d %s", rec.Code, rec.Body.String())
	}
	if reply := decode[messageBody](t, rec); reply.AuthorID != bob.id || reply.Body == nil || *reply.Body != "sure" {
		t.Errorf("reply = %+v", reply)
	}

	expectError(t, do(t, h, http.MethodPost, "/api/v1/notifications/reply", alice.token, map[string]any{"data": toBob, "text": "hijack"}),
		http.StatusForbidden, "FORBIDDEN")
	expectError(t, do(t, h, http.MethodPost, "/api/v1/notifications/reply", bob.token, map[string]any{"data": map[string]string{"roomId": roomID}, "text": "x"}),
		http.StatusBadRequest, "INVALID_PAYLOAD")
	expectError(t, do(t, h, http.MethodPost, "/api/v1/notifications/reply", bob.token, map[string]any{"data": toBob, "text": " "}),
		http.StatusBadRequest, "VALIDATION_ERROR")

	rec = do(t, h, http.MethodPost, "/api/v1/notifications/read", bob.token, map[string]any{"data": toBob})
	if got := decode[map[string]int](t, rec)["marked"]; got != 1 {
		t.Errorf("bob marked %d, want 1", got)
	}

	toAlice := map[string]string{"roomId": roomID, "forwardId": alice.id, "reverseId": bob.id}
	rec = do(t, h, http.MethodPost, "/api/v1/notifications/read", alice.token, map[string]any{"data": toAlice})
	if got := decode[map[string]int](t, rec)["marked"]; got != 1 {
		t.Errorf("alice marked %d, want 1", got)
	}
}

func upload(t *testing.T, h http.Handler, token, contentType string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="file"; filename="upload"`)
	header.Set("Content-Type", contentType)
	part, err := w.CreatePart(header)
	if err != nil {
		t.Fatal(err)
	}
	part.Write(data)
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/media", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMediaRoutes(t *testing.T) {
	h := newTestMux(t)
	alice := register(t, h, "alice")
	png := []byte("\x89PNG fake image")

	rec := upload(t, h, alice.token, "image/png", png)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload = %d %s", rec.Code, rec.Body.String())
	}
	url := decode[map[string]string](t, rec)["url"]
	if !strings.HasPrefix(url, mediaBaseURL+"/media/") {
		t.Fatalf("url = %q", url)
	}

	rec = do(t, h, http.MethodGet, strings.TrimPrefix(url, mediaBaseURL), "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get = %d", rec.Code)
	}
	if rec.Header().Get("Content-Type") != "image/png" || !strings.Contains(rec.Header().Get("Cache-Control"), "immutable") {
		t.Errorf("headers = %v", rec.Header())
	}
	if !bytes.Equal(rec.Body.Bytes(), png) {
		t.Errorf("body = %q", rec.Body.Bytes())
	}

	expectError(t, upload(t, h, alice.token, "text/plain", []byte("hello")), http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA")
	expectError(t, do(t, h, http.MethodPost, "/api/v1/media", alice.token, nil), http.StatusBadRequest, "INVALID_UPLOAD")
	expectError(t, do(t, h, http.MethodGet, "/media/missing.png", "", nil), http.StatusNotFound, "NOT_FOUND")
}
