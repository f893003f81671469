package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cafecursor/cafecursor/internal/auth"
	"github.com/cafecursor/cafecursor/internal/cards"
	"github.com/cafecursor/cafecursor/internal/changefeed"
	"github.com/cafecursor/cafecursor/internal/database"
	"github.com/cafecursor/cafecursor/internal/users"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	testSigningSecret = "test-signing-secret"
	testCookieName    = "app_session"
)

type stubUploader struct {
	url string
	err error
}

func (s stubUploader) UploadCardImage(_ context.Context, userID string, data []byte) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.url + "/" + userID, nil
}

type apiFixture struct {
	server     *httptest.Server
	issuer     *auth.TokenIssuer
	dispatcher *changefeed.Dispatcher
}

type fixtureOptions struct {
	images     ImageUploader
	identities IdentityVerifier
	heartbeat  time.Duration
}

func newAPIFixture(t *testing.T, options fixtureOptions) apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.Open(database.DriverSQLite, "file:"+name+"?mode=memory&cache=shared", zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	dispatcher := changefeed.NewDispatcher(changefeed.DispatcherConfig{})
	userService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct user service: %v", err)
	}
	cardService, err := cards.NewService(cards.ServiceConfig{
		Database:   db,
		IDProvider: cards.NewUUIDProvider(),
		Publisher:  dispatcher,
		Names:      userService,
	})
	if err != nil {
		t.Fatalf("failed to construct card service: %v", err)
	}
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		CookieName:    testCookieName,
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{SigningSecret: []byte(testSigningSecret), TokenTTL: time.Hour})
	if err != nil {
		t.Fatalf("failed to construct issuer: %v", err)
	}
	metrics, err := NewHTTPMetrics(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("failed to construct metrics: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Sessions:          validator,
		Users:             userService,
		CardsService:      cardService,
		Changes:           dispatcher,
		Images:            options.images,
		Identities:        options.identities,
		Tokens:            issuer,
		SessionCookie:     testCookieName,
		Metrics:           metrics,
		Logger:            zap.NewNop(),
		HeartbeatInterval: options.heartbeat,
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return apiFixture{server: server, issuer: issuer, dispatcher: dispatcher}
}

func (f apiFixture) token(t *testing.T, userID string, roles ...string) string {
	t.Helper()
	token, _, err := f.issuer.IssueSessionToken(auth.SessionClaims{UserID: userID, UserDisplayName: strings.TrimPrefix(userID, "user-"), UserRoles: roles})
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

type envelope struct {
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

func (f apiFixture) do(t *testing.T, method, path, token string, body any) (int, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	request, err := http.NewRequest(method, f.server.URL+path, reader)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	request.Header.Set("Content-Type", "application/json")
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer response.Body.Close()
	var decoded envelope
	_ = json.NewDecoder(response.Body).Decode(&decoded)
	return response.StatusCode, decoded
}

func cardPayload(handle string) map[string]any {
	return map[string]any{
		"profile":   map[string]any{"handles": []map[string]string{{"platform": "github", "handle": handle}}},
		"image_url": "https://images.example.com/" + handle + ".jpg",
	}
}
