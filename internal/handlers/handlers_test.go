package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/federated-storage/registry/internal/middleware"
	"github.com/federated-storage/registry/internal/models"
	"github.com/federated-storage/registry/internal/registry"
	"github.com/federated-storage/registry/internal/services"
)

const (
	testSecret  = "test-secret"
	testService = "svc-key"
	owner       = "0xowner"
	alice       = "0xalice"
	bob         = "0xbob"
	validRef    = "bafkreibm6jg3ux5qumhcn2b3flc3tyu6dmlb4xa7u5bf44yegnrjhc4yeq"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type memLedger struct {
	balances map[string]int64
	fail     bool
}

func (l *memLedger) Transfer(_ context.Context, to string, amount int64) error {
	if l.fail {
		return errors.New("ledger down")
	}
	l.balances[to] += amount
	return nil
}

func (l *memLedger) TransferFrom(_ context.Context, from, to string, amount int64) error {
	if l.fail || l.balances[from] < amount {
		return errors.New("insufficient balance")
	}
	l.balances[from] -= amount
	l.balances[to] += amount
	return nil
}

func (l *memLedger) BalanceOf(_ context.Context, account string) (int64, error) {
	return l.balances[account], nil
}

type memAccounts struct {
	byEmail map[string]*models.Account
}

func (m *memAccounts) Register(_ context.Context, req services.RegisterRequest) (*models.Account, error) {
	if _, ok := m.byEmail[req.Email]; ok {
		return nil, services.ErrAccountExists
	}
	acc := &models.Account{ID: uuid.New(), Email: req.Email, PasswordHash: req.Password, Address: "0x" + req.Email}
	m.byEmail[req.Email] = acc
	return acc, nil
}

func (m *memAccounts) Login(_ context.Context, req services.LoginRequest) (*models.Account, error) {
	acc, ok := m.byEmail[req.Email]
	if !ok || acc.PasswordHash != req.Password {
		return nil, services.ErrInvalidCredentials
	}
	return acc, nil
}

func (m *memAccounts) GetByAddress(_ context.Context, address string) (*models.Account, error) {
	for _, acc := range m.byEmail {
		if acc.Address == address {
			return acc, nil
		}
	}
	return nil, services.ErrAccountNotFound
}

type testAPI struct {
	router   *gin.Engine
	registry *registry.Registry
	ledger   *memLedger
	content  *services.ContentService
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	ledger := &memLedger{balances: map[string]int64{bob: 100, owner: 0}}
	reg := registry.New(registry.Options{
		Ledger:     ledger,
		TokenRef:   "tip",
		Authorizer: registry.NewOwnable(owner),
	})
	content := services.NewContentService(services.ContentOptions{
		Dir:       t.TempDir(),
		MaxBytes:  1 << 20,
		CacheSize: 4,
		CacheTTL:  time.Minute,
	})
	router := NewRouter(RouterConfig{
		Registry:   reg,
		Accounts:   &memAccounts{byEmail: map[string]*models.Account{}},
		Content:    content,
		Feed:       services.NewEventFeed(8, nil),
		JWT:        middleware.JWTConfig{Secret: testSecret, Expiration: time.Hour},
		ServiceKey: testService,
	})
	return &testAPI{router: router, registry: reg, ledger: ledger, content: content}
}

func bearer(t *testing.T, identity string) string {
	t.Helper()
	token, err := middleware.GenerateToken("acc", identity+"@example.com", identity,
		middleware.JWTConfig{Secret: testSecret, Expiration: time.Hour})
	require.NoError(t, err)
	return "Bearer " + token
}

func (a *testAPI) do(t *testing.T, method, path, identity string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if identity != "" {
		req.Header.Set("Authorization", bearer(t, identity))
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestFiles_UploadAndRead(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodPost, "/api/v1/files", "", UploadFileRequest{ContentRef: validRef, Title: "Song"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = api.do(t, http.MethodPost, "/api/v1/files", alice, UploadFileRequest{
		ContentRef: validRef,
		Title:      "Song",
		Category:   "music",
		Tags:       []string{"jazz", "live"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	rec := decode(t, w)
	assert.Equal(t, float64(1), rec["id"])
	assert.Equal(t, alice, rec["uploader"])

	w = api.do(t, http.MethodGet, "/api/v1/files/1", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = api.do(t, http.MethodGet, "/api/v1/files/2", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = api.do(t, http.MethodGet, "/api/v1/files/abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(t, http.MethodGet, "/api/v1/files?tag=jazz", "", nil)
	assert.Equal(t, float64(1), decode(t, w)["total"])
	w = api.do(t, http.MethodGet, "/api/v1/files?category=video", "", nil)
	assert.Equal(t, float64(0), decode(t, w)["total"])

	w = api.do(t, http.MethodGet, "/api/v1/accounts/"+alice+"/files", "", nil)
	assert.Equal(t, []any{float64(1)}, decode(t, w)["file_ids"])
}

func TestFiles_UploadValidation(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodPost, "/api/v1/files", alice, UploadFileRequest{ContentRef: "short", Title: "Song"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(t, http.MethodPost, "/api/v1/files", alice, UploadFileRequest{ContentRef: validRef})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, registry.ErrMissingTitle.Error(), decode(t, w)["error"])

	assert.Zero(t, api.registry.Count())
}

func TestFiles_MultipartUploadAndContent(t *testing.T) {
	api := newTestAPI(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "song.mp3")
	require.NoError(t, err)
	_, err = part.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("title", "Song"))
	require.NoError(t, mw.WriteField("tags", "jazz"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/files", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", bearer(t, alice))
	w := httptest.NewRecorder()
	api.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	rec := decode(t, w)
	assert.Equal(t, validRef, rec["content_ref"])
	assert.Equal(t, []any{"jazz"}, rec["tags"])

	w = api.do(t, http.MethodGet, "/api/v1/content/"+validRef, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello", w.Body.String())

	w = api.do(t, http.MethodGet, "/api/v1/content/garbage", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFiles_MultipartUploadWithoutTitle(t *testing.T) {
	api := newTestAPI(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "song.mp3")
	require.NoError(t, err)
	_, err = part.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/files", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", bearer(t, alice))
	w := httptest.NewRecorder()
	api.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, registry.ErrMissingTitle.Error(), decode(t, w)["error"])
	assert.False(t, api.content.Has(validRef), "blob must not be stored")
	assert.Zero(t, api.registry.Count())
}

func TestFiles_UpdateMetadata(t *testing.T) {
	api := newTestAPI(t)
	require.Equal(t, http.StatusCreated,
		api.do(t, http.MethodPost, "/api/v1/files", alice, UploadFileRequest{ContentRef: validRef, Title: "Song"}).Code)

	w := api.do(t, http.MethodPut, "/api/v1/files/1", bob, UpdateFileRequest{Title: "Mine"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = api.do(t, http.MethodPut, "/api/v1/files/1", alice, UpdateFileRequest{Title: "Renamed"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Renamed", decode(t, w)["title"])
}

func TestEngagement(t *testing.T) {
	api := newTestAPI(t)
	require.Equal(t, http.StatusCreated,
		api.do(t, http.MethodPost, "/api/v1/files", alice, UploadFileRequest{ContentRef: validRef, Title: "Song"}).Code)

	w := api.do(t, http.MethodPost, "/api/v1/files/1/ratings", bob, map[string]int64{"rating": 2000})
	require.Equal(t, http.StatusOK, w.Code)
	w = api.do(t, http.MethodPost, "/api/v1/files/1/ratings", bob, map[string]int64{"rating": 4000})
	got := decode(t, w)
	assert.Equal(t, float64(3000), got["average_rating"])
	assert.Equal(t, float64(2), got["rating_count"])

	w = api.do(t, http.MethodPost, "/api/v1/files/1/ratings", bob, map[string]int64{"rating": 10001})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = api.do(t, http.MethodPost, "/api/v1/files/1/ratings", bob, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(t, http.MethodPost, "/api/v1/files/1/comments", bob, CommentRequest{Content: "great"})
	assert.Equal(t, http.StatusCreated, w.Code)
	w = api.do(t, http.MethodPost, "/api/v1/files/1/comments", bob, CommentRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = api.do(t, http.MethodPost, "/api/v1/files/9/comments", bob, CommentRequest{Content: "hi"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = api.do(t, http.MethodGet, "/api/v1/files/1/comments", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	comments := decode(t, w)["comments"].([]any)
	require.Len(t, comments, 1)
	assert.Equal(t, bob, comments[0].(map[string]any)["author"])
}

func TestTips(t *testing.T) {
	api := newTestAPI(t)
	require.Equal(t, http.StatusCreated,
		api.do(t, http.MethodPost, "/api/v1/files", alice, UploadFileRequest{ContentRef: validRef, Title: "Song"}).Code)

	tests := []struct {
		name     string
		caller   string
		fileID   string
		amount   int64
		wantCode int
	}{
		{name: "valid tip", caller: bob, fileID: "1", amount: 40, wantCode: http.StatusOK},
		{name: "self tip", caller: alice, fileID: "1", amount: 5, wantCode: http.StatusBadRequest},
		{name: "zero amount", caller: bob, fileID: "1", amount: 0, wantCode: http.StatusBadRequest},
		{name: "unknown file", caller: bob, fileID: "7", amount: 5, wantCode: http.StatusNotFound},
		{name: "insufficient balance", caller: bob, fileID: "1", amount: 1000, wantCode: http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := api.do(t, http.MethodPost, "/api/v1/files/"+tt.fileID+"/tips", tt.caller, map[string]int64{"amount": tt.amount})
			assert.Equal(t, tt.wantCode, w.Code, w.Body.String())
		})
	}

	rec, err := api.registry.Get(1)
	require.NoError(t, err)
	assert.Equal(t, int64(40), rec.TotalTips)
	assert.Equal(t, int64(40), api.ledger.balances[alice])
	assert.Equal(t, int64(60), api.ledger.balances[bob])
}

func TestRewards(t *testing.T) {
	api := newTestAPI(t)

	accrue := func(key string, body any) *httptest.ResponseRecorder {
		data, _ := json.Marshal(body)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/internal/rewards/accrue", bytes.NewReader(data))
		req.Header.Set("Content-Type", "application/json")
		if key != "" {
			req.Header.Set(middleware.ServiceKeyHeader, key)
		}
		w := httptest.NewRecorder()
		api.router.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusUnauthorized, accrue("", AccrueRequest{Uploader: alice}).Code)
	assert.Equal(t, http.StatusUnauthorized, accrue("wrong", map[string]any{"uploader": alice, "amount": 5}).Code)
	assert.Equal(t, http.StatusBadRequest, accrue(testService, map[string]any{"uploader": alice, "amount": -5}).Code)

	w := accrue(testService, map[string]any{"uploader": alice, "amount": 25})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(25), decode(t, w)["pending"])

	w = api.do(t, http.MethodGet, "/api/v1/accounts/"+alice+"/rewards", "", nil)
	assert.Equal(t, float64(25), decode(t, w)["pending"])

	w = api.do(t, http.MethodPost, "/api/v1/rewards/claim", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(25), decode(t, w)["claimed"])
	assert.Equal(t, int64(25), api.ledger.balances[alice])

	w = api.do(t, http.MethodPost, "/api/v1/rewards/claim", alice, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAdmin(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodPost, "/api/v1/admin/withdraw", bob, WithdrawRequest{To: bob, Amount: ptr(10)})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = api.do(t, http.MethodPost, "/api/v1/admin/withdraw", owner, WithdrawRequest{To: bob, Amount: ptr(10)})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(110), api.ledger.balances[bob])

	api.ledger.fail = true
	w = api.do(t, http.MethodPost, "/api/v1/admin/withdraw", owner, WithdrawRequest{To: bob, Amount: ptr(10)})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	// no resolver is configured
	w = api.do(t, http.MethodPut, "/api/v1/admin/token", owner, SetTokenRequest{Token: "gold"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = api.do(t, http.MethodPut, "/api/v1/admin/owner", owner, TransferOwnerRequest{Owner: alice})
	require.Equal(t, http.StatusOK, w.Code)
	w = api.do(t, http.MethodPut, "/api/v1/admin/owner", owner, TransferOwnerRequest{Owner: bob})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAuth(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodPost, "/api/v1/auth/register", "", services.RegisterRequest{Email: "carol@example.com", Password: "longpassword"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp services.AuthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Token)

	w = api.do(t, http.MethodPost, "/api/v1/auth/register", "", services.RegisterRequest{Email: "carol@example.com", Password: "longpassword"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = api.do(t, http.MethodPost, "/api/v1/auth/register", "", services.RegisterRequest{Email: "bad", Password: "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(t, http.MethodPost, "/api/v1/auth/login", "", services.LoginRequest{Email: "carol@example.com", Password: "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = api.do(t, http.MethodPost, "/api/v1/auth/login", "", services.LoginRequest{Email: "carol@example.com", Password: "longpassword"})
	require.Equal(t, http.StatusOK, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/profile", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Token)
	w = httptest.NewRecorder()
	api.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	profile := decode(t, w)
	assert.Equal(t, float64(0), profile["balance"])
	assert.Equal(t, "tip", profile["token"])
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t)
	w := api.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])

	w = api.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func ptr(v int64) *int64 { return &v }
