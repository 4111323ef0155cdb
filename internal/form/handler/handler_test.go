package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/charrlodin/otter-form/internal/config"
	"github.com/charrlodin/otter-form/internal/form/entity"
	"github.com/charrlodin/otter-form/internal/form/llm"
	"github.com/charrlodin/otter-form/internal/form/repository"
	"github.com/charrlodin/otter-form/internal/form/runner"
	"github.com/charrlodin/otter-form/internal/form/service"
	"github.com/charrlodin/otter-form/internal/form/sse"
	"github.com/charrlodin/otter-form/internal/form/testutil"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type stubCompleter struct {
	reply string
	err   error
}

func (s *stubCompleter) Complete(context.Context, llm.Request) (string, error) {
	return s.reply, s.err
}

func (s *stubCompleter) Provider() string { return llm.ProviderOpenAI }

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memStore) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, errors.New("object not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memStore) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

type handlerEnv struct {
	router    *gin.Engine
	db        *gorm.DB
	mr        *miniredis.Miniredis
	completer *stubCompleter
	cfg       *config.Config
}

func setupHandlerTest(t *testing.T, tweak ...func(*config.Config)) *handlerEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)
	rdb, mr := testutil.SetupRedis(t)
	cfg := testutil.TestConfig()
	for _, fn := range tweak {
		fn(cfg)
	}

	completer := &stubCompleter{}
	hub := sse.NewHub(zap.NewNop())
	svc := service.NewServices(service.Deps{
		Repos:     repository.NewRepositories(db),
		Redis:     rdb,
		Store:     &memStore{objects: make(map[string][]byte)},
		Hub:       hub,
		Completer: completer,
		Config:    cfg,
		Logger:    zap.NewNop(),
	})

	router := testutil.SetupRouter()
	RegisterRoutes(router, NewHandlers(svc, hub), svc.Limiter, cfg, zap.NewNop())

	return &handlerEnv{router: router, db: db, mr: mr, completer: completer, cfg: cfg}
}

func (e *handlerEnv) seedForm(t *testing.T) {
	t.Helper()
	testutil.SeedTestForm(t, e.db, "form-1", testutil.DefaultUserID, "feedback-aaaaaa", testutil.SampleSchema())
}

func validSubmission() map[string]interface{} {
	return map[string]interface{}{
		"answers": map[string]interface{}{
			"field_1": "Ada Lovelace",
			"field_2": "ada@example.com",
			"field_3": "Pro",
			"field_4": []string{"Forms"},
			"field_5": 5,
		},
	}
}

func dataOf(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	resp := testutil.ParseResponse(w)
	data, ok := resp["data"].(map[string]interface{})
	require.True(t, ok, "response has no data object: %s", w.Body.String())
	return data
}

func TestFormHandler_CRUD(t *testing.T) {
	env := setupHandlerTest(t)
	token := testutil.DefaultTestToken()

	w := testutil.DoRequest(env.router, "POST", "/api/v1/forms", map[string]interface{}{"title": "Team Lunch"}, token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	data := dataOf(t, w)
	formID := data["form_id"].(string)
	assert.True(t, strings.HasPrefix(data["slug"].(string), "team-lunch-"))

	w = testutil.DoRequest(env.router, "GET", "/api/v1/forms", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, dataOf(t, w)["items"], 1)

	w = testutil.DoRequest(env.router, "PATCH", "/api/v1/forms/"+formID, map[string]interface{}{"title": "Team Dinner", "is_active": false}, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	data = dataOf(t, w)
	assert.Equal(t, "Team Dinner", data["title"])
	assert.Equal(t, false, data["is_active"])

	w = testutil.DoRequest(env.router, "GET", "/api/v1/forms/"+formID, nil, testutil.GenerateTestToken(testutil.OtherUserID, "Other", "other@test.com"))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, float64(40300), testutil.ParseResponse(w)["code"])

	w = testutil.DoRequest(env.router, "DELETE", "/api/v1/forms/"+formID, nil, token)
	require.Equal(t, http.StatusOK, w.Code)

	w = testutil.DoRequest(env.router, "GET", "/api/v1/forms/"+formID, nil, token)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, float64(40400), testutil.ParseResponse(w)["code"])
}

func TestFormHandler_RequiresAuth(t *testing.T) {
	env := setupHandlerTest(t)

	w := testutil.DoRequest(env.router, "GET", "/api/v1/forms", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestFormHandler_UpdateErrors(t *testing.T) {
	env := setupHandlerTest(t)
	env.seedForm(t)
	testutil.SeedTestForm(t, env.db, "form-2", testutil.DefaultUserID, "taken-slug", testutil.SampleSchema())
	token := testutil.DefaultTestToken()

	w := testutil.DoRequest(env.router, "PATCH", "/api/v1/forms/form-1", map[string]interface{}{"slug": "taken-slug"}, token)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = testutil.DoRequest(env.router, "PATCH", "/api/v1/forms/form-1", map[string]interface{}{"slug": "Not A Slug!"}, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = testutil.DoRequest(env.router, "PATCH", "/api/v1/forms/form-1", map[string]interface{}{"requires_password": true}, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPublicHandler_SubmitFlow(t *testing.T) {
	env := setupHandlerTest(t)
	env.seedForm(t)
	token := testutil.DefaultTestToken()

	w := testutil.DoRequest(env.router, "GET", "/api/v1/public/forms/feedback-aaaaaa", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	data := dataOf(t, w)
	assert.Equal(t, false, data["is_locked"])
	assert.NotNil(t, data["schema"])

	w = testutil.DoRequest(env.router, "POST", "/api/v1/public/forms/feedback-aaaaaa/view", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	w = testutil.DoRequest(env.router, "POST", "/api/v1/public/forms/feedback-aaaaaa/start", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = testutil.DoRequest(env.router, "POST", "/api/v1/public/forms/feedback-aaaaaa/responses",
		map[string]interface{}{"answers": map[string]interface{}{"field_2": "nope"}}, "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	resp := testutil.ParseResponse(w)
	assert.Equal(t, float64(40001), resp["code"])
	fields := resp["data"].(map[string]interface{})["fields"].([]interface{})
	assert.NotEmpty(t, fields)

	w = testutil.DoRequest(env.router, "POST", "/api/v1/public/forms/feedback-aaaaaa/responses", validSubmission(), "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	responseID := dataOf(t, w)["response_id"].(string)

	w = testutil.DoRequest(env.router, "GET", "/api/v1/forms/form-1/responses?page=1&page_size=10", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	data = dataOf(t, w)
	pagination := data["pagination"].(map[string]interface{})
	assert.Equal(t, float64(1), pagination["total"])
	assert.Equal(t, float64(10), pagination["page_size"])

	w = testutil.DoRequest(env.router, "GET", "/api/v1/forms/form-1/responses/"+responseID, nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	answers := dataOf(t, w)["answers"].(map[string]interface{})
	assert.Equal(t, "Ada Lovelace", answers["field_1"])

	w = testutil.DoRequest(env.router, "GET", "/api/v1/forms/form-1/stats", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	stats := dataOf(t, w)
	assert.Equal(t, float64(1), stats["view_count"])
	assert.Equal(t, float64(1), stats["submission_count"])
	assert.Equal(t, float64(100), stats["completion_rate"])

	w = testutil.DoRequest(env.router, "GET", "/api/v1/dashboard/overview", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), dataOf(t, w)["total_responses"])

	w = testutil.DoRequest(env.router, "DELETE", "/api/v1/forms/form-1/responses/"+responseID, nil, token)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestPublicHandler_InactiveAndMissing(t *testing.T) {
	env := setupHandlerTest(t)
	env.seedForm(t)
	require.NoError(t, env.db.Exec("UPDATE forms SET is_active = ? WHERE id = ?", false, "form-1").Error)

	w := testutil.DoRequest(env.router, "POST", "/api/v1/public/forms/feedback-aaaaaa/responses", validSubmission(), "")
	assert.Equal(t, http.StatusGone, w.Code)
	assert.Equal(t, float64(41000), testutil.ParseResponse(w)["code"])

	w = testutil.DoRequest(env.router, "GET", "/api/v1/public/forms/does-not-exist", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPublicHandler_PasswordGate(t *testing.T) {
	env := setupHandlerTest(t)
	env.seedForm(t)
	token := testutil.DefaultTestToken()

	w := testutil.DoRequest(env.router, "PATCH", "/api/v1/forms/form-1", map[string]interface{}{"password": "otter"}, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, dataOf(t, w)["requires_password"])

	w = testutil.DoRequest(env.router, "GET", "/api/v1/public/forms/feedback-aaaaaa", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	data := dataOf(t, w)
	assert.Equal(t, true, data["is_locked"])
	assert.Nil(t, data["schema"])

	w = testutil.DoRequest(env.router, "POST", "/api/v1/public/forms/feedback-aaaaaa/unlock", map[string]string{"password": "wrong"}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, float64(40110), testutil.ParseResponse(w)["code"])

	w = testutil.DoRequest(env.router, "POST", "/api/v1/public/forms/feedback-aaaaaa/unlock", map[string]string{"password": "otter"}, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotNil(t, dataOf(t, w)["schema"])

	req := httptest.NewRequest("GET", "/api/v1/public/forms/feedback-aaaaaa", nil)
	req.Header.Set("X-Form-Password", "otter")
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, dataOf(t, w)["is_locked"])

	w = testutil.DoRequest(env.router, "POST", "/api/v1/public/forms/feedback-aaaaaa/responses", validSubmission(), "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	body := validSubmission()
	body["password"] = "otter"
	w = testutil.DoRequest(env.router, "POST", "/api/v1/public/forms/feedback-aaaaaa/responses", body, "")
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestPublicHandler_SubmitRateLimit(t *testing.T) {
	env := setupHandlerTest(t, func(cfg *config.Config) {
		cfg.Form.SubmitRateLimit = 1
		cfg.Form.SubmitRateEvery = 24 * time.Hour
	})
	env.seedForm(t)

	w := testutil.DoRequest(env.router, "POST", "/api/v1/public/forms/feedback-aaaaaa/responses", validSubmission(), "")
	require.Equal(t, http.StatusCreated, w.Code)

	w = testutil.DoRequest(env.router, "POST", "/api/v1/public/forms/feedback-aaaaaa/responses", validSubmission(), "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func uploadRequest(t *testing.T, slug, fieldID, name string, content []byte) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	require.NoError(t, writer.WriteField("field_id", fieldID))
	part, err := writer.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest("POST", "/api/v1/public/forms/"+slug+"/uploads", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestUploadHandler_UploadAndDownload(t *testing.T) {
	env := setupHandlerTest(t)
	schema := testutil.SampleSchema()
	schema.Fields = append(schema.Fields, entity.FormField{ID: "field_6", Label: "Resume", Type: entity.FieldFileUpload})
	testutil.SeedTestForm(t, env.db, "form-1", testutil.DefaultUserID, "jobs-aaaaaa", schema)

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, uploadRequest(t, "jobs-aaaaaa", "field_6", "cv.txt", []byte("hello otter")))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	uploadID := dataOf(t, w)["upload_id"].(string)

	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, uploadRequest(t, "jobs-aaaaaa", "field_1", "cv.txt", []byte("x")))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = testutil.DoRequest(env.router, "GET", "/api/v1/forms/form-1/uploads/"+uploadID+"/download", nil, testutil.DefaultTestToken())
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello otter", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), `filename="cv.txt"`)
}

func TestStatsHandler_Export(t *testing.T) {
	env := setupHandlerTest(t)
	env.seedForm(t)
	token := testutil.DefaultTestToken()

	w := testutil.DoRequest(env.router, "POST", "/api/v1/public/forms/feedback-aaaaaa/responses", validSubmission(), "")
	require.Equal(t, http.StatusCreated, w.Code)

	w = testutil.DoRequest(env.router, "GET", "/api/v1/forms/form-1/export", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/csv")
	assert.Contains(t, w.Header().Get("Content-Disposition"), "Customer_Feedback_responses.csv")
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Timestamp,Name,Email,Plan,Features,Score", strings.TrimSpace(lines[0]))

	w = testutil.DoRequest(env.router, "GET", "/api/v1/forms/form-1/export?format=xlsx", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	f, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Responses")
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", rows[1][1])

	w = testutil.DoRequest(env.router, "GET", "/api/v1/forms/form-1/export?format=pdf", nil, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = testutil.DoRequest(env.router, "GET", "/api/v1/forms/form-1/export?encoding=latin1", nil, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = testutil.DoRequest(env.router, "GET", "/api/v1/forms/form-1/summary", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), dataOf(t, w)["total"])
}

func TestAIHandler_Generate(t *testing.T) {
	env := setupHandlerTest(t)
	env.seedForm(t)
	token := testutil.DefaultTestToken()

	env.completer.reply = `{"message":"Added an age field.","schema":{"title":"Customer Feedback","fields":[{"label":"Name","type":"short_text","required":true},{"label":"Age","type":"number"}]}}`
	w := testutil.DoRequest(env.router, "POST", "/api/v1/forms/form-1/ai/generate", map[string]string{"prompt": "add an age field", "api_key": "sk"}, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	data := dataOf(t, w)
	assert.Equal(t, "Added an age field.", data["message"])
	assert.NotNil(t, data["schema"])

	w = testutil.DoRequest(env.router, "POST", "/api/v1/forms/form-1/ai/generate", map[string]string{"prompt": "x"}, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, service.ErrAPIKeyRequired.Error(), testutil.ParseResponse(w)["message"])

	env.completer.err = llm.NewError(llm.KindInsufficientCredits, 402, "out of credits", nil)
	w = testutil.DoRequest(env.router, "POST", "/api/v1/forms/form-1/ai/generate", map[string]string{"prompt": "x", "api_key": "sk"}, token)
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	resp := testutil.ParseResponse(w)
	assert.Equal(t, float64(40200), resp["code"])
	assert.Equal(t, "Your AI provider account has insufficient credits.", resp["message"])

	w = testutil.DoRequest(env.router, "POST", "/api/v1/forms/form-1/ai/generate", map[string]string{}, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUserAndTemplateHandlers(t *testing.T) {
	env := setupHandlerTest(t)
	token := testutil.DefaultTestToken()

	w := testutil.DoRequest(env.router, "GET", "/api/v1/users/me", nil, token)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = testutil.DoRequest(env.router, "PUT", "/api/v1/users/me", map[string]string{"email": "owner@test.com", "name": "Owner"}, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = testutil.DoRequest(env.router, "GET", "/api/v1/users/me", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "owner@test.com", dataOf(t, w)["email"])

	w = testutil.DoRequest(env.router, "GET", "/api/v1/templates", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, dataOf(t, w)["items"], 3)

	w = testutil.DoRequest(env.router, "GET", "/api/v1/templates/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = testutil.DoRequest(env.router, "POST", "/api/v1/forms", map[string]string{"template": "contact"}, token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestHandleError_Codes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		err    error
		status int
		code   float64
	}{
		{service.ErrNotFound, 404, 40400},
		{service.ErrForbidden, 403, 40300},
		{service.ErrSlugTaken, 409, 40900},
		{service.ErrFormExpired, 410, 41001},
		{service.ErrFileTooLarge, 413, 41300},
		{service.ErrRateLimited, 429, 42900},
		{service.ErrStorageUnavailable, 503, 50300},
		{service.ErrGenerationFailed, 500, 50000},
		{llm.NewError(llm.KindAuth, 401, "bad key", nil), 401, 40120},
		{llm.NewError(llm.KindTimeout, 0, "slow", nil), 504, 50400},
		{&runner.ValidationError{}, 400, 40001},
		{errors.New("db down"), 500, 50000},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		HandleError(c, tc.err)
		assert.Equal(t, tc.status, w.Code, tc.err.Error())
		assert.Equal(t, tc.code, testutil.ParseResponse(w)["code"], tc.err.Error())
	}
}

func TestHandleError_NotFoundMessages(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		err     error
		message string
	}{
		{service.ErrFormNotFound, "form not found"},
		{fmt.Errorf("update form: %w", service.ErrFormNotFound), "form not found"},
		{service.ErrResponseNotFound, "response not found"},
		{service.ErrUploadNotFound, "upload not found"},
		{service.ErrUserNotFound, "user not found"},
		{service.ErrNotFound, "resource not found"},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		HandleError(c, tc.err)
		assert.Equal(t, http.StatusNotFound, w.Code)
		resp := testutil.ParseResponse(w)
		assert.Equal(t, float64(40400), resp["code"])
		assert.Equal(t, tc.message, resp["message"])
	}
}

func TestResponseHandler_MissingResponse(t *testing.T) {
	env := setupHandlerTest(t)
	env.seedForm(t)
	token := testutil.DefaultTestToken()

	w := testutil.DoRequest(env.router, "GET", "/api/v1/forms/form-1/responses/missing", nil, token)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "response not found", testutil.ParseResponse(w)["message"])

	w = testutil.DoRequest(env.router, "GET", "/api/v1/forms/nope", nil, token)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "form not found", testutil.ParseResponse(w)["message"])
}

func TestVisitorID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/", nil)
	c.Request.Header.Set("X-Visitor-ID", "v-123")
	assert.Equal(t, "v-123", visitorID(c))

	c, _ = gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/", nil)
	c.Request.Header.Set("User-Agent", "otter-test")
	first := visitorID(c)
	assert.Len(t, first, 16)
	assert.Equal(t, first, visitorID(c))
}
