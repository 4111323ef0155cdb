package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/charrlodin/otter-form/internal/config"
	"github.com/charrlodin/otter-form/internal/form/entity"
	"github.com/charrlodin/otter-form/internal/middleware"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	JWTSecret = "otterform-test-secret"
	JWTIssuer = "otterform"

	DefaultUserID = "test-user-001"
	OtherUserID   = "test-user-002"
)

// SetupTestDB 每个测试独立的内存 sqlite 数据库
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get sql.DB: %v", err)
	}
	// 内存库只能用单连接共享
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(entity.All()...); err != nil {
		t.Fatalf("Failed to migrate test tables: %v", err)
	}

	t.Cleanup(func() {
		sqlDB.Close()
	})
	return db
}

// SetupRedis 启动 miniredis
func SetupRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
	})
	return rdb, mr
}

// TestConfig 测试配置
func TestConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{PublicURL: "http://localhost:3000"},
		JWT:    config.JWTConfig{Secret: JWTSecret, Issuer: JWTIssuer, TokenExpire: time.Hour},
		LLM: config.LLMConfig{
			Provider:       "openai",
			Model:          "openai/gpt-4o",
			RateLimit:      5,
			RateLimitEvery: time.Minute,
		},
		Form: config.FormConfig{
			ViewDedupWindow: time.Hour,
			MaxUploadSize:   1 << 20,
			SlugAttempts:    5,
		},
	}
}

// SetupRouter creates a gin test router
func SetupRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(gin.Recovery())
	return r
}

// AuthGroup creates an API group with JWT auth middleware for testing
func AuthGroup(r *gin.Engine, path string) *gin.RouterGroup {
	return r.Group(path, middleware.JWTAuth(JWTSecret))
}

// GenerateTestToken creates a valid JWT token for testing
func GenerateTestToken(userID, name, email string) string {
	token, err := middleware.IssueToken(JWTSecret, JWTIssuer, userID, name, email, 24*time.Hour)
	if err != nil {
		panic(err)
	}
	return token
}

// DefaultTestToken returns a token for the default test user
func DefaultTestToken() string {
	return GenerateTestToken(DefaultUserID, "Test Owner", "owner@test.com")
}

// DoRequest executes an HTTP request against the test router
func DoRequest(r *gin.Engine, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBytes)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, _ := http.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ParseResponse parses the JSON response body into a map
func ParseResponse(w *httptest.ResponseRecorder) map[string]interface{} {
	var result map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &result)
	return result
}

// SeedTestUser creates a test user in the database
func SeedTestUser(t *testing.T, db *gorm.DB, externalID, name, email string) *entity.User {
	t.Helper()
	user := &entity.User{
		ID:         "u_" + externalID,
		ExternalID: externalID,
		Name:       name,
		Email:      email,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("Failed to seed test user: %v", err)
	}
	return user
}

// SampleSchema 覆盖常用字段类型的表单结构
func SampleSchema() entity.FormSchema {
	return entity.FormSchema{
		Title:       "Customer Feedback",
		Description: "Tell us how we did",
		Fields: []entity.FormField{
			{ID: "field_1", Label: "Name", Type: entity.FieldShortText, Required: true},
			{ID: "field_2", Label: "Email", Type: entity.FieldEmail, Required: true},
			{ID: "field_3", Label: "Plan", Type: entity.FieldMultipleChoice, Options: []string{"Free", "Pro"}},
			{ID: "field_4", Label: "Features", Type: entity.FieldCheckbox, Options: []string{"Forms", "AI", "Export"}},
			{ID: "field_5", Label: "Score", Type: entity.FieldRating, MaxRating: 5},
		},
	}
}

// SeedTestForm creates a form owned by ownerID
func SeedTestForm(t *testing.T, db *gorm.DB, id, ownerID, slug string, schema entity.FormSchema) *entity.Form {
	t.Helper()
	now := time.Now()
	form := &entity.Form{
		ID:          id,
		OwnerID:     ownerID,
		Title:       schema.Title,
		Description: schema.Description,
		Slug:        slug,
		Schema:      datatypes.NewJSONType(schema),
		IsActive:    true,
		Settings:    datatypes.JSONMap{},
		ChatHistory: datatypes.JSONSlice[entity.ChatMessage]{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := db.Create(form).Error; err != nil {
		t.Fatalf("Failed to seed test form: %v", err)
	}
	return form
}
