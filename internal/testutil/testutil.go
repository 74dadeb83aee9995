package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/salesdesk/internal/auth"
	"github.com/hugh/salesdesk/internal/database/models"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SetupTestDB creates an in-memory SQLite database for testing. It is held
// on a single connection so every query sees the same database and
// concurrent transactions are serialised. Timestamps are written in UTC so
// they compare correctly as text.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
		NowFunc:                                  func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	return db
}

// CleanupTestDB closes the test database connection
func CleanupTestDB(t *testing.T, db *gorm.DB) {
	t.Helper()
	sqlDB, err := db.DB()
	if err != nil {
		t.Logf("warning: failed to get sql.DB: %v", err)
		return
	}
	sqlDB.Close()
}

// UserOption adjusts a user before it is inserted.
type UserOption func(*models.User)

func WithRole(role models.Role) UserOption {
	return func(u *models.User) { u.Role = role }
}

func WithStatus(status models.UserStatus) UserOption {
	return func(u *models.User) { u.Status = status }
}

func WithDepartment(dept models.Department) UserOption {
	return func(u *models.User) { u.Department = dept }
}

func WithName(name string) UserOption {
	return func(u *models.User) { u.Name = name }
}

func WithEmail(email string) UserOption {
	return func(u *models.User) { u.Email = email }
}

// TestPassword is the password of every user created by CreateTestUser.
const TestPassword = "testpassword123"

// CreateTestUser creates an active staff user unless options say otherwise.
func CreateTestUser(t *testing.T, db *gorm.DB, opts ...UserOption) *models.User {
	t.Helper()

	hash, err := auth.HashPassword(TestPassword)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}

	suffix := uuid.New().String()[:8]
	user := &models.User{
		Base:         models.Base{ID: uuid.New()},
		Email:        "test-" + suffix + "@example.com",
		PasswordHash: hash,
		Name:         "Test User " + suffix,
		Role:         models.RoleStaff,
		Status:       models.UserStatusActive,
	}
	for _, opt := range opts {
		opt(user)
	}

	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}

	return user
}

func CreateTestAdmin(t *testing.T, db *gorm.DB) *models.User {
	t.Helper()
	return CreateTestUser(t, db, WithRole(models.RoleAdmin), WithDepartment(models.DepartmentAdmin))
}

func CreateTestAffiliate(t *testing.T, db *gorm.DB, opts ...UserOption) *models.User {
	t.Helper()
	return CreateTestUser(t, db, append([]UserOption{WithRole(models.RoleAffiliate)}, opts...)...)
}

// CreateTestProject creates an active voucher project priced at 100.00 with
// 10% commission.
func CreateTestProject(t *testing.T, db *gorm.DB, name string) *models.Project {
	t.Helper()

	slug := strings.ToLower(strings.ReplaceAll(name, " ", "-")) + "-" + uuid.New().String()[:6]
	project := &models.Project{
		Base:           models.Base{ID: uuid.New()},
		Name:           name,
		Slug:           slug,
		ProjectType:    models.ProjectTypeVouchers,
		Price:          decimal.RequireFromString("100.00"),
		CommissionRate: decimal.RequireFromString("10"),
		Status:         models.ProjectStatusActive,
		StripePriceID:  "price_test_123",
	}

	if err := db.Create(project).Error; err != nil {
		t.Fatalf("failed to create test project: %v", err)
	}

	return project
}

// CreateTestVoucher inserts an available code for the project.
func CreateTestVoucher(t *testing.T, db *gorm.DB, projectID uuid.UUID, code string) *models.VoucherCode {
	t.Helper()

	voucher := &models.VoucherCode{
		Record:    models.Record{ID: uuid.New()},
		ProjectID: projectID,
		Code:      code,
		Status:    models.VoucherAvailable,
	}

	if err := db.Create(voucher).Error; err != nil {
		t.Fatalf("failed to create test voucher: %v", err)
	}

	return voucher
}

func CreateTestCustomer(t *testing.T, db *gorm.DB) *models.Customer {
	t.Helper()

	customer := &models.Customer{
		Base:   models.Base{ID: uuid.New()},
		Email:  "customer-" + uuid.New().String()[:8] + "@example.com",
		Name:   "Test Customer",
		Source: "test",
	}

	if err := db.Create(customer).Error; err != nil {
		t.Fatalf("failed to create test customer: %v", err)
	}

	return customer
}

// CreateTestTransaction creates a pending sale for the project.
func CreateTestTransaction(t *testing.T, db *gorm.DB, project *models.Project, salesperson *models.User, customer *models.Customer) *models.SalesTransaction {
	t.Helper()

	txn := &models.SalesTransaction{
		Base:              models.Base{ID: uuid.New()},
		ProjectID:         project.ID,
		SalespersonID:     salesperson.ID,
		CustomerID:        customer.ID,
		Amount:            project.Price,
		CommissionRate:    project.CommissionRate,
		CommissionAmount:  project.Price.Mul(project.CommissionRate).Div(decimal.NewFromInt(100)).Round(2),
		PaymentStatus:     models.PaymentPending,
		FulfillmentStatus: models.FulfillmentPending,
	}

	if err := db.Create(txn).Error; err != nil {
		t.Fatalf("failed to create test transaction: %v", err)
	}

	return txn
}

// CreateTestCourse creates a published course with the given number of
// modules, each holding lessonsPerModule lessons.
func CreateTestCourse(t *testing.T, db *gorm.DB, modules, lessonsPerModule int) (*models.Course, []models.CourseLesson) {
	t.Helper()

	course := &models.Course{
		Base:   models.Base{ID: uuid.New()},
		Title:  "Test Course",
		Status: models.CoursePublished,
	}
	if err := db.Create(course).Error; err != nil {
		t.Fatalf("failed to create test course: %v", err)
	}

	var lessons []models.CourseLesson
	for m := 0; m < modules; m++ {
		module := models.CourseModule{CourseID: course.ID, Title: "Module", OrderIndex: m}
		if err := db.Create(&module).Error; err != nil {
			t.Fatalf("failed to create test module: %v", err)
		}
		for l := 0; l < lessonsPerModule; l++ {
			lesson := models.CourseLesson{ModuleID: module.ID, Title: "Lesson", OrderIndex: l}
			if err := db.Create(&lesson).Error; err != nil {
				t.Fatalf("failed to create test lesson: %v", err)
			}
			lessons = append(lessons, lesson)
		}
	}

	return course, lessons
}

func AssignTestCourse(t *testing.T, db *gorm.DB, courseID, userID uuid.UUID) {
	t.Helper()

	assignment := models.CourseAssignment{CourseID: courseID, UserID: userID}
	if err := db.Create(&assignment).Error; err != nil {
		t.Fatalf("failed to assign test course: %v", err)
	}
}

// CreateTestJWTService creates a JWT service for testing
func CreateTestJWTService() *auth.JWTService {
	return auth.NewJWTService("test-secret-key-for-testing", 24*time.Hour)
}

// GenerateTestToken generates a valid JWT token for the given user
func GenerateTestToken(t *testing.T, jwtService *auth.JWTService, user *models.User) string {
	t.Helper()

	token, err := jwtService.GenerateToken(user)
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}

	return token
}

// AuthenticatedRequest creates an HTTP request with authentication
func AuthenticatedRequest(t *testing.T, method, path string, body interface{}, token string) *http.Request {
	t.Helper()

	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return req
}

// UnauthenticatedRequest creates an HTTP request without authentication
func UnauthenticatedRequest(t *testing.T, method, path string, body interface{}) *http.Request {
	t.Helper()
	return AuthenticatedRequest(t, method, path, body, "")
}

// AssertStatus checks if the response has the expected status code
func AssertStatus(t *testing.T, rr *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if rr.Code != expected {
		t.Errorf("expected status %d, got %d. Body: %s", expected, rr.Code, rr.Body.String())
	}
}

// ParseJSONResponse parses the response body into the given struct
func ParseJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()

	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to parse response body: %v. Body: %s", err, rr.Body.String())
	}
}

// TestContext creates a context with a timeout for tests
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// TestSetup holds all the common test dependencies
type TestSetup struct {
	DB         *gorm.DB
	JWTService *auth.JWTService
	Admin      *models.User
	AdminToken string
}

// NewTestContext creates a DB, JWT service and an admin with a token.
func NewTestContext(t *testing.T) *TestSetup {
	t.Helper()

	db := SetupTestDB(t)
	jwtService := CreateTestJWTService()
	admin := CreateTestAdmin(t, db)
	token := GenerateTestToken(t, jwtService, admin)

	return &TestSetup{
		DB:         db,
		JWTService: jwtService,
		Admin:      admin,
		AdminToken: token,
	}
}

// TokenFor issues a token for another user in the same setup.
func (ts *TestSetup) TokenFor(t *testing.T, user *models.User) string {
	t.Helper()
	return GenerateTestToken(t, ts.JWTService, user)
}

// Cleanup closes the test database
func (ts *TestSetup) Cleanup() {
	if ts.DB != nil {
		sqlDB, err := ts.DB.DB()
		if err == nil {
			sqlDB.Close()
		}
	}
}
