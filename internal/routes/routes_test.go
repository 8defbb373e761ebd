package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"telehealth-portal-server/internal/assistant"
	"telehealth-portal-server/internal/config"
	"telehealth-portal-server/internal/logger"
	"telehealth-portal-server/internal/models"
	"telehealth-portal-server/internal/notify"
	"telehealth-portal-server/internal/otp"
	"telehealth-portal-server/internal/scheduling"
	"telehealth-portal-server/internal/utils"
)

const monday = "2030-01-07"

type captureMailer struct {
	mu     sync.Mutex
	bodies map[string]string
}

func (m *captureMailer) Send(_ context.Context, to, _, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bodies[to] = body
	return nil
}

var codePattern = regexp.MustCompile(`\b\d{6}\b`)

func (m *captureMailer) code(t *testing.T, email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	code := codePattern.FindString(m.bodies[email])
	require.NotEmpty(t, code, "no code mailed to %s", email)
	return code
}

type testServer struct {
	t       *testing.T
	router  *gin.Engine
	db      *gorm.DB
	cfg     *config.Config
	mailer  *captureMailer
	doctor  models.User
	patient models.User
	other   models.User
}

func setupRoutesTestDB(t *testing.T) *gorm.DB {
	dsn := fmt.Sprintf("file:testdb_routes_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := models.InitDB(models.DatabaseConfig{Driver: "sqlite", DSN: dsn})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	return db
}

func newTestServer(t *testing.T) *testServer {
	gin.SetMode(gin.TestMode)
	log := logger.Discard()
	db := setupRoutesTestDB(t)
	cfg := &config.Config{
		Environment:               "test",
		JWTSecret:                 "test_secret",
		JWTRefreshSecret:          "test_refresh_secret",
		JWTExpirationMinutes:      15,
		JWTRefreshExpirationHours: 1,
		MaxUploadMB:               1,
		AuthRateLimit:             100,
		AuthRateWindow:            time.Minute,
		OTP:                       config.OTPConfig{TTL: 10 * time.Minute, MaxAttempts: 3},
	}
	mailer := &captureMailer{bodies: map[string]string{}}
	sink := notify.NewSink(nil, log)
	now := time.Date(2030, 1, 6, 10, 0, 0, 0, time.UTC)

	router := gin.New()
	SetupRoutes(router, Dependencies{
		DB:  db,
		Cfg: cfg,
		Log: log,
		Scheduling: scheduling.NewService(db, sink, scheduling.Options{
			Location:    time.UTC,
			SlotMinutes: 30,
			Now:         func() time.Time { return now },
		}, log),
		Assistant: assistant.NewService(db, assistant.NewChain(log), log),
		OTP:       otp.NewService(otp.NewMemoryStore(), mailer, cfg.OTP, log),
		Sink:      sink,
		Version:   "test",
	})

	s := &testServer{t: t, router: router, db: db, cfg: cfg, mailer: mailer}
	s.doctor = s.createUser("house@example.com", models.RoleDoctor)
	s.patient = s.createUser("ravi@example.com", models.RolePatient)
	s.other = s.createUser("mei@example.com", models.RolePatient)

	require.NoError(t, db.Create(&models.DoctorProfile{
		UserID:          s.doctor.ID,
		Specialization:  "General Medicine",
		ConsultationFee: decimal.RequireFromString("40.00"),
		IsApproved:      true,
		IsActive:        true,
	}).Error)
	breakStart, breakEnd := "12:00", "13:00"
	require.NoError(t, db.Create(&models.AvailabilityRule{
		DoctorID: s.doctor.ID, DayOfWeek: 1, StartTime: "09:00", EndTime: "17:00",
		BreakStart: &breakStart, BreakEnd: &breakEnd, IsActive: true,
	}).Error)
	return s
}

func (s *testServer) createUser(email string, role models.Role) models.User {
	u := models.User{Email: email, FirstName: "Test", LastName: string(role), Role: role, IsVerified: true, IsActive: true}
	require.NoError(s.t, u.SetPassword("password123"))
	require.NoError(s.t, s.db.Create(&u).Error)
	return u
}

func (s *testServer) token(u models.User) string {
	access, _, err := utils.GenerateTokens(&u, s.cfg)
	require.NoError(s.t, err)
	return access
}

func (s *testServer) do(method, path string, as *models.User, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if as != nil {
		req.Header.Set("Authorization", "Bearer "+s.token(*as))
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out), w.Body.String())
	return out
}

func (s *testServer) book(as *models.User, clock string) *httptest.ResponseRecorder {
	return s.do(http.MethodPost, "/api/v1/appointments/book", as, gin.H{
		"doctorId":        s.doctor.ID,
		"appointmentDate": monday,
		"appointmentTime": clock,
		"reasonForVisit":  "Persistent cough",
	})
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/health/live", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/health/ready", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Status       string            `json:"status"`
		Dependencies map[string]string `json:"dependencies"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Dependencies["database"])
	assert.Equal(t, "disabled", body.Dependencies["redis"])
}

func TestRegisterVerifyLogin(t *testing.T) {
	s := newTestServer(t)
	creds := gin.H{"email": "new@example.com", "password": "longpassword"}

	w := s.do(http.MethodPost, "/api/v1/auth/register", nil, gin.H{
		"firstName": "Asha", "lastName": "Rao", "email": "New@Example.com",
		"password": "longpassword", "role": "patient",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(http.MethodPost, "/api/v1/auth/login", nil, creds)
	assert.Equal(t, http.StatusForbidden, w.Code, "unverified accounts cannot log in")

	w = s.do(http.MethodPost, "/api/v1/auth/verify-otp", nil, gin.H{"email": "new@example.com", "code": "000000"})
	if s.mailer.code(t, "new@example.com") != "000000" {
		assert.Equal(t, http.StatusBadRequest, w.Code)
	}

	w = s.do(http.MethodPost, "/api/v1/auth/verify-otp", nil, gin.H{
		"email": "new@example.com", "code": s.mailer.code(t, "new@example.com"),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodPost, "/api/v1/auth/login", nil, creds)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	login := decode[struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	}](t, w)
	assert.NotEmpty(t, login.AccessToken)

	// Refresh tokens rotate: the first use succeeds, a replay is refused.
	w = s.do(http.MethodPost, "/api/v1/auth/refresh-token", nil, gin.H{"refreshToken": login.RefreshToken})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = s.do(http.MethodPost, "/api/v1/auth/refresh-token", nil, gin.H{"refreshToken": login.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	s := newTestServer(t)
	w := s.do(http.MethodPost, "/api/v1/auth/register", nil, gin.H{
		"firstName": "Ravi", "lastName": "Kumar", "email": "ravi@example.com",
		"password": "longpassword", "role": "patient",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRegisterDoctorRequiresSpecialization(t *testing.T) {
	s := newTestServer(t)
	w := s.do(http.MethodPost, "/api/v1/auth/register", nil, gin.H{
		"firstName": "Gregory", "lastName": "House", "email": "g@example.com",
		"password": "longpassword", "role": "doctor",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBookingFlow(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/api/v1/doctors/"+s.doctor.ID+"/availability?date="+monday, &s.patient, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	slots := decode[struct {
		Slots []scheduling.Slot `json:"slots"`
	}](t, w)
	assert.Len(t, slots.Slots, 14)

	w = s.book(&s.patient, "09:00")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	booked := decode[struct {
		AppointmentID string                   `json:"appointmentId"`
		Status        models.AppointmentStatus `json:"status"`
	}](t, w)
	assert.Equal(t, models.StatusPending, booked.Status)

	w = s.book(&s.other, "09:00")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.book(&s.other, "12:30")
	assert.Equal(t, http.StatusBadRequest, w.Code, "break slots are not bookable")

	w = s.book(&s.doctor, "10:00")
	assert.Equal(t, http.StatusForbidden, w.Code)

	// The other patient cannot see the appointment at all.
	w = s.do(http.MethodGet, "/api/v1/appointments/"+booked.AppointmentID, &s.other, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodGet, "/api/v1/notifications/unread-count", &s.doctor, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode[struct {
		Count int64 `json:"count"`
	}](t, w).Count)

	w = s.do(http.MethodPatch, "/api/v1/appointments/"+booked.AppointmentID+"/cancel", &s.patient, gin.H{"reason": "Feeling better"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// The freed slot can be taken again.
	w = s.book(&s.other, "09:00")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	rebooked := decode[struct {
		AppointmentID string `json:"appointmentId"`
	}](t, w)

	w = s.do(http.MethodPut, "/api/v1/doctor/appointments/"+rebooked.AppointmentID+"/accept", &s.doctor, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = s.do(http.MethodPut, "/api/v1/doctor/appointments/"+rebooked.AppointmentID+"/accept", &s.doctor, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	// Confirmed appointments can no longer be cancelled by the patient.
	w = s.do(http.MethodPatch, "/api/v1/appointments/"+rebooked.AppointmentID+"/cancel", &s.other, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(http.MethodGet, "/api/v1/doctor/appointments?status=confirmed", &s.doctor, nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[struct {
		Total int64 `json:"total"`
	}](t, w)
	assert.EqualValues(t, 1, page.Total)
}

func TestRoleGuards(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/api/v1/doctor/profile", &s.patient, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodGet, "/api/v1/admin/stats", &s.doctor, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodGet, "/api/v1/appointments", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminApprovesDoctor(t *testing.T) {
	s := newTestServer(t)
	admin := s.createUser("admin@example.com", models.RoleAdmin)
	pending := s.createUser("pending@example.com", models.RoleDoctor)
	require.NoError(t, s.db.Create(&models.DoctorProfile{UserID: pending.ID, Specialization: "Ayurveda", IsActive: true}).Error)

	w := s.do(http.MethodGet, "/api/v1/doctors/"+pending.ID, &s.patient, nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "unapproved doctors are not listed")

	w = s.do(http.MethodPut, "/api/v1/admin/doctors/"+pending.ID+"/approve", &admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = s.do(http.MethodPut, "/api/v1/admin/doctors/"+pending.ID+"/approve", &admin, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(http.MethodGet, "/api/v1/doctors/"+pending.ID, &s.patient, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var n int64
	require.NoError(t, s.db.Model(&models.Notification{}).
		Where("recipient_id = ? AND type = ?", pending.ID, models.NotificationDoctorApproved).Count(&n).Error)
	assert.EqualValues(t, 1, n)
}

func (s *testServer) upload(as *models.User, fields map[string]string, fileName, contentType string, data []byte) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(s.t, mw.WriteField(k, v))
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, fileName))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	require.NoError(s.t, err)
	_, err = part.Write(data)
	require.NoError(s.t, err)
	require.NoError(s.t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+s.token(*as))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestDocuments(t *testing.T) {
	s := newTestServer(t)
	pdf := []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\n")

	w := s.upload(&s.patient, map[string]string{"title": "Blood work", "category": "lab"}, "labs.pdf", "application/pdf", pdf)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	doc := decode[struct {
		ID string `json:"id"`
	}](t, w)

	w = s.upload(&s.patient, nil, "run.exe", "application/octet-stream", []byte{0x4d, 0x5a, 0x90, 0x00})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// No appointment yet: the doctor has no access to the patient's files.
	w = s.do(http.MethodGet, "/api/v1/documents?patientId="+s.patient.ID, &s.doctor, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = s.do(http.MethodGet, "/api/v1/documents/"+doc.ID+"/download", &s.doctor, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	require.Equal(t, http.StatusCreated, s.book(&s.patient, "10:00").Code)

	w = s.do(http.MethodGet, "/api/v1/documents?patientId="+s.patient.ID, &s.doctor, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, decode[[]models.Document](t, w), 1)

	w = s.do(http.MethodGet, "/api/v1/documents/"+doc.ID+"/download", &s.doctor, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, pdf, w.Body.Bytes())

	w = s.do(http.MethodGet, "/api/v1/documents/"+doc.ID+"/download", &s.other, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodDelete, "/api/v1/documents/"+doc.ID, &s.doctor, nil)
	assert.Equal(t, http.StatusForbidden, w.Code, "only the uploader deletes")
	w = s.do(http.MethodDelete, "/api/v1/documents/"+doc.ID, &s.patient, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNotificationsMarkRead(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.book(&s.patient, "09:00").Code)
	require.Equal(t, http.StatusCreated, s.book(&s.other, "09:30").Code)

	w := s.do(http.MethodGet, "/api/v1/notifications?unread=true", &s.doctor, nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[struct {
		Items []models.Notification `json:"items"`
		Total int64                 `json:"total"`
	}](t, w)
	require.EqualValues(t, 2, page.Total)

	w = s.do(http.MethodPatch, "/api/v1/notifications/"+page.Items[0].ID+"/read", &s.doctor, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Someone else's notification looks missing.
	w = s.do(http.MethodPatch, "/api/v1/notifications/"+page.Items[1].ID+"/read", &s.patient, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodPatch, "/api/v1/notifications/read-all", &s.doctor, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/api/v1/notifications/unread-count", &s.doctor, nil)
	assert.EqualValues(t, 0, decode[struct {
		Count int64 `json:"count"`
	}](t, w).Count)
}

func TestDoshaAssessment(t *testing.T) {
	s := newTestServer(t)

	answers := make([]assistant.Answer, 0, len(assistant.Questions))
	for _, q := range assistant.Questions {
		answers = append(answers, assistant.Answer{QuestionID: q.ID, Dosha: models.DoshaVata})
	}
	w := s.do(http.MethodPost, "/api/v1/ai/dosha", &s.patient, gin.H{"answers": answers})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(http.MethodPost, "/api/v1/ai/dosha", &s.patient, gin.H{"answers": answers[:3]})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/api/v1/ai/dosha", &s.doctor, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
