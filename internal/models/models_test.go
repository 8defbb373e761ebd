package models

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	dsn := fmt.Sprintf("file:testdb_models_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := InitDB(DatabaseConfig{Driver: "sqlite", DSN: dsn})
	require.NoError(t, err)
	return db
}

func TestAppointmentStatus(t *testing.T) {
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusConfirmed.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusRejected.IsTerminal())
	assert.False(t, AppointmentStatus("rescheduled").Valid())
}

func TestDocumentUploadedBy(t *testing.T) {
	doc := Document{Title: "Lab report"}
	doc.SetUploadedBy(UploadedByDoctor("doc-1"))

	assert.Equal(t, UploaderDoctor, doc.UploaderKind)
	require.NotNil(t, doc.UploaderDoctorID)
	assert.Equal(t, UploadedByDoctor("doc-1"), doc.UploadedBy())

	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "Lab report", out["title"])
	assert.Equal(t, map[string]any{"kind": "doctor", "doctorId": "doc-1"}, out["uploadedBy"])
	assert.NotContains(t, out, "Data")

	doc.SetUploadedBy(UploadedByPatient())
	assert.Nil(t, doc.UploaderDoctorID)
	assert.Equal(t, UploadedByPatient(), doc.UploadedBy())
}

func TestActiveSlotKeyIsUnique(t *testing.T) {
	db := setupTestDB(t)

	key := SlotKey("doc-1", "2030-01-07", "09:00")
	first := Appointment{PatientID: "p-1", DoctorID: "doc-1", AppointmentDate: "2030-01-07",
		AppointmentTime: "09:00", DurationMinutes: 30, Status: StatusPending, ActiveSlotKey: &key}
	require.NoError(t, db.Create(&first).Error)

	dup := key
	second := Appointment{PatientID: "p-2", DoctorID: "doc-1", AppointmentDate: "2030-01-07",
		AppointmentTime: "09:00", DurationMinutes: 30, Status: StatusPending, ActiveSlotKey: &dup}
	assert.ErrorIs(t, db.Create(&second).Error, gorm.ErrDuplicatedKey)

	// Terminal rows release the key.
	require.NoError(t, db.Model(&first).Updates(map[string]any{"status": StatusCancelled, "active_slot_key": nil}).Error)
	third := Appointment{PatientID: "p-2", DoctorID: "doc-1", AppointmentDate: "2030-01-07",
		AppointmentTime: "09:00", DurationMinutes: 30, Status: StatusPending, ActiveSlotKey: &dup}
	assert.NoError(t, db.Create(&third).Error)
}

func TestUserPassword(t *testing.T) {
	u := &User{FirstName: "Ada", LastName: "Smith"}
	require.NoError(t, u.SetPassword("s3cret-pass"))
	assert.True(t, u.CheckPassword("s3cret-pass"))
	assert.False(t, u.CheckPassword("wrong"))
	assert.Equal(t, "Ada Smith", u.FullName())
}
