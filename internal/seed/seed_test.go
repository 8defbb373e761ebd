package seed

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"telehealth-portal-server/internal/logger"
	"telehealth-portal-server/internal/models"
)

func setupSeedTestDB(t *testing.T) *gorm.DB {
	dsn := fmt.Sprintf("file:testdb_seed_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := models.InitDB(models.DatabaseConfig{Driver: "sqlite", DSN: dsn})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	return db
}

func TestRun(t *testing.T) {
	db := setupSeedTestDB(t)
	opts := Options{Password: "Secret123!", Doctors: 3, Patients: 4, Seed: 42}

	res, err := Run(context.Background(), db, opts, logger.Discard())
	require.NoError(t, err)
	assert.Equal(t, Result{Admins: 1, Doctors: 3, Patients: 4, Rules: 15}, res)

	var profiles []models.DoctorProfile
	require.NoError(t, db.Preload("User").Preload("AvailabilityRules").Find(&profiles).Error)
	require.Len(t, profiles, 3)
	for _, p := range profiles {
		assert.True(t, p.Bookable())
		assert.Len(t, p.AvailabilityRules, 5)
		require.NotNil(t, p.User)
		assert.True(t, p.User.CheckPassword("Secret123!"))
	}

	var admin models.User
	require.NoError(t, db.Where("role = ?", models.RoleAdmin).First(&admin).Error)
	assert.Equal(t, "admin@telehealth.local", admin.Email)
	assert.True(t, admin.IsVerified)
}

func TestRunKeepsExistingAdmin(t *testing.T) {
	db := setupSeedTestDB(t)
	ctx := context.Background()

	_, err := Run(ctx, db, Options{Password: "Secret123!", Seed: 1}, logger.Discard())
	require.NoError(t, err)
	res, err := Run(ctx, db, Options{Password: "Secret123!", Patients: 1, Seed: 2}, logger.Discard())
	require.NoError(t, err)
	assert.Zero(t, res.Admins)
	assert.Equal(t, 1, res.Patients)

	var admins int64
	require.NoError(t, db.Model(&models.User{}).Where("role = ?", models.RoleAdmin).Count(&admins).Error)
	assert.EqualValues(t, 1, admins)
}

func TestRunRequiresPassword(t *testing.T) {
	db := setupSeedTestDB(t)
	_, err := Run(context.Background(), db, Options{Doctors: 1}, logger.Discard())
	assert.Error(t, err)
}
