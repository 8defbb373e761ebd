// Package seed fills a development database with an admin, approved doctors
// with weekly schedules and verified patients.
package seed

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"telehealth-portal-server/internal/models"
)

var specializations = []string{
	"General Practice",
	"Ayurveda",
	"Dermatology",
	"Cardiology",
	"Pediatrics",
	"Psychiatry",
	"Endocrinology",
	"Neurology",
}

// Options controls how much data is created.
type Options struct {
	AdminEmail string
	Password   string
	Doctors    int
	Patients   int
	// Seed makes the generated data reproducible; 0 picks a random seed.
	Seed uint64
}

// Result counts the rows created.
type Result struct {
	Admins   int
	Doctors  int
	Patients int
	Rules    int
}

// Run seeds the database in a single transaction. The admin account is only
// created when its email is not taken yet.
func Run(ctx context.Context, db *gorm.DB, opts Options, log *logrus.Logger) (Result, error) {
	if opts.Password == "" {
		return Result{}, errors.New("seed password is required")
	}
	if opts.AdminEmail == "" {
		opts.AdminEmail = "admin@telehealth.local"
	}
	faker := gofakeit.New(opts.Seed)

	var res Result
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.User{}).Where("email = ?", opts.AdminEmail).Count(&count).Error; err != nil {
			return fmt.Errorf("check admin: %w", err)
		}
		if count == 0 {
			admin := models.User{
				Email:      opts.AdminEmail,
				FirstName:  "Portal",
				LastName:   "Admin",
				Role:       models.RoleAdmin,
				IsVerified: true,
				IsActive:   true,
			}
			if err := admin.SetPassword(opts.Password); err != nil {
				return fmt.Errorf("hash admin password: %w", err)
			}
			if err := tx.Create(&admin).Error; err != nil {
				return fmt.Errorf("create admin: %w", err)
			}
			res.Admins++
		}

		for i := 0; i < opts.Doctors; i++ {
			user, err := fakeUser(faker, models.RoleDoctor, opts.Password)
			if err != nil {
				return err
			}
			if err := tx.Create(user).Error; err != nil {
				return fmt.Errorf("create doctor: %w", err)
			}
			profile := models.DoctorProfile{
				UserID:             user.ID,
				Specialization:     specializations[faker.Number(0, len(specializations)-1)],
				Qualification:      "MBBS",
				ExperienceYears:    faker.Number(1, 35),
				Bio:                fmt.Sprintf("Dr. %s has been practising for many years.", user.FullName()),
				ConsultationFee:    decimal.NewFromInt(int64(faker.Number(20, 150))),
				AvailabilityStatus: models.AvailabilityAvailable,
				IsApproved:         true,
				IsActive:           true,
			}
			if err := tx.Create(&profile).Error; err != nil {
				return fmt.Errorf("create doctor profile: %w", err)
			}
			rules := weekdaySchedule(user.ID)
			if err := tx.Create(&rules).Error; err != nil {
				return fmt.Errorf("create availability rules: %w", err)
			}
			res.Doctors++
			res.Rules += len(rules)
		}

		for i := 0; i < opts.Patients; i++ {
			user, err := fakeUser(faker, models.RolePatient, opts.Password)
			if err != nil {
				return err
			}
			if err := tx.Create(user).Error; err != nil {
				return fmt.Errorf("create patient: %w", err)
			}
			res.Patients++
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	log.WithFields(logrus.Fields{
		"admins":   res.Admins,
		"doctors":  res.Doctors,
		"patients": res.Patients,
		"rules":    res.Rules,
	}).Info("database seeded")
	return res, nil
}

func fakeUser(faker *gofakeit.Faker, role models.Role, password string) (*models.User, error) {
	first, last := faker.FirstName(), faker.LastName()
	// The numeric suffix keeps emails unique across runs.
	email := fmt.Sprintf("%s.%s.%d@%s.example.com",
		strings.ToLower(first), strings.ToLower(last), faker.Number(1000, 999999), role)
	user := &models.User{
		Email:       email,
		FirstName:   first,
		LastName:    last,
		Role:        role,
		PhoneNumber: faker.Phone(),
		Gender:      faker.Gender(),
		IsVerified:  true,
		IsActive:    true,
	}
	if err := user.SetPassword(password); err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	return user, nil
}

// weekdaySchedule is Monday to Friday, 09:00-17:00 with a lunch break.
func weekdaySchedule(doctorID string) []models.AvailabilityRule {
	breakStart, breakEnd := "12:00", "13:00"
	rules := make([]models.AvailabilityRule, 0, 5)
	for day := 1; day <= 5; day++ {
		rules = append(rules, models.AvailabilityRule{
			DoctorID:   doctorID,
			DayOfWeek:  day,
			StartTime:  "09:00",
			EndTime:    "17:00",
			BreakStart: &breakStart,
			BreakEnd:   &breakEnd,
			IsActive:   true,
		})
	}
	return rules
}
