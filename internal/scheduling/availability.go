package scheduling

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"telehealth-portal-server/internal/apperr"
	"telehealth-portal-server/internal/models"
)

// RuleInput is one weekday of a doctor's schedule as submitted by the doctor.
type RuleInput struct {
	DayOfWeek  int     `json:"dayOfWeek"`
	StartTime  string  `json:"startTime"`
	EndTime    string  `json:"endTime"`
	BreakStart *string `json:"breakStart,omitempty"`
	BreakEnd   *string `json:"breakEnd,omitempty"`
	IsActive   *bool   `json:"isActive,omitempty"`
}

// ValidateRule checks the window invariants: start before end, and a break,
// when present, fully set and contained in the working hours.
func ValidateRule(in RuleInput) error {
	if in.DayOfWeek < 0 || in.DayOfWeek > 6 {
		return apperr.Validationf("invalid dayOfWeek %d, expected 0 (Sunday) to 6", in.DayOfWeek)
	}
	start, err := ParseClock(in.StartTime)
	if err != nil {
		return err
	}
	end, err := ParseClock(in.EndTime)
	if err != nil {
		return err
	}
	if start >= end {
		return apperr.Validation("startTime must be before endTime")
	}

	hasStart := in.BreakStart != nil && *in.BreakStart != ""
	hasEnd := in.BreakEnd != nil && *in.BreakEnd != ""
	if hasStart != hasEnd {
		return apperr.Validation("breakStart and breakEnd must be set together")
	}
	if !hasStart {
		return nil
	}
	bs, err := ParseClock(*in.BreakStart)
	if err != nil {
		return err
	}
	be, err := ParseClock(*in.BreakEnd)
	if err != nil {
		return err
	}
	if bs >= be {
		return apperr.Validation("breakStart must be before breakEnd")
	}
	if bs < start || be > end {
		return apperr.Validation("break must fall within working hours")
	}
	return nil
}

func (in RuleInput) toModel(doctorID string) models.AvailabilityRule {
	rule := models.AvailabilityRule{
		DoctorID:  doctorID,
		DayOfWeek: in.DayOfWeek,
		StartTime: in.StartTime,
		EndTime:   in.EndTime,
		IsActive:  in.IsActive == nil || *in.IsActive,
	}
	if in.BreakStart != nil && *in.BreakStart != "" {
		bs, be := *in.BreakStart, *in.BreakEnd
		rule.BreakStart, rule.BreakEnd = &bs, &be
	}
	return rule
}

// Rules returns a doctor's weekly rules ordered by weekday.
func (s *Service) Rules(ctx context.Context, doctorID string) ([]models.AvailabilityRule, error) {
	var rules []models.AvailabilityRule
	err := s.db.WithContext(ctx).Where("doctor_id = ?", doctorID).Order("day_of_week asc").Find(&rules).Error
	if err != nil {
		return nil, apperr.Internal("load availability rules", err)
	}
	return rules, nil
}

// ReplaceRules replaces the doctor's whole weekly schedule. Existing
// appointments are not touched.
func (s *Service) ReplaceRules(ctx context.Context, actor Actor, inputs []RuleInput) ([]models.AvailabilityRule, error) {
	if actor.Role != models.RoleDoctor {
		return nil, apperr.Authorization("only doctors can manage availability")
	}

	seen := make(map[int]bool, len(inputs))
	rules := make([]models.AvailabilityRule, 0, len(inputs))
	for _, in := range inputs {
		if err := ValidateRule(in); err != nil {
			return nil, err
		}
		if seen[in.DayOfWeek] {
			return nil, apperr.Validationf("dayOfWeek %d listed more than once", in.DayOfWeek)
		}
		seen[in.DayOfWeek] = true
		rules = append(rules, in.toModel(actor.UserID))
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var profile models.DoctorProfile
		if err := tx.Where("user_id = ?", actor.UserID).First(&profile).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrDoctorNotFound
			}
			return apperr.Internal("load doctor profile", err)
		}
		if err := tx.Where("doctor_id = ?", actor.UserID).Delete(&models.AvailabilityRule{}).Error; err != nil {
			return apperr.Internal("delete availability rules", err)
		}
		if len(rules) == 0 {
			return nil
		}
		if err := tx.Create(&rules).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return apperr.Conflict("availability rule already exists for that day")
			}
			return apperr.Internal("create availability rules", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"doctor_id": actor.UserID,
		"days":      len(rules),
	}).Info("availability updated")
	return s.Rules(ctx, actor.UserID)
}

// DeleteRule removes the doctor's rule for one weekday.
func (s *Service) DeleteRule(ctx context.Context, actor Actor, dayOfWeek int) error {
	if actor.Role != models.RoleDoctor {
		return apperr.Authorization("only doctors can manage availability")
	}
	res := s.db.WithContext(ctx).
		Where("doctor_id = ? AND day_of_week = ?", actor.UserID, dayOfWeek).
		Delete(&models.AvailabilityRule{})
	if res.Error != nil {
		return apperr.Internal("delete availability rule", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrRuleNotFound
	}
	return nil
}
