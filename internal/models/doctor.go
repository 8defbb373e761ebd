package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AvailabilityStatus is the doctor's self-reported presence.
type AvailabilityStatus string

const (
	AvailabilityAvailable AvailabilityStatus = "available"
	AvailabilityBusy      AvailabilityStatus = "busy"
	AvailabilityOffline   AvailabilityStatus = "offline"
)

// DoctorProfile holds the professional data of a doctor user. A doctor is
// bookable once the profile is both approved and active.
type DoctorProfile struct {
	UserID             string             `gorm:"primaryKey;type:varchar(36)" json:"userId"`
	Specialization     string             `gorm:"size:100;index" json:"specialization"`
	Qualification      string             `gorm:"size:255" json:"qualification"`
	ExperienceYears    int                `json:"experienceYears"`
	Bio                string             `gorm:"type:text" json:"bio"`
	ConsultationFee    decimal.Decimal    `gorm:"type:decimal(10,2)" json:"consultationFee"`
	AvailabilityStatus AvailabilityStatus `gorm:"size:20;default:'available'" json:"availabilityStatus"`
	IsApproved         bool               `gorm:"not null" json:"isApproved"`
	IsActive           bool               `gorm:"not null" json:"isActive"`
	CreatedAt          time.Time          `json:"createdAt"`
	UpdatedAt          time.Time          `json:"updatedAt"`

	User              *User              `gorm:"foreignKey:UserID" json:"user,omitempty"`
	AvailabilityRules []AvailabilityRule `gorm:"foreignKey:DoctorID;references:UserID" json:"availabilityRules,omitempty"`
}

// Bookable reports whether patients may book this doctor.
func (p *DoctorProfile) Bookable() bool {
	return p.IsApproved && p.IsActive
}

// AvailabilityRule is one weekday of a doctor's working schedule. Times are
// "HH:MM" in the clinic time zone. DayOfWeek follows time.Weekday (0 = Sunday).
type AvailabilityRule struct {
	BaseModel
	DoctorID   string  `gorm:"size:36;not null;uniqueIndex:idx_rule_doctor_day" json:"doctorId"`
	DayOfWeek  int     `gorm:"not null;uniqueIndex:idx_rule_doctor_day" json:"dayOfWeek"`
	StartTime  string  `gorm:"size:5;not null" json:"startTime"`
	EndTime    string  `gorm:"size:5;not null" json:"endTime"`
	BreakStart *string `gorm:"size:5" json:"breakStart,omitempty"`
	BreakEnd   *string `gorm:"size:5" json:"breakEnd,omitempty"`
	IsActive   bool    `gorm:"not null" json:"isActive"`
}

// HasBreak reports whether both ends of the break window are set.
func (r *AvailabilityRule) HasBreak() bool {
	return r.BreakStart != nil && r.BreakEnd != nil && *r.BreakStart != "" && *r.BreakEnd != ""
}
