package scheduling

import "telehealth-portal-server/internal/apperr"

var (
	ErrSlotTaken           = apperr.Conflict("slot already booked")
	ErrAlreadyProcessed    = apperr.Conflict("appointment not found or already processed")
	ErrAppointmentNotFound = apperr.NotFound("appointment not found")
	ErrDoctorNotFound      = apperr.NotFound("doctor not found")
	ErrPatientNotFound     = apperr.NotFound("patient not found")
	ErrRuleNotFound        = apperr.NotFound("availability rule not found")
	ErrNotAvailableDay     = apperr.Validation("doctor not available this day")
	ErrOutsideHours        = apperr.Validation("time is outside the doctor's working hours")
	ErrDuringBreak         = apperr.Validation("time falls within the doctor's break")
	ErrOffGrid             = apperr.Validation("time is not aligned to the slot grid")
	ErrNotInFuture         = apperr.Validation("appointment must be in the future")
	ErrNotStarted          = apperr.Validation("appointment has not started yet")
)
