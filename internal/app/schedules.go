package app

import (
	"fmt"
	"strings"
	"time"

	"medtrack/internal/util"
	"medtrack/pkg/domain"
)

// ScheduleInput carries the caller-supplied schedule fields.
type ScheduleInput struct {
	DrugID       string     `json:"drugId"`
	Dosage       string     `json:"dosage"`
	Frequency    string     `json:"frequency"`
	StartDate    *time.Time `json:"startDate,omitempty"`
	EndDate      *time.Time `json:"endDate,omitempty"`
	Instructions string     `json:"instructions,omitempty"`
	ReminderTime string     `json:"reminderTime,omitempty"`
}

// DoseLogInput carries one adherence event. TakenAt defaults to now and
// Taken defaults to true when omitted.
type DoseLogInput struct {
	TakenAt *time.Time `json:"takenAt,omitempty"`
	Taken   *bool      `json:"taken,omitempty"`
	Notes   string     `json:"notes,omitempty"`
}

// CreateSchedule creates a medication schedule for one of the caller's
// patients. The referenced drug must be visible; a drug hidden behind an
// unverified master is treated as nonexistent.
func (a *App) CreateSchedule(user domain.User, patientID string, in ScheduleInput) (domain.Schedule, error) {
	patient, err := a.GetPatient(user, patientID)
	if err != nil {
		return domain.Schedule{}, err
	}
	if strings.TrimSpace(in.Dosage) == "" || strings.TrimSpace(in.Frequency) == "" {
		return domain.Schedule{}, ErrDosageRequired
	}
	drug, err := a.GetDrug(in.DrugID)
	if err != nil {
		return domain.Schedule{}, err
	}
	start := a.now().UTC()
	if in.StartDate != nil {
		start = in.StartDate.UTC()
	}
	schedule := domain.Schedule{
		ID:           util.NewID(),
		PatientID:    patient.ID,
		DrugID:       drug.ID,
		Dosage:       strings.TrimSpace(in.Dosage),
		Frequency:    strings.TrimSpace(in.Frequency),
		StartDate:    start,
		EndDate:      in.EndDate,
		Instructions: strings.TrimSpace(in.Instructions),
		ReminderTime: strings.TrimSpace(in.ReminderTime),
		IsActive:     true,
	}
	if err := a.store.CreateSchedule(schedule); err != nil {
		return domain.Schedule{}, fmt.Errorf("save schedule: %w", err)
	}
	schedule.Drug = &drug
	schedule.DoseLogs = []domain.DoseLog{}
	return schedule, nil
}

// ListSchedules returns a patient's schedules with drugs and dose history.
func (a *App) ListSchedules(user domain.User, patientID string) ([]domain.Schedule, error) {
	patient, err := a.GetPatient(user, patientID)
	if err != nil {
		return nil, err
	}
	schedules, err := a.store.ListSchedulesByPatient(patient.ID)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	return schedules, nil
}

// LogDose records one dose event against a schedule the caller owns.
func (a *App) LogDose(user domain.User, scheduleID string, in DoseLogInput) (domain.DoseLog, error) {
	schedule, err := a.getOwnedSchedule(user, scheduleID)
	if err != nil {
		return domain.DoseLog{}, err
	}
	now := a.now().UTC()
	takenAt := now
	if in.TakenAt != nil {
		takenAt = in.TakenAt.UTC()
	}
	taken := true
	if in.Taken != nil {
		taken = *in.Taken
	}
	log := domain.DoseLog{
		ID:         util.NewID(),
		ScheduleID: schedule.ID,
		TakenAt:    takenAt,
		Taken:      taken,
		Notes:      strings.TrimSpace(in.Notes),
		RecordedAt: now,
	}
	if err := a.store.CreateDoseLog(log); err != nil {
		return domain.DoseLog{}, fmt.Errorf("save dose log: %w", err)
	}
	return log, nil
}

func (a *App) getOwnedSchedule(user domain.User, scheduleID string) (domain.Schedule, error) {
	schedule, ok, err := a.store.GetSchedule(scheduleID)
	if err != nil {
		return domain.Schedule{}, fmt.Errorf("fetch schedule: %w", err)
	}
	if !ok {
		return domain.Schedule{}, ErrScheduleNotFound
	}
	// Ownership follows the patient: another user's schedule is forbidden,
	// an orphaned one surfaces the patient lookup error.
	if _, err := a.GetPatient(user, schedule.PatientID); err != nil {
		return domain.Schedule{}, err
	}
	return schedule, nil
}
