package app

import (
	"fmt"
	"strings"
	"time"

	"medtrack/internal/util"
	"medtrack/pkg/domain"
)

// PatientInput carries the caller-supplied patient fields.
type PatientInput struct {
	FullName            string     `json:"fullName"`
	DateOfBirth         *time.Time `json:"dateOfBirth,omitempty"`
	MedicalRecordNumber string     `json:"medicalRecordNumber,omitempty"`
}

// CreatePatient creates a patient record owned by the calling user.
func (a *App) CreatePatient(user domain.User, in PatientInput) (domain.Patient, error) {
	fullName := strings.TrimSpace(in.FullName)
	if fullName == "" {
		return domain.Patient{}, ErrFullNameRequired
	}
	patient := domain.Patient{
		ID:                  util.NewID(),
		UserID:              user.ID,
		FullName:            fullName,
		DateOfBirth:         in.DateOfBirth,
		MedicalRecordNumber: strings.TrimSpace(in.MedicalRecordNumber),
	}
	if err := a.store.SavePatient(patient); err != nil {
		return domain.Patient{}, fmt.Errorf("save patient: %w", err)
	}
	return patient, nil
}

// ListPatients returns the caller's patients; superusers see all.
func (a *App) ListPatients(user domain.User) ([]domain.Patient, error) {
	if user.IsSuperuser {
		return a.store.ListPatients()
	}
	return a.store.ListPatientsByUser(user.ID)
}

// GetPatient fetches one patient with an ownership check. An absent patient
// is not found; an existing patient owned by another user is forbidden.
func (a *App) GetPatient(user domain.User, id string) (domain.Patient, error) {
	patient, ok, err := a.store.GetPatient(id)
	if err != nil {
		return domain.Patient{}, fmt.Errorf("fetch patient: %w", err)
	}
	if !ok {
		return domain.Patient{}, ErrPatientNotFound
	}
	if patient.UserID != user.ID && !user.IsSuperuser {
		return domain.Patient{}, ErrNotAuthorized
	}
	return patient, nil
}
