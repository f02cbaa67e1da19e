package store

import (
	"time"

	"medtrack/pkg/domain"
)

// Store defines persistence operations for users, OTP challenges, the drug
// catalog, patients, schedules, dose logs, and provenance.
type Store interface {
	// users
	SaveUser(domain.User) error
	GetUserByID(id string) (domain.User, bool, error)
	GetUserByEmail(email string) (domain.User, bool, error)
	GetUserByPhone(phone string) (domain.User, bool, error)

	// otp challenges
	CreateOTPChallenge(domain.OTPChallenge) error
	GetOTPChallenge(userID, requestID string) (domain.OTPChallenge, bool, error)
	// ConsumeOTPChallenge stamps used_at iff it is still unset and reports
	// whether this caller won. Losing the race is not an error.
	ConsumeOTPChallenge(id string, usedAt time.Time) (bool, error)

	// master catalog
	SaveDrugMaster(domain.DrugMaster) error
	GetDrugMaster(id string) (domain.DrugMaster, bool, error)
	GetDrugMasterByRxCUI(rxCUI string) (domain.DrugMaster, bool, error)
	// MergeDrugMaster fills only the null fields of an existing record with
	// the same RxCUI, or inserts the draft when no match exists.
	MergeDrugMaster(draft domain.DrugMaster) (domain.DrugMaster, error)

	// local catalog
	SaveLocalDrug(domain.DrugLocal) error
	GetLocalDrug(id string) (domain.DrugLocal, bool, error)
	GetLocalDrugByMOHCode(code string) (domain.DrugLocal, bool, error)
	// ListVisibleLocalDrugs returns rows that are unlinked or linked to a
	// verified master, ordered by Arabic trade name then MOH code.
	ListVisibleLocalDrugs() ([]domain.DrugLocal, error)
	ListUnmatchedLocalDrugs(limit int) ([]domain.DrugLocal, error)
	LinkLocalDrug(localID, masterID string, confidence *float64) error
	// ImportDrugs applies an admin reconciliation batch atomically: a missing
	// local record rolls back the whole batch.
	ImportDrugs(items []domain.DrugImportItem) ([]domain.DrugLocal, error)

	// patients
	SavePatient(domain.Patient) error
	GetPatient(id string) (domain.Patient, bool, error)
	ListPatientsByUser(userID string) ([]domain.Patient, error)
	ListPatients() ([]domain.Patient, error)

	// schedules and dose logs
	CreateSchedule(domain.Schedule) error
	GetSchedule(id string) (domain.Schedule, bool, error)
	ListSchedulesByPatient(patientID string) ([]domain.Schedule, error)
	CreateDoseLog(domain.DoseLog) error

	// provenance
	AppendProvenance(domain.Provenance) error
	ListProvenanceByEntity(entityType, entityID string) ([]domain.Provenance, error)
}
