package domain

import (
	"encoding/json"
	"time"
)

// Drug verification statuses. Only StatusVerified unlocks patient-facing use.
const (
	StatusUnverified = "unverified"
	StatusVerified   = "verified"
)

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email,omitempty"`
	PhoneNumber  string    `json:"phoneNumber,omitempty"`
	PasswordHash string    `json:"-"`
	IsActive     bool      `json:"isActive"`
	IsSuperuser  bool      `json:"isSuperuser"`
	CreatedAt    time.Time `json:"createdAt"`
}

// OTPChallenge is a single-use, expiring login challenge bound to a user and
// a caller-facing request identifier. The plaintext code is never stored.
type OTPChallenge struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	PhoneNumber string     `json:"phoneNumber"`
	CodeHash    string     `json:"-"`
	RequestID   string     `json:"requestId"`
	ExpiresAt   time.Time  `json:"expiresAt"`
	UsedAt      *time.Time `json:"usedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// DrugMaster is a normalized catalog entry sourced from an external registry.
type DrugMaster struct {
	ID             string    `json:"id"`
	RxCUI          string    `json:"rxCui,omitempty"`
	TradeNameEN    string    `json:"tradeNameEn,omitempty"`
	TradeNameAR    string    `json:"tradeNameAr,omitempty"`
	GenericName    string    `json:"genericName,omitempty"`
	Strength       string    `json:"strength,omitempty"`
	DosageForm     string    `json:"dosageForm,omitempty"`
	Source         string    `json:"source,omitempty"`
	SourceURL      string    `json:"sourceUrl,omitempty"`
	SourceVersion  string    `json:"sourceVersion,omitempty"`
	VerifiedStatus string    `json:"verifiedStatus"`
	LastUpdated    time.Time `json:"lastUpdated"`
}

// DrugLocal is a Kuwait MOH catalog row, optionally linked to a master record.
type DrugLocal struct {
	ID              string      `json:"id"`
	MOHCode         string      `json:"mohCode"`
	TradeNameAR     string      `json:"tradeNameAr,omitempty"`
	GenericName     string      `json:"genericName,omitempty"`
	Strength        string      `json:"strength,omitempty"`
	DosageForm      string      `json:"dosageForm,omitempty"`
	SourceFile      string      `json:"sourceFile,omitempty"`
	ExtractedAt     time.Time   `json:"extractedAt"`
	MatchedDrugID   string      `json:"matchedDrugId,omitempty"`
	MatchConfidence *float64    `json:"matchConfidence,omitempty"`
	MatchedDrug     *DrugMaster `json:"matchedDrug,omitempty"`
}

// VerifiedStatus is the effective status projected from the linked master;
// an unlinked local is always unverified.
func (d DrugLocal) VerifiedStatus() string {
	if d.MatchedDrug != nil && d.MatchedDrug.VerifiedStatus != "" {
		return d.MatchedDrug.VerifiedStatus
	}
	return StatusUnverified
}

// MarshalJSON projects the derived status and display name onto the wire
// form so clients never have to re-derive them from the embedded master.
func (d DrugLocal) MarshalJSON() ([]byte, error) {
	type plain DrugLocal
	return json.Marshal(struct {
		plain
		VerifiedStatus   string `json:"verifiedStatus"`
		TradeNameDisplay string `json:"tradeNameDisplay,omitempty"`
	}{
		plain:            plain(d),
		VerifiedStatus:   d.VerifiedStatus(),
		TradeNameDisplay: d.TradeNameDisplay(),
	})
}

// TradeNameDisplay falls back to the master's English trade name when the
// local row carries no Arabic name.
func (d DrugLocal) TradeNameDisplay() string {
	if d.TradeNameAR != "" {
		return d.TradeNameAR
	}
	if d.MatchedDrug != nil {
		return d.MatchedDrug.TradeNameEN
	}
	return ""
}

type Patient struct {
	ID                  string     `json:"id"`
	UserID              string     `json:"userId"`
	FullName            string     `json:"fullName"`
	DateOfBirth         *time.Time `json:"dateOfBirth,omitempty"`
	MedicalRecordNumber string     `json:"medicalRecordNumber,omitempty"`
}

type Schedule struct {
	ID           string     `json:"id"`
	PatientID    string     `json:"patientId"`
	DrugID       string     `json:"drugId"`
	Dosage       string     `json:"dosage"`
	Frequency    string     `json:"frequency"`
	StartDate    time.Time  `json:"startDate"`
	EndDate      *time.Time `json:"endDate,omitempty"`
	Instructions string     `json:"instructions,omitempty"`
	ReminderTime string     `json:"reminderTime,omitempty"`
	IsActive     bool       `json:"isActive"`
	Drug         *DrugLocal `json:"drug,omitempty"`
	DoseLogs     []DoseLog  `json:"doseLogs"`
}

// DoseLog records one adherence event. TakenAt is what the caller reports;
// RecordedAt is always server-assigned so backdated doses stay auditable.
type DoseLog struct {
	ID         string    `json:"id"`
	ScheduleID string    `json:"scheduleId"`
	TakenAt    time.Time `json:"takenAt"`
	Taken      bool      `json:"taken"`
	Notes      string    `json:"notes,omitempty"`
	RecordedAt time.Time `json:"recordedAt"`
}

// Provenance is an append-only audit record for externally sourced facts.
type Provenance struct {
	ID         string         `json:"id"`
	EntityType string         `json:"entityType"`
	EntityID   string         `json:"entityId,omitempty"`
	Source     string         `json:"source"`
	FetchedAt  time.Time      `json:"fetchedAt"`
	VerifiedBy string         `json:"verifiedBy,omitempty"`
	Notes      map[string]any `json:"notes,omitempty"`
}

// DrugImportItem links one unmatched local row to a proposed master record.
type DrugImportItem struct {
	LocalID         string     `json:"localId"`
	Master          DrugMaster `json:"master"`
	MatchConfidence *float64   `json:"matchConfidence,omitempty"`
}
