package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID           string  `gorm:"primaryKey"`
	Email        *string `gorm:"uniqueIndex"`
	PhoneNumber  *string `gorm:"uniqueIndex"`
	PasswordHash string
	IsActive     bool      `gorm:"not null;default:true"`
	IsSuperuser  bool      `gorm:"not null;default:false"`
	CreatedAt    time.Time `gorm:"not null"`
}

func (UserModel) TableName() string { return "users" }

type OTPChallengeModel struct {
	ID          string    `gorm:"primaryKey"`
	UserID      string    `gorm:"not null;uniqueIndex:idx_otp_user_request"`
	User        UserModel `gorm:"constraint:OnDelete:CASCADE"`
	PhoneNumber string    `gorm:"not null"`
	CodeHash    string    `gorm:"not null"`
	RequestID   string    `gorm:"not null;uniqueIndex:idx_otp_user_request"`
	ExpiresAt   time.Time `gorm:"not null"`
	UsedAt      *time.Time
	CreatedAt   time.Time `gorm:"not null;index"`
}

func (OTPChallengeModel) TableName() string { return "otp_challenges" }

type DrugMasterModel struct {
	ID             string  `gorm:"primaryKey"`
	RxCUI          *string `gorm:"column:rx_cui;uniqueIndex"`
	TradeNameEN    string  `gorm:"column:trade_name_en"`
	TradeNameAR    string  `gorm:"column:trade_name_ar"`
	GenericName    string
	Strength       string
	DosageForm     string
	Source         string
	SourceURL      string
	SourceVersion  string
	VerifiedStatus string    `gorm:"not null;default:unverified"`
	LastUpdated    time.Time `gorm:"not null;autoUpdateTime"`
}

func (DrugMasterModel) TableName() string { return "drugs_master" }

type DrugLocalModel struct {
	ID              string `gorm:"primaryKey"`
	MOHCode         string `gorm:"column:moh_code;uniqueIndex;not null"`
	TradeNameAR     string `gorm:"column:trade_name_ar"`
	GenericName     string
	Strength        string
	DosageForm      string
	SourceFile      string
	ExtractedAt     time.Time        `gorm:"not null"`
	MatchedDrugID   *string          `gorm:"index"`
	MatchedDrug     *DrugMasterModel `gorm:"constraint:OnDelete:SET NULL"`
	MatchConfidence *float64         `gorm:"type:numeric(4,3)"`
}

func (DrugLocalModel) TableName() string { return "drugs_local_kuwait" }

type PatientModel struct {
	ID                  string    `gorm:"primaryKey"`
	UserID              string    `gorm:"not null;index"`
	User                UserModel `gorm:"constraint:OnDelete:CASCADE"`
	FullName            string    `gorm:"not null"`
	DateOfBirth         *time.Time
	MedicalRecordNumber *string `gorm:"uniqueIndex"`
	CreatedAt           time.Time
}

func (PatientModel) TableName() string { return "patients" }

type ScheduleModel struct {
	ID           string         `gorm:"primaryKey"`
	PatientID    string         `gorm:"not null;index"`
	Patient      PatientModel   `gorm:"constraint:OnDelete:CASCADE"`
	DrugID       string         `gorm:"not null;index"`
	Drug         DrugLocalModel `gorm:"foreignKey:DrugID"`
	Dosage       string         `gorm:"not null"`
	Frequency    string         `gorm:"not null"`
	StartDate    time.Time      `gorm:"not null"`
	EndDate      *time.Time
	Instructions string
	ReminderTime string
	IsActive     bool `gorm:"not null;default:true"`
	CreatedAt    time.Time
}

func (ScheduleModel) TableName() string { return "drug_schedules" }

type DoseLogModel struct {
	ID         string        `gorm:"primaryKey"`
	ScheduleID string        `gorm:"not null;index"`
	Schedule   ScheduleModel `gorm:"constraint:OnDelete:CASCADE"`
	TakenAt    time.Time     `gorm:"not null"`
	Taken      bool          `gorm:"not null;default:true"`
	Notes      string
	RecordedAt time.Time `gorm:"not null"`
}

func (DoseLogModel) TableName() string { return "dose_logs" }

type ProvenanceModel struct {
	ID         string `gorm:"primaryKey"`
	EntityType string `gorm:"not null;index:idx_provenance_entity"`
	EntityID   *string `gorm:"index:idx_provenance_entity"`
	Source     string `gorm:"not null"`
	FetchedAt  time.Time `gorm:"not null;index"`
	VerifiedBy *string
	Notes      datatypes.JSON `gorm:"type:jsonb"`
}

func (ProvenanceModel) TableName() string { return "provenance" }
