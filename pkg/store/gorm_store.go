package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"medtrack/pkg/domain"
)

const migrateLockID int64 = 48120731

// ErrLocalDrugNotFound aborts an import batch referencing a missing local row.
var ErrLocalDrugNotFound = errors.New("local drug not found")

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations under an advisory lock
// so concurrent replicas do not race the schema.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(
			&UserModel{},
			&OTPChallengeModel{},
			&DrugMasterModel{},
			&DrugLocalModel{},
			&PatientModel{},
			&ScheduleModel{},
			&DoseLogModel{},
			&ProvenanceModel{},
		); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// users -----------------------------------------------------------------

func (s *GormStore) SaveUser(u domain.User) error {
	model := userToModel(u)
	return s.db.Save(&model).Error
}

func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "email = ?", email).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

func (s *GormStore) GetUserByPhone(phone string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "phone_number = ?", phone).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// otp challenges --------------------------------------------------------

func (s *GormStore) CreateOTPChallenge(c domain.OTPChallenge) error {
	model := otpToModel(c)
	return s.db.Create(&model).Error
}

func (s *GormStore) GetOTPChallenge(userID, requestID string) (domain.OTPChallenge, bool, error) {
	var model OTPChallengeModel
	err := s.db.Where("user_id = ? AND request_id = ?", userID, requestID).
		Order("created_at DESC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.OTPChallenge{}, false, nil
		}
		return domain.OTPChallenge{}, false, err
	}
	return otpFromModel(model), true, nil
}

// ConsumeOTPChallenge performs the single mutation of a challenge's life:
// a conditional update scoped by primary key, so two racing verifications
// cannot both win regardless of backend.
func (s *GormStore) ConsumeOTPChallenge(id string, usedAt time.Time) (bool, error) {
	res := s.db.Model(&OTPChallengeModel{}).
		Where("id = ? AND used_at IS NULL", id).
		Update("used_at", usedAt.UTC())
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// master catalog --------------------------------------------------------

func (s *GormStore) SaveDrugMaster(d domain.DrugMaster) error {
	model := masterToModel(d)
	return s.db.Save(&model).Error
}

func (s *GormStore) GetDrugMaster(id string) (domain.DrugMaster, bool, error) {
	var model DrugMasterModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.DrugMaster{}, false, nil
		}
		return domain.DrugMaster{}, false, err
	}
	return masterFromModel(model), true, nil
}

func (s *GormStore) GetDrugMasterByRxCUI(rxCUI string) (domain.DrugMaster, bool, error) {
	var model DrugMasterModel
	if err := s.db.First(&model, "rx_cui = ?", rxCUI).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.DrugMaster{}, false, nil
		}
		return domain.DrugMaster{}, false, err
	}
	return masterFromModel(model), true, nil
}

func (s *GormStore) MergeDrugMaster(draft domain.DrugMaster) (domain.DrugMaster, error) {
	var merged domain.DrugMaster
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		merged, err = mergeDrugMasterTx(tx, draft)
		return err
	})
	return merged, err
}

func mergeDrugMasterTx(tx *gorm.DB, draft domain.DrugMaster) (domain.DrugMaster, error) {
	if draft.RxCUI != "" {
		var existing DrugMasterModel
		err := tx.First(&existing, "rx_cui = ?", draft.RxCUI).Error
		if err == nil {
			if fillMasterNulls(&existing, draft) {
				if err := tx.Save(&existing).Error; err != nil {
					return domain.DrugMaster{}, err
				}
			}
			return masterFromModel(existing), nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.DrugMaster{}, err
		}
	}
	model := masterToModel(draft)
	if err := tx.Create(&model).Error; err != nil {
		return domain.DrugMaster{}, err
	}
	return masterFromModel(model), nil
}

// fillMasterNulls copies draft values into unset fields only; existing
// non-null values always win.
func fillMasterNulls(existing *DrugMasterModel, draft domain.DrugMaster) bool {
	changed := false
	fill := func(dst *string, src string) {
		if *dst == "" && src != "" {
			*dst = src
			changed = true
		}
	}
	fill(&existing.TradeNameEN, draft.TradeNameEN)
	fill(&existing.TradeNameAR, draft.TradeNameAR)
	fill(&existing.GenericName, draft.GenericName)
	fill(&existing.Strength, draft.Strength)
	fill(&existing.DosageForm, draft.DosageForm)
	fill(&existing.Source, draft.Source)
	fill(&existing.SourceURL, draft.SourceURL)
	fill(&existing.SourceVersion, draft.SourceVersion)
	return changed
}

// local catalog ---------------------------------------------------------

func (s *GormStore) SaveLocalDrug(d domain.DrugLocal) error {
	model := localToModel(d)
	return s.db.Save(&model).Error
}

func (s *GormStore) GetLocalDrug(id string) (domain.DrugLocal, bool, error) {
	var model DrugLocalModel
	err := s.db.Preload("MatchedDrug").First(&model, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.DrugLocal{}, false, nil
		}
		return domain.DrugLocal{}, false, err
	}
	return localFromModel(model), true, nil
}

func (s *GormStore) GetLocalDrugByMOHCode(code string) (domain.DrugLocal, bool, error) {
	var model DrugLocalModel
	err := s.db.Preload("MatchedDrug").First(&model, "moh_code = ?", code).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.DrugLocal{}, false, nil
		}
		return domain.DrugLocal{}, false, err
	}
	return localFromModel(model), true, nil
}

func (s *GormStore) ListVisibleLocalDrugs() ([]domain.DrugLocal, error) {
	var models []DrugLocalModel
	err := s.db.Preload("MatchedDrug").
		Joins("LEFT JOIN drugs_master ON drugs_master.id = drugs_local_kuwait.matched_drug_id").
		Where("drugs_local_kuwait.matched_drug_id IS NULL OR drugs_master.verified_status = ?", domain.StatusVerified).
		Order("drugs_local_kuwait.trade_name_ar ASC, drugs_local_kuwait.moh_code ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return localsFromModels(models), nil
}

func (s *GormStore) ListUnmatchedLocalDrugs(limit int) ([]domain.DrugLocal, error) {
	var models []DrugLocalModel
	tx := s.db.Where("matched_drug_id IS NULL").
		Order("extracted_at ASC, moh_code ASC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	return localsFromModels(models), nil
}

func (s *GormStore) LinkLocalDrug(localID, masterID string, confidence *float64) error {
	return s.db.Model(&DrugLocalModel{}).
		Where("id = ?", localID).
		Updates(map[string]any{
			"matched_drug_id":  masterID,
			"match_confidence": confidence,
		}).Error
}

func (s *GormStore) ImportDrugs(items []domain.DrugImportItem) ([]domain.DrugLocal, error) {
	ids := make([]string, 0, len(items))
	err := s.db.Transaction(func(tx *gorm.DB) error {
		for _, item := range items {
			var local DrugLocalModel
			if err := tx.First(&local, "id = ?", item.LocalID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("%w: %s", ErrLocalDrugNotFound, item.LocalID)
				}
				return err
			}
			master, err := mergeDrugMasterTx(tx, item.Master)
			if err != nil {
				return err
			}
			if err := tx.Model(&DrugLocalModel{}).
				Where("id = ?", local.ID).
				Updates(map[string]any{
					"matched_drug_id":  master.ID,
					"match_confidence": item.MatchConfidence,
				}).Error; err != nil {
				return err
			}
			ids = append(ids, local.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	imported := make([]domain.DrugLocal, 0, len(ids))
	for _, id := range ids {
		local, ok, err := s.GetLocalDrug(id)
		if err != nil {
			return nil, err
		}
		if ok {
			imported = append(imported, local)
		}
	}
	return imported, nil
}

// patients --------------------------------------------------------------

func (s *GormStore) SavePatient(p domain.Patient) error {
	model := patientToModel(p)
	return s.db.Save(&model).Error
}

func (s *GormStore) GetPatient(id string) (domain.Patient, bool, error) {
	var model PatientModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Patient{}, false, nil
		}
		return domain.Patient{}, false, err
	}
	return patientFromModel(model), true, nil
}

func (s *GormStore) ListPatientsByUser(userID string) ([]domain.Patient, error) {
	var models []PatientModel
	if err := s.db.Where("user_id = ?", userID).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Patient, 0, len(models))
	for _, m := range models {
		res = append(res, patientFromModel(m))
	}
	return res, nil
}

func (s *GormStore) ListPatients() ([]domain.Patient, error) {
	var models []PatientModel
	if err := s.db.Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Patient, 0, len(models))
	for _, m := range models {
		res = append(res, patientFromModel(m))
	}
	return res, nil
}

// schedules and dose logs ------------------------------------------------

func (s *GormStore) CreateSchedule(sc domain.Schedule) error {
	model := scheduleToModel(sc)
	return s.db.Create(&model).Error
}

func (s *GormStore) GetSchedule(id string) (domain.Schedule, bool, error) {
	var model ScheduleModel
	err := s.db.Preload("Drug.MatchedDrug").First(&model, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Schedule{}, false, nil
		}
		return domain.Schedule{}, false, err
	}
	return scheduleFromModel(model, nil), true, nil
}

func (s *GormStore) ListSchedulesByPatient(patientID string) ([]domain.Schedule, error) {
	var models []ScheduleModel
	err := s.db.Preload("Drug.MatchedDrug").
		Where("patient_id = ?", patientID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	res := make([]domain.Schedule, 0, len(models))
	for _, m := range models {
		var logs []DoseLogModel
		if err := s.db.Where("schedule_id = ?", m.ID).Order("taken_at ASC").Find(&logs).Error; err != nil {
			return nil, err
		}
		res = append(res, scheduleFromModel(m, logs))
	}
	return res, nil
}

func (s *GormStore) CreateDoseLog(d domain.DoseLog) error {
	model := doseLogToModel(d)
	return s.db.Create(&model).Error
}

// provenance ------------------------------------------------------------

func (s *GormStore) AppendProvenance(p domain.Provenance) error {
	model, err := provenanceToModel(p)
	if err != nil {
		return err
	}
	return s.db.Create(&model).Error
}

func (s *GormStore) ListProvenanceByEntity(entityType, entityID string) ([]domain.Provenance, error) {
	var models []ProvenanceModel
	tx := s.db.Where("entity_type = ?", entityType).Order("fetched_at DESC")
	if entityID != "" {
		tx = tx.Where("entity_id = ?", entityID)
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Provenance, 0, len(models))
	for _, m := range models {
		res = append(res, provenanceFromModel(m))
	}
	return res, nil
}

// converters ------------------------------------------------------------

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func fromOptional(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Email:        optional(u.Email),
		PhoneNumber:  optional(u.PhoneNumber),
		PasswordHash: u.PasswordHash,
		IsActive:     u.IsActive,
		IsSuperuser:  u.IsSuperuser,
		CreatedAt:    u.CreatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Email:        fromOptional(m.Email),
		PhoneNumber:  fromOptional(m.PhoneNumber),
		PasswordHash: m.PasswordHash,
		IsActive:     m.IsActive,
		IsSuperuser:  m.IsSuperuser,
		CreatedAt:    m.CreatedAt,
	}
}

func otpToModel(c domain.OTPChallenge) OTPChallengeModel {
	return OTPChallengeModel{
		ID:          c.ID,
		UserID:      c.UserID,
		PhoneNumber: c.PhoneNumber,
		CodeHash:    c.CodeHash,
		RequestID:   c.RequestID,
		ExpiresAt:   c.ExpiresAt,
		UsedAt:      c.UsedAt,
		CreatedAt:   c.CreatedAt,
	}
}

func otpFromModel(m OTPChallengeModel) domain.OTPChallenge {
	return domain.OTPChallenge{
		ID:          m.ID,
		UserID:      m.UserID,
		PhoneNumber: m.PhoneNumber,
		CodeHash:    m.CodeHash,
		RequestID:   m.RequestID,
		ExpiresAt:   m.ExpiresAt,
		UsedAt:      m.UsedAt,
		CreatedAt:   m.CreatedAt,
	}
}

func masterToModel(d domain.DrugMaster) DrugMasterModel {
	status := d.VerifiedStatus
	if status == "" {
		status = domain.StatusUnverified
	}
	return DrugMasterModel{
		ID:             d.ID,
		RxCUI:          optional(d.RxCUI),
		TradeNameEN:    d.TradeNameEN,
		TradeNameAR:    d.TradeNameAR,
		GenericName:    d.GenericName,
		Strength:       d.Strength,
		DosageForm:     d.DosageForm,
		Source:         d.Source,
		SourceURL:      d.SourceURL,
		SourceVersion:  d.SourceVersion,
		VerifiedStatus: status,
		LastUpdated:    d.LastUpdated,
	}
}

func masterFromModel(m DrugMasterModel) domain.DrugMaster {
	return domain.DrugMaster{
		ID:             m.ID,
		RxCUI:          fromOptional(m.RxCUI),
		TradeNameEN:    m.TradeNameEN,
		TradeNameAR:    m.TradeNameAR,
		GenericName:    m.GenericName,
		Strength:       m.Strength,
		DosageForm:     m.DosageForm,
		Source:         m.Source,
		SourceURL:      m.SourceURL,
		SourceVersion:  m.SourceVersion,
		VerifiedStatus: m.VerifiedStatus,
		LastUpdated:    m.LastUpdated,
	}
}

func localToModel(d domain.DrugLocal) DrugLocalModel {
	return DrugLocalModel{
		ID:              d.ID,
		MOHCode:         d.MOHCode,
		TradeNameAR:     d.TradeNameAR,
		GenericName:     d.GenericName,
		Strength:        d.Strength,
		DosageForm:      d.DosageForm,
		SourceFile:      d.SourceFile,
		ExtractedAt:     d.ExtractedAt,
		MatchedDrugID:   optional(d.MatchedDrugID),
		MatchConfidence: d.MatchConfidence,
	}
}

func localFromModel(m DrugLocalModel) domain.DrugLocal {
	local := domain.DrugLocal{
		ID:              m.ID,
		MOHCode:         m.MOHCode,
		TradeNameAR:     m.TradeNameAR,
		GenericName:     m.GenericName,
		Strength:        m.Strength,
		DosageForm:      m.DosageForm,
		SourceFile:      m.SourceFile,
		ExtractedAt:     m.ExtractedAt,
		MatchedDrugID:   fromOptional(m.MatchedDrugID),
		MatchConfidence: m.MatchConfidence,
	}
	if m.MatchedDrug != nil {
		master := masterFromModel(*m.MatchedDrug)
		local.MatchedDrug = &master
	}
	return local
}

func localsFromModels(models []DrugLocalModel) []domain.DrugLocal {
	res := make([]domain.DrugLocal, 0, len(models))
	for _, m := range models {
		res = append(res, localFromModel(m))
	}
	return res
}

func patientToModel(p domain.Patient) PatientModel {
	return PatientModel{
		ID:                  p.ID,
		UserID:              p.UserID,
		FullName:            p.FullName,
		DateOfBirth:         p.DateOfBirth,
		MedicalRecordNumber: optional(p.MedicalRecordNumber),
	}
}

func patientFromModel(m PatientModel) domain.Patient {
	return domain.Patient{
		ID:                  m.ID,
		UserID:              m.UserID,
		FullName:            m.FullName,
		DateOfBirth:         m.DateOfBirth,
		MedicalRecordNumber: fromOptional(m.MedicalRecordNumber),
	}
}

func scheduleToModel(s domain.Schedule) ScheduleModel {
	return ScheduleModel{
		ID:           s.ID,
		PatientID:    s.PatientID,
		DrugID:       s.DrugID,
		Dosage:       s.Dosage,
		Frequency:    s.Frequency,
		StartDate:    s.StartDate,
		EndDate:      s.EndDate,
		Instructions: s.Instructions,
		ReminderTime: s.ReminderTime,
		IsActive:     s.IsActive,
	}
}

func scheduleFromModel(m ScheduleModel, logs []DoseLogModel) domain.Schedule {
	sc := domain.Schedule{
		ID:           m.ID,
		PatientID:    m.PatientID,
		DrugID:       m.DrugID,
		Dosage:       m.Dosage,
		Frequency:    m.Frequency,
		StartDate:    m.StartDate,
		EndDate:      m.EndDate,
		Instructions: m.Instructions,
		ReminderTime: m.ReminderTime,
		IsActive:     m.IsActive,
		DoseLogs:     make([]domain.DoseLog, 0, len(logs)),
	}
	if m.Drug.ID != "" {
		drug := localFromModel(m.Drug)
		sc.Drug = &drug
	}
	for _, l := range logs {
		sc.DoseLogs = append(sc.DoseLogs, doseLogFromModel(l))
	}
	return sc
}

func doseLogToModel(d domain.DoseLog) DoseLogModel {
	return DoseLogModel{
		ID:         d.ID,
		ScheduleID: d.ScheduleID,
		TakenAt:    d.TakenAt,
		Taken:      d.Taken,
		Notes:      d.Notes,
		RecordedAt: d.RecordedAt,
	}
}

func doseLogFromModel(m DoseLogModel) domain.DoseLog {
	return domain.DoseLog{
		ID:         m.ID,
		ScheduleID: m.ScheduleID,
		TakenAt:    m.TakenAt,
		Taken:      m.Taken,
		Notes:      m.Notes,
		RecordedAt: m.RecordedAt,
	}
}

func provenanceToModel(p domain.Provenance) (ProvenanceModel, error) {
	var notes datatypes.JSON
	if p.Notes != nil {
		raw, err := json.Marshal(p.Notes)
		if err != nil {
			return ProvenanceModel{}, fmt.Errorf("marshal provenance notes: %w", err)
		}
		notes = raw
	}
	return ProvenanceModel{
		ID:         p.ID,
		EntityType: p.EntityType,
		EntityID:   optional(p.EntityID),
		Source:     p.Source,
		FetchedAt:  p.FetchedAt,
		VerifiedBy: optional(p.VerifiedBy),
		Notes:      notes,
	}, nil
}

func provenanceFromModel(m ProvenanceModel) domain.Provenance {
	var notes map[string]any
	if len(m.Notes) > 0 {
		_ = json.Unmarshal(m.Notes, &notes)
	}
	return domain.Provenance{
		ID:         m.ID,
		EntityType: m.EntityType,
		EntityID:   fromOptional(m.EntityID),
		Source:     m.Source,
		FetchedAt:  m.FetchedAt,
		VerifiedBy: fromOptional(m.VerifiedBy),
		Notes:      notes,
	}
}
