package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"medtrack/pkg/domain"
)

// MemoryStore is an in-memory Store used in tests and local development.
type MemoryStore struct {
	mu sync.RWMutex

	users      map[string]domain.User
	challenges map[string]domain.OTPChallenge
	masters    map[string]domain.DrugMaster
	locals     map[string]domain.DrugLocal
	patients   map[string]domain.Patient
	schedules  map[string]domain.Schedule
	doseLogs   map[string][]domain.DoseLog
	provenance []domain.Provenance

	patientOrder []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:      make(map[string]domain.User),
		challenges: make(map[string]domain.OTPChallenge),
		masters:    make(map[string]domain.DrugMaster),
		locals:     make(map[string]domain.DrugLocal),
		patients:   make(map[string]domain.Patient),
		schedules:  make(map[string]domain.Schedule),
		doseLogs:   make(map[string][]domain.DoseLog),
	}
}

// users -----------------------------------------------------------------

func (s *MemoryStore) SaveUser(u domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	return nil
}

func (s *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	return u, ok, nil
}

func (s *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email != "" && u.Email == email {
			return u, true, nil
		}
	}
	return domain.User{}, false, nil
}

func (s *MemoryStore) GetUserByPhone(phone string) (domain.User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.PhoneNumber != "" && u.PhoneNumber == phone {
			return u, true, nil
		}
	}
	return domain.User{}, false, nil
}

// otp challenges --------------------------------------------------------

func (s *MemoryStore) CreateOTPChallenge(c domain.OTPChallenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.challenges {
		if existing.UserID == c.UserID && existing.RequestID == c.RequestID {
			return fmt.Errorf("duplicate otp challenge for user %s request %s", c.UserID, c.RequestID)
		}
	}
	s.challenges[c.ID] = c
	return nil
}

func (s *MemoryStore) GetOTPChallenge(userID, requestID string) (domain.OTPChallenge, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.challenges {
		if c.UserID == userID && c.RequestID == requestID {
			return c, true, nil
		}
	}
	return domain.OTPChallenge{}, false, nil
}

func (s *MemoryStore) ConsumeOTPChallenge(id string, usedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[id]
	if !ok || c.UsedAt != nil {
		return false, nil
	}
	t := usedAt.UTC()
	c.UsedAt = &t
	s.challenges[id] = c
	return true, nil
}

// master catalog --------------------------------------------------------

func (s *MemoryStore) SaveDrugMaster(d domain.DrugMaster) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.masters[d.ID] = d
	return nil
}

func (s *MemoryStore) GetDrugMaster(id string) (domain.DrugMaster, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.masters[id]
	return d, ok, nil
}

func (s *MemoryStore) GetDrugMasterByRxCUI(rxCUI string) (domain.DrugMaster, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.findMasterByRxCUI(rxCUI)
	return d, ok, nil
}

func (s *MemoryStore) findMasterByRxCUI(rxCUI string) (domain.DrugMaster, bool) {
	if rxCUI == "" {
		return domain.DrugMaster{}, false
	}
	for _, d := range s.masters {
		if d.RxCUI == rxCUI {
			return d, true
		}
	}
	return domain.DrugMaster{}, false
}

func (s *MemoryStore) MergeDrugMaster(draft domain.DrugMaster) (domain.DrugMaster, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mergeMasterLocked(draft), nil
}

func (s *MemoryStore) mergeMasterLocked(draft domain.DrugMaster) domain.DrugMaster {
	if existing, ok := s.findMasterByRxCUI(draft.RxCUI); ok {
		fill := func(dst *string, src string) {
			if *dst == "" && src != "" {
				*dst = src
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
		existing.LastUpdated = time.Now().UTC()
		s.masters[existing.ID] = existing
		return existing
	}
	if draft.VerifiedStatus == "" {
		draft.VerifiedStatus = domain.StatusUnverified
	}
	draft.LastUpdated = time.Now().UTC()
	s.masters[draft.ID] = draft
	return draft
}

// local catalog ---------------------------------------------------------

func (s *MemoryStore) SaveLocalDrug(d domain.DrugLocal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d.MatchedDrug = nil
	s.locals[d.ID] = d
	return nil
}

func (s *MemoryStore) GetLocalDrug(id string) (domain.DrugLocal, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.locals[id]
	if !ok {
		return domain.DrugLocal{}, false, nil
	}
	return s.withMaster(d), true, nil
}

func (s *MemoryStore) GetLocalDrugByMOHCode(code string) (domain.DrugLocal, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.locals {
		if d.MOHCode == code {
			return s.withMaster(d), true, nil
		}
	}
	return domain.DrugLocal{}, false, nil
}

func (s *MemoryStore) withMaster(d domain.DrugLocal) domain.DrugLocal {
	if d.MatchedDrugID != "" {
		if master, ok := s.masters[d.MatchedDrugID]; ok {
			d.MatchedDrug = &master
		}
	}
	return d
}

func (s *MemoryStore) ListVisibleLocalDrugs() ([]domain.DrugLocal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]domain.DrugLocal, 0, len(s.locals))
	for _, d := range s.locals {
		d = s.withMaster(d)
		if d.MatchedDrugID != "" && d.VerifiedStatus() != domain.StatusVerified {
			continue
		}
		res = append(res, d)
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].TradeNameAR != res[j].TradeNameAR {
			return res[i].TradeNameAR < res[j].TradeNameAR
		}
		return res[i].MOHCode < res[j].MOHCode
	})
	return res, nil
}

func (s *MemoryStore) ListUnmatchedLocalDrugs(limit int) ([]domain.DrugLocal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]domain.DrugLocal, 0)
	for _, d := range s.locals {
		if d.MatchedDrugID == "" {
			res = append(res, d)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].ExtractedAt.Equal(res[j].ExtractedAt) {
			return res[i].ExtractedAt.Before(res[j].ExtractedAt)
		}
		return res[i].MOHCode < res[j].MOHCode
	})
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (s *MemoryStore) LinkLocalDrug(localID, masterID string, confidence *float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.locals[localID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrLocalDrugNotFound, localID)
	}
	d.MatchedDrugID = masterID
	d.MatchConfidence = confidence
	s.locals[localID] = d
	return nil
}

func (s *MemoryStore) ImportDrugs(items []domain.DrugImportItem) ([]domain.DrugLocal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Validate the whole batch before mutating anything, mirroring the
	// transactional behavior of the SQL store.
	for _, item := range items {
		if _, ok := s.locals[item.LocalID]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrLocalDrugNotFound, item.LocalID)
		}
	}
	imported := make([]domain.DrugLocal, 0, len(items))
	for _, item := range items {
		master := s.mergeMasterLocked(item.Master)
		local := s.locals[item.LocalID]
		local.MatchedDrugID = master.ID
		local.MatchConfidence = item.MatchConfidence
		s.locals[item.LocalID] = local
		imported = append(imported, s.withMaster(local))
	}
	return imported, nil
}

// patients --------------------------------------------------------------

func (s *MemoryStore) SavePatient(p domain.Patient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.patients[p.ID]; !ok {
		s.patientOrder = append(s.patientOrder, p.ID)
	}
	s.patients[p.ID] = p
	return nil
}

func (s *MemoryStore) GetPatient(id string) (domain.Patient, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patients[id]
	return p, ok, nil
}

func (s *MemoryStore) ListPatientsByUser(userID string) ([]domain.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]domain.Patient, 0)
	for _, id := range s.patientOrder {
		if p := s.patients[id]; p.UserID == userID {
			res = append(res, p)
		}
	}
	return res, nil
}

func (s *MemoryStore) ListPatients() ([]domain.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]domain.Patient, 0, len(s.patientOrder))
	for _, id := range s.patientOrder {
		res = append(res, s.patients[id])
	}
	return res, nil
}

// schedules and dose logs ------------------------------------------------

func (s *MemoryStore) CreateSchedule(sc domain.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc.Drug = nil
	sc.DoseLogs = nil
	s.schedules[sc.ID] = sc
	return nil
}

func (s *MemoryStore) GetSchedule(id string) (domain.Schedule, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.schedules[id]
	if !ok {
		return domain.Schedule{}, false, nil
	}
	return s.hydrateSchedule(sc), true, nil
}

func (s *MemoryStore) ListSchedulesByPatient(patientID string) ([]domain.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]domain.Schedule, 0)
	for _, sc := range s.schedules {
		if sc.PatientID == patientID {
			res = append(res, s.hydrateSchedule(sc))
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (s *MemoryStore) hydrateSchedule(sc domain.Schedule) domain.Schedule {
	if d, ok := s.locals[sc.DrugID]; ok {
		d = s.withMaster(d)
		sc.Drug = &d
	}
	logs := s.doseLogs[sc.ID]
	sc.DoseLogs = make([]domain.DoseLog, len(logs))
	copy(sc.DoseLogs, logs)
	sort.Slice(sc.DoseLogs, func(i, j int) bool {
		return sc.DoseLogs[i].TakenAt.Before(sc.DoseLogs[j].TakenAt)
	})
	return sc
}

func (s *MemoryStore) CreateDoseLog(d domain.DoseLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doseLogs[d.ScheduleID] = append(s.doseLogs[d.ScheduleID], d)
	return nil
}

// provenance ------------------------------------------------------------

func (s *MemoryStore) AppendProvenance(p domain.Provenance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.provenance = append(s.provenance, p)
	return nil
}

func (s *MemoryStore) ListProvenanceByEntity(entityType, entityID string) ([]domain.Provenance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]domain.Provenance, 0)
	for _, p := range s.provenance {
		if p.EntityType != entityType {
			continue
		}
		if entityID != "" && p.EntityID != entityID {
			continue
		}
		res = append(res, p)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].FetchedAt.After(res[j].FetchedAt) })
	return res, nil
}
