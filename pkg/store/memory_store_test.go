package store

import (
	"errors"
	"sync"
	"testing"
	"time"

	"medtrack/pkg/domain"
)

func TestMemoryStoreUserLookups(t *testing.T) {
	s := NewMemoryStore()
	u := domain.User{ID: "u1", Email: "a@example.com", PhoneNumber: "96555500001", IsActive: true, CreatedAt: time.Now()}
	if err := s.SaveUser(u); err != nil {
		t.Fatalf("SaveUser: %v", err)
	}
	got, ok, err := s.GetUserByEmail("a@example.com")
	if err != nil || !ok || got.ID != "u1" {
		t.Fatalf("GetUserByEmail = %+v, %v, %v", got, ok, err)
	}
	got, ok, err = s.GetUserByPhone("96555500001")
	if err != nil || !ok || got.ID != "u1" {
		t.Fatalf("GetUserByPhone = %+v, %v, %v", got, ok, err)
	}
	if _, ok, _ := s.GetUserByPhone("96555500099"); ok {
		t.Fatal("expected miss for unknown phone")
	}
}

func TestConsumeOTPChallengeSingleWinner(t *testing.T) {
	s := NewMemoryStore()
	c := domain.OTPChallenge{
		ID:        "c1",
		UserID:    "u1",
		RequestID: "req1",
		ExpiresAt: time.Now().Add(5 * time.Minute),
		CreatedAt: time.Now(),
	}
	if err := s.CreateOTPChallenge(c); err != nil {
		t.Fatalf("CreateOTPChallenge: %v", err)
	}

	const racers = 16
	var wg sync.WaitGroup
	wins := make(chan bool, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := s.ConsumeOTPChallenge("c1", time.Now())
			if err != nil {
				t.Errorf("ConsumeOTPChallenge: %v", err)
				return
			}
			wins <- won
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for won := range wins {
		if won {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("winners = %d, want exactly 1", count)
	}

	got, ok, err := s.GetOTPChallenge("u1", "req1")
	if err != nil || !ok {
		t.Fatalf("GetOTPChallenge = %v, %v", ok, err)
	}
	if got.UsedAt == nil {
		t.Fatal("UsedAt not stamped after consume")
	}
}

func TestCreateOTPChallengeDuplicateRequestID(t *testing.T) {
	s := NewMemoryStore()
	base := domain.OTPChallenge{UserID: "u1", RequestID: "req1", ExpiresAt: time.Now().Add(time.Minute)}
	first := base
	first.ID = "c1"
	if err := s.CreateOTPChallenge(first); err != nil {
		t.Fatalf("first create: %v", err)
	}
	second := base
	second.ID = "c2"
	if err := s.CreateOTPChallenge(second); err == nil {
		t.Fatal("expected duplicate (user, request) pair to be rejected")
	}
}

func TestMergeDrugMasterFillsOnlyNullFields(t *testing.T) {
	s := NewMemoryStore()
	existing := domain.DrugMaster{
		ID:             "m1",
		RxCUI:          "161",
		TradeNameEN:    "Panadol",
		VerifiedStatus: domain.StatusVerified,
	}
	if err := s.SaveDrugMaster(existing); err != nil {
		t.Fatalf("SaveDrugMaster: %v", err)
	}

	merged, err := s.MergeDrugMaster(domain.DrugMaster{
		ID:          "m2",
		RxCUI:       "161",
		TradeNameEN: "Acetaminophen Brand",
		GenericName: "acetaminophen",
		Strength:    "500 mg",
	})
	if err != nil {
		t.Fatalf("MergeDrugMaster: %v", err)
	}
	if merged.ID != "m1" {
		t.Fatalf("merged into id %q, want existing m1", merged.ID)
	}
	if merged.TradeNameEN != "Panadol" {
		t.Fatalf("existing TradeNameEN overwritten: %q", merged.TradeNameEN)
	}
	if merged.GenericName != "acetaminophen" || merged.Strength != "500 mg" {
		t.Fatalf("null fields not filled: %+v", merged)
	}
	if merged.VerifiedStatus != domain.StatusVerified {
		t.Fatalf("verified status changed by merge: %q", merged.VerifiedStatus)
	}
}

func TestListVisibleLocalDrugs(t *testing.T) {
	s := NewMemoryStore()
	verified := domain.DrugMaster{ID: "m1", RxCUI: "161", VerifiedStatus: domain.StatusVerified}
	pending := domain.DrugMaster{ID: "m2", RxCUI: "262", VerifiedStatus: domain.StatusUnverified}
	for _, m := range []domain.DrugMaster{verified, pending} {
		if err := s.SaveDrugMaster(m); err != nil {
			t.Fatalf("SaveDrugMaster: %v", err)
		}
	}
	now := time.Now()
	locals := []domain.DrugLocal{
		{ID: "l1", MOHCode: "KW-003", TradeNameAR: "بنادول", MatchedDrugID: "m1", ExtractedAt: now},
		{ID: "l2", MOHCode: "KW-001", TradeNameAR: "أسبرين", MatchedDrugID: "m2", ExtractedAt: now},
		{ID: "l3", MOHCode: "KW-002", TradeNameAR: "أدول", ExtractedAt: now},
	}
	for _, d := range locals {
		if err := s.SaveLocalDrug(d); err != nil {
			t.Fatalf("SaveLocalDrug: %v", err)
		}
	}

	visible, err := s.ListVisibleLocalDrugs()
	if err != nil {
		t.Fatalf("ListVisibleLocalDrugs: %v", err)
	}
	if len(visible) != 2 {
		t.Fatalf("visible = %d rows, want 2 (unmatched + verified)", len(visible))
	}
	// Arabic collation here is plain byte order; both expected names sort
	// before بنادول.
	if visible[0].ID != "l3" || visible[1].ID != "l1" {
		t.Fatalf("order = %s, %s", visible[0].ID, visible[1].ID)
	}
	if visible[1].MatchedDrug == nil || visible[1].MatchedDrug.ID != "m1" {
		t.Fatalf("linked master not hydrated: %+v", visible[1])
	}
}

func TestListUnmatchedLocalDrugsOldestFirst(t *testing.T) {
	s := NewMemoryStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"l1", "l2", "l3"} {
		d := domain.DrugLocal{ID: id, MOHCode: "KW-00" + id, ExtractedAt: base.Add(time.Duration(2-i) * time.Hour)}
		if err := s.SaveLocalDrug(d); err != nil {
			t.Fatalf("SaveLocalDrug: %v", err)
		}
	}
	got, err := s.ListUnmatchedLocalDrugs(2)
	if err != nil {
		t.Fatalf("ListUnmatchedLocalDrugs: %v", err)
	}
	if len(got) != 2 || got[0].ID != "l3" || got[1].ID != "l2" {
		t.Fatalf("unexpected batch: %+v", got)
	}
}

func TestImportDrugsAtomicOnMissingLocal(t *testing.T) {
	s := NewMemoryStore()
	if err := s.SaveLocalDrug(domain.DrugLocal{ID: "l1", MOHCode: "KW-001", ExtractedAt: time.Now()}); err != nil {
		t.Fatalf("SaveLocalDrug: %v", err)
	}
	items := []domain.DrugImportItem{
		{LocalID: "l1", Master: domain.DrugMaster{ID: "m1", RxCUI: "161", TradeNameEN: "Panadol"}},
		{LocalID: "missing", Master: domain.DrugMaster{ID: "m2", RxCUI: "262"}},
	}
	if _, err := s.ImportDrugs(items); !errors.Is(err, ErrLocalDrugNotFound) {
		t.Fatalf("err = %v, want ErrLocalDrugNotFound", err)
	}
	// The valid first item must not have been applied.
	d, ok, err := s.GetLocalDrug("l1")
	if err != nil || !ok {
		t.Fatalf("GetLocalDrug: %v, %v", ok, err)
	}
	if d.MatchedDrugID != "" {
		t.Fatalf("partial batch applied: %+v", d)
	}
	if _, ok, _ := s.GetDrugMasterByRxCUI("161"); ok {
		t.Fatal("master created despite rollback")
	}
}

func TestImportDrugsLinksAndMerges(t *testing.T) {
	s := NewMemoryStore()
	if err := s.SaveLocalDrug(domain.DrugLocal{ID: "l1", MOHCode: "KW-001", ExtractedAt: time.Now()}); err != nil {
		t.Fatalf("SaveLocalDrug: %v", err)
	}
	conf := 0.92
	imported, err := s.ImportDrugs([]domain.DrugImportItem{
		{LocalID: "l1", Master: domain.DrugMaster{ID: "m1", RxCUI: "161", TradeNameEN: "Panadol"}, MatchConfidence: &conf},
	})
	if err != nil {
		t.Fatalf("ImportDrugs: %v", err)
	}
	if len(imported) != 1 {
		t.Fatalf("imported = %d rows", len(imported))
	}
	got := imported[0]
	if got.MatchedDrugID != "m1" || got.MatchedDrug == nil || got.MatchedDrug.TradeNameEN != "Panadol" {
		t.Fatalf("link not applied: %+v", got)
	}
	if got.MatchConfidence == nil || *got.MatchConfidence != conf {
		t.Fatalf("confidence not stored: %+v", got.MatchConfidence)
	}
}

func TestScheduleHydration(t *testing.T) {
	s := NewMemoryStore()
	if err := s.SaveLocalDrug(domain.DrugLocal{ID: "l1", MOHCode: "KW-001", TradeNameAR: "بنادول", ExtractedAt: time.Now()}); err != nil {
		t.Fatalf("SaveLocalDrug: %v", err)
	}
	sc := domain.Schedule{ID: "s1", PatientID: "p1", DrugID: "l1", Dosage: "500 mg", Frequency: "bid", StartDate: time.Now(), IsActive: true}
	if err := s.CreateSchedule(sc); err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}
	base := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	for i, id := range []string{"d2", "d1"} {
		log := domain.DoseLog{ID: id, ScheduleID: "s1", TakenAt: base.Add(time.Duration(1-i) * time.Hour), Taken: true, RecordedAt: time.Now()}
		if err := s.CreateDoseLog(log); err != nil {
			t.Fatalf("CreateDoseLog: %v", err)
		}
	}
	got, ok, err := s.GetSchedule("s1")
	if err != nil || !ok {
		t.Fatalf("GetSchedule: %v, %v", ok, err)
	}
	if got.Drug == nil || got.Drug.MOHCode != "KW-001" {
		t.Fatalf("drug not hydrated: %+v", got.Drug)
	}
	if len(got.DoseLogs) != 2 || got.DoseLogs[0].ID != "d1" {
		t.Fatalf("dose logs not ordered by taken_at: %+v", got.DoseLogs)
	}
}

func TestProvenanceFiltering(t *testing.T) {
	s := NewMemoryStore()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	records := []domain.Provenance{
		{ID: "p1", EntityType: "drug_master", EntityID: "m1", Source: "rxnorm", FetchedAt: base},
		{ID: "p2", EntityType: "drug_master", EntityID: "m1", Source: "dailymed", FetchedAt: base.Add(time.Hour)},
		{ID: "p3", EntityType: "drug_master", EntityID: "m2", Source: "rxnorm", FetchedAt: base},
		{ID: "p4", EntityType: "catalog_file", Source: "moh", FetchedAt: base},
	}
	for _, p := range records {
		if err := s.AppendProvenance(p); err != nil {
			t.Fatalf("AppendProvenance: %v", err)
		}
	}
	got, err := s.ListProvenanceByEntity("drug_master", "m1")
	if err != nil {
		t.Fatalf("ListProvenanceByEntity: %v", err)
	}
	if len(got) != 2 || got[0].ID != "p2" {
		t.Fatalf("unexpected provenance rows: %+v", got)
	}
	all, err := s.ListProvenanceByEntity("drug_master", "")
	if err != nil {
		t.Fatalf("ListProvenanceByEntity all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("all drug_master rows = %d, want 3", len(all))
	}
}
