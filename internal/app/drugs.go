package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"medtrack/internal/util"
	"medtrack/pkg/domain"
	"medtrack/pkg/store"
)

// ListDrugs returns the patient-facing catalog: local rows that are either
// unlinked or linked to a verified master record.
func (a *App) ListDrugs() ([]domain.DrugLocal, error) {
	drugs, err := a.store.ListVisibleLocalDrugs()
	if err != nil {
		return nil, fmt.Errorf("list drugs: %w", err)
	}
	return drugs, nil
}

// GetDrug fetches one local drug, hiding rows linked to unverified masters.
func (a *App) GetDrug(id string) (domain.DrugLocal, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.DrugLocal{}, ErrDrugNotFound
	}
	drug, ok, err := a.store.GetLocalDrug(id)
	if err != nil {
		return domain.DrugLocal{}, fmt.Errorf("fetch drug: %w", err)
	}
	if !ok {
		return domain.DrugLocal{}, ErrDrugNotFound
	}
	if drug.MatchedDrugID != "" && drug.VerifiedStatus() != domain.StatusVerified {
		return domain.DrugLocal{}, ErrDrugNotFound
	}
	return drug, nil
}

// ListUnmatchedDrugs returns local rows awaiting reconciliation, oldest first.
func (a *App) ListUnmatchedDrugs(limit int) ([]domain.DrugLocal, error) {
	drugs, err := a.store.ListUnmatchedLocalDrugs(limit)
	if err != nil {
		return nil, fmt.Errorf("list unmatched drugs: %w", err)
	}
	return drugs, nil
}

// ImportDrugs applies an admin reconciliation batch atomically and records
// who approved each link.
func (a *App) ImportDrugs(admin domain.User, items []domain.DrugImportItem) ([]domain.DrugLocal, error) {
	if len(items) == 0 {
		return nil, ErrEmptyImportBatch
	}
	for i := range items {
		if strings.TrimSpace(items[i].LocalID) == "" {
			return nil, ErrImportItemInvalid
		}
		if items[i].Master.ID == "" {
			items[i].Master.ID = util.NewID()
		}
	}
	imported, err := a.store.ImportDrugs(items)
	if err != nil {
		if errors.Is(err, store.ErrLocalDrugNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrDrugNotFound, err)
		}
		return nil, fmt.Errorf("import drugs: %w", err)
	}
	verifiedBy := admin.Email
	if verifiedBy == "" {
		verifiedBy = admin.ID
	}
	now := a.now().UTC()
	for _, local := range imported {
		if local.MatchedDrugID == "" {
			continue
		}
		prov := domain.Provenance{
			ID:         util.NewID(),
			EntityType: "drug_master",
			EntityID:   local.MatchedDrugID,
			Source:     "manual_import",
			FetchedAt:  now,
			VerifiedBy: verifiedBy,
			Notes: map[string]any{
				"mohCode": local.MOHCode,
				"localId": local.ID,
			},
		}
		if err := a.store.AppendProvenance(prov); err != nil {
			return nil, fmt.Errorf("record import provenance: %w", err)
		}
	}
	return imported, nil
}

// ListProvenance returns the audit trail for an entity type, optionally
// narrowed to one entity.
func (a *App) ListProvenance(entityType, entityID string) ([]domain.Provenance, error) {
	entityType = strings.TrimSpace(entityType)
	if entityType == "" {
		entityType = "drug_master"
	}
	records, err := a.store.ListProvenanceByEntity(entityType, strings.TrimSpace(entityID))
	if err != nil {
		return nil, fmt.Errorf("list provenance: %w", err)
	}
	return records, nil
}

// EnqueueSync schedules a background reconciliation batch of up to limit
// unmatched local drugs.
func (a *App) EnqueueSync(ctx context.Context, limit int) (string, error) {
	if a.sync == nil {
		return "", fmt.Errorf("sync queue not configured")
	}
	if limit <= 0 {
		limit = 25
	}
	jobID, err := a.sync.Enqueue(ctx, limit)
	if err != nil {
		return "", fmt.Errorf("enqueue sync: %w", err)
	}
	return jobID, nil
}
