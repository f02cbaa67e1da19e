package recon

import (
	"context"
	"fmt"
	"log/slog"

	"medtrack/internal/sources"
	"medtrack/internal/util"
	"medtrack/pkg/domain"
	"medtrack/pkg/store"
)

// RxNormAPI is the RxNorm surface the job needs.
type RxNormAPI interface {
	FindRxCUIByString(ctx context.Context, name string) (sources.RxCUILookup, error)
	GetConceptProperties(ctx context.Context, rxcui string) (sources.ConceptProperties, error)
	NormalizeProperties(ctx context.Context, props sources.ConceptProperties) domain.DrugMaster
	NewProvenance(entityType string, props sources.ConceptProperties) domain.Provenance
}

// DailyMedAPI is the DailyMed surface the job needs.
type DailyMedAPI interface {
	SafeGetSPL(ctx context.Context, drugName string) *sources.SPLResponse
	NewProvenance(entityType string, res sources.SPLResponse) domain.Provenance
}

// OpenFDAAPI is the openFDA surface the job needs.
type OpenFDAAPI interface {
	SafeLabelLookup(ctx context.Context, drugName string) *domain.Provenance
	SafeEnforcementLookup(ctx context.Context, drugName string) *domain.Provenance
	SafeNDCLookup(ctx context.Context, drugName string) *domain.Provenance
}

// Job reconciles unmatched Kuwait catalog rows against the public registries.
// RxNorm drives the match; DailyMed and openFDA contribute provenance only,
// and their failures never block a match.
type Job struct {
	store    store.Store
	rxnorm   RxNormAPI
	dailymed DailyMedAPI
	openfda  OpenFDAAPI
}

func NewJob(st store.Store, rxnorm RxNormAPI, dailymed DailyMedAPI, openfda OpenFDAAPI) *Job {
	return &Job{store: st, rxnorm: rxnorm, dailymed: dailymed, openfda: openfda}
}

// Run processes up to limit unmatched local drugs, oldest extraction first,
// and returns how many were linked.
func (j *Job) Run(ctx context.Context, limit int) (int, error) {
	locals, err := j.store.ListUnmatchedLocalDrugs(limit)
	if err != nil {
		return 0, fmt.Errorf("list unmatched drugs: %w", err)
	}
	if len(locals) == 0 {
		slog.Info("no unmatched drugs to sync")
		return 0, nil
	}

	synced := 0
	for _, local := range locals {
		select {
		case <-ctx.Done():
			return synced, ctx.Err()
		default:
		}
		if j.reconcileOne(ctx, local) {
			synced++
		}
	}
	slog.Info("catalog sync batch finished", "candidates", len(locals), "synced", synced)
	return synced, nil
}

func (j *Job) reconcileOne(ctx context.Context, local domain.DrugLocal) bool {
	candidate := local.TradeNameAR
	if candidate == "" {
		candidate = local.GenericName
	}
	if candidate == "" {
		return false
	}

	lookup, err := j.rxnorm.FindRxCUIByString(ctx, candidate)
	if err != nil {
		slog.Warn("rxnorm lookup failed", "drug", candidate, "error", err)
		return false
	}
	rxcui := sources.ExtractFirstRxCUI(lookup)
	if rxcui == "" {
		return false
	}
	props, err := j.rxnorm.GetConceptProperties(ctx, rxcui)
	if err != nil {
		slog.Warn("rxnorm properties lookup failed", "rxcui", rxcui, "error", err)
		return false
	}

	draft := j.rxnorm.NormalizeProperties(ctx, props)
	draft.ID = util.NewID()
	master, err := j.store.MergeDrugMaster(draft)
	if err != nil {
		slog.Error("merge master record failed", "rxcui", rxcui, "error", err)
		return false
	}
	if err := j.store.LinkLocalDrug(local.ID, master.ID, nil); err != nil {
		slog.Error("link local drug failed", "localId", local.ID, "masterId", master.ID, "error", err)
		return false
	}

	enrichName := master.TradeNameEN
	if enrichName == "" {
		enrichName = candidate
	}
	entries := []domain.Provenance{j.rxnorm.NewProvenance("drug_master", props)}
	if spl := j.dailymed.SafeGetSPL(ctx, enrichName); spl != nil {
		entries = append(entries, j.dailymed.NewProvenance("drug_master", *spl))
	}
	for _, prov := range []*domain.Provenance{
		j.openfda.SafeLabelLookup(ctx, enrichName),
		j.openfda.SafeEnforcementLookup(ctx, enrichName),
		j.openfda.SafeNDCLookup(ctx, enrichName),
	} {
		if prov != nil {
			entries = append(entries, *prov)
		}
	}
	for _, prov := range entries {
		prov.ID = util.NewID()
		prov.EntityID = master.ID
		if err := j.store.AppendProvenance(prov); err != nil {
			slog.Error("append provenance failed", "masterId", master.ID, "source", prov.Source, "error", err)
		}
	}
	return true
}
