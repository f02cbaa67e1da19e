package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"medtrack/internal/app"
	"medtrack/pkg/domain"
	"medtrack/pkg/store"
	"medtrack/pkg/token"
)

type stubEnqueuer struct{}

func (stubEnqueuer) Enqueue(context.Context, int) (string, error) { return "job-1", nil }

func newTestServer(t *testing.T) (*httptest.Server, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	issuer, err := token.NewIssuer("test-secret-test-secret", time.Hour)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	a, err := app.New(app.Config{
		Store:  mem,
		Tokens: issuer,
		Sync:   stubEnqueuer{},
		Debug:  true,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	ts := httptest.NewServer(New(Config{App: a}).Router())
	t.Cleanup(ts.Close)
	return ts, mem
}

func doJSON(t *testing.T, method, url, bearer string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var payload map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	return resp, payload
}

func loginPhone(t *testing.T, ts *httptest.Server, phone string) string {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/auth/login-phone", "", map[string]string{"phoneNumber": phone})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login-phone status = %d: %v", resp.StatusCode, body)
	}
	resp, body = doJSON(t, http.MethodPost, ts.URL+"/auth/verify-otp", "", map[string]string{
		"phoneNumber": phone,
		"requestId":   body["requestId"].(string),
		"code":        body["debugCode"].(string),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify-otp status = %d: %v", resp.StatusCode, body)
	}
	tok, _ := body["token"].(string)
	if tok == "" {
		t.Fatalf("missing token: %v", body)
	}
	return tok
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, body := doJSON(t, http.MethodGet, ts.URL+"/healthz", "", nil)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("healthz = %d %v", resp.StatusCode, body)
	}
}

func TestPhoneLoginFlow(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, challenge := doJSON(t, http.MethodPost, ts.URL+"/auth/login-phone", "", map[string]string{"phoneNumber": "96555500001"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login-phone = %d %v", resp.StatusCode, challenge)
	}
	requestID := challenge["requestId"].(string)
	code := challenge["debugCode"].(string)

	// Wrong code first; the challenge must survive for the real attempt.
	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/auth/verify-otp", "", map[string]string{
		"phoneNumber": "96555500001", "requestId": requestID, "code": wrong,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("wrong code = %d, want 400", resp.StatusCode)
	}

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/auth/verify-otp", "", map[string]string{
		"phoneNumber": "96555500001", "requestId": requestID, "code": code,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify = %d %v", resp.StatusCode, body)
	}
	bearer := body["token"].(string)

	resp, me := doJSON(t, http.MethodGet, ts.URL+"/me", bearer, nil)
	if resp.StatusCode != http.StatusOK || me["phoneNumber"] != "96555500001" {
		t.Fatalf("/me = %d %v", resp.StatusCode, me)
	}

	// Replaying a consumed code conflicts.
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/auth/verify-otp", "", map[string]string{
		"phoneNumber": "96555500001", "requestId": requestID, "code": code,
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("replay = %d, want 409", resp.StatusCode)
	}
}

func TestVerifyOTPUnknownPhone(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/auth/verify-otp", "", map[string]string{
		"phoneNumber": "96555500099", "requestId": "whatever", "code": "123456",
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown phone = %d, want 404", resp.StatusCode)
	}
}

func TestEmailRegisterAndLogin(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/auth/register", "", map[string]string{
		"email": "doc@example.com", "password": "s3cret-pass",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register = %d %v", resp.StatusCode, body)
	}
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/auth/register", "", map[string]string{
		"email": "doc@example.com", "password": "other",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate register = %d, want 409", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/auth/login-email", "", map[string]string{
		"email": "doc@example.com", "password": "wrong",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad login = %d, want 401", resp.StatusCode)
	}
	resp, body = doJSON(t, http.MethodPost, ts.URL+"/auth/login-email", "", map[string]string{
		"email": "doc@example.com", "password": "s3cret-pass",
	})
	if resp.StatusCode != http.StatusOK || body["token"] == "" {
		t.Fatalf("login = %d %v", resp.StatusCode, body)
	}
}

func TestPatientAndScheduleIsolation(t *testing.T) {
	ts, mem := newTestServer(t)
	aliceToken := loginPhone(t, ts, "96555500001")
	bobToken := loginPhone(t, ts, "96555500002")

	if err := mem.SaveLocalDrug(domain.DrugLocal{ID: "l1", MOHCode: "KW-001", TradeNameAR: "بنادول", ExtractedAt: time.Now()}); err != nil {
		t.Fatalf("SaveLocalDrug: %v", err)
	}

	resp, patient := doJSON(t, http.MethodPost, ts.URL+"/patients", aliceToken, map[string]string{"fullName": "Sara Ali"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create patient = %d %v", resp.StatusCode, patient)
	}
	patientID := patient["id"].(string)

	resp, schedule := doJSON(t, http.MethodPost, fmt.Sprintf("%s/patients/%s/schedules", ts.URL, patientID), aliceToken, map[string]string{
		"drugId": "l1", "dosage": "500 mg", "frequency": "bid",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create schedule = %d %v", resp.StatusCode, schedule)
	}
	scheduleID := schedule["id"].(string)

	// Bob cannot touch any of it: existing records owned by Alice are
	// forbidden, while ids that do not exist stay 404.
	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/patients/"+patientID, bobToken, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("bob patient fetch = %d, want 403", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodGet, fmt.Sprintf("%s/patients/%s/schedules", ts.URL, patientID), bobToken, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("bob schedule list = %d, want 403", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodPost, fmt.Sprintf("%s/schedules/%s/log", ts.URL, scheduleID), bobToken, map[string]any{})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("bob dose log = %d, want 403", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/patients/no-such-patient", bobToken, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown patient = %d, want 404", resp.StatusCode)
	}

	resp, log := doJSON(t, http.MethodPost, fmt.Sprintf("%s/schedules/%s/log", ts.URL, scheduleID), aliceToken, map[string]string{"notes": "with food"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("alice dose log = %d %v", resp.StatusCode, log)
	}
	if log["taken"] != true {
		t.Fatalf("taken default missing: %v", log)
	}

	resp, list := doJSON(t, http.MethodGet, fmt.Sprintf("%s/patients/%s/schedules", ts.URL, patientID), aliceToken, nil)
	if resp.StatusCode != http.StatusOK || list["count"].(float64) != 1 {
		t.Fatalf("alice schedule list = %d %v", resp.StatusCode, list)
	}
}

func TestDrugVisibilityOverHTTP(t *testing.T) {
	ts, mem := newTestServer(t)
	bearer := loginPhone(t, ts, "96555500001")

	if err := mem.SaveDrugMaster(domain.DrugMaster{ID: "m1", RxCUI: "111", VerifiedStatus: domain.StatusUnverified}); err != nil {
		t.Fatalf("SaveDrugMaster: %v", err)
	}
	if err := mem.SaveDrugMaster(domain.DrugMaster{ID: "m2", RxCUI: "222", TradeNameEN: "Panadol", VerifiedStatus: domain.StatusVerified}); err != nil {
		t.Fatalf("SaveDrugMaster: %v", err)
	}
	now := time.Now()
	for _, d := range []domain.DrugLocal{
		{ID: "l-open", MOHCode: "KW-1", ExtractedAt: now},
		{ID: "l-hidden", MOHCode: "KW-2", MatchedDrugID: "m1", ExtractedAt: now},
		{ID: "l-verified", MOHCode: "KW-3", MatchedDrugID: "m2", ExtractedAt: now},
	} {
		if err := mem.SaveLocalDrug(d); err != nil {
			t.Fatalf("SaveLocalDrug: %v", err)
		}
	}

	resp, list := doJSON(t, http.MethodGet, ts.URL+"/drugs", bearer, nil)
	if resp.StatusCode != http.StatusOK || list["count"].(float64) != 2 {
		t.Fatalf("/drugs = %d %v", resp.StatusCode, list)
	}
	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/drugs/l-hidden", bearer, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("hidden drug = %d, want 404", resp.StatusCode)
	}

	// The derived projection rides along on every local drug payload.
	resp, open := doJSON(t, http.MethodGet, ts.URL+"/drugs/l-open", bearer, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("open drug = %d, want 200", resp.StatusCode)
	}
	if open["verifiedStatus"] != domain.StatusUnverified {
		t.Fatalf("unlinked verifiedStatus = %v, want %q", open["verifiedStatus"], domain.StatusUnverified)
	}
	resp, verified := doJSON(t, http.MethodGet, ts.URL+"/drugs/l-verified", bearer, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verified drug = %d, want 200", resp.StatusCode)
	}
	if verified["verifiedStatus"] != domain.StatusVerified {
		t.Fatalf("verified verifiedStatus = %v", verified["verifiedStatus"])
	}
	if verified["tradeNameDisplay"] != "Panadol" {
		t.Fatalf("tradeNameDisplay = %v, want master fallback", verified["tradeNameDisplay"])
	}
}

func TestAdminEndpoints(t *testing.T) {
	ts, mem := newTestServer(t)
	userToken := loginPhone(t, ts, "96555500001")
	adminToken := loginPhone(t, ts, "96555500002")

	admin, _, _ := mem.GetUserByPhone("96555500002")
	admin.IsSuperuser = true
	if err := mem.SaveUser(admin); err != nil {
		t.Fatalf("SaveUser: %v", err)
	}
	// Token claims are read at verify time, so re-login after promotion.
	adminToken = loginPhone(t, ts, "96555500002")

	if err := mem.SaveLocalDrug(domain.DrugLocal{ID: "l1", MOHCode: "KW-001", ExtractedAt: time.Now()}); err != nil {
		t.Fatalf("SaveLocalDrug: %v", err)
	}

	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/admin/drugs/unmatched", userToken, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-admin = %d, want 403", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/admin/drugs/unmatched", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous = %d, want 401", resp.StatusCode)
	}

	resp, list := doJSON(t, http.MethodGet, ts.URL+"/admin/drugs/unmatched", adminToken, nil)
	if resp.StatusCode != http.StatusOK || list["count"].(float64) != 1 {
		t.Fatalf("unmatched = %d %v", resp.StatusCode, list)
	}

	resp, imported := doJSON(t, http.MethodPost, ts.URL+"/admin/drugs/import", adminToken, map[string]any{
		"items": []map[string]any{
			{"localId": "l1", "master": map[string]any{"rxCui": "161", "tradeNameEn": "Panadol"}},
		},
	})
	if resp.StatusCode != http.StatusOK || imported["count"].(float64) != 1 {
		t.Fatalf("import = %d %v", resp.StatusCode, imported)
	}

	resp, prov := doJSON(t, http.MethodGet, ts.URL+"/admin/provenance?entityType=drug_master", adminToken, nil)
	if resp.StatusCode != http.StatusOK || prov["count"].(float64) != 1 {
		t.Fatalf("provenance = %d %v", resp.StatusCode, prov)
	}

	resp, job := doJSON(t, http.MethodPost, ts.URL+"/admin/sync", adminToken, map[string]int{"limit": 10})
	if resp.StatusCode != http.StatusAccepted || job["jobId"] != "job-1" {
		t.Fatalf("sync = %d %v", resp.StatusCode, job)
	}
}
