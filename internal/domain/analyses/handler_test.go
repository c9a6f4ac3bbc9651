package analyses

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/medvision/medvision/internal/platform/auth"
)

func withIdentity(req *http.Request, ident *auth.Identity) *http.Request {
	return req.WithContext(auth.WithIdentity(context.Background(), ident))
}

func diagnostician(id int64) *auth.Identity {
	return &auth.Identity{ID: id, Username: "diag", Role: auth.RoleDiagnostician}
}

func clinician(id int64) *auth.Identity {
	return &auth.Identity{ID: id, Username: "clin", Role: auth.RoleClinician}
}

func admin(id int64) *auth.Identity {
	return &auth.Identity{ID: id, Username: "root", Role: auth.RoleAdmin}
}

func multipartUpload(t *testing.T, mrn, fileName string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if mrn != "" {
		if err := w.WriteField("patient_mrn", mrn); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if fileName != "" {
		fw, err := w.CreateFormFile("file", fileName)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := fw.Write([]byte("image-bytes")); err != nil {
			t.Fatalf("write file: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &body, w.FormDataContentType()
}

func TestUploadHandler(t *testing.T) {
	w := newWorkflow()
	h := NewHandler(w.svc)
	e := echo.New()

	body, contentType := multipartUpload(t, "M100", "scan.png")
	req := httptest.NewRequest(http.MethodPost, "/analyses/upload", body)
	req.Header.Set(echo.HeaderContentType, contentType)
	req = withIdentity(req, diagnostician(1))
	rec := httptest.NewRecorder()

	if err := h.Upload(e.NewContext(req, rec)); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	var a Analysis
	if err := json.Unmarshal(rec.Body.Bytes(), &a); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if a.Result == nil || a.Result.SystemDiagnosis == "" {
		t.Error("expected annotated result in response")
	}
	if a.Patient == nil || a.Patient.MRN != "M100" {
		t.Error("expected composed patient in response")
	}
}

func TestUploadHandler_BadRequests(t *testing.T) {
	w := newWorkflow()
	h := NewHandler(w.svc)
	e := echo.New()

	tests := []struct {
		name     string
		mrn      string
		fileName string
		wantCode int
	}{
		{"missing mrn", "", "scan.png", http.StatusBadRequest},
		{"missing file", "M100", "", http.StatusBadRequest},
		{"bad extension", "M100", "notes.txt", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, contentType := multipartUpload(t, tt.mrn, tt.fileName)
			req := httptest.NewRequest(http.MethodPost, "/analyses/upload", body)
			req.Header.Set(echo.HeaderContentType, contentType)
			req = withIdentity(req, diagnostician(1))

			err := h.Upload(e.NewContext(req, httptest.NewRecorder()))
			httpErr, ok := err.(*echo.HTTPError)
			if !ok || httpErr.Code != tt.wantCode {
				t.Fatalf("expected %d, got %v", tt.wantCode, err)
			}
		})
	}
}

func TestUploadHandler_StorageFailure(t *testing.T) {
	w := newWorkflow()
	w.store.FailSave = true
	h := NewHandler(w.svc)
	e := echo.New()

	body, contentType := multipartUpload(t, "M100", "scan.png")
	req := httptest.NewRequest(http.MethodPost, "/analyses/upload", body)
	req.Header.Set(echo.HeaderContentType, contentType)
	req = withIdentity(req, diagnostician(1))

	err := h.Upload(e.NewContext(req, httptest.NewRecorder()))
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %v", err)
	}
}

func TestGetAnalysisHandler_Access(t *testing.T) {
	w := newWorkflow()
	h := NewHandler(w.svc)
	e := echo.New()
	a := w.upload(t, "M100") // owned by diagnostician 1

	tests := []struct {
		name     string
		ident    *auth.Identity
		wantCode int
	}{
		{"owner diagnostician", diagnostician(1), http.StatusOK},
		{"other diagnostician", diagnostician(2), http.StatusForbidden},
		{"clinician", clinician(3), http.StatusOK},
		{"admin", admin(4), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := withIdentity(httptest.NewRequest(http.MethodGet, "/analyses/1", nil), tt.ident)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)
			c.SetParamNames("id")
			c.SetParamValues(strconv.FormatInt(a.ID, 10))

			err := h.GetAnalysis(c)
			if tt.wantCode == http.StatusOK {
				if err != nil {
					t.Fatalf("expected success, got %v", err)
				}
				return
			}
			httpErr, ok := err.(*echo.HTTPError)
			if !ok || httpErr.Code != tt.wantCode {
				t.Fatalf("expected %d, got %v", tt.wantCode, err)
			}
		})
	}
}

func TestGetAnalysisHandler_NotFound(t *testing.T) {
	w := newWorkflow()
	h := NewHandler(w.svc)
	e := echo.New()

	req := withIdentity(httptest.NewRequest(http.MethodGet, "/analyses/999", nil), admin(1))
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("999")

	err := h.GetAnalysis(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}

func TestConfirmHandler(t *testing.T) {
	w := newWorkflow()
	h := NewHandler(w.svc)
	e := echo.New()
	a := w.upload(t, "M100")

	req := httptest.NewRequest(http.MethodPost, "/analyses/1/confirm",
		strings.NewReader(`{"conclusion":"pneumonia","is_correct":true}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = withIdentity(req, diagnostician(1))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(strconv.FormatInt(a.ID, 10))

	if err := h.Confirm(c); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	var got Analysis
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.Result.IsConfirmed || got.Result.FeedbackCorrect != FeedbackCorrect {
		t.Errorf("confirm not applied: %+v", got.Result)
	}
}

func TestConfirmHandler_Errors(t *testing.T) {
	w := newWorkflow()
	h := NewHandler(w.svc)
	e := echo.New()
	a := w.upload(t, "M100")

	tests := []struct {
		name     string
		id       string
		ident    *auth.Identity
		wantCode int
	}{
		{"not owner", strconv.FormatInt(a.ID, 10), diagnostician(2), http.StatusForbidden},
		{"missing analysis", "999", diagnostician(1), http.StatusNotFound},
		{"bad id", "abc", diagnostician(1), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/analyses/"+tt.id+"/confirm",
				strings.NewReader(`{"conclusion":"x","is_correct":false}`))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			req = withIdentity(req, tt.ident)
			c := e.NewContext(req, httptest.NewRecorder())
			c.SetParamNames("id")
			c.SetParamValues(tt.id)

			err := h.Confirm(c)
			httpErr, ok := err.(*echo.HTTPError)
			if !ok || httpErr.Code != tt.wantCode {
				t.Fatalf("expected %d, got %v", tt.wantCode, err)
			}
		})
	}
}

func TestPrescribeHandler(t *testing.T) {
	w := newWorkflow()
	h := NewHandler(w.svc)
	e := echo.New()
	a := w.upload(t, "M100")

	req := httptest.NewRequest(http.MethodPost, "/patients/analyses/1/prescribe",
		strings.NewReader(`{"treatment_plan":"rest and fluids"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = withIdentity(req, clinician(42))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(strconv.FormatInt(a.ID, 10))

	if err := h.Prescribe(c); err != nil {
		t.Fatalf("prescribe: %v", err)
	}
	var got Analysis
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Result.TreatmentPlan == nil || *got.Result.TreatmentPlan != "rest and fluids" {
		t.Error("treatment plan missing in response")
	}
	if got.ClinicianID == nil || *got.ClinicianID != 42 {
		t.Error("clinician id missing in response")
	}
}

func TestPatientHistoryHandler_NotFound(t *testing.T) {
	w := newWorkflow()
	h := NewHandler(w.svc)
	e := echo.New()

	req := withIdentity(httptest.NewRequest(http.MethodGet, "/patients/NOPE/history", nil), clinician(1))
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("mrn")
	c.SetParamValues("NOPE")

	err := h.PatientHistory(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}

func TestMetricsHandler(t *testing.T) {
	w := newWorkflow()
	h := NewHandler(w.svc)
	e := echo.New()

	a := w.upload(t, "M100")
	if _, err := w.svc.Confirm(context.Background(), a.ID, 1, "pneumonia", true); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	req := withIdentity(httptest.NewRequest(http.MethodGet, "/admin/model/feedback_metrics", nil), admin(9))
	rec := httptest.NewRecorder()
	if err := h.Metrics(e.NewContext(req, rec)); err != nil {
		t.Fatalf("metrics: %v", err)
	}

	var m Metrics
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.TotalConfirmed != 1 || m.CorrectPredictions != 1 || m.AccuracyPercentage != 100.0 {
		t.Errorf("unexpected metrics: %+v", m)
	}
}

// Route-level gate coverage: requests travel through RegisterRoutes with the
// RequireRole middleware attached, so denials are exercised end to end.
func TestRouteGates(t *testing.T) {
	w := newWorkflow()
	h := NewHandler(w.svc)
	w.upload(t, "M100") // analysis id 1, owned by diagnostician 1

	newServer := func(ident *auth.Identity) *echo.Echo {
		e := echo.New()
		authed := e.Group("", func(next echo.HandlerFunc) echo.HandlerFunc {
			return func(c echo.Context) error {
				c.SetRequest(c.Request().WithContext(auth.WithIdentity(c.Request().Context(), ident)))
				return next(c)
			}
		})
		h.RegisterRoutes(authed)
		return e
	}

	tests := []struct {
		name     string
		method   string
		target   string
		ident    *auth.Identity
		wantCode int
	}{
		{"clinician cannot upload", http.MethodPost, "/analyses/upload", clinician(3), http.StatusForbidden},
		{"admin cannot upload", http.MethodPost, "/analyses/upload", admin(4), http.StatusForbidden},
		{"clinician cannot view own history", http.MethodGet, "/analyses/my_history", clinician(3), http.StatusForbidden},
		{"admin may view own history", http.MethodGet, "/analyses/my_history", admin(4), http.StatusOK},
		{"clinician cannot confirm", http.MethodPost, "/analyses/1/confirm", clinician(3), http.StatusForbidden},
		{"diagnostician cannot prescribe", http.MethodPost, "/patients/analyses/1/prescribe", diagnostician(1), http.StatusForbidden},
		{"diagnostician cannot view patient history", http.MethodGet, "/patients/M100/history", diagnostician(1), http.StatusForbidden},
		{"clinician may view patient history", http.MethodGet, "/patients/M100/history", clinician(3), http.StatusOK},
		{"diagnostician cannot list all", http.MethodGet, "/admin/analyses/all", diagnostician(1), http.StatusForbidden},
		{"clinician cannot view metrics", http.MethodGet, "/admin/model/feedback_metrics", clinician(3), http.StatusForbidden},
		{"admin may list all", http.MethodGet, "/admin/analyses/all", admin(4), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newServer(tt.ident)
			var req *http.Request
			if tt.method == http.MethodPost && strings.Contains(tt.target, "confirm") {
				req = httptest.NewRequest(tt.method, tt.target, strings.NewReader(`{"conclusion":"x","is_correct":true}`))
				req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			} else if tt.method == http.MethodPost {
				req = httptest.NewRequest(tt.method, tt.target, strings.NewReader(`{"treatment_plan":"x"}`))
				req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			} else {
				req = httptest.NewRequest(tt.method, tt.target, nil)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			if rec.Code != tt.wantCode {
				t.Errorf("expected %d, got %d (body %s)", tt.wantCode, rec.Code, rec.Body.String())
			}
		})
	}
}
