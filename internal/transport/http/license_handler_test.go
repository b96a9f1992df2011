package http

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apierrors "staffsched/internal/errors"
	"staffsched/internal/exporter"
	"staffsched/internal/license"
	"staffsched/internal/services"
)

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func multipartUpload(t *testing.T, parts map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, content := range parts {
		fw, err := mw.CreateFormFile(name, name+".dat")
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func validActivation() *services.ActivationResponse {
	return &services.ActivationResponse{
		Success: true,
		Message: "License valid",
		Verdict: &license.Verdict{
			Status: license.VerdictValid, Message: "License valid",
			StartDate: "01-01-2024", EndDate: "31-12-2024", Region: license.DefaultRegion,
		},
		Record:    &license.Record{ID: 1, Status: license.StatusValid, Region: license.DefaultRegion},
		Persisted: true,
		TraceID:   "trace-1",
	}
}

func TestActivateMultipart(t *testing.T) {
	svc := &MockLicenseService{}
	svc.On("Activate", mock.Anything, []byte("PUBKEY"), []byte("LICENSE")).Return(validActivation(), nil)
	router, _ := newTestRouter(t, svc)

	body, contentType := multipartUpload(t, map[string]string{"public_key": "PUBKEY", "license": "LICENSE"})
	req := httptest.NewRequest(http.MethodPost, "/api/license/activate", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decodeBody(t, rec)
	assert.Equal(t, true, got["success"])
	assert.Equal(t, true, got["persisted"])
	assert.Equal(t, "valid", got["verdict"].(map[string]interface{})["status"])
	svc.AssertExpectations(t)
}

func TestActivateMultipartWithoutKeyUsesConfigured(t *testing.T) {
	svc := &MockLicenseService{}
	svc.On("Activate", mock.Anything, []byte(nil), []byte("LICENSE")).Return(validActivation(), nil)
	router, _ := newTestRouter(t, svc)

	body, contentType := multipartUpload(t, map[string]string{"license": "LICENSE"})
	req := httptest.NewRequest(http.MethodPost, "/api/license/activate", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	svc.AssertExpectations(t)
}

func TestActivateJSON(t *testing.T) {
	svc := &MockLicenseService{}
	svc.On("Activate", mock.Anything, []byte("PUBKEY"), []byte("LICENSE")).Return(validActivation(), nil)
	router, _ := newTestRouter(t, svc)

	payload, _ := json.Marshal(ActivationRequest{
		PublicKey: base64.StdEncoding.EncodeToString([]byte("PUBKEY")),
		License:   base64.StdEncoding.EncodeToString([]byte("LICENSE")),
	})
	req := httptest.NewRequest(http.MethodPost, "/api/license/activate", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	svc.AssertExpectations(t)
}

func TestActivateRejectedVerdict(t *testing.T) {
	svc := &MockLicenseService{}
	svc.On("Activate", mock.Anything, mock.Anything, mock.Anything).Return(&services.ActivationResponse{
		Success: false,
		Message: "License expired on 31-12-2023",
		Verdict: &license.Verdict{
			Status: license.VerdictExpired, Message: "License expired on 31-12-2023",
			StartDate: "01-01-2023", EndDate: "31-12-2023",
		},
	}, nil)
	router, _ := newTestRouter(t, svc)

	body, contentType := multipartUpload(t, map[string]string{"public_key": "K", "license": "L"})
	req := httptest.NewRequest(http.MethodPost, "/api/license/activate", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	got := decodeBody(t, rec)
	assert.Equal(t, apierrors.CodeLicenseRejected, got["code"])
	assert.Equal(t, "License expired on 31-12-2023", got["detail"])
	assert.NotEmpty(t, got["trace_id"])
}

func TestActivateErrors(t *testing.T) {
	tests := []struct {
		name       string
		serviceErr error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "verifier crashed",
			serviceErr: &license.VerifierExecutionError{ExitCode: 2, Stderr: "BEGIN PUBLIC KEY leaked"},
			wantStatus: http.StatusBadGateway,
			wantCode:   apierrors.CodeVerifierExecutionFailed,
		},
		{
			name:       "verifier printed garbage",
			serviceErr: &license.VerifierOutputError{Output: "Traceback"},
			wantStatus: http.StatusBadGateway,
			wantCode:   apierrors.CodeVerifierOutputInvalid,
		},
		{
			name:       "missing key",
			serviceErr: &license.ValidationError{Field: "public_key", Message: "public key is required"},
			wantStatus: http.StatusBadRequest,
			wantCode:   apierrors.CodeValidationFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockLicenseService{}
			svc.On("Activate", mock.Anything, mock.Anything, mock.Anything).Return(nil, tt.serviceErr)
			router, _ := newTestRouter(t, svc)

			body, contentType := multipartUpload(t, map[string]string{"public_key": "K", "license": "L"})
			req := httptest.NewRequest(http.MethodPost, "/api/license/activate", body)
			req.Header.Set("Content-Type", contentType)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCode, decodeBody(t, rec)["code"])
			assert.NotContains(t, rec.Body.String(), "BEGIN PUBLIC KEY")
			assert.NotContains(t, rec.Body.String(), "Traceback")
		})
	}
}

func TestActivateBadUploads(t *testing.T) {
	tests := []struct {
		name        string
		body        io.Reader
		contentType string
		wantStatus  int
	}{
		{"no content type", strings.NewReader("x"), "", http.StatusBadRequest},
		{"plain text", strings.NewReader("x"), "text/plain", http.StatusBadRequest},
		{"json not base64", strings.NewReader(`{"public_key":"!!","license":"TA=="}`), "application/json", http.StatusBadRequest},
		{"json without license", strings.NewReader(`{"public_key":"TA=="}`), "application/json", http.StatusBadRequest},
		{"malformed json", strings.NewReader(`{"public_key":`), "application/json", http.StatusBadRequest},
		{"oversized", strings.NewReader(`{"license":"` + strings.Repeat("A", 4096) + `"}`), "application/json", http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockLicenseService{}
			router, _ := newTestRouter(t, svc, WithMaxUploadBytes(1024))

			req := httptest.NewRequest(http.MethodPost, "/api/license/activate", tt.body)
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			svc.AssertNotCalled(t, "Activate", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestGetStatus(t *testing.T) {
	svc := &MockLicenseService{}
	svc.On("GetStatus", mock.Anything).Return(&services.LicenseStatusResponse{
		Status:  "none",
		Message: "No active license",
	})
	router, _ := newTestRouter(t, svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/license/status", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody(t, rec)
	assert.Equal(t, false, got["active"])
	assert.Equal(t, "none", got["license_status"])
}

func TestListRecords(t *testing.T) {
	svc := &MockLicenseService{}
	svc.On("ListRecords", mock.Anything).Return([]license.Record{{ID: 1}, {ID: 2}}, nil).Once()
	svc.On("ListRecords", mock.Anything).Return(nil, &license.PersistenceError{Op: "list", Err: errors.New("disk I/O error")}).Once()
	router, _ := newTestRouter(t, svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/license", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decodeBody(t, rec)["count"])

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/license", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, apierrors.CodePersistenceFailed, decodeBody(t, rec)["code"])
}

func TestCreateRecord(t *testing.T) {
	in := license.CreateRecordInput{StartDate: "01-01-2024", EndDate: "31-12-2024", Region: "Asia/Kolkata"}
	svc := &MockLicenseService{}
	svc.On("CreateRecord", mock.Anything, in).Return(&license.Record{ID: 9, Status: license.StatusValid}, nil)
	router, _ := newTestRouter(t, svc)

	payload, _ := json.Marshal(in)
	req := httptest.NewRequest(http.MethodPost, "/api/license", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, float64(9), decodeBody(t, rec)["id"])
	svc.AssertExpectations(t)
}

func TestCreateRecordValidation(t *testing.T) {
	svc := &MockLicenseService{}
	router, _ := newTestRouter(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/api/license",
		strings.NewReader(`{"start_date":"2024-01-01","end_date":"31-12-2024","status":"revoked"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	got := decodeBody(t, rec)
	assert.Equal(t, apierrors.CodeValidationFailed, got["code"])
	assert.Len(t, got["details"], 2)
	svc.AssertNotCalled(t, "CreateRecord", mock.Anything, mock.Anything)
}

func TestCreateRecordEngineValidation(t *testing.T) {
	svc := &MockLicenseService{}
	svc.On("CreateRecord", mock.Anything, mock.Anything).
		Return(nil, &license.ValidationError{Field: "end_date", Message: "end date is before start date"})
	router, _ := newTestRouter(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/api/license",
		strings.NewReader(`{"start_date":"31-12-2024","end_date":"01-01-2024"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "end_date", decodeBody(t, rec)["field"])
}

func TestDeleteRecords(t *testing.T) {
	svc := &MockLicenseService{}
	svc.On("DeleteRecords", mock.Anything, []int64{1, 2}).Return(int64(1), nil)
	router, _ := newTestRouter(t, svc)

	req := httptest.NewRequest(http.MethodDelete, "/api/license", strings.NewReader(`{"ids":[1,2]}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["deleted"])

	for _, body := range []string{`{"ids":[]}`, `{}`, `{"ids":[0]}`} {
		req := httptest.NewRequest(http.MethodDelete, "/api/license", strings.NewReader(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	svc.AssertNumberOfCalls(t, "DeleteRecords", 1)
}

func TestExport(t *testing.T) {
	clock := quartz.NewMock(t)
	clock.Set(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)).MustWait(context.Background())

	svc := &MockLicenseService{}
	svc.On("Export", mock.Anything, mock.Anything, exporter.FormatCSV).
		Run(func(args mock.Arguments) {
			_, _ = args.Get(1).(io.Writer).Write([]byte("id,start_date\n1,01-01-2024\n"))
		}).Return(nil)
	router, _ := newTestRouter(t, svc, WithHandlerClock(clock))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/license/export", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, exporter.FormatCSV.ContentType(), rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "licenses-20240601.csv")
	assert.Equal(t, "id,start_date\n1,01-01-2024\n", rec.Body.String())
}

func TestExportErrors(t *testing.T) {
	svc := &MockLicenseService{}
	svc.On("Export", mock.Anything, mock.Anything, exporter.FormatXLSX).
		Return(&license.PersistenceError{Op: "list", Err: errors.New("locked")})
	router, _ := newTestRouter(t, svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/license/export?format=pdf", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/license/export?format=xlsx", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, rec.Header().Get("Content-Disposition"))
}

func TestMachineID(t *testing.T) {
	svc := &MockLicenseService{}
	svc.On("MachineID", mock.Anything).Return(&services.MachineIDResponse{MachineID: "abc123"})
	router, _ := newTestRouter(t, svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/machine-id", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc123", decodeBody(t, rec)["machine_id"])
}
