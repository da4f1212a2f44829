package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/medvault/phr-access/internal/access"
	"github.com/medvault/phr-access/internal/authz"
	"github.com/medvault/phr-access/internal/eventlog"
	"github.com/medvault/phr-access/internal/records"
	"github.com/medvault/phr-access/internal/registry"
	"github.com/medvault/phr-access/internal/rolereq"
	"github.com/medvault/phr-access/pkg/types"
)

const testSecret = "0123456789abcdef0123456789abcdef"

var (
	admin   = types.Principal("0xadadadadadadadadadadadadadadadadadadadad")
	patient = types.Principal("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	doctor  = types.Principal("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
)

// MockContentStore is a mock implementation of interfaces.ContentStore.
type MockContentStore struct {
	mock.Mock
}

func (m *MockContentStore) Put(ctx context.Context, content io.Reader) (string, error) {
	args := m.Called(ctx, content)
	return args.String(0), args.Error(1)
}

func (m *MockContentStore) Get(ctx context.Context, ref string) (io.ReadCloser, error) {
	args := m.Called(ctx, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

func newTestServer(t *testing.T) (*httptest.Server, *MockContentStore) {
	t.Helper()
	ctx := context.Background()

	reg := registry.New(nil, nil)
	require.NoError(t, reg.SetRole(ctx, admin, types.RoleAdmin))
	require.NoError(t, reg.SetRole(ctx, patient, types.RolePatient))
	require.NoError(t, reg.SetRole(ctx, doctor, types.RoleDoctor))

	store := records.New(nil, nil)
	wf := rolereq.New(reg, eventlog.NewMemory(), nil, nil)
	engine := authz.NewEngine(reg, store, authz.Policy{
		CreatorRoles: []types.Role{types.RolePatient, types.RoleDoctor},
		GranteeRoles: []types.Role{types.RolePatient, types.RoleDoctor, types.RoleResearcher},
	})
	content := new(MockContentStore)
	svc := access.New(reg, wf, store, engine, content, nil, nil)

	router := mux.NewRouter()
	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(NewAuthMiddleware(testSecret, nil).Handler)
	NewHandlers(svc, nil).RegisterRoutes(api)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server, content
}

func doRequest(t *testing.T, server *httptest.Server, as types.Principal, method, path string, body interface{}) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, server.URL+"/api/v1"+path, &buf)
	require.NoError(t, err)

	if as != "" {
		token, err := IssueToken(testSecret, "phr-access", as, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	body := decodeBody(t, resp)
	errObj, ok := body["error"].(map[string]interface{})
	require.True(t, ok, "response has no error object: %v", body)
	code, _ := errObj["code"].(string)
	return code
}

func TestAuthentication(t *testing.T) {
	server, _ := newTestServer(t)

	t.Run("missing token is unauthorized", func(t *testing.T) {
		resp := doRequest(t, server, "", http.MethodGet, "/records/mine", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "MISSING_TOKEN", errorCode(t, resp))
	})

	t.Run("garbage token is unauthorized", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, server.URL+"/api/v1/records/mine", nil)
		req.Header.Set("Authorization", "Bearer not-a-token")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("principal in the token is normalized", func(t *testing.T) {
		// Token carries an uppercase principal; the service still matches
		// it to the lowercase registration.
		upper := types.Principal("0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
		token, err := IssueToken(testSecret, "phr-access", upper, time.Hour)
		require.NoError(t, err)

		req, _ := http.NewRequest(http.MethodGet, server.URL+"/api/v1/roles/"+patient.String(), nil)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestRecordEndpoints(t *testing.T) {
	server, _ := newTestServer(t)

	var recordID float64

	t.Run("create record", func(t *testing.T) {
		resp := doRequest(t, server, patient, http.MethodPost, "/records", createRecordRequest{
			ContentRef: "QmHash",
			Category:   "lab_report",
			Tags:       []string{"blood"},
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		body := decodeBody(t, resp)
		recordID = body["id"].(float64)
		assert.Equal(t, float64(1), recordID)
	})

	path := func(suffix string) string {
		return fmt.Sprintf("/records/%d%s", int(recordID), suffix)
	}

	t.Run("owner reads the record", func(t *testing.T) {
		resp := doRequest(t, server, patient, http.MethodGet, path(""), nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body := decodeBody(t, resp)
		assert.Equal(t, patient.String(), body["owner"])
		assert.Equal(t, "lab_report", body["category"])
	})

	t.Run("stranger gets forbidden", func(t *testing.T) {
		resp := doRequest(t, server, doctor, http.MethodGet, path(""), nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		assert.Equal(t, "NOT_OWNER", errorCode(t, resp))
	})

	t.Run("grant then the grantee reads", func(t *testing.T) {
		resp := doRequest(t, server, patient, http.MethodPost, path("/grants"),
			grantRequest{Grantee: doctor.String()})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()

		resp = doRequest(t, server, doctor, http.MethodGet, path(""), nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("grant list is owner only", func(t *testing.T) {
		resp := doRequest(t, server, patient, http.MethodGet, path("/grants"), nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body := decodeBody(t, resp)
		grantees := body["grantees"].([]interface{})
		assert.Equal(t, []interface{}{doctor.String()}, grantees)

		resp = doRequest(t, server, doctor, http.MethodGet, path("/grants"), nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("revoke via path parameter", func(t *testing.T) {
		resp := doRequest(t, server, patient, http.MethodDelete, path("/grants/"+doctor.String()), nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()

		resp = doRequest(t, server, doctor, http.MethodGet, path(""), nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("unknown record is not found", func(t *testing.T) {
		resp := doRequest(t, server, patient, http.MethodGet, "/records/999", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "NO_SUCH_RECORD", errorCode(t, resp))
	})

	t.Run("bad category is a validation error", func(t *testing.T) {
		resp := doRequest(t, server, patient, http.MethodPost, "/records", createRecordRequest{
			ContentRef: "QmHash",
			Category:   "nonsense",
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "INVALID_CATEGORY", errorCode(t, resp))
	})
}

func TestEmergencyEndpoints(t *testing.T) {
	server, _ := newTestServer(t)

	resp := doRequest(t, server, patient, http.MethodPost, "/records", createRecordRequest{
		ContentRef: "QmHash", Category: "general",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	t.Run("grant emergency access", func(t *testing.T) {
		resp := doRequest(t, server, patient, http.MethodPost, "/records/1/emergency",
			emergencyRequest{Contact: doctor.String(), DurationHours: 24})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("details show the active grant", func(t *testing.T) {
		resp := doRequest(t, server, patient, http.MethodGet, "/records/1/emergency", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body := decodeBody(t, resp)
		grants, ok := body["grants"].([]interface{})
		require.True(t, ok)
		require.Len(t, grants, 1)
		grant, ok := grants[0].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, doctor.String(), grant["contact"])
	})

	t.Run("zero duration is rejected", func(t *testing.T) {
		resp := doRequest(t, server, patient, http.MethodPost, "/records/1/emergency",
			emergencyRequest{Contact: doctor.String(), DurationHours: 0})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "INVALID_DURATION", errorCode(t, resp))
	})

	t.Run("revoke emergency access", func(t *testing.T) {
		resp := doRequest(t, server, patient, http.MethodDelete, "/records/1/emergency/"+doctor.String(), nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()

		resp = doRequest(t, server, patient, http.MethodGet, "/records/1/emergency", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body := decodeBody(t, resp)
		assert.Empty(t, body["grants"])
	})
}

func TestRoleEndpoints(t *testing.T) {
	server, _ := newTestServer(t)
	newcomer := types.Principal("0xffffffffffffffffffffffffffffffffffffffff")

	t.Run("request a role", func(t *testing.T) {
		resp := doRequest(t, server, newcomer, http.MethodPost, "/roles/requests",
			roleRequest{Role: "patient"})
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("admin lists pending requests", func(t *testing.T) {
		resp := doRequest(t, server, admin, http.MethodGet, "/roles/requests/pending", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body := decodeBody(t, resp)
		requests := body["requests"].([]interface{})
		require.Len(t, requests, 1)
	})

	t.Run("non-admin cannot list", func(t *testing.T) {
		resp := doRequest(t, server, doctor, http.MethodGet, "/roles/requests/pending", nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("admin approves and the role is live", func(t *testing.T) {
		resp := doRequest(t, server, admin, http.MethodPost,
			"/roles/requests/"+newcomer.String()+"/resolve", resolveRequest{Approve: true})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()

		resp = doRequest(t, server, newcomer, http.MethodGet, "/roles/"+newcomer.String(), nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body := decodeBody(t, resp)
		assert.Equal(t, "patient", body["role"])
	})

	t.Run("admin sets a role directly", func(t *testing.T) {
		resp := doRequest(t, server, admin, http.MethodPut, "/roles/"+newcomer.String(),
			roleRequest{Role: "researcher"})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("non-admin cannot set roles", func(t *testing.T) {
		resp := doRequest(t, server, doctor, http.MethodPut, "/roles/"+newcomer.String(),
			roleRequest{Role: "admin"})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		assert.Equal(t, "INSUFFICIENT_ROLE", errorCode(t, resp))
	})
}

func TestContentEndpointErrorMapping(t *testing.T) {
	server, content := newTestServer(t)

	resp := doRequest(t, server, patient, http.MethodPost, "/records", createRecordRequest{
		ContentRef: "QmHash", Category: "general",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	t.Run("content store failure maps to bad gateway", func(t *testing.T) {
		content.On("Get", mock.Anything, "QmHash").Return(nil, assert.AnError)

		resp := doRequest(t, server, patient, http.MethodGet, "/records/1/content", nil)
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
		assert.Equal(t, "STORAGE_UNAVAILABLE", errorCode(t, resp))
	})
}

func TestProfileEndpoints(t *testing.T) {
	server, _ := newTestServer(t)

	resp := doRequest(t, server, doctor, http.MethodPut, "/profile", profileRequest{
		Name: "Dr. Bob", Specialization: "Radiology", Institution: "City Clinic",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doRequest(t, server, patient, http.MethodGet, "/profiles/"+doctor.String(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "Dr. Bob", body["name"])

	resp = doRequest(t, server, patient, http.MethodGet, "/profiles/"+patient.String(), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}
