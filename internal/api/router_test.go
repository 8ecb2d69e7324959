package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"compliance-core/internal/audit"
	"compliance-core/internal/auth"
	"compliance-core/internal/deletion"
	"compliance-core/internal/export"
	"compliance-core/internal/models"
	"compliance-core/internal/retention"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testAPI struct {
	router    *gin.Engine
	jwt       *auth.JWTService
	auditRepo *audit.MemoryRepository
	retention *retention.Service
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	auditRepo := audit.NewMemoryRepository()
	auditService := audit.NewService(auditRepo)

	registry := deletion.NewRegistry()
	for _, cfg := range deletion.DefaultPolicies() {
		require.NoError(t, registry.Register(cfg))
	}
	orchestrator := deletion.NewOrchestrator(registry, deletion.NewMemoryRepository(), auditService)
	retentionService := retention.NewService(auditService, auditRepo, retention.NewMemoryStorage())

	api := &testAPI{
		router:    gin.New(),
		jwt:       auth.NewJWTService("api-test-secret", "compliance-core", time.Hour),
		auditRepo: auditRepo,
		retention: retentionService,
	}
	SetupRoutes(api.router, &RouterConfig{
		JWT:              api.jwt,
		AuditService:     auditService,
		ExportService:    export.NewService(auditService),
		DeletionService:  orchestrator,
		RetentionService: retentionService,
	})
	return api
}

func (a *testAPI) token(t *testing.T, tenantID, role string) string {
	t.Helper()
	token, _, err := a.jwt.GenerateToken(auth.Identity{
		UserID:   "user-" + role,
		TenantID: tenantID,
		Email:    role + "@example.com",
		Role:     role,
	})
	require.NoError(t, err)
	return token
}

func (a *testAPI) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (a *testAPI) seed(t *testing.T, entries ...audit.AuditEntry) {
	t.Helper()
	require.NoError(t, a.auditRepo.CreateMany(context.Background(), entries))
}

func TestAPI_RequiresToken(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodGet, "/api/v1/audit/entries", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestAuditRoutes_TenantIsolation(t *testing.T) {
	api := newTestAPI(t)
	now := time.Now().UTC()
	api.seed(t,
		audit.AuditEntry{ID: "a1", TenantID: "t1", UserID: "u1", Action: audit.ActionCreate, EntityType: audit.EntityRental, EntityID: "r-1", Timestamp: now.Add(-2 * time.Minute)},
		audit.AuditEntry{ID: "a2", TenantID: "t1", UserID: "u1", Action: audit.ActionUpdate, EntityType: audit.EntityRental, EntityID: "r-1", Timestamp: now.Add(-time.Minute)},
		audit.AuditEntry{ID: "b1", TenantID: "t2", UserID: "u9", Action: audit.ActionCreate, EntityType: audit.EntityRental, EntityID: "r-9", Timestamp: now},
	)
	token := api.token(t, "t1", auth.RoleAuditor)

	w := api.do(t, http.MethodGet, "/api/v1/audit/entries", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	result := decode[audit.QueryResult](t, w)
	assert.Equal(t, int64(2), result.Total)
	require.Len(t, result.Entries, 2)
	assert.Equal(t, "a2", result.Entries[0].ID)

	w = api.do(t, http.MethodGet, "/api/v1/audit/entries/b1", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, models.CodeAuditEntryNotFound, decode[ErrorResponse](t, w).Code)

	w = api.do(t, http.MethodGet, "/api/v1/audit/entries/a1", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = api.do(t, http.MethodGet, "/api/v1/audit/history/RENTAL/r-1", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	history := decode[struct {
		Entries []audit.AuditEntry `json:"entries"`
	}](t, w)
	require.Len(t, history.Entries, 2)
	assert.Equal(t, "a1", history.Entries[0].ID)
}

func TestAuditRoutes_InvalidQuery(t *testing.T) {
	api := newTestAPI(t)
	token := api.token(t, "t1", auth.RoleAdmin)

	tests := []struct {
		name string
		path string
	}{
		{"bad date", "/api/v1/audit/entries?startDate=yesterday"},
		{"unknown action", "/api/v1/audit/entries?actions=create,explode"},
		{"bad archived flag", "/api/v1/audit/entries?archived=maybe"},
		{"unknown order field", "/api/v1/audit/entries?orderBy=reason"},
		{"empty search", "/api/v1/audit/search?q="},
		{"bad export format", "/api/v1/audit/export?format=xml"},
		{"bad summary date", "/api/v1/audit/summary/daily?date=06/01/2026"},
		{"unknown history entity", "/api/v1/audit/history/BOAT/b-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := api.do(t, http.MethodGet, tt.path, token, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestAuditRoutes_RequireAuditRole(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodGet, "/api/v1/audit/entries", api.token(t, "t1", auth.RoleUser), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAuditRoutes_ExportCSV(t *testing.T) {
	api := newTestAPI(t)
	api.seed(t, audit.AuditEntry{
		ID: "a1", TenantID: "t1", UserID: "u1", Action: audit.ActionOverride, EntityType: audit.EntityInvoice,
		EntityID: "inv-1", Reason: "late fee waived, manager ok", Timestamp: time.Now().UTC(),
	})
	token := api.token(t, "t1", auth.RoleDPO)

	w := api.do(t, http.MethodGet, "/api/v1/audit/export?format=csv", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/csv"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")
	assert.Contains(t, w.Body.String(), `"late fee waived, manager ok"`)

	exports, err := api.auditRepo.FindByEntity(context.Background(), "t1", audit.EntityTenant, "t1")
	require.NoError(t, err)
	require.Len(t, exports, 1)
	assert.Equal(t, audit.ActionExport, exports[0].Action)
	assert.Equal(t, "user-dpo", exports[0].UserID)

	w = api.do(t, http.MethodGet, "/api/v1/audit/export", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	doc := decode[export.JSONDocument](t, w)
	assert.Equal(t, "t1", doc.Metadata.TenantID)
}

func TestAuditRoutes_SearchAndAggregations(t *testing.T) {
	api := newTestAPI(t)
	now := time.Now().UTC()
	api.seed(t,
		audit.AuditEntry{ID: "a1", TenantID: "t1", UserID: "alice", Action: audit.ActionCreate, EntityType: audit.EntityCustomer, EntityID: "c-1", Timestamp: now},
		audit.AuditEntry{ID: "a2", TenantID: "t1", UserID: "bob", Action: audit.ActionCreate, EntityType: audit.EntityCustomer, EntityID: "c-2", Timestamp: now},
	)
	token := api.token(t, "t1", auth.RoleAuditor)

	w := api.do(t, http.MethodGet, "/api/v1/audit/search?q=ALICE", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	found := decode[map[string]interface{}](t, w)
	assert.Equal(t, float64(1), found["count"])
	assert.Equal(t, false, found["truncated"])

	w = api.do(t, http.MethodGet, "/api/v1/audit/aggregations", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	agg := decode[export.Aggregations](t, w)
	assert.Equal(t, 2, agg.Total)
	assert.Equal(t, int64(2), agg.ByAction["CREATE"])

	w = api.do(t, http.MethodGet, "/api/v1/audit/summary/daily", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, decode[export.DailySummary](t, w).UniqueUsers)
}

func TestDeletionRoutes_Lifecycle(t *testing.T) {
	api := newTestAPI(t)
	dpo := api.token(t, "t1", auth.RoleDPO)

	w := api.do(t, http.MethodPost, "/api/v1/deletion/requests", dpo, map[string]string{
		"entityType": "PARTNER",
		"entityId":   "p-1",
		"reason":     "contract ended",
		"tenantId":   "t2",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[deletion.DeletionRequest](t, w)
	assert.Equal(t, deletion.StatusPending, created.Status)
	assert.Equal(t, "t1", created.TenantID)
	assert.Equal(t, "user-dpo", created.RequestedBy)

	w = api.do(t, http.MethodGet, "/api/v1/deletion/requests/"+created.ID, api.token(t, "t2", auth.RoleDPO), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = api.do(t, http.MethodPost, "/api/v1/deletion/requests/"+created.ID+"/process", api.token(t, "t1", auth.RoleAuditor), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = api.do(t, http.MethodPost, "/api/v1/deletion/requests/"+created.ID+"/process", dpo, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	processed := decode[deletion.DeletionRequest](t, w)
	assert.Equal(t, deletion.StatusCompleted, processed.Status)
	assert.Equal(t, 1, processed.DeletedEntities)

	w = api.do(t, http.MethodPost, "/api/v1/deletion/requests/"+created.ID+"/process", dpo, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, models.CodeAlreadyProcessed, decode[ErrorResponse](t, w).Code)

	w = api.do(t, http.MethodGet, "/api/v1/deletion/requests?status=COMPLETED", dpo, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(1), decode[ListResponse](t, w).Total)
}

func TestDeletionRoutes_Cancel(t *testing.T) {
	api := newTestAPI(t)
	admin := api.token(t, "t1", auth.RoleAdmin)

	w := api.do(t, http.MethodPost, "/api/v1/deletion/requests", admin, map[string]string{
		"entityType": "CUSTOMER",
		"entityId":   "c-1",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode[deletion.DeletionRequest](t, w).ID

	w = api.do(t, http.MethodPost, "/api/v1/deletion/requests/"+id+"/cancel", admin, CancelRequest{Reason: "duplicate"})
	require.Equal(t, http.StatusOK, w.Code)
	cancelled := decode[deletion.DeletionRequest](t, w)
	assert.Equal(t, deletion.StatusFailed, cancelled.Status)
	assert.Equal(t, "Cancelled: duplicate", cancelled.Error)

	w = api.do(t, http.MethodPost, "/api/v1/deletion/requests/"+id+"/cancel", admin, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, models.CodeNotCancellable, decode[ErrorResponse](t, w).Code)
}

func TestDeletionRoutes_Validation(t *testing.T) {
	api := newTestAPI(t)
	admin := api.token(t, "t1", auth.RoleAdmin)

	w := api.do(t, http.MethodPost, "/api/v1/deletion/requests", admin, map[string]string{"entityType": "BOAT", "entityId": "b-1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, models.CodeUnregisteredEntity, decode[ErrorResponse](t, w).Code)

	w = api.do(t, http.MethodPost, "/api/v1/deletion/requests", admin, map[string]string{"entityType": "CUSTOMER"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(t, http.MethodGet, "/api/v1/deletion/entities/PARTNER/dependents", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	deps := decode[struct {
		Dependents []deletion.EntityDependency `json:"dependents"`
	}](t, w)
	require.Len(t, deps.Dependents, 1)
	assert.Equal(t, audit.EntityRental, deps.Dependents[0].EntityType)
}

func TestRetentionRoutes_Policy(t *testing.T) {
	api := newTestAPI(t)
	admin := api.token(t, "t1", auth.RoleAdmin)

	w := api.do(t, http.MethodGet, "/api/v1/retention/policy", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, retention.DefaultPolicy(), decode[retention.Policy](t, w))

	w = api.do(t, http.MethodPut, "/api/v1/retention/policy", admin, map[string]interface{}{"activeRetentionDays": 30})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 30, decode[retention.Policy](t, w).ActiveRetentionDays)

	w = api.do(t, http.MethodPut, "/api/v1/retention/policy", admin, map[string]interface{}{"archiveBatchSize": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, models.CodeInvalidPolicy, decode[ErrorResponse](t, w).Code)

	w = api.do(t, http.MethodPut, "/api/v1/retention/policy", admin, map[string]interface{}{"activeRetentionDays": nil})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, retention.DefaultActiveRetentionDays, decode[retention.Policy](t, w).ActiveRetentionDays)

	changes, err := api.auditRepo.FindByEntity(context.Background(), "t1", audit.EntitySystem, policyEntityID)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, []string{"activeRetentionDays"}, changes[0].Changes.Fields)

	w = api.do(t, http.MethodPut, "/api/v1/retention/policy", api.token(t, "t1", auth.RoleAuditor), map[string]interface{}{"activeRetentionDays": 1})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRetentionRoutes_ArchiveAndRestore(t *testing.T) {
	api := newTestAPI(t)
	admin := api.token(t, "t1", auth.RoleAdmin)
	old := time.Now().UTC().AddDate(0, 0, -40)
	api.seed(t,
		audit.AuditEntry{ID: "old-1", TenantID: "t1", UserID: "u1", Action: audit.ActionCreate, EntityType: audit.EntityRental, EntityID: "r-1", Timestamp: old},
		audit.AuditEntry{ID: "old-2", TenantID: "t2", UserID: "u2", Action: audit.ActionCreate, EntityType: audit.EntityRental, EntityID: "r-2", Timestamp: old},
	)
	_, err := api.retention.UpdatePolicy(retention.PolicyUpdate{ActiveRetentionDays: models.Set(30)})
	require.NoError(t, err)

	w := api.do(t, http.MethodPost, "/api/v1/retention/archive", admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	job := decode[retention.ArchiveJob](t, w)
	assert.Equal(t, retention.JobCompleted, job.Status)
	assert.Equal(t, 1, job.EntriesProcessed)
	require.Len(t, job.BatchIDs, 1)

	w = api.do(t, http.MethodGet, "/api/v1/retention/jobs/"+job.ID, admin, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = api.do(t, http.MethodGet, "/api/v1/retention/jobs/"+job.ID, api.token(t, "t2", auth.RoleAdmin), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = api.do(t, http.MethodGet, "/api/v1/retention/batches", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(1), decode[ListResponse](t, w).Total)

	w = api.do(t, http.MethodPost, "/api/v1/retention/batches/"+job.BatchIDs[0]+"/restore", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	restored := decode[RestoreResponse](t, w)
	assert.Equal(t, retention.RestoreRestored, restored.Restore.Status)
	require.Len(t, restored.Entries, 1)
	assert.Equal(t, "old-1", restored.Entries[0].ID)

	w = api.do(t, http.MethodPost, "/api/v1/retention/batches/"+job.BatchIDs[0]+"/restore", api.token(t, "t2", auth.RoleAdmin), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = api.do(t, http.MethodGet, "/api/v1/retention/stats", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[retention.Stats](t, w)
	assert.Equal(t, int64(1), stats.ArchivedEntries)
	assert.Equal(t, int64(1), stats.BatchCount)

	w = api.do(t, http.MethodPost, "/api/v1/retention/cleanup", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, decode[retention.CleanupResult](t, w).DeletedBatches)
}

func TestAPI_RejectsNonJSONBody(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/deletion/requests", strings.NewReader("entityType=USER"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+api.token(t, "t1", auth.RoleAdmin))
	w := httptest.NewRecorder()
	api.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func TestSessionRoutes_MeAndLogout(t *testing.T) {
	api := newTestAPI(t)
	dpo := api.token(t, "t1", auth.RoleDPO)

	w := api.do(t, http.MethodGet, "/api/v1/auth/me", dpo, nil)
	require.Equal(t, http.StatusOK, w.Code)
	me := decode[SessionResponse](t, w)
	assert.Equal(t, "t1", me.TenantID)
	assert.Equal(t, auth.RoleDPO, me.Role)
	assert.Len(t, me.Permissions, 3)
	require.NotNil(t, me.ExpiresAt)

	w = api.do(t, http.MethodPost, "/api/v1/auth/logout", dpo, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = api.do(t, http.MethodGet, "/api/v1/auth/me", dpo, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "TOKEN_REVOKED")

	w = api.do(t, http.MethodGet, "/api/v1/audit/entries?actions=LOGOUT", api.token(t, "t1", auth.RoleAuditor), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"user-dpo"`)
}

func TestAPI_UnknownRoleIsForbidden(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodGet, "/api/v1/deletion/requests", api.token(t, "t1", "guest"), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = api.do(t, http.MethodGet, "/api/v1/deletion/requests", api.token(t, "t1", auth.RoleUser), nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
