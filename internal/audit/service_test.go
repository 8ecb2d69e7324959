package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"compliance-core/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockRepository is a mock implementation of the Repository interface
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Create(ctx context.Context, entry AuditEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockRepository) CreateMany(ctx context.Context, entries []AuditEntry) error {
	args := m.Called(ctx, entries)
	return args.Error(0)
}

func (m *MockRepository) FindByID(ctx context.Context, id, tenantID string) (*AuditEntry, error) {
	args := m.Called(ctx, id, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*AuditEntry), args.Error(1)
}

func (m *MockRepository) Query(ctx context.Context, opts QueryOptions) ([]AuditEntry, int64, error) {
	args := m.Called(ctx, opts)
	return args.Get(0).([]AuditEntry), args.Get(1).(int64), args.Error(2)
}

func (m *MockRepository) FindByEntity(ctx context.Context, tenantID string, entityType EntityType, entityID string) ([]AuditEntry, error) {
	args := m.Called(ctx, tenantID, entityType, entityID)
	return args.Get(0).([]AuditEntry), args.Error(1)
}

func (m *MockRepository) Count(ctx context.Context, filter Filter) (int64, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRepository) DeleteOlderThan(ctx context.Context, before time.Time, tenantID string) (int64, error) {
	args := m.Called(ctx, before, tenantID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRepository) Archive(ctx context.Context, start, end time.Time, tenantID string) (*ArchiveResult, error) {
	args := m.Called(ctx, start, end, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ArchiveResult), args.Error(1)
}

func (m *MockRepository) Unarchive(ctx context.Context, archiveID string) error {
	args := m.Called(ctx, archiveID)
	return args.Error(0)
}

var testActor = Actor{
	TenantID:  "tenant-1",
	UserID:    "user-1",
	UserEmail: "ops@example.com",
	UserName:  "Ops User",
	IPAddress: "10.0.0.7",
}

func TestService_Log(t *testing.T) {
	mockRepo := new(MockRepository)
	fixed := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	service := NewService(mockRepo, WithClock(func() time.Time { return fixed }))
	ctx := context.Background()

	mockRepo.On("Create", ctx, mock.MatchedBy(func(e AuditEntry) bool {
		return e.ID != "" &&
			e.TenantID == "tenant-1" &&
			e.Action == ActionLogin &&
			e.EntityType == EntityUser &&
			e.Timestamp.Equal(fixed) &&
			e.IPAddress == "10.0.0.7"
	})).Return(nil)

	entry, err := service.Log(ctx, LogInput{Actor: testActor, Action: ActionLogin, EntityType: EntityUser, EntityID: "user-1"})

	require.NoError(t, err)
	assert.Equal(t, ActionLogin, entry.Action)
	mockRepo.AssertExpectations(t)
}

func TestService_Log_Validation(t *testing.T) {
	tests := []struct {
		name string
		in   LogInput
	}{
		{"missing tenant", LogInput{Actor: Actor{UserID: "u"}, Action: ActionRead, EntityType: EntityUser, EntityID: "e"}},
		{"missing user", LogInput{Actor: Actor{TenantID: "t"}, Action: ActionRead, EntityType: EntityUser, EntityID: "e"}},
		{"missing entity id", LogInput{Actor: testActor, Action: ActionRead, EntityType: EntityUser}},
		{"unknown action", LogInput{Actor: testActor, Action: "PURGE", EntityType: EntityUser, EntityID: "e"}},
		{"unknown entity type", LogInput{Actor: testActor, Action: ActionRead, EntityType: "SPACESHIP", EntityID: "e"}},
		{"override without reason", LogInput{Actor: testActor, Action: ActionOverride, EntityType: EntityInvoice, EntityID: "e", Reason: "   "}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockRepo := new(MockRepository)
			service := NewService(mockRepo)

			_, err := service.Log(context.Background(), tt.in)

			require.Error(t, err)
			assert.True(t, errors.Is(err, models.ErrValidation))
			mockRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		})
	}
}

func TestService_LogOverride_RequiresReason(t *testing.T) {
	mockRepo := new(MockRepository)
	service := NewService(mockRepo)

	_, err := service.LogOverride(context.Background(), testActor, EntityInvoice, "inv-1",
		map[string]interface{}{"total": 100}, map[string]interface{}{"total": 0}, " \t")

	require.Error(t, err)
	assert.Equal(t, models.CodeOverrideReasonRequired, models.CodeOf(err))
	mockRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestService_LogOverride(t *testing.T) {
	mockRepo := new(MockRepository)
	service := NewService(mockRepo)
	ctx := context.Background()

	mockRepo.On("Create", ctx, mock.AnythingOfType("audit.AuditEntry")).Return(nil)

	entry, err := service.LogOverride(ctx, testActor, EntityInvoice, "inv-1",
		map[string]interface{}{"total": 100, "status": "OPEN"},
		map[string]interface{}{"total": 0, "status": "OPEN"},
		"customer goodwill credit")

	require.NoError(t, err)
	assert.Equal(t, ActionOverride, entry.Action)
	assert.Equal(t, "customer goodwill credit", entry.Reason)
	assert.Equal(t, []string{"total"}, entry.Changes.Fields)
}

func TestService_LogUpdate_Diff(t *testing.T) {
	mockRepo := new(MockRepository)
	service := NewService(mockRepo)
	ctx := context.Background()

	mockRepo.On("Create", ctx, mock.Anything).Return(nil)

	before := map[string]interface{}{
		"name":    "Acme",
		"phone":   "555-0100",
		"address": map[string]interface{}{"city": "Oslo"},
		"tags":    []string{"a"},
	}
	after := map[string]interface{}{
		"name":    "Acme",
		"address": map[string]interface{}{"city": "Bergen"},
		"tags":    []string{"a"},
		"email":   "hello@acme.test",
	}

	entry, err := service.LogUpdate(ctx, testActor, EntityPartner, "p-1", before, after, WithReason("address change"))

	require.NoError(t, err)
	assert.Equal(t, []string{"address", "email", "phone"}, entry.Changes.Fields)
	assert.Equal(t, "address change", entry.Reason)
}

func TestService_LogRead_RecordsFields(t *testing.T) {
	mockRepo := new(MockRepository)
	service := NewService(mockRepo)
	ctx := context.Background()

	mockRepo.On("Create", ctx, mock.Anything).Return(nil)

	entry, err := service.LogRead(ctx, testActor, EntityCustomer, "c-9", []string{"email", "ssn"},
		WithMetadata(map[string]interface{}{"purpose": "subject access request"}))

	require.NoError(t, err)
	assert.Equal(t, []string{"email", "ssn"}, entry.Metadata["fieldsAccessed"])
	assert.Equal(t, "subject access request", entry.Metadata["purpose"])
}

func TestService_LogCreateAndDelete(t *testing.T) {
	mockRepo := new(MockRepository)
	service := NewService(mockRepo)
	ctx := context.Background()

	mockRepo.On("Create", ctx, mock.Anything).Return(nil)

	created, err := service.LogCreate(ctx, testActor, EntityVehicle, "v-1", map[string]interface{}{"vin": "X", "make": "Volvo"})
	require.NoError(t, err)
	assert.Equal(t, []string{"make", "vin"}, created.Changes.Fields)
	assert.Nil(t, created.Changes.Before)

	deleted, err := service.LogDelete(ctx, testActor, EntityVehicle, "v-1", nil)
	require.NoError(t, err)
	assert.Nil(t, deleted.Changes)
	assert.Equal(t, ActionDelete, deleted.Action)
}

func TestService_Log_RepositoryError(t *testing.T) {
	mockRepo := new(MockRepository)
	service := NewService(mockRepo)
	ctx := context.Background()

	mockRepo.On("Create", ctx, mock.Anything).Return(errors.New("connection reset"))

	_, err := service.LogCreate(ctx, testActor, EntityUser, "u-2", nil)
	assert.EqualError(t, err, "connection reset")
}

func TestService_LogBatch_ValidatesAllFirst(t *testing.T) {
	mockRepo := new(MockRepository)
	service := NewService(mockRepo)

	_, err := service.LogBatch(context.Background(), []LogInput{
		{Actor: testActor, Action: ActionCreate, EntityType: EntityRental, EntityID: "r-1"},
		{Actor: testActor, Action: ActionCreate, EntityType: EntityRental},
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "entry 1")
	mockRepo.AssertNotCalled(t, "CreateMany", mock.Anything, mock.Anything)
}

func TestService_LogBatch(t *testing.T) {
	mockRepo := new(MockRepository)
	service := NewService(mockRepo)
	ctx := context.Background()

	mockRepo.On("CreateMany", ctx, mock.MatchedBy(func(entries []AuditEntry) bool {
		return len(entries) == 2 && entries[0].ID != entries[1].ID
	})).Return(nil)

	entries, err := service.LogBatch(ctx, []LogInput{
		{Actor: testActor, Action: ActionImport, EntityType: EntityRental, EntityID: "r-1"},
		{Actor: testActor, Action: ActionImport, EntityType: EntityRental, EntityID: "r-2"},
	})

	require.NoError(t, err)
	assert.Len(t, entries, 2)
	mockRepo.AssertExpectations(t)
}

func TestService_Query_Normalizes(t *testing.T) {
	mockRepo := new(MockRepository)
	service := NewService(mockRepo)
	ctx := context.Background()

	mockRepo.On("Query", ctx, mock.MatchedBy(func(o QueryOptions) bool {
		return o.Limit == MaxLimit && o.OrderBy == "timestamp" && o.OrderDirection == OrderDesc
	})).Return([]AuditEntry{{ID: "a"}}, int64(1500), nil)

	result, err := service.Query(ctx, QueryOptions{Filter: Filter{TenantID: "tenant-1"}, Limit: 5000})

	require.NoError(t, err)
	assert.Equal(t, int64(1500), result.Total)
	assert.True(t, result.HasMore)
	mockRepo.AssertExpectations(t)
}

func TestNormalizeQuery(t *testing.T) {
	opts, err := NormalizeQuery(QueryOptions{Filter: Filter{TenantID: "t"}})
	require.NoError(t, err)
	assert.Equal(t, DefaultLimit, opts.Limit)

	opts, err = NormalizeQuery(QueryOptions{Filter: Filter{TenantID: "t"}, OrderDirection: "ASC", OrderBy: "entityId"})
	require.NoError(t, err)
	assert.Equal(t, OrderAsc, opts.OrderDirection)

	start := time.Now()
	end := start.Add(-time.Hour)
	for _, bad := range []QueryOptions{
		{},
		{Filter: Filter{TenantID: "t"}, OrderBy: "reason"},
		{Filter: Filter{TenantID: "t"}, OrderDirection: "sideways"},
		{Filter: Filter{TenantID: "t"}, Offset: -1},
		{Filter: Filter{TenantID: "t", StartDate: &start, EndDate: &end}},
		{Filter: Filter{TenantID: "t", Actions: []Action{"NOPE"}}},
	} {
		_, err := NormalizeQuery(bad)
		assert.True(t, errors.Is(err, models.ErrValidation), "%+v", bad)
	}
}

func TestService_FindByID_NotFound(t *testing.T) {
	mockRepo := new(MockRepository)
	service := NewService(mockRepo)
	ctx := context.Background()

	mockRepo.On("FindByID", ctx, "missing", "tenant-1").
		Return(nil, models.NewNotFoundError(models.CodeAuditEntryNotFound, "audit entry not found: missing"))

	_, err := service.FindByID(ctx, "missing", "tenant-1")
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestService_GetEntityHistory(t *testing.T) {
	mockRepo := new(MockRepository)
	service := NewService(mockRepo)
	ctx := context.Background()

	mockRepo.On("FindByEntity", ctx, "tenant-1", EntityRental, "r-1").Return([]AuditEntry{{ID: "1"}, {ID: "2"}}, nil)

	history, err := service.GetEntityHistory(ctx, "tenant-1", EntityRental, "r-1")
	require.NoError(t, err)
	assert.Len(t, history, 2)

	_, err = service.GetEntityHistory(ctx, "tenant-1", "BOAT", "r-1")
	assert.True(t, errors.Is(err, models.ErrValidation))
}
