package audit

import (
	"time"
)

// Action is the kind of operation an audit entry documents
type Action string

const (
	ActionCreate   Action = "CREATE"
	ActionRead     Action = "READ"
	ActionUpdate   Action = "UPDATE"
	ActionDelete   Action = "DELETE"
	ActionLogin    Action = "LOGIN"
	ActionLogout   Action = "LOGOUT"
	ActionExport   Action = "EXPORT"
	ActionImport   Action = "IMPORT"
	ActionApprove  Action = "APPROVE"
	ActionReject   Action = "REJECT"
	ActionOverride Action = "OVERRIDE"
	ActionArchive  Action = "ARCHIVE"
)

var validActions = map[Action]bool{
	ActionCreate: true, ActionRead: true, ActionUpdate: true, ActionDelete: true,
	ActionLogin: true, ActionLogout: true, ActionExport: true, ActionImport: true,
	ActionApprove: true, ActionReject: true, ActionOverride: true, ActionArchive: true,
}

// IsValid reports whether a is a known action
func (a Action) IsValid() bool {
	return validActions[a]
}

// EntityType identifies the business entity an entry refers to
type EntityType string

const (
	EntityUser            EntityType = "USER"
	EntityTenant          EntityType = "TENANT"
	EntityPartner         EntityType = "PARTNER"
	EntityCustomer        EntityType = "CUSTOMER"
	EntityRental          EntityType = "RENTAL"
	EntityInvoice         EntityType = "INVOICE"
	EntityPayment         EntityType = "PAYMENT"
	EntityWorkOrder       EntityType = "WORK_ORDER"
	EntityVehicle         EntityType = "VEHICLE"
	EntityDocument        EntityType = "DOCUMENT"
	EntityChatMessage     EntityType = "CHAT_MESSAGE"
	EntityDeletionRequest EntityType = "DELETION_REQUEST"
	EntityAuditArchive    EntityType = "AUDIT_ARCHIVE"
	EntitySystem          EntityType = "SYSTEM"
)

var validEntityTypes = map[EntityType]bool{
	EntityUser: true, EntityTenant: true, EntityPartner: true, EntityCustomer: true,
	EntityRental: true, EntityInvoice: true, EntityPayment: true, EntityWorkOrder: true,
	EntityVehicle: true, EntityDocument: true, EntityChatMessage: true,
	EntityDeletionRequest: true, EntityAuditArchive: true, EntitySystem: true,
}

// IsValid reports whether t is a known entity type
func (t EntityType) IsValid() bool {
	return validEntityTypes[t]
}

// SystemUserID is the actor recorded for entries written by background jobs
const SystemUserID = "system"

// Changes captures a before/after diff
type Changes struct {
	Before map[string]interface{} `json:"before,omitempty" bson:"before,omitempty"`
	After  map[string]interface{} `json:"after,omitempty" bson:"after,omitempty"`
	Fields []string               `json:"fields" bson:"fields"`
}

// AuditEntry is an immutable record of one action
type AuditEntry struct {
	ID         string                 `json:"id" bson:"_id"`
	TenantID   string                 `json:"tenantId" bson:"tenant_id"`
	UserID     string                 `json:"userId" bson:"user_id"`
	UserEmail  string                 `json:"userEmail,omitempty" bson:"user_email,omitempty"`
	UserName   string                 `json:"userName,omitempty" bson:"user_name,omitempty"`
	Action     Action                 `json:"action" bson:"action"`
	EntityType EntityType             `json:"entityType" bson:"entity_type"`
	EntityID   string                 `json:"entityId" bson:"entity_id"`
	Timestamp  time.Time              `json:"timestamp" bson:"timestamp"`
	IPAddress  string                 `json:"ipAddress,omitempty" bson:"ip_address,omitempty"`
	UserAgent  string                 `json:"userAgent,omitempty" bson:"user_agent,omitempty"`
	Reason     string                 `json:"reason,omitempty" bson:"reason,omitempty"`
	Changes    *Changes               `json:"changes,omitempty" bson:"changes,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty" bson:"metadata,omitempty"`

	// Set by the repository when the entry is moved to cold storage
	ArchiveID  string     `json:"archiveId,omitempty" bson:"archive_id,omitempty"`
	ArchivedAt *time.Time `json:"archivedAt,omitempty" bson:"archived_at,omitempty"`
}

// Actor identifies who performed an action
type Actor struct {
	TenantID  string `json:"tenantId"`
	UserID    string `json:"userId"`
	UserEmail string `json:"userEmail,omitempty"`
	UserName  string `json:"userName,omitempty"`
	IPAddress string `json:"ipAddress,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
}

// SystemActor returns the actor used for background operations on a tenant
func SystemActor(tenantID string) Actor {
	return Actor{TenantID: tenantID, UserID: SystemUserID, UserName: "System"}
}

// LogInput is the raw input to Service.Log
type LogInput struct {
	Actor
	Action     Action
	EntityType EntityType
	EntityID   string
	Reason     string
	Changes    *Changes
	Metadata   map[string]interface{}
}

// Sort directions
const (
	OrderAsc  = "asc"
	OrderDesc = "desc"
)

// Query limits
const (
	DefaultLimit = 50
	MaxLimit     = 1000
)

// Filter narrows a query. TenantID is mandatory.
type Filter struct {
	TenantID   string     `json:"tenantId"`
	UserID     string     `json:"userId,omitempty"`
	EntityType EntityType `json:"entityType,omitempty"`
	EntityID   string     `json:"entityId,omitempty"`
	Actions    []Action   `json:"actions,omitempty"`
	StartDate  *time.Time `json:"startDate,omitempty"`
	EndDate    *time.Time `json:"endDate,omitempty"`
	Archived   *bool      `json:"archived,omitempty"`
}

// QueryOptions combines a filter with pagination and ordering
type QueryOptions struct {
	Filter
	Limit          int    `json:"limit"`
	Offset         int    `json:"offset"`
	OrderBy        string `json:"orderBy"`
	OrderDirection string `json:"orderDirection"`
}

// QueryResult is one page of entries
type QueryResult struct {
	Entries []AuditEntry `json:"entries"`
	Total   int64        `json:"total"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
	HasMore bool         `json:"hasMore"`
}

// ArchiveResult is returned by Repository.Archive
type ArchiveResult struct {
	ArchiveID     string       `json:"archiveId"`
	ArchivedCount int          `json:"archivedCount"`
	Entries       []AuditEntry `json:"-"`
}

// Sortable field names, mapped to storage keys
var orderFields = map[string]string{
	"timestamp":  "timestamp",
	"action":     "action",
	"entityType": "entity_type",
	"userId":     "user_id",
	"entityId":   "entity_id",
}
