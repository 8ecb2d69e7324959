package deletion

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"compliance-core/internal/audit"
	"compliance-core/internal/models"

	"gopkg.in/yaml.v3"
)

// Registry holds the deletion policy of every entity type. It is filled at
// startup and read thereafter.
type Registry struct {
	mu      sync.RWMutex
	configs map[audit.EntityType]EntityDeletionConfig
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{configs: make(map[audit.EntityType]EntityDeletionConfig)}
}

// Register validates cfg and stores it, replacing any previous config for the type
func (r *Registry) Register(cfg EntityDeletionConfig) error {
	if err := validateConfig(cfg); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[cfg.EntityType] = cfg
	return nil
}

// Get returns the config for an entity type
func (r *Registry) Get(entityType audit.EntityType) (EntityDeletionConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[entityType]
	return cfg, ok
}

// List returns all configs sorted by entity type
func (r *Registry) List() []EntityDeletionConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]EntityDeletionConfig, 0, len(r.configs))
	for _, cfg := range r.configs {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityType < out[j].EntityType })
	return out
}

type policyFile struct {
	Entities []EntityDeletionConfig `yaml:"entities"`
}

// LoadYAML registers every entity listed in a policy document. Nothing is
// registered if any entry is invalid.
func (r *Registry) LoadYAML(data []byte) error {
	var doc policyFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse deletion policy: %w", err)
	}
	for i, cfg := range doc.Entities {
		if err := validateConfig(cfg); err != nil {
			return fmt.Errorf("deletion policy entry %d: %w", i, err)
		}
	}
	for _, cfg := range doc.Entities {
		if err := r.Register(cfg); err != nil {
			return err
		}
	}
	return nil
}

// LoadFile reads and registers a YAML policy file
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read deletion policy file: %w", err)
	}
	return r.LoadYAML(data)
}

func validateConfig(cfg EntityDeletionConfig) error {
	if !cfg.EntityType.IsValid() {
		return models.NewValidationError(models.CodeInvalidInput, fmt.Sprintf("unknown entity type %q", cfg.EntityType))
	}
	if !cfg.Strategy.IsValid() {
		return models.NewValidationError(models.CodeInvalidInput, fmt.Sprintf("unknown deletion strategy %q for %s", cfg.Strategy, cfg.EntityType))
	}
	if cfg.RetentionDays < 0 {
		return models.NewValidationError(models.CodeInvalidInput, "retention days must not be negative")
	}
	for _, dep := range cfg.Dependencies {
		if !dep.EntityType.IsValid() {
			return models.NewValidationError(models.CodeInvalidInput, fmt.Sprintf("unknown dependent entity type %q", dep.EntityType))
		}
		if dep.ForeignKey == "" {
			return models.NewValidationError(models.CodeInvalidInput, fmt.Sprintf("dependency %s of %s needs a foreign key", dep.EntityType, cfg.EntityType))
		}
		if !dep.Strategy.IsValid() {
			return models.NewValidationError(models.CodeInvalidInput, fmt.Sprintf("unknown deletion strategy %q for dependency %s", dep.Strategy, dep.EntityType))
		}
	}
	return nil
}

// DefaultPolicies is the built-in policy set used when no policy file is configured
func DefaultPolicies() []EntityDeletionConfig {
	return []EntityDeletionConfig{
		{
			EntityType:      audit.EntityUser,
			Strategy:        StrategyAnonymize,
			AnonymizeFields: []string{"email", "firstName", "lastName", "phone"},
			Dependencies: []EntityDependency{
				{EntityType: audit.EntityChatMessage, ForeignKey: "userId", Strategy: StrategyCascade},
			},
		},
		{
			EntityType:      audit.EntityCustomer,
			Strategy:        StrategyAnonymize,
			AnonymizeFields: []string{"email", "name", "phone", "address", "taxId"},
			Dependencies: []EntityDependency{
				{EntityType: audit.EntityRental, ForeignKey: "customerId", Strategy: StrategyAnonymize},
				{EntityType: audit.EntityInvoice, ForeignKey: "customerId", Strategy: StrategyRetain},
				{EntityType: audit.EntityPayment, ForeignKey: "customerId", Strategy: StrategyRetain},
			},
		},
		{
			EntityType: audit.EntityPartner,
			Strategy:   StrategyCascade,
			Dependencies: []EntityDependency{
				{EntityType: audit.EntityRental, ForeignKey: "partnerId", Strategy: StrategyAnonymize},
			},
		},
		{
			EntityType:      audit.EntityRental,
			Strategy:        StrategyAnonymize,
			AnonymizeFields: []string{"driverName", "driverLicense", "pickupAddress"},
		},
		{EntityType: audit.EntityChatMessage, Strategy: StrategyCascade},
		{EntityType: audit.EntityDocument, Strategy: StrategySoftDelete},
		{EntityType: audit.EntityInvoice, Strategy: StrategyRetain, RetentionDays: 3650},
		{EntityType: audit.EntityPayment, Strategy: StrategyRetain, RetentionDays: 3650},
	}
}
