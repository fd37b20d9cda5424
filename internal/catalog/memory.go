package catalog

import (
	"cmp"
	"context"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/domain"
)

// Memory is an in-process catalog. Without an ordering, pools are served in
// the order they were given.
type Memory struct {
	mu      sync.RWMutex
	defs    map[int64]*domain.HarvestDefinition
	pools   map[int64][]domain.ConfigKey
	configs map[domain.ConfigKey]*domain.DomainConfiguration
	order   func([]domain.DomainConfiguration)
	now     func() time.Time

	// recorded holds when each History entry was recorded, index for index.
	recorded map[domain.ConfigKey][]time.Time
}

// MemoryOption customises a Memory catalog.
type MemoryOption func(*Memory)

// WithOrder sorts each pool into canonical order before paging it.
func WithOrder(order func([]domain.DomainConfiguration)) MemoryOption {
	return func(m *Memory) {
		m.order = order
	}
}

// WithMemoryClock overrides the clock used to pin cursors.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.now = now
	}
}

// NewMemory returns an empty catalog.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		defs:    make(map[int64]*domain.HarvestDefinition),
		pools:   make(map[int64][]domain.ConfigKey),
		configs:  make(map[domain.ConfigKey]*domain.DomainConfiguration),
		recorded: make(map[domain.ConfigKey][]time.Time),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// PutConfig adds or replaces a configuration. Its history counts as recorded
// when each harvest completed.
func (m *Memory) PutConfig(cfg domain.DomainConfiguration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := cloneConfig(cfg)
	m.configs[cfg.Key] = &c

	recorded := make([]time.Time, len(c.History))
	for i, h := range c.History {
		recorded[i] = h.CompletedAt
	}
	m.recorded[cfg.Key] = recorded
}

// PutDefinition adds or replaces a definition and its pool.
func (m *Memory) PutDefinition(def domain.HarvestDefinition, pool []domain.ConfigKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := def
	m.defs[def.ID] = &d
	m.pools[def.ID] = slices.Clone(pool)
}

// Definition returns a copy of a definition.
func (m *Memory) Definition(id int64) (domain.HarvestDefinition, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.defs[id]
	if !ok {
		return domain.HarvestDefinition{}, false
	}
	return *d, true
}

// Config returns a copy of a configuration.
func (m *Memory) Config(key domain.ConfigKey) (domain.DomainConfiguration, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.configs[key]
	if !ok {
		return domain.DomainConfiguration{}, false
	}
	return cloneConfig(*c), true
}

// Pool returns a copy of a definition's pool keys.
func (m *Memory) Pool(harvestID int64) []domain.ConfigKey {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.pools[harvestID])
}

// NextBatch implements Source.
func (m *Memory) NextBatch(_ context.Context, harvestID int64, cursor Cursor, size int) (Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pool, ok := m.pools[harvestID]
	if !ok {
		return Batch{}, fmt.Errorf("%w: %d", ErrDefinitionNotFound, harvestID)
	}
	if cursor.AsOf.IsZero() {
		cursor.AsOf = m.now()
	}

	all := make([]domain.DomainConfiguration, 0, len(pool))
	for _, key := range pool {
		cfg, found := m.configs[key]
		if !found {
			return Batch{}, fmt.Errorf("definition %d references unknown configuration %s", harvestID, key)
		}
		all = append(all, snapshotConfig(*cfg, m.recorded[key], cursor.AsOf))
	}
	if m.order != nil {
		m.order(all)
	}

	start := min(cursor.Offset, len(all))
	end := min(start+size, len(all))
	return Batch{
		Configs: all[start:end:end],
		Next:    Cursor{Offset: end, AsOf: cursor.AsOf},
		Done:    end >= len(all),
	}, nil
}

// snapshotConfig copies cfg keeping only history recorded at or before asOf,
// like the recorded_at pin of the Postgres catalog.
func snapshotConfig(cfg domain.DomainConfiguration, recorded []time.Time, asOf time.Time) domain.DomainConfiguration {
	history := make([]domain.HarvestSummary, 0, len(cfg.History))
	for i, h := range cfg.History {
		if !recorded[i].After(asOf) {
			history = append(history, h)
		}
	}
	cfg.History = history
	return cfg
}

// ReadyDefinitions implements Definitions.
func (m *Memory) ReadyDefinitions(_ context.Context, now time.Time) ([]domain.HarvestDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.HarvestDefinition
	for _, d := range m.defs {
		if d.Active && (d.NextRunAt == nil || !d.NextRunAt.After(now)) {
			out = append(out, *d)
		}
	}
	slices.SortFunc(out, func(a, b domain.HarvestDefinition) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// FinishGeneration implements Definitions.
func (m *Memory) FinishGeneration(_ context.Context, id int64, nextRun *time.Time, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.defs[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrDefinitionNotFound, id)
	}
	d.NextRunAt = nextRun
	d.Active = active
	return nil
}

// RecordHarvest implements HistoryRecorder.
func (m *Memory) RecordHarvest(_ context.Context, _ int64, key domain.ConfigKey, summary domain.HarvestSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg, ok := m.configs[key]
	if !ok {
		return fmt.Errorf("unknown configuration %s", key)
	}
	cfg.History = append(cfg.History, summary)
	m.recorded[key] = append(m.recorded[key], m.now())
	return nil
}

func cloneConfig(c domain.DomainConfiguration) domain.DomainConfiguration {
	c.History = slices.Clone(c.History)
	return c
}

// Fixture is the YAML layout accepted by LoadFile.
type Fixture struct {
	Configurations []domain.DomainConfiguration `yaml:"configurations"`
	Definitions    []FixtureDefinition          `yaml:"definitions"`
}

// FixtureDefinition is a definition plus the keys of its pool.
type FixtureDefinition struct {
	domain.HarvestDefinition `yaml:",inline"`
	Configs                  []domain.ConfigKey `yaml:"configs"`
}

// LoadFile reads a YAML fixture into a new Memory catalog. Limits missing from
// the file are treated as unbounded.
func LoadFile(path string, opts ...MemoryOption) (*Memory, *Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read catalog file %s: %w", path, err)
	}

	var fx Fixture
	if err = yaml.Unmarshal(data, &fx); err != nil {
		return nil, nil, fmt.Errorf("parse catalog file: %w", err)
	}
	if err = fx.applyDefaults(data); err != nil {
		return nil, nil, err
	}

	m := NewMemory(opts...)
	for _, c := range fx.Configurations {
		m.PutConfig(c)
	}
	for _, d := range fx.Definitions {
		m.PutDefinition(d.HarvestDefinition, d.Configs)
	}
	return m, &fx, nil
}

// applyDefaults marks limits absent from the document as unbounded. A zero
// that is written out stays zero.
func (fx *Fixture) applyDefaults(data []byte) error {
	var raw struct {
		Configurations []map[string]any `yaml:"configurations"`
		Definitions    []map[string]any `yaml:"definitions"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse catalog file: %w", err)
	}
	for i := range fx.Configurations {
		fields := raw.Configurations[i]
		if _, ok := fields["max_bytes"]; !ok {
			fx.Configurations[i].MaxBytes = domain.Unbounded
		}
		if _, ok := fields["max_objects"]; !ok {
			fx.Configurations[i].MaxObjects = domain.Unbounded
		}
	}
	for i := range fx.Definitions {
		fields := raw.Definitions[i]
		if _, ok := fields["max_bytes"]; !ok {
			fx.Definitions[i].MaxBytes = domain.Unbounded
		}
		if _, ok := fields["max_objects"]; !ok {
			fx.Definitions[i].MaxObjects = domain.Unbounded
		}
	}
	return nil
}
