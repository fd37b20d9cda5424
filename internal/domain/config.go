// Package domain holds the data model shared by the harvest scheduler's components.
package domain

import (
	"cmp"
	"fmt"
	"time"
)

// Unbounded marks an absent byte or object limit.
const Unbounded int64 = -1

// ConfigKey identifies a domain configuration. Domain and Config are unique together.
type ConfigKey struct {
	Domain string `db:"domain_name" json:"domain" yaml:"domain"`
	Config string `db:"config_name" json:"config" yaml:"config"`
}

func (k ConfigKey) String() string {
	return fmt.Sprintf("%s/%s", k.Domain, k.Config)
}

// Compare orders keys by domain, then by configuration name.
func (k ConfigKey) Compare(other ConfigKey) int {
	if c := cmp.Compare(k.Domain, other.Domain); c != 0 {
		return c
	}
	return cmp.Compare(k.Config, other.Config)
}

// Less reports whether k sorts before other.
func (k ConfigKey) Less(other ConfigKey) bool {
	return k.Compare(other) < 0
}

// HarvestSummary is the outcome of one completed harvest of a configuration.
type HarvestSummary struct {
	Bytes       int64     `db:"bytes"        json:"bytes"        yaml:"bytes"`
	Objects     int64     `db:"objects"      json:"objects"      yaml:"objects"`
	CompletedAt time.Time `db:"completed_at" json:"completed_at" yaml:"completed_at"`
}

// DomainConfiguration is a budgeted crawl target read from the catalog.
// The scheduler never mutates it.
type DomainConfiguration struct {
	Key      ConfigKey `yaml:",inline"`
	SeedList string    `yaml:"seed_list"`
	// Template is the crawl order template. A job only holds configurations
	// sharing one template.
	Template   string           `yaml:"template"`
	MaxBytes   int64            `yaml:"max_bytes"`
	MaxObjects int64            `yaml:"max_objects"`
	History    []HarvestSummary `yaml:"history"`
}

// LastHarvest returns the most recently completed summary.
func (c *DomainConfiguration) LastHarvest() (HarvestSummary, bool) {
	if len(c.History) == 0 {
		return HarvestSummary{}, false
	}
	latest := c.History[0]
	for _, h := range c.History[1:] {
		if h.CompletedAt.After(latest.CompletedAt) {
			latest = h
		}
	}
	return latest, true
}

// ZeroBudget reports whether both limits resolve to zero. Such configurations
// represent intentionally suspended domains.
func (c *DomainConfiguration) ZeroBudget() bool {
	return c.MaxBytes == 0 && c.MaxObjects == 0
}
