package dispatch

import (
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/config"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/domain"
)

// ChannelMap picks the harvest channel for a definition's jobs.
type ChannelMap struct {
	Snapshot string
	Focused  string
}

// ChannelMapFromConfig returns the configured default channels.
func ChannelMapFromConfig(cfg config.JobGenConfig) ChannelMap {
	return ChannelMap{Snapshot: cfg.DefaultSnapshotChannel, Focused: cfg.DefaultFocusedChannel}
}

// ChannelFor returns the definition's own channel, or the default for its kind.
func (m ChannelMap) ChannelFor(def *domain.HarvestDefinition) string {
	if def.Channel != "" {
		return def.Channel
	}
	if def.IsSnapshot() {
		return m.Snapshot
	}
	return m.Focused
}
