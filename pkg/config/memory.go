package config

// MemoryConfig locates and bounds the persistent stores.
type MemoryConfig struct {
	// Dir is the root directory for all persisted state
	// (episodic.db, vector.db, *.json, snapshots/, archives/).
	Dir string `yaml:"dir"`

	// EpisodicRetentionDays is the age at which episodes are moved to the
	// monthly archive database.
	EpisodicRetentionDays int `yaml:"episodic_retention_days"`

	// VectorRetentionDays is the age at which vector records are deleted.
	VectorRetentionDays int `yaml:"vector_retention_days"`

	// EmbeddingDim is the expected embedding dimension; records with any
	// other dimension are rejected.
	EmbeddingDim int `yaml:"embedding_dim"`

	// ArchiveEveryNTicks is the heavy-tick cadence of episodic archival.
	ArchiveEveryNTicks int `yaml:"archive_every_n_ticks"`

	// VectorCleanupEveryNTicks is the heavy-tick cadence of vector-store
	// retention cleanup.
	VectorCleanupEveryNTicks int `yaml:"vector_cleanup_every_n_ticks"`

	// SnapshotKeep is how many timestamped state snapshots the light tick
	// retains.
	SnapshotKeep int `yaml:"snapshot_keep"`
}

// DefaultMemoryConfig returns the built-in store settings.
func DefaultMemoryConfig() *MemoryConfig {
	return &MemoryConfig{
		Dir:                      "memory",
		EpisodicRetentionDays:    90,
		VectorRetentionDays:      30,
		EmbeddingDim:             768,
		ArchiveEveryNTicks:       500,
		VectorCleanupEveryNTicks: 1000,
		SnapshotKeep:             10,
	}
}
