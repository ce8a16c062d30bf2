// Package config provides configuration loading and validation for the
// point-cloud index: grid shifts, worker/cache sizing, compression, and
// per-attribute summary-index tuning.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// PriorityFunction selects the comparator the task inbox uses to choose the
// next cell to work on.
type PriorityFunction string

const (
	PriorityNrPoints                        PriorityFunction = "nr_points"
	PriorityLod                             PriorityFunction = "lod"
	PriorityOldestPoint                     PriorityFunction = "oldest_point"
	PriorityNewestPoint                     PriorityFunction = "newest_point"
	PriorityTaskAge                         PriorityFunction = "task_age"
	PriorityNrPointsWeightedByTaskAge        PriorityFunction = "nr_points_weighted_by_task_age"
	PriorityNrPointsWeightedByOldestPoint    PriorityFunction = "nr_points_weighted_by_oldest_point"
	PriorityNrPointsWeightedByNegNewestPoint PriorityFunction = "nr_points_weighted_by_neg_newest_point"
)

// AttributeIndexConfig tunes the summary-index bin budget for one attribute.
type AttributeIndexConfig struct {
	BinCount int `yaml:"bin_count"`
}

// AttributeIndexesConfig carries the per-attribute bin-count settings
// enumerated for the summary index.
type AttributeIndexesConfig struct {
	Intensity      AttributeIndexConfig `yaml:"intensity"`
	ReturnNumber   AttributeIndexConfig `yaml:"return_number"`
	Classification AttributeIndexConfig `yaml:"classification"`
	ScanAngleRank  AttributeIndexConfig `yaml:"scan_angle_rank"`
	UserData       AttributeIndexConfig `yaml:"user_data"`
	PointSourceID  AttributeIndexConfig `yaml:"point_source_id"`
	Color          AttributeIndexConfig `yaml:"color"`
}

// IndexConfig is the complete set of options recognized by the index.
type IndexConfig struct {
	// NodeHierarchyShift sets the integer grid shift used to map a LOD to
	// a node cell size.
	NodeHierarchyShift int `yaml:"node_hierarchy_shift"`
	// PointHierarchyShift sets the finer sub-grid shift used by sampling.
	PointHierarchyShift int `yaml:"point_hierarchy_shift"`

	NumThreads int  `yaml:"num_threads"`
	CacheSize  int  `yaml:"cache_size"`
	Compression bool `yaml:"compression"`

	MaxBogusInner int  `yaml:"max_bogus_inner"`
	MaxBogusLeaf  int  `yaml:"max_bogus_leaf"`
	MaxLod        uint8 `yaml:"max_lod"`

	PriorityFunction PriorityFunction `yaml:"priority_function"`

	EnableAttributeIndex         bool                   `yaml:"enable_attribute_index"`
	EnableHistogramAcceleration bool                   `yaml:"enable_histogram_acceleration"`
	AttributeIndexes             AttributeIndexesConfig `yaml:"attribute_indexes"`

	Storage StorageConfig `yaml:"storage"`
}

// Default returns the configuration the index uses when none is supplied.
func Default() *IndexConfig {
	return &IndexConfig{
		NodeHierarchyShift:  5,
		PointHierarchyShift: 0,
		NumThreads:          4,
		CacheSize:           1 << 16,
		Compression:         true,
		MaxBogusInner:       64,
		MaxBogusLeaf:        64,
		MaxLod:              20,
		PriorityFunction:    PriorityTaskAge,
		EnableAttributeIndex:         true,
		EnableHistogramAcceleration: true,
		AttributeIndexes: AttributeIndexesConfig{
			Intensity:      AttributeIndexConfig{BinCount: 32},
			ReturnNumber:   AttributeIndexConfig{BinCount: 8},
			Classification: AttributeIndexConfig{BinCount: 32},
			ScanAngleRank:  AttributeIndexConfig{BinCount: 32},
			UserData:       AttributeIndexConfig{BinCount: 16},
			PointSourceID:  AttributeIndexConfig{BinCount: 16},
			Color:          AttributeIndexConfig{BinCount: 32},
		},
		Storage: StorageConfig{Backend: "local", LocalPath: "./data"},
	}
}

// Load reads and validates an IndexConfig from a YAML file, filling unset
// fields from Default.
func Load(path string) (*IndexConfig, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration to path as YAML, creating parent
// directories as needed.
func (c *IndexConfig) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks that every field is within its admissible range.
func (c *IndexConfig) Validate() error {
	if c.NumThreads <= 0 {
		return fmt.Errorf("num_threads must be > 0, got %d", c.NumThreads)
	}
	if c.CacheSize <= 0 {
		return fmt.Errorf("cache_size must be > 0, got %d", c.CacheSize)
	}
	if c.MaxBogusInner <= 0 || c.MaxBogusLeaf <= 0 {
		return fmt.Errorf("max_bogus_inner and max_bogus_leaf must be > 0")
	}
	switch c.PriorityFunction {
	case PriorityNrPoints, PriorityLod, PriorityOldestPoint, PriorityNewestPoint,
		PriorityTaskAge, PriorityNrPointsWeightedByTaskAge,
		PriorityNrPointsWeightedByOldestPoint, PriorityNrPointsWeightedByNegNewestPoint:
	default:
		return fmt.Errorf("unknown priority_function: %q", c.PriorityFunction)
	}
	for name, ac := range map[string]AttributeIndexConfig{
		"intensity":       c.AttributeIndexes.Intensity,
		"return_number":   c.AttributeIndexes.ReturnNumber,
		"classification":  c.AttributeIndexes.Classification,
		"scan_angle_rank": c.AttributeIndexes.ScanAngleRank,
		"user_data":       c.AttributeIndexes.UserData,
		"point_source_id": c.AttributeIndexes.PointSourceID,
		"color":           c.AttributeIndexes.Color,
	} {
		if c.EnableAttributeIndex && ac.BinCount <= 0 {
			return fmt.Errorf("attribute_indexes.%s.bin_count must be > 0", name)
		}
	}
	return c.Storage.Validate()
}

// StorageConfig selects and configures the node-file/attribute-index-file
// storage backend.
type StorageConfig struct {
	Backend   string `yaml:"backend"` // local, s3, gcs, azure
	LocalPath string `yaml:"local_path,omitempty"`

	S3    S3Config    `yaml:"s3,omitempty"`
	Azure AzureConfig `yaml:"azure,omitempty"`
	GCS   GCSConfig   `yaml:"gcs,omitempty"`
}

func (c StorageConfig) Validate() error {
	switch c.Backend {
	case "local", "":
		if c.LocalPath == "" {
			return fmt.Errorf("storage.local_path required for local backend")
		}
	case "s3":
		if c.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket required for s3 backend")
		}
	case "azure":
		if c.Azure.Container == "" {
			return fmt.Errorf("storage.azure.container required for azure backend")
		}
	case "gcs":
		if c.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket required for gcs backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend: %q", c.Backend)
	}
	return nil
}

// S3Config configures the AWS S3 storage backend.
type S3Config struct {
	Region string `yaml:"region"`
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix,omitempty"`
}

// AzureConfig configures the Azure Blob storage backend.
type AzureConfig struct {
	AccountName string `yaml:"account_name"`
	Container   string `yaml:"container"`
	Prefix      string `yaml:"prefix,omitempty"`
}

// GCSConfig configures the Google Cloud Storage backend.
type GCSConfig struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix,omitempty"`
}
