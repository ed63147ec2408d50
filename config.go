package cypher

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ErrConfigNotFound is returned when no config file exists up the tree.
var ErrConfigNotFound = errors.New("no .pgraf-cypher.yaml found")

// Config represents the .pgraf-cypher.yaml configuration file used by the
// CLI. The library itself takes Options per call and never reads files.
type Config struct {
	// Connection holds settings for the execution facade.
	Connection ConnectionConfig `yaml:"connection,omitempty"`

	// Schema is the PostgreSQL schema holding the graph tables.
	Schema string `yaml:"schema,omitempty"`

	// NodesTable and EdgesTable override the graph table names.
	NodesTable string `yaml:"nodes_table,omitempty"`
	EdgesTable string `yaml:"edges_table,omitempty"`

	// MaxPathDepth bounds unbounded variable-length traversals.
	MaxPathDepth int `yaml:"max_path_depth,omitempty"`
}

// ConnectionConfig holds database connection settings.
type ConnectionConfig struct {
	// URI is the PostgreSQL DSN (e.g. "postgres://localhost:5432/graph").
	URI string `yaml:"uri"`
}

// Options projects the file settings onto emitter options.
func (c *Config) Options() Options {
	return Options{
		Schema:       c.Schema,
		NodesTable:   c.NodesTable,
		EdgesTable:   c.EdgesTable,
		MaxPathDepth: c.MaxPathDepth,
	}.withDefaults()
}

// DefaultConfigNames are the filenames we search for.
var DefaultConfigNames = []string{".pgraf-cypher.yaml", ".pgraf-cypher.yml", "pgraf-cypher.yaml", "pgraf-cypher.yml"}

// LoadConfig finds and loads the nearest config walking up from dir.
func LoadConfig(dir string) (*Config, error) {
	path, err := FindConfig(dir)
	if err != nil {
		return nil, err
	}

	return LoadConfigFile(path)
}

// FindConfig searches for a config file starting from dir and walking up.
func FindConfig(dir string) (string, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}

	for dir := absDir; ; {
		for _, name := range DefaultConfigNames {
			path := filepath.Join(dir, name)

			_, err := os.Stat(path)
			if err == nil {
				return path, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrConfigNotFound
		}

		dir = parent
	}
}

// LoadConfigFile loads a config from a specific path.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}

	var cfg Config

	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
