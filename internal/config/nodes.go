package config

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/fleetwatch/gpu-observer/pkg/model"
)

// nodesDocument is the top-level shape of nodes.yaml.
type nodesDocument struct {
	Nodes []rawNode `yaml:"nodes"`
}

// rawNode mirrors model.NodeDescriptor but with pointer fields so the
// loader can tell "absent" apart from "zero value" when validating required
// keys.
type rawNode struct {
	Name     *string `yaml:"name"`
	Host     *string `yaml:"host"`
	Port     *int    `yaml:"port"`
	User     *string `yaml:"user"`
	GPUCount *int    `yaml:"gpu_count"`
}

// LoadNodes reads and validates the node inventory document. Entries missing
// a required key are dropped with a warning rather than failing the whole
// load. The process fails start-up (non-nil error) only if the file is
// unreadable/unparseable or the resulting node list is empty.
func LoadNodes(path string) ([]model.NodeDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading nodes file %s: %w", path, err)
	}

	var doc nodesDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: parsing nodes file %s: %w", path, err)
	}

	nodes := make([]model.NodeDescriptor, 0, len(doc.Nodes))
	for i, n := range doc.Nodes {
		if n.Name == nil || n.Host == nil || n.Port == nil || n.User == nil || n.GPUCount == nil {
			slog.Warn("config: dropping node entry missing a required key",
				"index", i)
			continue
		}
		nodes = append(nodes, model.NodeDescriptor{
			Name:     *n.Name,
			Host:     *n.Host,
			Port:     *n.Port,
			User:     *n.User,
			GPUCount: *n.GPUCount,
		})
	}

	if len(nodes) == 0 {
		return nil, fmt.Errorf("config: node list is empty after loading %s", path)
	}

	return nodes, nil
}
