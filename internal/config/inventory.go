package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/fleetwatch/gpu-observer/pkg/model"
)

// inventoryDocument is the top-level shape of gpu_inventory.yaml: a
// defaults block applied underneath any per-node override.
type inventoryDocument struct {
	Defaults model.GPUInventoryEntry            `yaml:"defaults"`
	Nodes    map[string]model.GPUInventoryEntry `yaml:"nodes"`
}

// Inventory is the merged, queryable view of static per-node GPU facts.
type Inventory struct {
	defaults model.GPUInventoryEntry
	perNode  map[string]model.GPUInventoryEntry
}

// LoadInventory reads the GPU inventory document. Unlike LoadNodes, this
// input is optional: a missing file yields an empty Inventory (defaults
// applied, no per-node overrides) rather than an error.
func LoadInventory(path string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Inventory{perNode: map[string]model.GPUInventoryEntry{}}, nil
		}
		return nil, fmt.Errorf("config: reading inventory file %s: %w", path, err)
	}

	var doc inventoryDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: parsing inventory file %s: %w", path, err)
	}
	if doc.Nodes == nil {
		doc.Nodes = map[string]model.GPUInventoryEntry{}
	}

	return &Inventory{defaults: doc.Defaults, perNode: doc.Nodes}, nil
}

// Fallback inventory facts applied when neither a per-node override nor the
// defaults block names a value, matching the original observer's hardcoded
// "Simulated GPU" / 8 cores / 16 GB baseline for nodes with no inventory
// entry at all. power_limit_watts has no such fallback upstream either — it
// stays zero (omitted) when unconfigured.
const (
	fallbackGPUName    = "Simulated GPU"
	fallbackCoresTotal = 8
	fallbackMemTotalGB = 16
)

// Lookup returns the effective inventory entry for a node: any per-node
// field left at its zero value falls back to the defaults block, and any
// field still zero after that falls back to the hardcoded baseline.
func (inv *Inventory) Lookup(node string) model.GPUInventoryEntry {
	entry := inv.defaults
	if override, ok := inv.perNode[node]; ok {
		if override.GPUName != "" {
			entry.GPUName = override.GPUName
		}
		if override.CoresTotal != 0 {
			entry.CoresTotal = override.CoresTotal
		}
		if override.MemTotalGB != 0 {
			entry.MemTotalGB = override.MemTotalGB
		}
		if override.PowerLimitWatts != 0 {
			entry.PowerLimitWatts = override.PowerLimitWatts
		}
	}

	if entry.GPUName == "" {
		entry.GPUName = fallbackGPUName
	}
	if entry.CoresTotal == 0 {
		entry.CoresTotal = fallbackCoresTotal
	}
	if entry.MemTotalGB == 0 {
		entry.MemTotalGB = fallbackMemTotalGB
	}
	return entry
}
