package tuya

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// MappingTable maps datapoint and attribute keys to rules.
//
// In YAML the keys are strings:
//
//	"1":                       # or "dp1"
//	  capability: onoff
//	"0x0402.measuredValue":
//	  capability: measure_temperature
//	  divisor: 100
//
// A loaded table is read-only.
type MappingTable map[Key]Rule

// UnmarshalYAML decodes string keys through ParseKey and validates every rule.
func (t *MappingTable) UnmarshalYAML(node *yaml.Node) error {
	var raw map[string]Rule
	if err := node.Decode(&raw); err != nil {
		return err
	}

	table := make(MappingTable, len(raw))
	var errs []string
	for name, rule := range raw {
		key, err := ParseKey(name)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		if _, dup := table[key]; dup {
			errs = append(errs, fmt.Sprintf("%s: duplicate key (%q)", key, name))
			continue
		}
		if err := rule.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %s", key, err))
			continue
		}
		table[key] = rule
	}

	if len(errs) > 0 {
		sort.Strings(errs)
		return fmt.Errorf("mapping table: %s", joinErrors(errs))
	}
	*t = table
	return nil
}

// Lookup returns the rule for key.
func (t MappingTable) Lookup(key Key) (Rule, bool) {
	rule, ok := t[key]
	return rule, ok
}

// Merge returns a new table holding t's rules overlaid by other's.
func (t MappingTable) Merge(other MappingTable) MappingTable {
	out := make(MappingTable, len(t)+len(other))
	for k, r := range t {
		out[k] = r
	}
	for k, r := range other {
		out[k] = r
	}
	return out
}

// Keys returns the table's keys in a stable order: datapoints by id, then
// attributes by cluster and name.
func (t MappingTable) Keys() []Key {
	keys := make([]Key, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.IsAttribute() != b.IsAttribute() {
			return !a.IsAttribute()
		}
		if a.IsAttribute() {
			if a.Cluster != b.Cluster {
				return a.Cluster < b.Cluster
			}
			return a.Attribute < b.Attribute
		}
		return a.Datapoint < b.Datapoint
	})
	return keys
}

// LoadMappingTable reads a mapping table from a YAML file.
//
// Parameters:
//   - path: Path to the YAML file (a top-level map of key to rule)
//
// Returns:
//   - MappingTable: Validated table
//   - error: If the file cannot be read or any entry is invalid
func LoadMappingTable(path string) (MappingTable, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from bridge config
	if err != nil {
		return nil, fmt.Errorf("reading mapping file: %w", err)
	}

	var table MappingTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parsing mapping file %s: %w", path, err)
	}
	if table == nil {
		table = MappingTable{}
	}
	return table, nil
}
