// Package eventcatalog reads the gateway event catalog and checks two
// revisions of it for backward-incompatible changes.
package eventcatalog

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Event describes one frame type.
type Event struct {
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Fields      []string `yaml:"fields" json:"fields"`
}

// Catalog lists the events a client may send and receive.
type Catalog struct {
	Version  int              `yaml:"version" json:"version"`
	Inbound  map[string]Event `yaml:"inbound" json:"inbound"`
	Outbound map[string]Event `yaml:"outbound" json:"outbound"`
}

// Parse decodes a YAML catalog.
func Parse(raw []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("parse event catalog: %w", err)
	}
	if len(c.Inbound) == 0 && len(c.Outbound) == 0 {
		return nil, errors.New("event catalog lists no events")
	}
	for side, events := range map[string]map[string]Event{"inbound": c.Inbound, "outbound": c.Outbound} {
		for name, ev := range events {
			if strings.TrimSpace(name) == "" {
				return nil, fmt.Errorf("%s event with empty name", side)
			}
			if dup := firstDuplicate(ev.Fields); dup != "" {
				return nil, fmt.Errorf("%s event %s lists field %q twice", side, name, dup)
			}
		}
	}
	return &c, nil
}

// Load reads and parses a catalog file.
func Load(path string) (*Catalog, error) {
	// #nosec G304: path comes from CLI flags in a dev tool
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// InboundNames returns the client-to-server event names, sorted.
func (c *Catalog) InboundNames() []string {
	return sortedKeys(c.Inbound)
}

// OutboundNames returns the server-to-client event names, sorted.
func (c *Catalog) OutboundNames() []string {
	return sortedKeys(c.Outbound)
}

// Compare lists what revision removed from base. Additions are compatible.
func Compare(base, revision *Catalog) []string {
	issues := compareSide("inbound", base.Inbound, revision.Inbound)
	issues = append(issues, compareSide("outbound", base.Outbound, revision.Outbound)...)
	sort.Strings(issues)
	return issues
}

func compareSide(side string, base, revision map[string]Event) []string {
	var issues []string
	for name, ev := range base {
		rev, ok := revision[name]
		if !ok {
			issues = append(issues, fmt.Sprintf("removed %s event: %s", side, name))
			continue
		}
		for _, field := range ev.Fields {
			if !slices.Contains(rev.Fields, field) {
				issues = append(issues, fmt.Sprintf("removed field: %s %s.%s", side, name, field))
			}
		}
	}
	return issues
}

func sortedKeys(m map[string]Event) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func firstDuplicate(fields []string) string {
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			return f
		}
		seen[f] = struct{}{}
	}
	return ""
}
