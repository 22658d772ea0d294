package device

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// StaticInventory resolves target specs against a fixed device list loaded
// from a YAML inventory file. Production deployments swap in a client for
// the real inventory service behind the same interface.
type StaticInventory struct {
	hosts []Host
}

// LoadStaticInventory reads a YAML file of the form:
//
//	devices:
//	  - name: edge-r1
//	    address: 10.0.0.1
//	    site: ams1
//	    role: edge
//	    vendor: juniper
//	    platform: junos
func LoadStaticInventory(path string) (*StaticInventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory file: %w", err)
	}

	var doc struct {
		Devices []Host `yaml:"devices"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse inventory file: %w", err)
	}

	return NewStaticInventory(doc.Devices), nil
}

// NewStaticInventory builds an inventory over the given hosts.
func NewStaticInventory(hosts []Host) *StaticInventory {
	return &StaticInventory{hosts: hosts}
}

// Resolve filters the inventory per the target spec. Explicit host names
// win over attribute filters; unknown names are silently skipped so the
// caller sees exactly the hosts that exist.
func (s *StaticInventory) Resolve(ctx context.Context, raw json.RawMessage) ([]Host, error) {
	var spec TargetSpec
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &spec); err != nil {
			return nil, fmt.Errorf("invalid target spec: %w", err)
		}
	}

	if len(spec.Hosts) > 0 {
		byName := make(map[string]Host, len(s.hosts))
		for _, h := range s.hosts {
			byName[h.Name] = h
		}
		var out []Host
		for _, name := range spec.Hosts {
			if h, ok := byName[name]; ok {
				out = append(out, h)
			}
		}
		return out, nil
	}

	var out []Host
	for _, h := range s.hosts {
		if spec.Site != "" && h.Site != spec.Site {
			continue
		}
		if spec.Role != "" && h.Role != spec.Role {
			continue
		}
		if spec.Vendor != "" && h.Vendor != spec.Vendor {
			continue
		}
		if spec.Platform != "" && h.Platform != spec.Platform {
			continue
		}
		out = append(out, h)
	}
	return out, nil
}
