package device

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHosts() []Host {
	return []Host{
		{Name: "edge-r1", Address: "10.0.0.1", Site: "ams1", Role: "edge", Vendor: "juniper", Platform: "junos"},
		{Name: "edge-r2", Address: "10.0.0.2", Site: "ams1", Role: "edge", Vendor: "juniper", Platform: "junos"},
		{Name: "core-r1", Address: "10.0.1.1", Site: "ams1", Role: "core", Vendor: "cisco", Platform: "iosxr"},
		{Name: "agg-sw1", Address: "10.0.2.1", Site: "fra1", Role: "aggregation", Vendor: "arista", Platform: "eos"},
	}
}

func TestStaticInventory_Resolve(t *testing.T) {
	inv := NewStaticInventory(testHosts())

	tests := []struct {
		name      string
		spec      string
		wantNames []string
	}{
		{
			name:      "explicit host names",
			spec:      `{"hosts":["edge-r1","core-r1"]}`,
			wantNames: []string{"edge-r1", "core-r1"},
		},
		{
			name:      "explicit names win over filters",
			spec:      `{"hosts":["agg-sw1"],"role":"edge"}`,
			wantNames: []string{"agg-sw1"},
		},
		{
			name:      "unknown names are skipped",
			spec:      `{"hosts":["edge-r1","ghost-r9"]}`,
			wantNames: []string{"edge-r1"},
		},
		{
			name:      "role filter",
			spec:      `{"role":"edge"}`,
			wantNames: []string{"edge-r1", "edge-r2"},
		},
		{
			name:      "filters combine with AND",
			spec:      `{"site":"ams1","vendor":"cisco"}`,
			wantNames: []string{"core-r1"},
		},
		{
			name:      "empty spec matches everything",
			spec:      `{}`,
			wantNames: []string{"edge-r1", "edge-r2", "core-r1", "agg-sw1"},
		},
		{
			name:      "no match yields empty set",
			spec:      `{"site":"lhr1"}`,
			wantNames: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hosts, err := inv.Resolve(context.Background(), json.RawMessage(tt.spec))
			require.NoError(t, err)

			var names []string
			for _, h := range hosts {
				names = append(names, h.Name)
			}
			assert.Equal(t, tt.wantNames, names)
		})
	}
}

func TestStaticInventory_ResolveInvalidSpec(t *testing.T) {
	inv := NewStaticInventory(testHosts())

	_, err := inv.Resolve(context.Background(), json.RawMessage(`{"hosts":`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid target spec")
}

func TestLoadStaticInventory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "inventory.yaml")
	content := `devices:
  - name: edge-r1
    address: 10.0.0.1
    site: ams1
    role: edge
    vendor: juniper
    platform: junos
  - name: core-r1
    address: 10.0.1.1
    site: ams1
    role: core
    vendor: cisco
    platform: iosxr
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	inv, err := LoadStaticInventory(path)
	require.NoError(t, err)

	hosts, err := inv.Resolve(context.Background(), json.RawMessage(`{"role":"core"}`))
	require.NoError(t, err)
	require.Len(t, hosts, 1)
	assert.Equal(t, "core-r1", hosts[0].Name)
	assert.Equal(t, "iosxr", hosts[0].Platform)
}

func TestLoadStaticInventory_Missing(t *testing.T) {
	_, err := LoadStaticInventory(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read inventory file")
}
