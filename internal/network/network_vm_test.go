//go:build linux

package network

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vishvananda/netlink"

	"grimm.is/hostnet/internal/netstate"
	"grimm.is/hostnet/internal/plugin"
	"grimm.is/hostnet/internal/schema"
	"grimm.is/hostnet/internal/testutil"
)

func addDummy(t *testing.T, name string) {
	t.Helper()
	attrs := netlink.NewLinkAttrs()
	attrs.Name = name
	require.NoError(t, netlink.LinkAdd(&netlink.Dummy{LinkAttrs: attrs}))
}

// applyDesired runs the full pipeline against the live namespace and
// verifies the result.
func applyDesired(t *testing.T, set *plugin.Set, desired string) {
	t.Helper()
	ctx := context.Background()
	doc, err := schema.Parse([]byte(desired), schema.FormatYAML)
	require.NoError(t, err)

	current, err := set.CurrentState(ctx)
	require.NoError(t, err)
	ns, err := netstate.New(doc, current, netstate.Options{GlobalDNSCapable: true})
	require.NoError(t, err)
	require.NoError(t, ns.PreMergeValidate())
	require.NoError(t, ns.Merge())
	ns.Sanitize()
	require.NoError(t, ns.PostMergeValidate())
	require.NoError(t, ns.GenerateMetadata())
	require.NoError(t, set.ApplyChanges(ctx, ns.ChangeSet(), false))

	after, err := set.CurrentState(ctx)
	require.NoError(t, err)
	require.NoError(t, ns.Verify(after))
}

func TestPluginAppliesBond(t *testing.T) {
	testutil.WithNetns(t)
	addDummy(t, "eth1")
	addDummy(t, "eth2")

	p := NewPlugin(
		WithNetlinker(NewNetlinker(nil)),
		WithSystemController(ProcFS{}),
		WithResolvConf(filepath.Join(t.TempDir(), "resolv.conf")),
	)
	set, err := plugin.NewSet(p)
	require.NoError(t, err)

	applyDesired(t, set, `
interfaces:
- name: bond0
  type: bond
  state: up
  mtu: 1400
  ipv4:
    enabled: true
    address:
    - ip: 192.0.2.10
      prefix-length: 24
  link-aggregation:
    mode: active-backup
    options:
      miimon: 100
    slaves: [eth1, eth2]
routes:
  config:
  - destination: 203.0.113.0/24
    next-hop-interface: bond0
    next-hop-address: 192.0.2.1
    table-id: 200
route-rules:
  config:
  - ip-from: 198.51.100.0/24
    priority: 1000
    route-table: 200
`)

	bond, err := netlink.LinkByName("bond0")
	require.NoError(t, err)
	assert.Equal(t, 1400, bond.Attrs().MTU)
	for _, name := range []string{"eth1", "eth2"} {
		slave, err := netlink.LinkByName(name)
		require.NoError(t, err)
		assert.Equal(t, bond.Attrs().Index, slave.Attrs().MasterIndex, name)
	}

	rules, err := netlink.RuleList(familyV4)
	require.NoError(t, err)
	found := false
	for _, r := range rules {
		if r.Priority == 1000 && r.Table == 200 {
			found = true
		}
	}
	assert.True(t, found, "rule installed")
}

func TestPluginCheckpointRollback(t *testing.T) {
	testutil.WithNetns(t)
	addDummy(t, "eth1")

	p := NewPlugin(
		WithNetlinker(NewNetlinker(nil)),
		WithSystemController(ProcFS{}),
		WithResolvConf(filepath.Join(t.TempDir(), "resolv.conf")),
	)
	set, err := plugin.NewSet(p)
	require.NoError(t, err)

	ctx := context.Background()
	id, err := set.CreateCheckpoint(ctx, time.Minute)
	require.NoError(t, err)

	applyDesired(t, set, `
interfaces:
- name: br0
  type: linux-bridge
  state: up
  bridge:
    port:
    - name: eth1
- name: eth1
  type: ethernet
  state: up
  mtu: 1300
`)
	_, err = netlink.LinkByName("br0")
	require.NoError(t, err)

	require.NoError(t, set.RollbackCheckpoint(ctx, id))

	_, err = netlink.LinkByName("br0")
	assert.ErrorAs(t, err, &netlink.LinkNotFoundError{})
	eth1, err := netlink.LinkByName("eth1")
	require.NoError(t, err)
	assert.Equal(t, 1500, eth1.Attrs().MTU)
	assert.Zero(t, eth1.Attrs().MasterIndex)
}
