package applier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/hostnet/internal/errkind"
	"grimm.is/hostnet/internal/netstate"
	"grimm.is/hostnet/internal/plugin"
	"grimm.is/hostnet/internal/schema"
	"grimm.is/hostnet/internal/state"
)

const hostState = `
interfaces:
- name: eth0
  type: ethernet
  state: up
  mtu: 1500
  ipv4:
    enabled: true
    address:
    - ip: 192.0.2.10
      prefix-length: 24
- name: eth1
  type: ethernet
  state: down
  mtu: 1500
  ipv4:
    enabled: false
  ipv6:
    enabled: false
routes:
  config:
  - destination: 0.0.0.0/0
    next-hop-interface: eth0
    next-hop-address: 192.0.2.1
    metric: 100
    table-id: 254
`

const eth1Up = `
interfaces:
- name: eth1
  type: ethernet
  state: up
  mtu: 9000
  ipv4:
    enabled: true
    address:
    - ip: 198.51.100.7
      prefix-length: 24
`

func parse(t *testing.T, y string) *schema.Document {
	t.Helper()
	doc, err := schema.Parse([]byte(y), schema.FormatYAML)
	require.NoError(t, err)
	return doc
}

func newApplier(t *testing.T, opts Options, plugins ...plugin.Plugin) *Applier {
	t.Helper()
	set, err := plugin.NewSet(plugins...)
	require.NoError(t, err)
	return New(set, opts)
}

func eth1(t *testing.T, fake *plugin.FakePlugin) *schema.InterfaceDoc {
	t.Helper()
	iface := fake.Document().Interface("eth1")
	require.NotNil(t, iface)
	return iface
}

func TestApplyCommits(t *testing.T) {
	fake := plugin.NewFakePlugin("fake", parse(t, hostState))
	a := newApplier(t, Options{}, fake)

	res, err := a.Apply(context.Background(), parse(t, eth1Up), DefaultApplyOptions())
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, []string{"eth1"}, res.Interfaces)
	assert.Empty(t, res.CheckpointID)
	assert.Nil(t, fake.Checkpoints().Active(), "checkpoint committed")
	assert.Equal(t, []bool{true}, fake.Persisted())

	assert.Equal(t, schema.StateUp, eth1(t, fake).State)
	assert.Equal(t, 9000, *eth1(t, fake).MTU)

	// Applying again is a no-op and opens no checkpoint.
	res, err = a.Apply(context.Background(), parse(t, eth1Up), DefaultApplyOptions())
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Len(t, fake.Applied(), 1)
}

func TestApplyFailureRollsBack(t *testing.T) {
	fake := plugin.NewFakePlugin("fake", parse(t, hostState))
	fake.FailApply = errors.New("device busy")
	a := newApplier(t, Options{}, fake)

	res, err := a.Apply(context.Background(), parse(t, eth1Up), DefaultApplyOptions())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device busy")
	require.NotNil(t, res)
	assert.True(t, res.RolledBack)

	assert.Equal(t, schema.StateDown, eth1(t, fake).State, "pre-apply state restored")
	assert.Equal(t, 1500, *eth1(t, fake).MTU)
	assert.Nil(t, fake.Checkpoints().Active())
}

func TestApplyVerificationFailureRollsBack(t *testing.T) {
	fake := plugin.NewFakePlugin("fake", parse(t, hostState))
	fake.AfterApply = func(doc *schema.Document) {
		doc.Interface("eth1").MTU = schema.Ptr(1400)
	}
	a := newApplier(t, Options{VerifyRetries: 2}, fake)

	res, err := a.Apply(context.Background(), parse(t, eth1Up), DefaultApplyOptions())
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.Verification))
	assert.Contains(t, errkind.DiffOf(err), "mtu")
	assert.True(t, res.RolledBack)
	assert.Equal(t, 1500, *eth1(t, fake).MTU)
	assert.Equal(t, schema.StateDown, eth1(t, fake).State)
}

// settlingPlugin reports drifted state until the nth interface read.
type settlingPlugin struct {
	*plugin.FakePlugin
	reads   int
	settle  int
	settled *schema.Document
}

func (p *settlingPlugin) Interfaces(ctx context.Context) ([]schema.InterfaceDoc, error) {
	p.reads++
	if p.reads == p.settle && p.settled != nil {
		p.SetDocument(p.settled)
	}
	return p.FakePlugin.Interfaces(ctx)
}

func TestApplyVerificationRetries(t *testing.T) {
	fake := plugin.NewFakePlugin("fake", parse(t, hostState))
	p := &settlingPlugin{FakePlugin: fake, settle: 3}
	fake.AfterApply = func(doc *schema.Document) {
		p.settled = doc.Clone()
		doc.Interface("eth1").State = schema.StateDown
	}
	a := newApplier(t, Options{VerifyRetries: 1}, p)

	res, err := a.Apply(context.Background(), parse(t, eth1Up), DefaultApplyOptions())
	require.NoError(t, err)
	assert.False(t, res.RolledBack)
	assert.Equal(t, 3, p.reads, "query, failed verify, passing verify")
	assert.Equal(t, schema.StateUp, eth1(t, fake).State)
}

func TestApplyWithoutVerify(t *testing.T) {
	fake := plugin.NewFakePlugin("fake", parse(t, hostState))
	fake.AfterApply = func(doc *schema.Document) {
		doc.Interface("eth1").MTU = schema.Ptr(1400)
	}
	a := newApplier(t, Options{}, fake)

	opts := DefaultApplyOptions()
	opts.Verify = false
	_, err := a.Apply(context.Background(), parse(t, eth1Up), opts)
	require.NoError(t, err)
	assert.Equal(t, 1400, *eth1(t, fake).MTU)
}

func TestApplyProbeFailureRollsBack(t *testing.T) {
	fake := plugin.NewFakePlugin("fake", parse(t, hostState))
	var probed []string
	a := newApplier(t, Options{
		ProbeTargets: []string{"192.0.2.1"},
		ProbeTimeout: time.Second,
		Probe: func(targets []string, timeout time.Duration) error {
			probed = targets
			return errors.New("192.0.2.1: timeout")
		},
	}, fake)

	res, err := a.Apply(context.Background(), parse(t, eth1Up), DefaultApplyOptions())
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.Verification))
	assert.Contains(t, err.Error(), "connectivity check failed")
	assert.Equal(t, []string{"192.0.2.1"}, probed)
	assert.True(t, res.RolledBack)
	assert.Equal(t, schema.StateDown, eth1(t, fake).State)
}

func TestApplyWithoutCommit(t *testing.T) {
	ctx := context.Background()
	fake := plugin.NewFakePlugin("fake", parse(t, hostState))
	a := newApplier(t, Options{CheckpointTimeout: time.Hour}, fake)

	opts := DefaultApplyOptions()
	opts.Commit = false
	res, err := a.Apply(ctx, parse(t, eth1Up), opts)
	require.NoError(t, err)
	require.NotEmpty(t, res.CheckpointID)
	cp := fake.Checkpoints().Active()
	require.NotNil(t, cp)
	assert.Equal(t, time.Hour, cp.Timeout)

	require.NoError(t, a.Commit(ctx, res.CheckpointID))
	assert.Nil(t, fake.Checkpoints().Active())
	assert.Equal(t, schema.StateUp, eth1(t, fake).State)

	// A second round rolled back by an empty ID.
	res, err = a.Apply(ctx, parse(t, `
interfaces:
- name: eth1
  type: ethernet
  state: down
`), opts)
	require.NoError(t, err)
	require.NotEmpty(t, res.CheckpointID)
	assert.Equal(t, schema.StateDown, eth1(t, fake).State)

	require.NoError(t, a.Rollback(ctx, ""))
	assert.Equal(t, schema.StateUp, eth1(t, fake).State)
	assert.Nil(t, fake.Checkpoints().Active())
}

func TestApplyConflict(t *testing.T) {
	ctx := context.Background()
	fake := plugin.NewFakePlugin("fake", parse(t, hostState))
	_, err := fake.CreateCheckpoint(ctx, 0)
	require.NoError(t, err)

	a := newApplier(t, Options{}, fake)
	_, err = a.Apply(ctx, parse(t, eth1Up), DefaultApplyOptions())
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.Conflict))
	assert.Empty(t, fake.Applied())
}

func TestApplyRejectsBeforeTouchingHost(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		kind errkind.Kind
	}{
		{
			name: "ovs without capability",
			doc: `
interfaces:
- name: ovs0
  type: ovs-bridge
  state: up
`,
			kind: errkind.NotImplemented,
		},
		{
			name: "invalid address",
			doc: `
interfaces:
- name: eth1
  type: ethernet
  state: up
  ipv4:
    enabled: true
    address:
    - ip: 300.1.1.1
      prefix-length: 24
`,
			kind: errkind.Value,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := plugin.NewFakePlugin("fake", parse(t, hostState))
			a := newApplier(t, Options{}, fake)
			_, err := a.Apply(context.Background(), parse(t, tt.doc), DefaultApplyOptions())
			require.Error(t, err)
			assert.True(t, errkind.Is(err, tt.kind), "got %v", err)
			assert.Empty(t, fake.Applied())
			assert.Nil(t, fake.Checkpoints().Active())
		})
	}
}

func TestApplyRecordsHistory(t *testing.T) {
	store, err := state.NewSQLiteStore(state.DefaultOptions(":memory:"))
	require.NoError(t, err)
	defer store.Close()
	history, err := state.NewHistoryBucket(store, 10)
	require.NoError(t, err)

	fake := plugin.NewFakePlugin("fake", parse(t, hostState))
	a := newApplier(t, Options{History: history}, fake)

	_, err = a.Apply(context.Background(), parse(t, eth1Up), DefaultApplyOptions())
	require.NoError(t, err)
	_, err = a.Apply(context.Background(), parse(t, eth1Up), DefaultApplyOptions())
	require.NoError(t, err)

	records, err := a.History()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "noop", records[0].Result)
	assert.Equal(t, "success", records[1].Result)
	assert.Equal(t, []string{"eth1"}, records[1].Interfaces)
}

func TestShowFilters(t *testing.T) {
	fake := plugin.NewFakePlugin("fake", parse(t, hostState))
	a := newApplier(t, Options{}, fake)

	doc, err := a.Show(context.Background())
	require.NoError(t, err)
	assert.Len(t, doc.Interfaces, 2)

	doc, err = a.Show(context.Background(), "eth1")
	require.NoError(t, err)
	require.Len(t, doc.Interfaces, 1)
	assert.Equal(t, "eth1", doc.Interfaces[0].Name)
	assert.Len(t, doc.ConfigRoutes(), 1, "routes are not filtered")

	doc, err = a.Show(context.Background(), "eth*")
	require.NoError(t, err)
	assert.Len(t, doc.Interfaces, 2)

	_, err = a.Show(context.Background(), "eth[")
	assert.True(t, errkind.Is(err, errkind.Value))
}

// genPlugin renders the names of the interfaces it is handed.
type genPlugin struct {
	*plugin.FakePlugin
	got *netstate.ChangeSet
}

func (p *genPlugin) GenerateConfigurations(cs *netstate.ChangeSet) (map[string][]string, error) {
	p.got = cs
	return map[string][]string{"interfaces": cs.Names()}, nil
}

func TestGenerateConfig(t *testing.T) {
	p := &genPlugin{FakePlugin: plugin.NewFakePlugin("fake", parse(t, hostState))}
	a := newApplier(t, Options{}, p)

	out, err := a.GenerateConfig(parse(t, eth1Up))
	require.NoError(t, err)
	assert.Equal(t, []string{"eth1"}, out["interfaces"])
	require.NotNil(t, p.got)
	assert.True(t, p.got.Interface("eth1").New, "nothing is read from the host")
	assert.Empty(t, p.Applied())

	_, err = newApplier(t, Options{}, plugin.NewFakePlugin("plain", nil)).GenerateConfig(parse(t, eth1Up))
	assert.True(t, errkind.Is(err, errkind.NotImplemented))
}

func TestDiff(t *testing.T) {
	fake := plugin.NewFakePlugin("fake", parse(t, hostState))
	a := newApplier(t, Options{}, fake)

	diff, err := a.Diff(context.Background(), parse(t, eth1Up))
	require.NoError(t, err)
	assert.Contains(t, diff, "--- current")
	assert.Contains(t, diff, "+++ desired")
	assert.Regexp(t, `(?m)^-\s+state: down$`, diff)
	assert.Regexp(t, `(?m)^\+\s+state: up$`, diff)
	assert.NotContains(t, diff, "name: eth0", "untouched interfaces are left out")

	_, err = a.Apply(context.Background(), parse(t, eth1Up), DefaultApplyOptions())
	require.NoError(t, err)
	diff, err = a.Diff(context.Background(), parse(t, eth1Up))
	require.NoError(t, err)
	assert.Empty(t, diff)
}
