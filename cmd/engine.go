package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"grimm.is/hostnet/internal/applier"
	"grimm.is/hostnet/internal/checkpoint"
	"grimm.is/hostnet/internal/config"
	"grimm.is/hostnet/internal/ctlplane"
	"grimm.is/hostnet/internal/errkind"
	"grimm.is/hostnet/internal/logging"
	"grimm.is/hostnet/internal/network"
	"grimm.is/hostnet/internal/plugin"
	"grimm.is/hostnet/internal/state"
)

// StateFileName is the SQLite database under the state directory.
const StateFileName = "state.db"

// historyLimit bounds the apply history kept on disk.
const historyLimit = 100

// engine holds the backends and the applier of one process.
type engine struct {
	applier *applier.Applier
	plugins *plugin.Set
	store   *state.SQLiteStore
	ethtool *network.EthtoolReader
}

// newEngine loads the configured backends. With persistent set, the
// state store under cfg.StateDir journals checkpoints and apply history.
func newEngine(cfg *config.Config, persistent bool, extra ...network.Option) (*engine, error) {
	logger := logging.WithComponent("engine")
	rt := &engine{}

	var history *state.HistoryBucket
	var cpOpts []checkpoint.Option
	if persistent {
		if err := os.MkdirAll(cfg.StateDir, 0700); err != nil {
			return nil, errkind.FromOS(err, "failed to create state directory")
		}
		store, err := state.NewSQLiteStore(state.DefaultOptions(filepath.Join(cfg.StateDir, StateFileName)))
		if err != nil {
			return nil, errkind.Wrap(errkind.Dependency, err, "failed to open state store")
		}
		rt.store = store

		history, err = state.NewHistoryBucket(store, historyLimit)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("failed to open history: %w", err)
		}
		if cfg.PersistSnapshots() {
			journal, err := state.NewCheckpointBucket(store)
			if err != nil {
				rt.Close()
				return nil, fmt.Errorf("failed to open checkpoint journal: %w", err)
			}
			cpOpts = append(cpOpts, checkpoint.WithStore(journal))
		}
	}

	if !cfg.PluginEnabled(network.PluginName) {
		rt.Close()
		return nil, errkind.Dependencyf("no primary backend enabled")
	}
	opts := []network.Option{
		network.WithResolvConf(cfg.ResolvConf),
		network.WithCheckpointOptions(cpOpts...),
	}
	if pc := cfg.Plugin(network.PluginName); pc != nil {
		if pc.Priority != nil {
			opts = append(opts, network.WithPriority(*pc.Priority))
		}
		if pc.LinkSettings {
			reader, err := network.NewEthtoolReader()
			if err != nil {
				logger.Warn("link settings unavailable", "error", err)
			} else {
				rt.ethtool = reader
				opts = append(opts, network.WithLinkInfoReader(reader))
			}
		}
	}
	opts = append(opts, extra...)

	set, err := plugin.NewSet(network.NewPlugin(opts...))
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.plugins = set
	rt.applier = applier.New(set, applier.Options{
		CheckpointTimeout: cfg.CheckpointTimeout(),
		VerifyRetries:     cfg.VerifyRetries(),
		VerifyInterval:    cfg.VerifyInterval(),
		ProbeTargets:      cfg.ProbeTargets(),
		ProbeTimeout:      cfg.ProbeTimeout(),
		History:           history,
	})
	return rt, nil
}

// checkpointer is implemented by backends that journal checkpoints.
type checkpointer interface {
	Checkpoints() *checkpoint.Manager
}

// recover reopens checkpoints journaled by an earlier process, rolling
// back those past their deadline.
func (rt *engine) recover(ctx context.Context) error {
	for _, p := range rt.plugins.Plugins() {
		cp, ok := p.(checkpointer)
		if !ok {
			continue
		}
		if err := cp.Checkpoints().Recover(ctx); err != nil {
			return fmt.Errorf("failed to recover %s checkpoint: %w", p.Name(), err)
		}
	}
	return nil
}

// Close releases the store and device handles.
func (rt *engine) Close() error {
	if rt.ethtool != nil {
		rt.ethtool.Close()
		rt.ethtool = nil
	}
	if rt.store != nil {
		err := rt.store.Close()
		rt.store = nil
		return err
	}
	return nil
}

// newClient is replaced in tests.
var newClient = connect

// connect talks to the daemon when its socket exists and otherwise runs
// operations in-process.
func connect(ctx context.Context, cfg *config.Config) (ctlplane.ControlPlaneClient, error) {
	if _, err := os.Stat(cfg.SocketPath); err == nil {
		client, err := ctlplane.NewClient(cfg.SocketPath)
		if err == nil {
			return client, nil
		}
		logging.Warn("control plane unreachable, running in-process", "socket", cfg.SocketPath, "error", err)
	}

	rt, err := newEngine(cfg, true)
	if err != nil {
		return nil, err
	}
	if err := rt.recover(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	return ctlplane.NewLocalClient(rt.applier, rt.Close), nil
}
