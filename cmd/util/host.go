package util

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ValentinKolb/kvx/lib/acl"
	"github.com/ValentinKolb/kvx/lib/common"
	"github.com/ValentinKolb/kvx/lib/db"
	"github.com/ValentinKolb/kvx/lib/db/engines/maple"
	"github.com/ValentinKolb/kvx/lib/lockmgr"
	"github.com/ValentinKolb/kvx/lib/module"
	"github.com/ValentinKolb/kvx/lib/replog"
	"github.com/ValentinKolb/kvx/lib/store"
	"github.com/ValentinKolb/kvx/lib/store/lstore"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/logger"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
)

var log = logger.GetLogger("kvx")

// memLogRetain is the number of entries the in-memory log of an unreplicated host keeps
const memLogRetain = 1024

// Host is a module host with all of its collaborators.
type Host struct {
	*module.Host
	Config *common.HostConfig
	Store  store.IStore
	Locks  lockmgr.ILockManager
	ACL    *acl.ACL
	Log    replog.ILog

	nodeHost *dragonboat.NodeHost
}

// BuildHost wires store, lock manager, acl and replication log, and loads the modules of the manifest.
func BuildHost(conf *common.HostConfig) (*Host, error) {
	if err := common.InitLoggers(conf.LogLevel); err != nil {
		return nil, err
	}

	manifest := common.DefaultManifest()
	if conf.ManifestPath != "" {
		var err error
		if manifest, err = common.LoadManifest(conf.ManifestPath); err != nil {
			return nil, err
		}
	}
	access, err := manifest.ACL()
	if err != nil {
		return nil, err
	}

	dbFactory := func() db.KVDB {
		return maple.NewMapleDB(&maple.DBOptions{NumShards: conf.NumShards})
	}

	h := &Host{
		Config: conf,
		Store:  lstore.NewLocalStore(dbFactory, conf.MaxDatabases),
		Locks:  lockmgr.NewLockManager(gometrics.NewRegistry()),
		ACL:    access,
	}

	if conf.Replicated {
		if err := h.startRaft(); err != nil {
			h.Close()
			return nil, err
		}
	} else {
		h.Log = replog.NewBoundedMemLog(memLogRetain)
	}

	h.Host = module.NewHost(module.InvokerConfig{
		Store:   h.Store,
		Locks:   h.Locks,
		Auth:    h.ACL,
		Log:     h.Log,
		Timeout: conf.Timeout(),
	})

	if err := manifest.LoadModules(h.Registry); err != nil {
		h.Close()
		return nil, err
	}
	log.Infof("host ready: %d modules, %d commands", len(h.Registry.Modules()), len(h.Registry.Descriptors()))
	return h, nil
}

// startRaft starts the replication shard and waits until it has a leader
func (h *Host) startRaft() error {
	nh, err := dragonboat.NewNodeHost(h.Config.ToNodeHostConfig())
	if err != nil {
		return fmt.Errorf("failed to create node host: %w", err)
	}
	h.nodeHost = nh

	instance := replog.NewInstanceID()
	factory := replog.CreateStateMachineFactory(h.Store, instance)
	if err := nh.StartConcurrentReplica(h.Config.ClusterMembers, false, factory, h.Config.ToDragonboatConfig()); err != nil {
		return fmt.Errorf("failed to start shard %d: %w", h.Config.ShardID, err)
	}

	timeout := h.Config.Timeout()
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	h.Log = replog.NewRaftLog(nh, h.Config.ShardID, instance, timeout)

	ctx, cancel := context.WithTimeout(context.Background(), 10*timeout)
	defer cancel()
	return waitForLeader(ctx, nh, h.Config.ShardID)
}

func waitForLeader(ctx context.Context, nh *dragonboat.NodeHost, shardID uint64) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		if _, _, ok, err := nh.GetLeaderID(shardID); err == nil && ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("shard %d has no leader: %w", shardID, ctx.Err())
		case <-ticker.C:
		}
	}
}

// WriteMetrics writes the invocation metrics and the lock manager statistics.
func (h *Host) WriteMetrics(w io.Writer) {
	h.Invoker.WriteMetrics(w)
	s := h.Locks.Stats()
	fmt.Fprintf(w, "kvx_locks_acquired_total %d\n", s.Acquired)
	fmt.Fprintf(w, "kvx_locks_contended_total %d\n", s.Contended)
	fmt.Fprintf(w, "kvx_locks_canceled_total %d\n", s.Canceled)
	fmt.Fprintf(w, "kvx_locks_held %d\n", s.Held)
	fmt.Fprintf(w, "kvx_locks_wait_seconds_mean %g\n", s.WaitMean.Seconds())
	fmt.Fprintf(w, "kvx_locks_wait_seconds_p99 %g\n", s.WaitP99.Seconds())
}

// AppliedIndex returns the last applied raft index, or an error if the host is not replicated.
func (h *Host) AppliedIndex(ctx context.Context) (uint64, error) {
	raft, ok := h.Log.(*replog.RaftLog)
	if !ok {
		return 0, errors.New("host is not replicated")
	}
	return raft.AppliedIndex(ctx, false)
}

// Close stops the node host (if any).
func (h *Host) Close() {
	if h.nodeHost != nil {
		h.nodeHost.Close()
		h.nodeHost = nil
	}
}

// SetupHost binds the flags of cmd, reads the configuration and builds the host
func SetupHost(cmd *cobra.Command) (*Host, error) {
	if err := BindCommandFlags(cmd); err != nil {
		return nil, err
	}
	conf, err := GetHostConfig()
	if err != nil {
		return nil, err
	}
	return BuildHost(conf)
}
