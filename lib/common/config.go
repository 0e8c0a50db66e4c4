package common

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/kvx/lib/db/util"
	"github.com/lni/dragonboat/v4/config"
)

// --------------------------------------------------------------------------
// helper functions for to interface with Dragonboat
// --------------------------------------------------------------------------

// Dragonboat uses RTT (Round Trip Time) to determine the timing of elections and heartbeats.
// These default values are selected according to the RAFT Paper
const (
	electionRTTFactor  = 10
	heartbeatRTTFactor = 1
)

// ToDragonboatConfig converts the HostConfig to the Dragonboat Config of the replication shard
func (c *HostConfig) ToDragonboatConfig() config.Config {
	return config.Config{
		ReplicaID:          c.ReplicaID,
		ShardID:            c.ShardID,
		ElectionRTT:        electionRTTFactor,
		HeartbeatRTT:       heartbeatRTTFactor,
		CheckQuorum:        true,
		SnapshotEntries:    c.SnapshotEntries,
		CompactionOverhead: c.CompactionOverhead,
		MaxInMemLogSize:    0,
	}
}

// ToNodeHostConfig creates a NodeHostConfig for Dragonboat
func (c *HostConfig) ToNodeHostConfig() config.NodeHostConfig {
	return config.NodeHostConfig{
		WALDir:         c.DataDir,
		NodeHostDir:    c.DataDir,
		RTTMillisecond: c.RTTMillisecond,
		RaftAddress:    c.ClusterMembers[c.ReplicaID],
	}
}

// --------------------------------------------------------------------------
// Host configuration struct
// --------------------------------------------------------------------------

// HostConfig holds all configuration parameters of a kvx host.
type HostConfig struct {
	// Modules and users
	ManifestPath string

	// Store parameters
	MaxDatabases uint64 // 0 means unlimited
	NumShards    int    // Shards per maple database, 0 means one per cpu

	// Invocation timeout (0 disables the timeout)
	TimeoutSecond int64

	// Replication: if not set, writes are only committed locally
	Replicated bool

	// Dragonboat parameters
	ShardID            uint64
	RTTMillisecond     uint64
	SnapshotEntries    uint64
	CompactionOverhead uint64
	DataDir            string
	ReplicaID          uint64
	ClusterMembers     map[uint64]string

	// Logging configuration
	LogLevel string
}

// Timeout returns the invocation timeout.
func (c *HostConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecond) * time.Second
}

// Validate checks the configuration for replicated mode.
func (c *HostConfig) Validate() error {
	if c.TimeoutSecond < 0 {
		return fmt.Errorf("timeout must not be negative, got %d", c.TimeoutSecond)
	}
	if !c.Replicated {
		return nil
	}
	if c.ReplicaID == 0 {
		return errors.New("ReplicaID is required in replicated mode")
	}
	if len(c.ClusterMembers) == 0 {
		return errors.New("ClusterMembers is required in replicated mode")
	}
	if _, ok := c.ClusterMembers[c.ReplicaID]; !ok {
		return fmt.Errorf("no address found for replica ID %d in cluster members", c.ReplicaID)
	}
	if c.DataDir == "" {
		return errors.New("DataDir is required in replicated mode")
	}
	return nil
}

// ReplicaIDFromName derives the numeric replica id from a node name (e.g. 'node-1').
func ReplicaIDFromName(name string) uint64 {
	return uint64(util.HashString(name, 0))
}

// ParseClusterMembers parses 'node-1=localhost:63001,node-2=localhost:63002,...'.
// The node names are turned into replica ids with ReplicaIDFromName.
func ParseClusterMembers(s string) (map[uint64]string, error) {
	members := make(map[uint64]string)
	if strings.TrimSpace(s) == "" {
		return members, nil
	}
	for _, member := range strings.Split(s, ",") {
		name, addr, ok := strings.Cut(strings.TrimSpace(member), "=")
		if !ok || name == "" || addr == "" {
			return nil, fmt.Errorf("invalid cluster member format: %s (expected ID=address)", member)
		}
		id := ReplicaIDFromName(name)
		if _, dup := members[id]; dup {
			return nil, fmt.Errorf("duplicate cluster member: %s", name)
		}
		members[id] = addr
	}
	return members, nil
}

// String returns a formatted string representation of the configuration
func (c *HostConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Host")
	addField("Manifest", c.ManifestPath)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Max Databases", strconv.FormatUint(c.MaxDatabases, 10))
	addField("Shards per Database", strconv.Itoa(c.NumShards))

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	addSection("Replication")
	addField("Replicated", strconv.FormatBool(c.Replicated))

	if c.Replicated {
		addField("Shard ID", strconv.FormatUint(c.ShardID, 10))
		addField("RAFT Address", c.ClusterMembers[c.ReplicaID])
		addField("Node ID", strconv.FormatUint(c.ReplicaID, 10))
		addField("Round Trip Time (ms)", fmt.Sprintf("%d ms", c.RTTMillisecond))
		addField("Election RTT (ms)", fmt.Sprintf("%d", c.RTTMillisecond*electionRTTFactor))
		addField("Heartbeat RTT (ms)", fmt.Sprintf("%d", c.RTTMillisecond*heartbeatRTTFactor))
		addField("Snapshot Entries", fmt.Sprintf("%d", c.SnapshotEntries))
		addField("Compaction Overhead", fmt.Sprintf("%d", c.CompactionOverhead))
		addField("Data Directory", c.DataDir)

		sb.WriteString("  Initial Members:\n")
		var keys []uint64
		for k := range c.ClusterMembers {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("    Node %d: %s\n", k, c.ClusterMembers[k]))
		}
	}
	return sb.String()
}
