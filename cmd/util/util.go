package util

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/kvx/lib/common"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		if lineWidth > 0 && lineWidth+1+len(word) > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}
		currentLine.WriteString(word)
		lineWidth += len(word)
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}
	return strings.Join(wrappedLines, "\n")
}

// SetupHostFlags adds the flags that configure a host to cmd
func SetupHostFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()

	key := "manifest"
	flags.String(key, "", WrapString("Path of the TOML module manifest. Without a manifest all builtin modules are loaded"))

	key = "log-level"
	flags.String(key, "warn", WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))

	key = "timeout"
	flags.Int64(key, 5, WrapString("Upper bound in seconds for a single command invocation (0 disables the timeout)"))

	key = "databases"
	flags.Uint64(key, 16, WrapString("Number of logical databases (0 means unlimited)"))

	key = "db-shards"
	flags.Int(key, 0, WrapString("Number of shards per database (0 means one per cpu)"))

	key = "replicated"
	flags.Bool(key, false, WrapString("Replicate writes through a RAFT shard. Requires replica-id, cluster-members and data-dir"))

	key = "shard-id"
	flags.Uint64(key, 100, WrapString("(Replicated Mode) ID of the RAFT shard that carries the replication log"))

	key = "rtt-millisecond"
	flags.Uint64(key, 100, WrapString("(Replicated Mode) RTTMillisecond defines the average Round Trip Time (RTT) in milliseconds between two NodeHost instances"))

	key = "snapshot-entries"
	flags.Uint64(key, 1000, WrapString("(Replicated Mode) SnapshotEntries defines how often the state machine should be snapshotted automatically, in applied log entries. 0 disables automatic snapshots"))

	key = "compaction-overhead"
	flags.Uint64(key, 500, WrapString("(Replicated Mode) CompactionOverhead defines the number of log entries to keep after a snapshot"))

	key = "data-dir"
	flags.String(key, "data", WrapString("(Replicated Mode) DataDir is the directory used for the RAFT log and snapshots"))

	key = "replica-id"
	flags.String(key, "", WrapString("(Replicated Mode) ReplicaID is the unique name of this node (e.g. 'node-1')"))

	key = "cluster-members"
	flags.String(key, "", WrapString("(Replicated Mode) ClusterMembers is a comma-separated list of node addresses in the format 'node-1=localhost:63001,node-2=localhost:63002,...'"))
}

// InitConfig loads .env files and makes viper read KVX_* environment variables
func InitConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("kvx")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	return viper.BindPFlags(cmd.InheritedFlags())
}

// GetHostConfig reads the host configuration from viper
func GetHostConfig() (*common.HostConfig, error) {
	conf := &common.HostConfig{
		ManifestPath:       viper.GetString("manifest"),
		LogLevel:           viper.GetString("log-level"),
		TimeoutSecond:      viper.GetInt64("timeout"),
		MaxDatabases:       viper.GetUint64("databases"),
		NumShards:          viper.GetInt("db-shards"),
		Replicated:         viper.GetBool("replicated"),
		ShardID:            viper.GetUint64("shard-id"),
		RTTMillisecond:     viper.GetUint64("rtt-millisecond"),
		SnapshotEntries:    viper.GetUint64("snapshot-entries"),
		CompactionOverhead: viper.GetUint64("compaction-overhead"),
		DataDir:            viper.GetString("data-dir"),
	}

	if id := viper.GetString("replica-id"); id != "" {
		conf.ReplicaID = common.ReplicaIDFromName(id)
	}

	members, err := common.ParseClusterMembers(viper.GetString("cluster-members"))
	if err != nil {
		return nil, err
	}
	conf.ClusterMembers = members

	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return conf, nil
}
