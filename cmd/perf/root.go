package perf

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/kvx/cmd/util"
	"github.com/ValentinKolb/kvx/lib/module"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// PerfCmd benchmarks the builtin hash commands against an in-process host
	PerfCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Benchmark the builtin hash commands",
		Long:    "Benchmark the invocation path (classify, lock, handler, commit, replicate) with the builtin hash commands.",
		RunE:    run,
		PreRunE: processPerfConfig,
	}
	perfKeyPrefix  = "__test"
	perfNumThreads = 10
	perfKeySpread  = 100
	perfFields     = 10
	perfSkip       = make([]string, 0)
)

func init() {
	key := "skip"
	PerfCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. hset,hget)"))
	key = "threads"
	PerfCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "keys"
	PerfCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "fields"
	PerfCmd.Flags().Int(key, 10, util.WrapString("How many fields the hashes of the hmget test have"))
	key = "csv"
	PerfCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	perfKeySpread = max(viper.GetInt("keys"), 1)
	perfNumThreads = max(viper.GetInt("threads"), 1)
	perfFields = max(viper.GetInt("fields"), 1)
	perfSkip = strings.Split(viper.GetString("skip"), ",")
	return nil
}

// benchmark is a named workload: prepare runs once before the timer starts, op runs per iteration
type benchmark struct {
	name    string
	prepare func(h *util.Host, key string) error
	op      func(counter int, key string) []string
}

func run(cmd *cobra.Command, _ []string) error {
	host, err := util.SetupHost(cmd)
	if err != nil {
		return err
	}
	defer host.Close()

	fmt.Println("Performance testing tool for kvx")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(host.Config.String())
	fmt.Printf("Threads: %d, Keys: %d, Fields: %d\n", perfNumThreads, perfKeySpread, perfFields)
	fmt.Println()

	fields := make([]string, 0, 2*perfFields)
	for i := 0; i < perfFields; i++ {
		fields = append(fields, fmt.Sprintf("f%d", i), "value")
	}
	fill := func(h *util.Host, key string) error {
		_, err := h.Execute(context.Background(), module.Context{Protocol: 2}, append([]string{"HSET", key}, fields...))
		return err
	}

	benchmarks := []benchmark{
		{name: "hset", op: func(c int, key string) []string {
			return []string{"HSET", key, "f" + strconv.Itoa(c%perfFields), "value"}
		}},
		{name: "hsetnx", op: func(c int, key string) []string {
			return []string{"HSETNX", key, "f" + strconv.Itoa(c%perfFields), "value"}
		}},
		{name: "hget", prepare: fill, op: func(c int, key string) []string {
			return []string{"HGET", key, "f" + strconv.Itoa(c%perfFields)}
		}},
		{name: "hmget", prepare: fill, op: func(_ int, key string) []string {
			tokens := []string{"HMGET", key}
			for i := 0; i < perfFields; i++ {
				tokens = append(tokens, "f"+strconv.Itoa(i))
			}
			return tokens
		}},
		{name: "hgetall", prepare: fill, op: func(_ int, key string) []string {
			return []string{"HGETALL", key}
		}},
		{name: "mixed", prepare: fill, op: func(c int, key string) []string {
			field := "f" + strconv.Itoa(c%perfFields)
			switch c % 4 {
			case 0:
				return []string{"HSET", key, field, "value"}
			case 1:
				return []string{"HGET", key, field}
			case 2:
				return []string{"HDEL", key, field}
			default:
				return []string{"HEXISTS", key, field}
			}
		}},
	}

	fmt.Println("staring tests...")
	results := make(map[string]testing.BenchmarkResult)
	for _, bm := range benchmarks {
		result := runBenchmark(host, bm)
		results[bm.name] = result
		printResult(bm.name, result)
	}

	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, host); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	fmt.Println()
	fmt.Println("Metrics:")
	host.WriteMetrics(os.Stdout)
	return nil
}

func runBenchmark(host *util.Host, bm benchmark) testing.BenchmarkResult {
	return testing.Benchmark(func(b *testing.B) {
		if shouldSkip(bm.name) {
			return
		}

		getKey, iter := getKeys(bm.name)
		if bm.prepare != nil {
			iter(func(k string) {
				if err := bm.prepare(host, k); err != nil {
					fmt.Printf("(%s) - error preparing key: %v\n", bm.name, err)
				}
			})
		}

		b.SetParallelism(perfNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			ctx := context.Background()
			ictx := module.Context{Protocol: 2}
			counter := 0
			for pb.Next() {
				if _, err := host.Execute(ctx, ictx, bm.op(counter, getKey(counter))); err != nil {
					fmt.Printf("(%s) - error: %v\n", bm.name, err)
				}
				counter++
			}
		})
	})
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	for _, skip := range perfSkip {
		if test == strings.TrimSpace(skip) {
			return true
		}
	}
	return false
}

// creates an array of test keys and functions to work with them
func getKeys(prefix string) (func(int) string, func(func(string))) {
	keys := make([]string, perfKeySpread)
	for i := 0; i < perfKeySpread; i++ {
		keys[i] = fmt.Sprintf("%s-%s-%d", perfKeyPrefix, prefix, i)
	}

	getKey := func(i int) string {
		return keys[i%perfKeySpread]
	}

	iterateKeys := func(fn func(string)) {
		for _, key := range keys {
			fn(key)
		}
	}

	return getKey, iterateKeys
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.N == 0 || result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1)
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, host *util.Host) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Replicated", "TimeoutSec", "DBShards",
		"Threads", "Keys", "Fields",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for test, result := range results {
		var nsPerOp, opsPerSec float64
		skipped := "true"
		if result.N > 0 && result.NsPerOp() > 0 {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			strconv.FormatBool(host.Config.Replicated),
			strconv.FormatInt(host.Config.TimeoutSecond, 10),
			strconv.Itoa(host.Config.NumShards),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfKeySpread),
			strconv.Itoa(perfFields),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
