package testing

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"github.com/ValentinKolb/kvx/lib/db"
	"github.com/ValentinKolb/kvx/lib/value"
)

// DBFactory is a function that creates a new instance of a KVDB implementation
type DBFactory func() db.KVDB

// RunKVDBTests runs a comprehensive test suite for a KVDB implementation.
func RunKVDBTests(t *testing.T, name string, factory DBFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Apply&Get", func(t *testing.T) {
			testApplyGet(t, factory())
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory())
		})

		t.Run("Has", func(t *testing.T) {
			testHas(t, factory())
		})

		t.Run("CopySemantics", func(t *testing.T) {
			testCopySemantics(t, factory())
		})

		t.Run("StaleWrites", func(t *testing.T) {
			testStaleWrites(t, factory())
		})

		t.Run("WriteIndex", func(t *testing.T) {
			testWriteIndex(t, factory())
		})

		t.Run("SaveLoad", func(t *testing.T) {
			testSaveLoad(t, factory)
		})

		t.Run("LoadInvalid", func(t *testing.T) {
			testLoadInvalid(t, factory())
		})

		t.Run("EdgeCases", func(t *testing.T) {
			testEdgeCases(t, factory())
		})

		t.Run("AtomicBatches", func(t *testing.T) {
			testAtomicBatches(t, factory())
		})

		t.Run("RealisticUsage", func(t *testing.T) {
			testRealisticUsage(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// Checks if the database supports the specified feature
// Skip the test if it is not supported
func requireFeature(t testing.TB, database db.KVDB, feature db.Feature) {
	if !database.SupportsFeature(feature) {
		t.Skip()
	}
}

func set(database db.KVDB, key string, v value.Value, idx uint64) {
	database.Apply([]db.Mutation{{Key: key, Value: v}}, idx)
}

func del(database db.KVDB, key string, idx uint64) {
	database.Apply([]db.Mutation{{Key: key, Value: value.Nil{}}}, idx)
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testApplyGet(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureApply|db.FeatureGet)

	testKey := "test-key"

	set(database, testKey, value.String("test-value1"), 1)

	result, exists := database.Get(testKey)
	if !exists {
		t.Errorf("Expected key %s to exist after Apply", testKey)
	}
	if !value.Equal(result, value.String("test-value1")) {
		t.Errorf("Expected value test-value1, got %s", result)
	}

	set(database, testKey, value.NewHash(map[string]string{"a": "1"}), 2)

	result, exists = database.Get(testKey)
	if !exists {
		t.Errorf("Expected key %s to exist after overwrite", testKey)
	}
	if result.Kind() != value.KindHash {
		t.Errorf("Expected hash after overwrite, got %s", result.Kind())
	}

	result, exists = database.Get("nonexistent-key")
	if exists {
		t.Errorf("Expected nonexistent key to return exists=false")
	}
	if !value.IsNil(result) {
		t.Errorf("Expected Nil for nonexistent key, got %s", result)
	}

	// later mutations of the same batch win
	database.Apply([]db.Mutation{
		{Key: "multi", Value: value.Number(1)},
		{Key: "multi", Value: value.Number(2)},
	}, 3)
	result, _ = database.Get("multi")
	if !value.Equal(result, value.Number(2)) {
		t.Errorf("Expected last write in batch to win, got %s", result)
	}
}

func testDelete(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureApply|db.FeatureGet)

	testKey := "delete-test-key"

	set(database, testKey, value.String("delete-test-value"), 1)
	if _, exists := database.Get(testKey); !exists {
		t.Errorf("Expected key %s to exist after Apply", testKey)
	}

	del(database, testKey, 2)

	if _, exists := database.Get(testKey); exists {
		t.Errorf("Expected key %s to not exist after delete", testKey)
	}
	if database.Has(testKey) {
		t.Errorf("Expected key %s to not exist after delete", testKey)
	}

	// deleting a missing key is a no-op
	del(database, "nonexistent-key", 3)
	if database.Has("nonexistent-key") {
		t.Errorf("Deleting a missing key must not create it")
	}
}

func testHas(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureApply|db.FeatureHas)

	testKey := "has-exists-test-key"

	if database.Has(testKey) {
		t.Errorf("Expected Has to return false for nonexistent key")
	}

	set(database, testKey, value.Number(42), 1)

	if !database.Has(testKey) {
		t.Errorf("Expected Has to return true after Apply")
	}
}

func testCopySemantics(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureApply|db.FeatureGet)

	h := value.NewHash(map[string]string{"f": "v"})
	set(database, "h", h, 1)

	// changing the written value must not change the stored one
	h.Set(map[string]string{"g": "w"})

	stored, _ := database.Get("h")
	sh, err := value.AsHash(stored)
	if err != nil {
		t.Fatalf("Expected hash, got %v", err)
	}
	if sh.Len() != 1 {
		t.Errorf("Stored hash changed through the caller's reference: %s", sh)
	}

	// changing a returned value must not change the stored one
	sh.Delete("f")
	again, _ := database.Get("h")
	if ah, _ := value.AsHash(again); ah == nil || ah.Len() != 1 {
		t.Errorf("Get should return a copy, not a reference to the stored value")
	}
}

func testStaleWrites(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureApply|db.FeatureGet)

	set(database, "k", value.String("new"), 10)
	set(database, "k", value.String("old"), 5)

	result, _ := database.Get("k")
	if !value.Equal(result, value.String("new")) {
		t.Errorf("Stale write should be ignored, got %s", result)
	}

	del(database, "k", 7)
	if !database.Has("k") {
		t.Errorf("Stale delete should be ignored")
	}

	// equal index is not stale (several batches may share an index)
	set(database, "k", value.String("same"), 10)
	result, _ = database.Get("k")
	if !value.Equal(result, value.String("same")) {
		t.Errorf("Write with equal index should be applied, got %s", result)
	}
}

func testWriteIndex(t *testing.T, database db.KVDB) {
	defer database.Close()

	if database.WriteIdx() != 0 {
		t.Errorf("Expected initial write index 0, got %d", database.WriteIdx())
	}

	set(database, "k", value.Number(1), 5)
	if database.WriteIdx() != 5 {
		t.Errorf("Expected write index 5, got %d", database.WriteIdx())
	}

	database.SetWriteIdx(3)
	if database.WriteIdx() != 5 {
		t.Errorf("Write index must never decrease, got %d", database.WriteIdx())
	}

	database.SetWriteIdx(9)
	if database.WriteIdx() != 9 {
		t.Errorf("Expected write index 9, got %d", database.WriteIdx())
	}
}

func testSaveLoad(t *testing.T, factory DBFactory) {
	database := factory()
	database2 := factory()

	// close the databases after the test
	defer database.Close()
	defer database2.Close()

	requireFeature(t, database, db.FeatureApply|db.FeatureGet|db.FeatureSave|db.FeatureLoad)

	numEntries := 1000
	expected := make(map[string]value.Value, numEntries)

	for i := 0; i < numEntries; i++ {
		key := fmt.Sprintf("save-load-test-key-%d", i)
		var v value.Value
		switch i % 3 {
		case 0:
			v = value.String(fmt.Sprintf("save-load-test-value-%d", i))
		case 1:
			v = value.Number(float64(i) / 2)
		default:
			v = value.NewHash(map[string]string{"i": fmt.Sprint(i), "name": key})
		}
		expected[key] = v
		set(database, key, v, uint64(i+1))
	}

	var buf bytes.Buffer
	if err := database.Save(&buf); err != nil {
		t.Fatalf("Unexpected error during Save: %v", err)
	}

	// saving twice gives the same bytes
	var buf2 bytes.Buffer
	if err := database.Save(&buf2); err != nil {
		t.Fatalf("Unexpected error during second Save: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), buf2.Bytes()) {
		t.Errorf("Save is not deterministic")
	}

	set(database2, "stale-key", value.String("must be gone after load"), 1)

	if err := database2.Load(&buf); err != nil {
		t.Fatalf("Unexpected error during Load: %v", err)
	}

	if database2.Has("stale-key") {
		t.Errorf("Load must replace the previous content")
	}
	if database2.WriteIdx() != database.WriteIdx() {
		t.Errorf("Write index mismatch after Load: expected %d, got %d", database.WriteIdx(), database2.WriteIdx())
	}

	for key, expectedValue := range expected {
		actualValue, exists := database2.Get(key)
		if !exists {
			t.Errorf("Key %s not found after Load", key)
			continue
		}
		if !value.Equal(actualValue, expectedValue) {
			t.Errorf("Value mismatch for key %s: expected %s, got %s", key, expectedValue, actualValue)
		}
	}

	// stale protection survives a reload
	set(database2, "save-load-test-key-10", value.String("stale"), 1)
	actualValue, _ := database2.Get("save-load-test-key-10")
	if !value.Equal(actualValue, expected["save-load-test-key-10"]) {
		t.Errorf("Entry index lost during Save/Load")
	}
}

func testLoadInvalid(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureApply|db.FeatureLoad)

	set(database, "keep", value.String("me"), 1)

	if err := database.Load(bytes.NewReader([]byte("definitely not a snapshot"))); err == nil {
		t.Errorf("Expected error when loading garbage")
	}
	if err := database.Load(bytes.NewReader(nil)); err == nil {
		t.Errorf("Expected error when loading empty input")
	}
	if !database.Has("keep") {
		t.Errorf("Failed Load must leave the database unchanged")
	}
}

func testEdgeCases(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureApply|db.FeatureGet)

	set(database, "", value.String("value for empty key"), 1)
	result, exists := database.Get("")
	if !exists {
		t.Errorf("Empty key not found after Apply")
	} else if !value.Equal(result, value.String("value for empty key")) {
		t.Errorf("Value mismatch for empty key")
	}

	set(database, "empty-value-key", value.String(""), 1)
	if !database.Has("empty-value-key") {
		t.Errorf("Empty string must be stored as a value")
	}

	set(database, "empty-hash-key", value.NewHash(nil), 1)
	if !database.Has("empty-hash-key") {
		t.Errorf("Empty hash must be stored as a value")
	}

	largeKey := string(make([]byte, 1000))
	set(database, largeKey, value.String("value for large key"), 1)
	if _, exists := database.Get(largeKey); !exists {
		t.Errorf("Large key not found after Apply")
	}

	fields := make(map[string]string, 10_000)
	for i := 0; i < 10_000; i++ {
		fields[fmt.Sprintf("field-%d", i)] = fmt.Sprintf("value-%d", i)
	}
	set(database, "large-hash", value.NewHash(fields), 1)
	result, _ = database.Get("large-hash")
	if h, err := value.AsHash(result); err != nil || h.Len() != len(fields) {
		t.Errorf("Large hash mismatch")
	}
}

func testAtomicBatches(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureApply|db.FeatureGet)

	// writer keeps a and b equal, readers must never see them differ
	const rounds = 2000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= rounds; i++ {
			database.Apply([]db.Mutation{
				{Key: "a", Value: value.Number(i)},
				{Key: "b", Value: value.Number(i)},
			}, uint64(i))
		}
	}()

	stop := make(chan struct{})
	var readers sync.WaitGroup
	for r := 0; r < 4; r++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := database.WriteIdx()
				a, _ := database.Get("a")
				b, _ := database.Get("b")
				// a is read first, so b can only be newer
				an, aok := a.(value.Number)
				bn, bok := b.(value.Number)
				if aok && bok && bn < an {
					t.Errorf("Observed partial batch at index %d: a=%s b=%s", snap, a, b)
					return
				}
			}
		}()
	}

	wg.Wait()
	close(stop)
	readers.Wait()

	a, _ := database.Get("a")
	b, _ := database.Get("b")
	if !value.Equal(a, value.Number(rounds)) || !value.Equal(b, value.Number(rounds)) {
		t.Errorf("Expected both keys at %d, got a=%s b=%s", rounds, a, b)
	}
}

func testRealisticUsage(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureApply|db.FeatureGet)

	type operation struct {
		op    string
		key   string
		value value.Value
	}

	numOperations := 10_000
	operations := make([]operation, numOperations)

	for i := 0; i < numOperations; i++ {
		var op string
		switch i % 10 {
		case 0, 1, 2, 3, 4, 5, 6:
			op = "set"
		case 7, 8:
			op = "get"
		case 9:
			op = "delete"
		}

		var key string
		if i%5 == 0 {
			key = fmt.Sprintf("hot-key-%d", i%50)
		} else {
			key = fmt.Sprintf("key-%d", i)
		}

		var v value.Value
		if op == "set" {
			if i%10 == 0 {
				v = value.NewHash(map[string]string{"i": fmt.Sprint(i)})
			} else {
				v = value.String(fmt.Sprintf("value-%d", i))
			}
		}

		operations[i] = operation{op, key, v}
	}

	numWorkers := 8
	var wg sync.WaitGroup
	wg.Add(numWorkers)

	opsPerWorker := numOperations / numWorkers

	for w := 0; w < numWorkers; w++ {
		go func(workerId int) {
			defer wg.Done()

			start := workerId * opsPerWorker
			end := start + opsPerWorker

			for i := start; i < end; i++ {
				op := operations[i]

				switch op.op {
				case "set":
					set(database, op.key, op.value, uint64(i))
				case "get":
					database.Get(op.key)
				case "delete":
					del(database, op.key, uint64(i))
				}
			}
		}(w)
	}

	wg.Wait()

	// keys that are only written once by a set must still be there
	for i := 0; i < numOperations; i++ {
		op := operations[i]
		if op.op != "set" || i%5 == 0 {
			continue
		}
		if !database.Has(op.key) {
			t.Errorf("Key %s lost during concurrent usage", op.key)
		}
	}
}
