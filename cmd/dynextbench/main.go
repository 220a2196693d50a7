// Command dynextbench reproduces the shape of original_source/benchmarks'
// insert/delete warmup-then-measure drivers (e.g. alex_rq_bench.cpp's
// build_insert_vec/warmup pair) over this module's reference FlatShard,
// with uint64 keys and values -- the key_type/value_type every benchmark
// in that directory standardizes on.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/psu-db/dynext/dynext"
	"github.com/psu-db/dynext/level"
	"github.com/psu-db/dynext/query"
	"github.com/psu-db/dynext/record"
	"github.com/psu-db/dynext/shard"
)

// u64Key is the uint64 key type original_source/benchmarks standardizes
// on (key_type in benchmarks/*.cpp).
type u64Key uint64

func (k u64Key) Less(other u64Key) bool { return k < other }

func main() {
	app := cli.NewApp()
	app.Name = "dynextbench"
	app.Usage = "measure insert/erase/query throughput over a dynext instance"
	app.Flags = []cli.Flag{
		cli.IntFlag{Name: "records", Value: 1_000_000, Usage: "number of records to insert during warmup"},
		cli.Float64Flag{Name: "delete-proportion", Value: 0.05, Usage: "fraction of inserted records erased during warmup"},
		cli.IntFlag{Name: "buffer-capacity", Value: 12000},
		cli.IntFlag{Name: "scale-factor", Value: 4},
		cli.Float64Flag{Name: "max-tombstone-proportion", Value: 0.25},
		cli.StringFlag{Name: "discipline", Value: "tiering", Usage: "tiering or leveling"},
		cli.IntFlag{Name: "queries", Value: 10000, Usage: "number of range queries to issue after warmup"},
		cli.Int64Flag{Name: "seed", Value: 1},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "dynextbench:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	discipline := level.Tiering
	if c.String("discipline") == "leveling" {
		discipline = level.Leveling
	}

	cfg := dynext.Config{
		BufferCapacity:         c.Int("buffer-capacity"),
		ScaleFactor:            c.Int("scale-factor"),
		MaxTombstoneProportion: c.Float64("max-tombstone-proportion"),
		Discipline:             discipline,
	}
	builder := shard.FlatBuilder[u64Key, uint64]{
		KeyBytes: func(k u64Key) []byte {
			b := make([]byte, 8)
			for i := 0; i < 8; i++ {
				b[i] = byte(k >> (8 * i))
			}
			return b
		},
	}
	de := dynext.New[u64Key, uint64, *shard.FlatShard[u64Key, uint64]](cfg, builder)

	rng := rand.New(rand.NewSource(c.Int64("seed")))
	n := c.Int("records")
	deleteProp := c.Float64("delete-proportion")

	var inserted []record.Record[u64Key, uint64]
	insertStart := time.Now()
	for i := 0; i < n; i++ {
		rec := record.Record[u64Key, uint64]{Key: u64Key(rng.Uint64()), Value: rng.Uint64()}
		if err := de.Insert(rec); err != nil {
			return fmt.Errorf("insert %d: %w", i, err)
		}
		inserted = append(inserted, rec)
	}
	insertElapsed := time.Since(insertStart)

	deleteStart := time.Now()
	deletes := 0
	for _, rec := range inserted {
		if rng.Float64() >= deleteProp {
			continue
		}
		if err := de.Erase(rec); err != nil {
			return fmt.Errorf("erase: %w", err)
		}
		deletes++
	}
	deleteElapsed := time.Since(deleteStart)

	numQueries := c.Int("queries")
	queryStart := time.Now()
	var totalHits int
	for i := 0; i < numQueries; i++ {
		low := u64Key(rng.Uint64())
		high := low + u64Key(rng.Intn(1<<20))
		params := query.RangeParams[u64Key]{Low: low, High: high}
		result, err := dynext.Query[u64Key, uint64, *shard.FlatShard[u64Key, uint64]](
			context.Background(), de, query.RangeQuery[u64Key, uint64, *shard.FlatShard[u64Key, uint64]]{}, &params)
		if err != nil {
			return fmt.Errorf("query %d: %w", i, err)
		}
		totalHits += len(result)
	}
	queryElapsed := time.Since(queryStart)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Phase", "Count", "Elapsed", "Throughput (ops/s)"})
	table.Append([]string{"insert", fmt.Sprint(n), insertElapsed.String(), throughput(n, insertElapsed)})
	table.Append([]string{"erase", fmt.Sprint(deletes), deleteElapsed.String(), throughput(deletes, deleteElapsed)})
	table.Append([]string{"range query", fmt.Sprint(numQueries), queryElapsed.String(), throughput(numQueries, queryElapsed)})
	table.Render()

	fmt.Printf("total range-query hits: %d\n", totalHits)
	fmt.Printf("buffer record count: %d, tombstones: %d\n", de.RecordCount(), de.TombstoneCount())
	fmt.Printf("resident memory estimate: %d bytes\n", de.MemoryUsage())
	return nil
}

func throughput(n int, elapsed time.Duration) string {
	if elapsed <= 0 {
		return "n/a"
	}
	return fmt.Sprintf("%.0f", float64(n)/elapsed.Seconds())
}
