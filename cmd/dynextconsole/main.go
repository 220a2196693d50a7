// Command dynextconsole is an interactive REPL over a uint64-keyed/valued
// dynext instance, using peterh/liner for line editing/history the way
// go-ethereum's console command does for its JS REPL.
package main

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strconv"
	"strings"

	"github.com/peterh/liner"

	"github.com/psu-db/dynext/dynext"
	"github.com/psu-db/dynext/level"
	"github.com/psu-db/dynext/query"
	"github.com/psu-db/dynext/record"
	"github.com/psu-db/dynext/shard"
)

type u64Key uint64

func (k u64Key) Less(other u64Key) bool { return k < other }

const historyFile = ".dynextconsole_history"

func main() {
	cfg := dynext.Config{
		BufferCapacity:         12000,
		ScaleFactor:            4,
		MaxTombstoneProportion: 0.25,
		Discipline:             level.Tiering,
	}
	builder := shard.FlatBuilder[u64Key, uint64]{}
	de := dynext.New[u64Key, uint64, *shard.FlatShard[u64Key, uint64]](cfg, builder)
	rng := rand.New(rand.NewSource(1))

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	if f, err := os.Open(historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}

	fmt.Println("dynextconsole -- commands: insert <k> <v> | erase <k> <v> | get <k> | range <lo> <hi> | sample <n> | count | stats | quit")
	for {
		input, err := line.Prompt("dynext> ")
		if err == liner.ErrPromptAborted || err == io.EOF {
			break
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			continue
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)
		if input == "quit" || input == "exit" {
			break
		}
		if err := dispatch(de, rng, input); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
	}

	if f, err := os.Create(historyFile); err == nil {
		line.WriteHistory(f)
		f.Close()
	}
}

func dispatch(de *dynext.DynamicExtension[u64Key, uint64, *shard.FlatShard[u64Key, uint64]], rng *rand.Rand, input string) error {
	fields := strings.Fields(input)
	switch fields[0] {
	case "insert":
		if len(fields) != 3 {
			return fmt.Errorf("usage: insert <key> <value>")
		}
		k, v, err := parsePair(fields[1], fields[2])
		if err != nil {
			return err
		}
		return de.Insert(record.Record[u64Key, uint64]{Key: k, Value: v})

	case "erase":
		if len(fields) != 3 {
			return fmt.Errorf("usage: erase <key> <value>")
		}
		k, v, err := parsePair(fields[1], fields[2])
		if err != nil {
			return err
		}
		return de.Erase(record.Record[u64Key, uint64]{Key: k, Value: v})

	case "get":
		if len(fields) != 2 {
			return fmt.Errorf("usage: get <key>")
		}
		k, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return err
		}
		params := query.PointParams[u64Key]{Key: u64Key(k)}
		res, err := dynext.Query[u64Key, uint64, *shard.FlatShard[u64Key, uint64]](
			context.Background(), de, query.PointLookup[u64Key, uint64, *shard.FlatShard[u64Key, uint64]]{}, &params)
		if err != nil {
			return err
		}
		if !res.Found {
			fmt.Println("(not found)")
			return nil
		}
		fmt.Println(res.Record)
		return nil

	case "range":
		if len(fields) != 3 {
			return fmt.Errorf("usage: range <lo> <hi>")
		}
		lo, hi, err := parsePair(fields[1], fields[2])
		if err != nil {
			return err
		}
		params := query.RangeParams[u64Key]{Low: lo, High: hi}
		recs, err := dynext.Query[u64Key, uint64, *shard.FlatShard[u64Key, uint64]](
			context.Background(), de, query.RangeQuery[u64Key, uint64, *shard.FlatShard[u64Key, uint64]]{}, &params)
		if err != nil {
			return err
		}
		for _, r := range recs {
			fmt.Println(r)
		}
		fmt.Printf("(%d records)\n", len(recs))
		return nil

	case "sample":
		if len(fields) != 2 {
			return fmt.Errorf("usage: sample <n>")
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil {
			return err
		}
		params := query.SamplingParams[u64Key, uint64]{Count: n, Rng: rng, RetryFactor: 4}
		res, err := dynext.Query[u64Key, uint64, *shard.FlatShard[u64Key, uint64]](
			context.Background(), de, query.Sampling[u64Key, uint64, *shard.FlatShard[u64Key, uint64]]{}, &params)
		if err != nil {
			return err
		}
		for _, r := range res.Records {
			fmt.Println(r)
		}
		fmt.Printf("(%d/%d, complete=%v)\n", len(res.Records), n, res.Complete)
		return nil

	case "count":
		fmt.Printf("buffered: %d (tombstones %d)\n", de.RecordCount(), de.TombstoneCount())
		return nil

	case "stats":
		fmt.Printf("memory estimate: %d bytes\n", de.MemoryUsage())
		return nil

	default:
		return fmt.Errorf("unknown command %q", fields[0])
	}
}

func parsePair(a, b string) (u64Key, uint64, error) {
	k, err := strconv.ParseUint(a, 10, 64)
	if err != nil {
		return 0, 0, err
	}
	v, err := strconv.ParseUint(b, 10, 64)
	if err != nil {
		return 0, 0, err
	}
	return u64Key(k), v, nil
}
