// Command fastfair drives a tree through timed insert/search phases, the
// way the original evaluation harness does: load keys from an input file,
// warm up with half of them, then run the remaining operations across
// worker goroutines.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"fastfair"
	"fastfair/logger"
)

func main() {
	var (
		numData   = flag.Int("n", 0, "number of keys to load")
		latencyNS = flag.Int64("w", 0, "emulated write latency in nanoseconds")
		nThreads  = flag.Int("t", 1, "worker goroutines per phase")
		inputPath = flag.String("i", "sample_input.txt", "whitespace-separated int64 keys")
		poolPath  = flag.String("p", "", "persistent pool file (empty = volatile)")
		mixed     = flag.Bool("mixed", false, "mixed insert/search/delete phase")
		opsRate   = flag.Float64("rate", 0, "ops/sec throttle per phase, 0 = unlimited")
		verbose   = flag.Bool("v", false, "structured logging to stderr")
	)
	flag.Parse()

	if *numData < 2 {
		fmt.Fprintln(os.Stderr, "need -n >= 2")
		os.Exit(2)
	}

	opts := []fastfair.Option{
		fastfair.WithWriteLatency(time.Duration(*latencyNS) * time.Nanosecond),
	}
	if *verbose {
		zl, err := zap.NewProduction()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		defer zl.Sync()
		opts = append(opts, fastfair.WithLogger(logger.NewZap(zl)))
	}

	db, err := fastfair.Open(*poolPath, opts...)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	keys, err := loadKeys(*inputPath, *numData)
	if err != nil {
		fmt.Fprintln(os.Stderr, "input loading error:", err)
		os.Exit(1)
	}

	var limiter *rate.Limiter
	if *opsRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(*opsRate), *nThreads)
	}

	half := len(keys) / 2

	// warm-up: single-threaded insert of the first half
	start := time.Now()
	for _, k := range keys[:half] {
		must(db.Insert(k, uint64(k)))
	}
	fmt.Printf("Warm-up inserted %d keys (usec): %d\n", half, time.Since(start).Microseconds())

	ctx := context.Background()

	if *mixed {
		elapsed := runPhase(ctx, *nThreads, half, len(keys), func(i int) {
			wait(ctx, limiter)
			sidx := i - half
			switch i % 4 {
			case 0:
				must(db.Insert(keys[i], uint64(keys[i])))
				for j := 0; j < 4; j++ {
					db.Search(keys[(sidx+j)%half])
				}
				must(db.Delete(keys[i]))
			case 1:
				for j := 0; j < 3; j++ {
					db.Search(keys[(sidx+j+8)%half])
				}
				must(db.Insert(keys[i], uint64(keys[i])))
				db.Search(keys[(sidx+3+8)%half])
			case 2:
				for j := 0; j < 2; j++ {
					db.Search(keys[(sidx+j+16)%half])
				}
				must(db.Insert(keys[i], uint64(keys[i])))
				for j := 2; j < 4; j++ {
					db.Search(keys[(sidx+j+16)%half])
				}
			case 3:
				for j := 0; j < 4; j++ {
					db.Search(keys[(sidx+j+24)%half])
				}
				must(db.Insert(keys[i], uint64(keys[i])))
			}
		})
		fmt.Printf("Concurrent inserting and searching with %d threads (usec): %d\n",
			*nThreads, elapsed.Microseconds())
		return
	}

	// concurrent search over the warmed-up half
	elapsed := runPhase(ctx, *nThreads, 0, half, func(i int) {
		wait(ctx, limiter)
		db.Search(keys[i])
	})
	fmt.Printf("Concurrent searching with %d threads (usec): %d\n",
		*nThreads, elapsed.Microseconds())

	// concurrent insert of the second half
	elapsed = runPhase(ctx, *nThreads, half, len(keys), func(i int) {
		wait(ctx, limiter)
		must(db.Insert(keys[i], uint64(keys[i])))
	})
	fmt.Printf("Concurrent inserting with %d threads (usec): %d\n",
		*nThreads, elapsed.Microseconds())
}

// runPhase splits [from, to) across workers and times the whole phase.
func runPhase(ctx context.Context, workers, from, to int, op func(i int)) time.Duration {
	per := (to - from) / workers
	start := time.Now()

	g, _ := errgroup.WithContext(ctx)
	for tid := 0; tid < workers; tid++ {
		lo := from + per*tid
		hi := lo + per
		if tid == workers-1 {
			hi = to
		}
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				op(i)
			}
			return nil
		})
	}
	_ = g.Wait()

	return time.Since(start)
}

func wait(ctx context.Context, l *rate.Limiter) {
	if l != nil {
		_ = l.Wait(ctx)
	}
}

// loadKeys reads the first n distinct keys from path, deduplicated through
// a roaring bitmap; fewer than n distinct keys is an error. A missing file
// falls back to a shuffled 1..n sequence.
func loadKeys(path string, n int) ([]int64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return generateKeys(n), nil
		}
		return nil, err
	}
	defer f.Close()

	seen := roaring64.New()
	keys := make([]int64, 0, n)

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 1<<20), 1<<20)
	sc.Split(bufio.ScanWords)
	for len(keys) < n && sc.Scan() {
		k, err := strconv.ParseInt(sc.Text(), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad key %q: %w", sc.Text(), err)
		}
		if seen.CheckedAdd(uint64(k)) {
			keys = append(keys, k)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(keys) < n {
		return nil, fmt.Errorf("input has %d distinct keys, need %d", len(keys), n)
	}
	return keys, nil
}

func generateKeys(n int) []int64 {
	keys := make([]int64, n)
	for i := range keys {
		keys[i] = int64(i + 1)
	}
	rand.Shuffle(n, func(i, j int) {
		keys[i], keys[j] = keys[j], keys[i]
	})
	return keys
}

func must(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
