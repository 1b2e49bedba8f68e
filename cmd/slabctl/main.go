// slabctl is a small operator CLI for exercising a pkg/kmem cache: the
// subcommand/flag shape and the -watch polling loop are ported straight from
// cmd/arena-cache-inspect, but slabctl has no remote target to poll — a
// kmem cache only exists inside the process that created it — so instead of
// fetching a snapshot over HTTP it builds its own demo cache in-process and
// drives it directly (spec.md §10.5 of SPEC_FULL.md).
//
// Subcommands:
//
//	slabctl stats   [-object-size N] [-watch] [-interval D] [-json]
//	slabctl reap    [-object-size N] [-journal DIR]
//	slabctl stress  [-object-size N] [-workers N] [-duration D]
//
// © 2025 kmemslab authors. MIT License.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sync/errgroup"

	"github.com/voskan/kmemslab/internal/arena"
	"github.com/voskan/kmemslab/internal/reapjournal"
	"github.com/voskan/kmemslab/internal/workload"
	"github.com/voskan/kmemslab/pkg/kmem"
)

var version = "dev"

const defaultObjectSize = 32

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	var err error
	switch os.Args[1] {
	case "stats":
		err = runStats(ctx, os.Args[2:])
	case "reap":
		err = runReap(os.Args[2:])
	case "stress":
		err = runStress(ctx, os.Args[2:])
	case "-version", "--version", "version":
		fmt.Println(version)
		return
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fatal(err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: slabctl <stats|reap|stress> [flags]")
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "slabctl:", err)
	os.Exit(1)
}

/* -------------------------------------------------------------------------
   Shared demo-cache construction
   ------------------------------------------------------------------------- */

func newDemoCache(objectSize int, journal *reapjournal.Journal) (*kmem.Cache, error) {
	base := arena.NewPageArena(4096)
	bump := arena.NewBumpArena(base, 1<<20, 4096)

	var opts []kmem.Option
	if journal != nil {
		opts = append(opts, kmem.WithReapJournal(journal))
	}

	res, err := kmem.Create("slabctl-demo", objectSize, 8, kmem.FlagNone, bump, nil, nil, nil, opts...)
	if err != nil {
		return nil, err
	}
	return res.Cache, nil
}

/* -------------------------------------------------------------------------
   stats
   ------------------------------------------------------------------------- */

func runStats(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	objectSize := fs.Int("object-size", defaultObjectSize, "object size in bytes")
	watch := fs.Bool("watch", false, "poll repeatedly instead of a single snapshot")
	interval := fs.Duration("interval", time.Second, "poll interval with -watch")
	asJSON := fs.Bool("json", false, "emit JSON instead of a table")
	prime := fs.Int("prime-allocs", 0, "allocate this many objects up front, so stats has something to show")
	if err := fs.Parse(args); err != nil {
		return err
	}

	c, err := newDemoCache(*objectSize, nil)
	if err != nil {
		return err
	}

	for i := 0; i < *prime; i++ {
		if _, err := c.Alloc(kmem.AllocError); err != nil {
			break
		}
	}

	dump := func() error {
		snap := statSnapshot(c)
		if *asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		}
		fmt.Printf("cache=%s cur_alloc=%d\n", snap.Name, snap.CurAlloc)
		for i, p := range snap.PerCPU {
			fmt.Printf("  cpu[%d] allocs_ever=%d loaded=%d previous=%d magsize=%d\n",
				i, p.AllocsEver, p.LoadedRounds, p.PreviousRounds, p.Magsize)
		}
		return nil
	}

	if !*watch {
		return dump()
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		if err := dump(); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		select {
		case <-ticker.C:
			continue
		case <-ctx.Done():
			return nil
		}
	}
}

type pcpuStat struct {
	AllocsEver     uint64 `json:"allocs_ever"`
	LoadedRounds   int    `json:"loaded_rounds"`
	PreviousRounds int    `json:"previous_rounds"`
	Magsize        int    `json:"magsize"`
}

type cacheSnapshot struct {
	Name     string     `json:"name"`
	CurAlloc int64      `json:"cur_alloc"`
	PerCPU   []pcpuStat `json:"per_cpu"`
}

func statSnapshot(c *kmem.Cache) cacheSnapshot {
	snap := cacheSnapshot{Name: c.Name(), CurAlloc: c.CurAlloc()}
	for _, p := range c.PerCPUStats() {
		snap.PerCPU = append(snap.PerCPU, pcpuStat{
			AllocsEver:     p.AllocsEver,
			LoadedRounds:   p.LoadedRounds,
			PreviousRounds: p.PreviousRounds,
			Magsize:        p.Magsize,
		})
	}
	return snap
}

/* -------------------------------------------------------------------------
   reap
   ------------------------------------------------------------------------- */

func runReap(args []string) error {
	fs := flag.NewFlagSet("reap", flag.ExitOnError)
	objectSize := fs.Int("object-size", defaultObjectSize, "object size in bytes")
	journalDir := fs.String("journal", "", "directory for a durable reapjournal log; empty disables journaling")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var j *reapjournal.Journal
	if *journalDir != "" {
		var err error
		j, err = reapjournal.Open(*journalDir)
		if err != nil {
			return err
		}
		defer j.Close()
	}

	c, err := newDemoCache(*objectSize, j)
	if err != nil {
		return err
	}

	// Allocate and immediately free a batch so there is at least one empty
	// slab for Reap to reclaim.
	var objs []unsafe.Pointer
	for i := 0; i < 64; i++ {
		obj, err := c.Alloc(kmem.AllocError)
		if err != nil {
			break
		}
		objs = append(objs, obj)
	}
	for _, o := range objs {
		c.Free(o)
	}

	c.Reap()
	fmt.Printf("reap complete for cache=%s cur_alloc=%d\n", c.Name(), c.CurAlloc())

	if j != nil {
		recent, err := j.Recent(5)
		if err != nil {
			return err
		}
		for _, r := range recent {
			fmt.Printf("journal: cache=%s slabs_freed=%d bytes_freed=%d at=%s\n",
				r.CacheName, r.SlabsFreed, r.BytesFreed, r.At.Format(time.RFC3339))
		}
	}
	return nil
}

/* -------------------------------------------------------------------------
   stress  (spec.md §8 scenario 6: depot resize under contention)
   ------------------------------------------------------------------------- */

func runStress(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("stress", flag.ExitOnError)
	objectSize := fs.Int("object-size", defaultObjectSize, "object size in bytes")
	workers := fs.Int("workers", 0, "goroutine count; 0 means GOMAXPROCS")
	duration := fs.Duration("duration", 2*time.Second, "how long to hammer the cache")
	pattern := fs.String("pattern", "uniform", "burst-size distribution: uniform or zipf")
	maxBurst := fs.Int("max-burst", 8, "largest alloc batch a worker issues before freeing it")
	zipfS := fs.Float64("zipf-s", 1.2, "zipf s parameter (>1), used when -pattern=zipf")
	zipfV := fs.Float64("zipf-v", 1.0, "zipf v parameter (>0), used when -pattern=zipf")
	if err := fs.Parse(args); err != nil {
		return err
	}

	c, err := newDemoCache(*objectSize, nil)
	if err != nil {
		return err
	}

	n := *workers
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}

	runCtx, cancel := context.WithTimeout(ctx, *duration)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	for i := 0; i < n; i++ {
		seed := int64(i) + 1
		g.Go(func() error {
			sizer, err := workload.NewBurstSizer(seed, workload.Distribution(*pattern), *maxBurst, *zipfS, *zipfV)
			if err != nil {
				return err
			}
			batch := make([]unsafe.Pointer, 0, *maxBurst)
			for {
				select {
				case <-gctx.Done():
					return nil
				default:
				}
				n := sizer.Next()
				batch = batch[:0]
				for j := 0; j < n; j++ {
					obj, err := c.Alloc(kmem.AllocAtomic)
					if err != nil || obj == nil {
						continue
					}
					batch = append(batch, obj)
				}
				for _, obj := range batch {
					c.Free(obj)
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	snap := statSnapshot(c)
	fmt.Printf("stress complete: workers=%d pattern=%s cur_alloc=%d\n", n, *pattern, snap.CurAlloc)
	for i, p := range snap.PerCPU {
		fmt.Printf("  cpu[%d] allocs_ever=%d magsize=%d\n", i, p.AllocsEver, p.Magsize)
	}
	return nil
}
