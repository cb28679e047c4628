// Command fpcoreboot is a minimal demo control-plane bootstrap: it
// loads a small YAML config, maps an arena, builds the read-only route
// snapshot and session containers over it, and publishes the snapshot
// via RCU. It is not a control plane — no RPC surface, no persistence,
// just the bootstrap sequence the core's containers are built to
// support (spec §1, §5).
package main

import (
	"flag"
	"fmt"
	"net/netip"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sakateka/fpcore/arena"
	"github.com/sakateka/fpcore/bucketmap"
	"github.com/sakateka/fpcore/intervalcounter"
	"github.com/sakateka/fpcore/layermap"
	"github.com/sakateka/fpcore/lpm"
	"github.com/sakateka/fpcore/rangecollect"
	"github.com/sakateka/fpcore/syncutil"
	"github.com/sakateka/fpcore/ttlmap"
	"github.com/sakateka/fpcore/valuetable"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the bootstrap YAML config")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	if err := run(*configPath, log); err != nil {
		log.Fatal().Err(err).Msg("fpcoreboot: startup failed")
	}
}

func run(configPath string, log zerolog.Logger) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	a, err := arena.New(int(cfg.ArenaSizeBytes))
	if err != nil {
		return fmt.Errorf("arena: %w", err)
	}
	defer a.Close()

	allocator := arena.NewAllocator(a)
	allocator.PutArena(0, a.Len())
	root := arena.NewContext("fpcoreboot", allocator)
	log.Info().Int64("arena_bytes", a.Len()).Msg("arena mapped")

	// The route snapshot, flow table, session map, and rate counter are
	// built from disjoint state, so they're built concurrently — this is
	// the same independent-container-construction shape a real bootstrap
	// sequence would have, just compressed into one process.
	var (
		routeTree         *lpm.Tree
		distinctLabels    int
		flows             *bucketmap.Map
		sessions          *layermap.Map
		sessionsProbeTime uint64
		rate              *intervalcounter.Counter
	)
	routesCtx := root.Child("routes")
	var g errgroup.Group
	g.Go(func() error {
		var err error
		routeTree, distinctLabels, err = buildRoutes(cfg, routesCtx, log)
		if err != nil {
			return fmt.Errorf("routes: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		flows = buildFlowTable(cfg, log)
		return nil
	})
	g.Go(func() error {
		var err error
		sessions, sessionsProbeTime, err = buildSessions(cfg, log)
		if err != nil {
			return fmt.Errorf("sessions: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		rate = buildRateCounter(log)
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	publishRoutes(cfg, routeTree, log)

	stats := routesCtx.Stats()
	log.Info().
		Str("context", stats.Name).
		Uint64("balloc_count", stats.BallocCount).
		Uint64("bfree_count", stats.BfreeCount).
		Bool("balanced", routesCtx.Balanced()).
		Int("distinct_labels", distinctLabels).
		Int("flow_count_probe", flowProbeCount(flows)).
		Int64("session_count", sessionCountProbe(sessions, sessionsProbeTime)).
		Int64("current_rate", rate.CurrentCount()).
		Msg("bootstrap complete")
	return nil
}

// buildRoutes parses every configured CIDR into the internal range
// collector, collects it into an LPM snapshot, and walks the snapshot
// to record its distinct values in a value registry. No remap or value
// table compaction is run over those values.
func buildRoutes(cfg *Config, ctx *arena.Context, log zerolog.Logger) (*lpm.Tree, int, error) {
	set, err := rangecollect.NewMaskSet(4)
	if err != nil {
		return nil, 0, err
	}

	routesLoaded := 0
	for _, r := range cfg.Routes {
		prefix, err := netip.ParsePrefix(r.CIDR)
		if err != nil {
			return nil, 0, fmt.Errorf("bad cidr %q: %w", r.CIDR, err)
		}
		if !prefix.Addr().Is4() {
			log.Warn().Str("cidr", r.CIDR).Msg("skipping non-IPv4 route: core LPM keys are 4 or 8 bytes")
			continue
		}
		network := prefix.Masked().Addr().As4()
		if err := set.Add(network[:], prefix.Bits()); err != nil {
			return nil, 0, err
		}
		log.Debug().Str("cidr", r.CIDR).Str("label", r.Label).Msg("route recorded")
		routesLoaded++
	}

	tree, err := lpm.New(4)
	if err != nil {
		return nil, 0, err
	}
	if err := set.Collect(tree); err != nil {
		return nil, 0, err
	}

	// A synthetic reservation standing in for the memory a real build
	// would carve out of the arena for this snapshot's backing pages;
	// the LPM's own page store is plain Go memory (see DESIGN.md), but
	// the context still tracks the budget a control-plane builder would
	// charge against the arena for it.
	reserveSize := int64(tree.PageCount() * 256 * 4)
	off, err := ctx.Alloc(reserveSize)
	if err != nil {
		return nil, 0, err
	}
	defer func() {
		if err := ctx.Free(off, reserveSize); err != nil {
			log.Warn().Err(err).Msg("failed to release route snapshot reservation")
		}
	}()

	registry := valuetable.NewRegistry()
	registry.StartGeneration()
	var minKey, maxKey [4]byte
	maxKey = [4]byte{0xFF, 0xFF, 0xFF, 0xFF}
	tree.Walk(minKey[:], maxKey[:], func(_, _ []byte, value uint32) {
		registry.Collect(value)
	})

	log.Info().Int("pages", tree.PageCount()).Int("routes_loaded", routesLoaded).Msg("route snapshot built")
	return tree, len(registry.Values(0)), nil
}

// buildFlowTable demonstrates the SIMD-friendly bucket map as a
// fast-path flow counter keyed by a 4-byte address.
func buildFlowTable(cfg *Config, log zerolog.Logger) *bucketmap.Map {
	m, err := bucketmap.New(bucketmap.Config{
		KeySize: 4, ValueSize: 4, Seed: 1, WorkerCount: cfg.WorkerCount,
		LocksEnabled: true, IndexBits: 10,
	})
	if err != nil {
		// Config here is constant and always valid; a failure would be
		// a programming error in this binary, not an operator input.
		panic(err)
	}
	for i := 0; i < 4; i++ {
		key := []byte{10, 0, 0, byte(i)}
		value := []byte{0, 0, 0, byte(i)}
		if err := m.Put(key, value); err != nil {
			log.Warn().Err(err).Msg("flow table put failed")
		}
	}
	return m
}

func flowProbeCount(m *bucketmap.Map) int {
	n := 0
	for i := 0; i < 4; i++ {
		if _, ok := m.Get([]byte{10, 0, 0, byte(i)}); ok {
			n++
		}
	}
	return n
}

// buildSessions demonstrates the layered TTL session map: put one
// session, rotate past half its lifetime (still visible via the hot
// read-only layer), then rotate past its full lifetime (aged out),
// mirroring spec scenario E5.
func buildSessions(cfg *Config, log zerolog.Logger) (*layermap.Map, uint64, error) {
	m, err := layermap.New(layermap.Config{TTL: ttlmap.Config{
		KeySize: 4, ValueSize: 4, IndexSize: 64, ExtraBucketCount: 256,
		WorkerCount: cfg.WorkerCount, Seed: 2,
	}})
	if err != nil {
		return nil, 0, err
	}

	ttl := cfg.SessionTTLSecs
	if err := m.Put(0, 0, ttl, []byte{192, 168, 0, 1}, []byte{0, 0, 0, 1}); err != nil {
		return nil, 0, err
	}
	if err := m.Rotate(ttl / 2); err != nil {
		return nil, 0, err
	}
	if _, lock, ok := m.Get(ttl/2, []byte{192, 168, 0, 1}); ok {
		lock.Unlock()
		log.Info().Msg("session still live at half its TTL, via the hot read-only layer")
	}
	probeTime := ttl + 1
	if err := m.Rotate(probeTime); err != nil {
		return nil, 0, err
	}
	if _, _, ok := m.Get(probeTime, []byte{192, 168, 0, 1}); !ok {
		log.Info().Msg("session aged out after rotation past its TTL")
	}
	return m, probeTime, nil
}

func sessionCountProbe(m *layermap.Map, now uint64) int64 {
	if _, _, ok := m.Get(now, []byte{192, 168, 0, 1}); ok {
		return 1
	}
	return 0
}

// buildRateCounter demonstrates the sliding-window ring counter with a
// short burst of traffic that expires after its timeout.
func buildRateCounter(log zerolog.Logger) *intervalcounter.Counter {
	c, err := intervalcounter.New(60)
	if err != nil {
		panic(err) // constant, always-valid argument
	}
	if err := c.Put(0, 5, 100); err != nil {
		log.Warn().Err(err).Msg("rate counter put failed")
	}
	if err := c.AdvanceTime(3); err != nil {
		log.Warn().Err(err).Msg("rate counter advance failed")
	}
	return c
}

// publishRoutes demonstrates the two-phase RCU publish a real builder
// would use to swap a worker-visible root pointer to the freshly built
// snapshot: workers "read" under ReadBegin/ReadEnd while the builder
// calls PublishUpdate, which only returns once no worker can still be
// observing the previous epoch.
func publishRoutes(cfg *Config, tree *lpm.Tree, log zerolog.Logger) {
	rcu := syncutil.New(cfg.WorkerCount)
	var root atomic.Pointer[lpm.Tree]
	root.Store(tree)

	rcu.ReadBegin(0)
	if _, ok := root.Load().Lookup([]byte{10, 0, 0, 1}); !ok {
		log.Debug().Msg("no match for probe address, as expected for an empty config")
	}
	rcu.ReadEnd(0)

	rcu.PublishUpdate()
	log.Info().Msg("published route snapshot via RCU")
}
