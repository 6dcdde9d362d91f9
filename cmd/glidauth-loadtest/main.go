// Command glidauth-loadtest measures Authorize and Refresh throughput of an
// Engine against Redis, or miniredis when no address is given.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/MrEthical07/glidauth"
	"github.com/MrEthical07/glidauth/directory"
	"github.com/MrEthical07/glidauth/password"
)

const (
	loadtestGLID     = "loadtest"
	loadtestPassword = "loadtest-password"
)

type sessionState struct {
	sid     string
	access  string
	refresh string
	mu      sync.Mutex
}

func main() {
	var (
		sessions    = pflag.Int("sessions", 2000, "number of sessions to log in before measuring")
		concurrency = pflag.Int("concurrency", 64, "number of concurrent workers")
		ops         = pflag.Int("ops", 50000, "operations per phase (authorize + refresh)")
		redisAddr   = pflag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	pflag.Parse()

	if *sessions <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "sessions, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", mr.Addr())
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	engine, err := newEngine(client)
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine init failed: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	fmt.Printf("logging in %d sessions...\n", *sessions)
	startSeed := time.Now()
	states := make([]sessionState, *sessions)
	for i := range states {
		if err := seedSession(ctx, engine, &states[i]); err != nil {
			fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	authorizeStats := runPhase(states, *ops, *concurrency, 7919, func(s *sessionState) error {
		_, err := engine.Authorize(ctx, glidauth.RouteStandard, s.sid, s.access)
		return err
	})
	refreshStats := runPhase(states, *ops, *concurrency, 6151, func(s *sessionState) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		pair, err := engine.Refresh(ctx, s.sid, s.refresh)
		if err != nil {
			return err
		}
		s.access, s.refresh = pair.AccessToken, pair.RefreshToken
		return nil
	})

	fmt.Println("---- results ----")
	printStats("authorize", authorizeStats)
	printStats("refresh", refreshStats)
}

func newEngine(client redis.UniversalClient) (*glidauth.Engine, error) {
	cfg := glidauth.DefaultConfig()
	cfg.JWT.PrivateKey = []byte("glidauth-loadtest-signing-key-0123456789")
	cfg.Password = glidauth.PasswordConfig{Memory: 8192, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	cfg.Metrics.Enabled = false

	hasher, err := password.NewArgon2(password.Config(cfg.Password))
	if err != nil {
		return nil, err
	}
	hash, err := hasher.Hash(loadtestPassword)
	if err != nil {
		return nil, err
	}

	dir := directory.NewMemory()
	dir.Put(directory.MasterUser{GLID: loadtestGLID, Name: "Load Test", PasswordHash: hash}, directory.Profile{})

	return glidauth.New().
		WithConfig(cfg).
		WithRedis(client).
		WithDirectory(dir).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		Build()
}

func seedSession(ctx context.Context, engine *glidauth.Engine, state *sessionState) error {
	sess, err := engine.CreateSession(ctx, "", glidauth.SessionMeta{IP: "127.0.0.1", Device: "loadtest"})
	if err != nil {
		return err
	}
	res, err := engine.Login(ctx, sess.SessionID, loadtestGLID, loadtestPassword)
	if err != nil {
		return err
	}
	if res.Tokens == nil {
		return fmt.Errorf("login of %s returned no tokens", sess.SessionID)
	}
	state.sid = sess.SessionID
	state.access = res.Tokens.AccessToken
	state.refresh = res.Tokens.RefreshToken
	return nil
}

func runPhase(states []sessionState, ops, concurrency int, seed int64, op func(*sessionState) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*seed))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				state := &states[r.Intn(len(states))]
				t0 := time.Now()
				err := op(state)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
