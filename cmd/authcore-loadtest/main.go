package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/casework/authcore"
	"github.com/casework/authcore/account"
	"github.com/casework/authcore/directory"
	"github.com/redis/go-redis/v9"
)

const loadPassword = "load-test-password"

type tokenState struct {
	access  string
	revoked atomic.Bool
}

func main() {
	var (
		accounts    = flag.Int("accounts", 200, "number of accounts to seed and log in")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "verify operations per phase")
		revokeShare = flag.Int("revoke-percent", 25, "share of tokens revoked before the second verify phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *accounts <= 0 || *concurrency <= 0 || *ops <= 0 || *revokeShare < 0 || *revokeShare > 100 {
		fmt.Fprintln(os.Stderr, "accounts, concurrency and ops must be > 0; revoke-percent in 0..100")
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
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	cfg := authcore.DefaultConfig()
	cfg.JWT.SigningKey = []byte("loadtest-signing-key-0123456789abcdef")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true

	dir := directory.NewMemory()
	engine, err := authcore.New().WithConfig(cfg).WithDirectory(dir).WithRedis(client).Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build failed: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	hash, err := engine.HashPassword(loadPassword)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hash failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("seeding %d accounts...\n", *accounts)
	startSeed := time.Now()
	states := make([]tokenState, *accounts)
	for i := 0; i < *accounts; i++ {
		name := fmt.Sprintf("user-%d@load.test", i)
		if _, err := dir.Create(ctx, account.Account{
			LoginName: name, CredentialHash: hash, Role: account.RoleStaff, Active: true,
		}); err != nil {
			fmt.Fprintf(os.Stderr, "create failed: %v\n", err)
			os.Exit(1)
		}
		res, err := engine.Login(ctx, name, loadPassword)
		if err != nil {
			fmt.Fprintf(os.Stderr, "login failed: %v\n", err)
			os.Exit(1)
		}
		states[i].access = res.Tokens.AccessToken
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	before := runVerifyPhase(ctx, engine, states, *ops, *concurrency)
	revoked := revokeShareOf(ctx, engine, states, *revokeShare)
	after := runVerifyPhase(ctx, engine, states, *ops, *concurrency)
	lock := runLockoutPhase(ctx, engine, dir, hash, cfg.Lockout.Threshold, *concurrency)

	fmt.Println("---- results ----")
	printStats("verify", before)
	fmt.Printf("revoked %d of %d tokens\n", revoked, len(states))
	printStats("verify-after-revoke", after)
	fmt.Printf("lockout: attempts=%d invalid=%d locked=%d other=%d (expected invalid=%d)\n",
		lock.attempts, lock.invalid, lock.locked, lock.other, cfg.Lockout.Threshold-1)

	snap := engine.MetricsSnapshot()
	fmt.Printf("metrics: token_rejected=%d account_locked=%d revocation_store_error=%d\n",
		snap.Counters[authcore.MetricTokenRejected],
		snap.Counters[authcore.MetricAccountLocked],
		snap.Counters[authcore.MetricRevocationStoreError])

	if before.failures > 0 || after.failures > 0 || lock.invalid != int64(cfg.Lockout.Threshold-1) {
		os.Exit(1)
	}
}

// runVerifyPhase counts a failure whenever the verdict disagrees with the token's
// known revocation state.
func runVerifyPhase(ctx context.Context, engine *authcore.Engine, states []tokenState, ops, concurrency int) phaseStats {
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
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				state := &states[r.Intn(len(states))]
				t0 := time.Now()
				_, err := engine.Validate(ctx, state.access)
				d := time.Since(t0)

				wantRevoked := state.revoked.Load()
				if (err == nil) == wantRevoked || (err != nil && !errors.Is(err, authcore.ErrTokenRevoked)) {
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

func revokeShareOf(ctx context.Context, engine *authcore.Engine, states []tokenState, percent int) int {
	n := len(states) * percent / 100
	for i := 0; i < n; i++ {
		if err := engine.Logout(ctx, states[i].access); err != nil {
			fmt.Fprintf(os.Stderr, "logout failed: %v\n", err)
			os.Exit(1)
		}
		states[i].revoked.Store(true)
	}
	return n
}

type lockoutStats struct {
	attempts int
	invalid  int64
	locked   int64
	other    int64
}

// runLockoutPhase fires concurrent wrong-secret logins at one fresh account.
func runLockoutPhase(ctx context.Context, engine *authcore.Engine, dir *directory.Memory, hash string, threshold, concurrency int) lockoutStats {
	const name = "lockout-target@load.test"
	if _, err := dir.Create(ctx, account.Account{
		LoginName: name, CredentialHash: hash, Role: account.RoleStaff, Active: true,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "create failed: %v\n", err)
		os.Exit(1)
	}

	attempts := threshold * 4
	if attempts < concurrency {
		attempts = concurrency
	}
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		stats = lockoutStats{attempts: attempts}
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := engine.Login(ctx, name, "wrong-"+loadPassword)
			switch {
			case errors.Is(err, authcore.ErrAccountLocked):
				atomic.AddInt64(&stats.locked, 1)
			case errors.Is(err, authcore.ErrInvalidCredentials):
				atomic.AddInt64(&stats.invalid, 1)
			default:
				atomic.AddInt64(&stats.other, 1)
			}
		}()
	}
	close(start)
	wg.Wait()
	return stats
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
