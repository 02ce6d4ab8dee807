package cmd

import (
	"bytes"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fzft/go-echo-poll/log"
	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type BenchOptions struct {
	Addr        string
	Clients     int // concurrent connections
	Requests    int // round trips per connection
	PayloadSize int
	PoolSize    int // goroutines driving the clients
}

type BenchResult struct {
	RoundTrips int64
	Failures   int64
	Mismatches int64
	Bytes      int64
	Elapsed    time.Duration
}

// RunBench drives opts.Clients echo clients on an ants pool. Every reply is
// compared byte for byte with what was sent.
func RunBench(opts BenchOptions) (*BenchResult, error) {
	if opts.Clients <= 0 || opts.Requests <= 0 || opts.PayloadSize <= 0 {
		return nil, errors.New("clients, requests and payload size must be positive")
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = opts.Clients
	}

	pool, err := ants.NewPool(opts.PoolSize)
	if err != nil {
		return nil, errors.Wrap(err, "create ants pool")
	}
	defer pool.Release()

	res := &BenchResult{}
	start := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < opts.Clients; i++ {
		seed := int64(i)
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			runBenchClient(seed, opts, res)
		}); err != nil {
			wg.Done()
			atomic.AddInt64(&res.Failures, int64(opts.Requests))
			log.Logger.Warn("submit bench client failed", zap.Error(err))
		}
	}
	wg.Wait()

	res.Elapsed = time.Since(start)
	return res, nil
}

func runBenchClient(seed int64, opts BenchOptions, res *BenchResult) {
	client := NewEchoClient(opts.Addr)
	if err := client.Connect(); err != nil {
		atomic.AddInt64(&res.Failures, int64(opts.Requests))
		log.Logger.Debug("bench connect failed", zap.Error(err))
		return
	}
	defer client.Close()

	rnd := rand.New(rand.NewSource(seed))
	payload := make([]byte, opts.PayloadSize)
	for i := 0; i < opts.Requests; i++ {
		rnd.Read(payload)
		reply, err := client.RoundTrip(payload)
		if err != nil {
			atomic.AddInt64(&res.Failures, int64(opts.Requests-i))
			log.Logger.Debug("bench round trip failed", zap.Error(err))
			return
		}
		if !bytes.Equal(reply, payload) {
			atomic.AddInt64(&res.Mismatches, 1)
		}
		atomic.AddInt64(&res.RoundTrips, 1)
		atomic.AddInt64(&res.Bytes, int64(len(payload)))
	}
}
