package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"forumchat/internal/config"
)

func main() {
	numUsers := flag.Int("users", 50, "Number of simulated chat users")
	perSecond := flag.Float64("rate", 1, "Operations per second per user")
	duration := flag.Duration("duration", 60*time.Second, "Length of the simulation")
	batchSize := flag.Int("batch", 10, "Users registered in parallel")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("starting load test",
		"users", *numUsers, "rate", *perSecond, "duration", *duration, "server", cfg.ServerURL)

	users := registerAll(ctx, cfg, *numUsers, *batchSize)
	if len(users) < 2 || len(users) < *numUsers/2 {
		slog.Error("too many registration failures, aborting load test", "registered", len(users))
		os.Exit(1)
	}

	stats := NewStats()
	loopCtx, stopLoops := context.WithCancel(context.Background())
	defer stopLoops()

	for _, u := range users {
		u.start(loopCtx, cfg, stats)
	}
	connected := awaitOpen(ctx, users, 30*time.Second)
	slog.Info("sockets open", "connected", connected, "users", len(users))

	simCtx, cancel := context.WithTimeout(ctx, *duration)
	defer cancel()

	start := time.Now()
	var wg sync.WaitGroup
	for i, u := range users {
		// Each user talks to the next one, so every socket both sends and receives.
		peer := users[(i+1)%len(users)].id
		limiter := rate.NewLimiter(rate.Limit(*perSecond), 1)
		rng := rand.New(rand.NewSource(int64(i)))

		wg.Add(1)
		go func(u *simUser) {
			defer wg.Done()
			u.simulate(simCtx, peer, limiter, rng.Float32)
		}(u)
	}
	wg.Wait()
	elapsed := time.Since(start)

	// Give in-flight echoes a moment before counting what is missing.
	time.Sleep(time.Second)
	lost := countOutstanding(users)

	stopCtx, cancelStop := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelStop()
	for _, u := range users {
		u.stop(stopCtx)
	}

	stats.Report(elapsed, lost).Print(os.Stdout)
}

// registerAll creates n users, at most batch at a time.
func registerAll(ctx context.Context, cfg *config.Config, n, batch int) []*simUser {
	registered := make([]*simUser, n)
	errCh := make(chan error, n)
	sem := make(chan struct{}, max(1, batch))

	started := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			u, err := registerUser(ctx, cfg, i)
			if err != nil {
				errCh <- err
				return
			}
			registered[i] = u
		}(i)
	}
	wg.Wait()
	close(errCh)

	errorCount := 0
	for err := range errCh {
		errorCount++
		if errorCount <= 10 {
			slog.Warn("registration failed", "error", err)
		}
	}

	elapsed := time.Since(started)
	slog.Info("user registration completed",
		"elapsed", elapsed,
		"users_per_sec", fmt.Sprintf("%.2f", float64(n)/elapsed.Seconds()),
		"failed", errorCount)

	users := make([]*simUser, 0, n)
	for _, u := range registered {
		if u != nil {
			users = append(users, u)
		}
	}
	return users
}

func awaitOpen(ctx context.Context, users []*simUser, timeout time.Duration) int {
	deadline := time.After(timeout)
	connected := 0
	for _, u := range users {
		select {
		case <-u.open:
			connected++
		case <-deadline:
			return connected
		case <-ctx.Done():
			return connected
		}
	}
	return connected
}

func countOutstanding(users []*simUser) int {
	total := 0
	for _, u := range users {
		done := make(chan int, 1)
		u.events.Post(func() { done <- u.probe.outstanding() })
		select {
		case n := <-done:
			total += n
		case <-time.After(time.Second):
		}
	}
	return total
}
