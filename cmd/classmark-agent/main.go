package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/noah-isme/classmark-api/internal/models"
	"github.com/noah-isme/classmark-api/internal/offline"
	"github.com/noah-isme/classmark-api/pkg/config"
	"github.com/noah-isme/classmark-api/pkg/logger"
)

// The agent is the device-side half of attendance sync: it queues marks in a
// local SQLite file and drains them through the gateway's batch endpoint
// whenever connectivity allows.
//
// Usage:
//
//	classmark-agent [flags] mark <class-id> <student-id> <date> <status> [notes]
//	classmark-agent [flags] sync
//	classmark-agent [flags] pending
//	classmark-agent [flags] run
func main() {
	var (
		gateway  string
		token    string
		email    string
		password string
	)
	flag.StringVar(&gateway, "gateway", "http://localhost:8080/api/v1", "gateway base URL")
	flag.StringVar(&token, "token", os.Getenv("AGENT_TOKEN"), "bearer token (skips login)")
	flag.StringVar(&email, "email", os.Getenv("AGENT_EMAIL"), "login email")
	flag.StringVar(&password, "password", os.Getenv("AGENT_PASSWORD"), "login password")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	store, err := offline.OpenSQLiteStore(cfg.Offline.StorePath)
	if err != nil {
		log.Fatalf("failed to open pending store: %v", err)
	}
	defer store.Close()

	tokenFn := tokenSource(gateway, token, email, password, cfg.Offline.RequestTimeout)
	reconciler := offline.NewHTTPReconciler(gateway, tokenFn, cfg.Offline.RequestTimeout, logr)
	monitor := offline.NewProbeMonitor(&offline.HTTPProber{URL: cfg.Offline.ProbeURL}, cfg.Offline.ProbeInterval, logr)
	coordinator := offline.NewCoordinator(store, reconciler, monitor, logr)

	ctx := context.Background()
	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	switch args[0] {
	case "mark":
		err = runMark(ctx, coordinator, args[1:])
	case "sync":
		err = runSync(ctx, coordinator)
	case "pending":
		err = runPending(ctx, coordinator)
	case "run":
		err = runDaemon(ctx, coordinator, monitor)
	default:
		err = fmt.Errorf("unknown command %q", args[0])
	}
	if err != nil {
		log.Fatalf("%v", err)
	}
}

func runMark(ctx context.Context, coordinator *offline.Coordinator, args []string) error {
	if len(args) < 4 {
		return errors.New("usage: mark <class-id> <student-id> <date> <status> [notes]")
	}
	status := models.AttendanceStatus(strings.ToUpper(args[3]))
	if !status.Valid() {
		return fmt.Errorf("unsupported status %q", args[3])
	}
	if _, err := time.Parse("2006-01-02", args[2]); err != nil {
		return fmt.Errorf("invalid date %q, expected YYYY-MM-DD", args[2])
	}
	var notes *string
	if len(args) > 4 {
		joined := strings.Join(args[4:], " ")
		notes = &joined
	}

	key := offline.Key{ClassID: args[0], StudentID: args[1], Date: args[2]}
	if err := coordinator.Mark(ctx, key, status, notes); err != nil {
		return fmt.Errorf("queue mark: %w", err)
	}
	count, err := coordinator.PendingCount(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("mark recorded (%d pending)\n", count)
	return nil
}

func runSync(ctx context.Context, coordinator *offline.Coordinator) error {
	outcome, err := coordinator.Sync(ctx)
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	fmt.Printf("synced %d, failed %d\n", outcome.Synced, outcome.Failed)
	for key, code := range outcome.Errors {
		fmt.Printf("  %s: %s\n", key, code)
	}
	return nil
}

func runPending(ctx context.Context, coordinator *offline.Coordinator) error {
	count, err := coordinator.PendingCount(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%d pending\n", count)
	return nil
}

// runDaemon keeps the monitor polling so queued marks drain automatically on
// every reconnect, until interrupted.
func runDaemon(ctx context.Context, coordinator *offline.Coordinator, monitor *offline.ProbeMonitor) error {
	monitor.Start(ctx)
	defer monitor.Stop()

	count, err := coordinator.PendingCount(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("agent running, %d pending; Ctrl-C to stop\n", count)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	return nil
}

// tokenSource returns a token callback: a static token when provided,
// otherwise a login against the gateway with the result cached for reuse.
func tokenSource(gateway, token, email, password string, timeout time.Duration) func(ctx context.Context) (string, error) {
	if token != "" {
		return func(ctx context.Context) (string, error) { return token, nil }
	}
	var cached string
	client := &http.Client{Timeout: timeout}
	return func(ctx context.Context) (string, error) {
		if cached != "" {
			return cached, nil
		}
		if email == "" || password == "" {
			return "", errors.New("no token and no login credentials configured")
		}

		payload, err := json.Marshal(models.LoginRequest{Email: email, Password: password})
		if err != nil {
			return "", err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, gateway+"/auth/login", bytes.NewReader(payload))
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return "", fmt.Errorf("login request: %w", err)
		}
		defer resp.Body.Close()

		var envelope struct {
			Data *models.LoginResponse `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			return "", fmt.Errorf("decode login response: %w", err)
		}
		if resp.StatusCode != http.StatusOK || envelope.Data == nil {
			return "", fmt.Errorf("login rejected with status %d", resp.StatusCode)
		}
		cached = envelope.Data.AccessToken
		return cached, nil
	}
}
