package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type Config struct {
	BaseURL     string
	Profile     string
	Duration    time.Duration
	RPS         int
	Concurrency int
	Seed        uint64
}

type Result struct {
	TotalRequests int
	Failures      int
	ByStatusClass map[string]int
	ByEndpoint    map[string]int
}

type step struct {
	name   string
	method string
	path   string
	body   any
}

// Run drives a paced request mix against a running API until the duration
// elapses or ctx is cancelled. Transport errors count as failures; HTTP
// statuses are tallied by class.
func Run(ctx context.Context, cfg Config) (Result, error) {
	cfg.Profile = normalizeProfile(cfg.Profile)
	if cfg.BaseURL == "" {
		return Result{}, fmt.Errorf("base url is required")
	}
	if cfg.Duration <= 0 {
		cfg.Duration = 10 * time.Second
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	steps, err := profileSteps(cfg.Profile)
	if err != nil {
		return Result{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	client := &http.Client{Timeout: 5 * time.Second}
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	jobs := make(chan step)
	res := Result{ByStatusClass: map[string]int{}, ByEndpoint: map[string]int{}}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.Concurrency; i++ {
		g.Go(func() error {
			for s := range jobs {
				status, err := do(gctx, client, cfg.BaseURL, s)
				mu.Lock()
				res.TotalRequests++
				res.ByEndpoint[s.name]++
				if err != nil {
					res.Failures++
					res.ByStatusClass["error"]++
				} else {
					class := classifyStatusClass(status)
					res.ByStatusClass[class]++
					if class == "5xx" {
						res.Failures++
					}
				}
				mu.Unlock()
			}
			return nil
		})
	}

	ticker := time.NewTicker(time.Second / time.Duration(cfg.RPS))
	defer ticker.Stop()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			select {
			case jobs <- steps[rng.IntN(len(steps))]:
			case <-ctx.Done():
				break loop
			}
		}
	}
	close(jobs)
	if err := g.Wait(); err != nil {
		return res, err
	}
	return res, nil
}

func profileSteps(profile string) ([]step, error) {
	health := []step{
		{name: "health_live", method: http.MethodGet, path: "/health/live"},
		{name: "health_ready", method: http.MethodGet, path: "/health/ready"},
	}
	auth := []step{
		{name: "login_bad_password", method: http.MethodPost, path: "/api/v1/auth/login", body: map[string]string{"email": "loadgen@example.com", "password": "not-the-password"}},
		{name: "me_unauthenticated", method: http.MethodGet, path: "/api/v1/auth/me"},
	}
	switch profile {
	case "health":
		return health, nil
	case "auth":
		return auth, nil
	case "mixed":
		return append(health, auth...), nil
	default:
		return nil, fmt.Errorf("unknown profile %q", profile)
	}
}

func do(ctx context.Context, client *http.Client, baseURL string, s step) (int, error) {
	var body io.Reader
	if s.body != nil {
		raw, err := json.Marshal(s.body)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, s.method, strings.TrimRight(baseURL, "/")+s.path, body)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func classifyStatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500 && status < 600:
		return "5xx"
	default:
		return "other"
	}
}

func normalizeProfile(raw string) string {
	p := strings.ToLower(strings.TrimSpace(raw))
	if p == "" {
		return "mixed"
	}
	return p
}
