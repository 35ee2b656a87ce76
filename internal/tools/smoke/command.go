package smoke

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sandeepkv93/learning-platform-auth/internal/tools/common"
	"github.com/sandeepkv93/learning-platform-auth/internal/tools/loadgen"
	"github.com/sandeepkv93/learning-platform-auth/internal/tools/ui"
)

type options struct {
	baseURL  string
	ci       bool
	traffic  time.Duration
	password string
}

// NewCommand returns the smoke check: light traffic, readiness, then a full
// register, login, me and logout round trip against a running API.
func NewCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "Verify readiness and the session lifecycle against a running API",
		RunE: func(cmd *cobra.Command, args []string) error {
			details, err := run(opts, "smoke check", func(ctx context.Context) ([]string, error) {
				return Check(ctx, opts.baseURL, opts.password, opts.traffic)
			})
			if opts.ci {
				common.PrintCIResult(err == nil, "smoke check", details, err)
			}
			if err != nil {
				os.Exit(4)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.baseURL, "base-url", "http://localhost:8080", "API base URL")
	cmd.Flags().BoolVar(&opts.ci, "ci", false, "non-interactive machine-readable output")
	cmd.Flags().DurationVar(&opts.traffic, "traffic", 3*time.Second, "duration of background traffic before the checks")
	cmd.Flags().StringVar(&opts.password, "password", "Smoke-Check-Pass-42", "password used for the probe account")
	return cmd
}

func run(opts *options, title string, fn ui.Task) ([]string, error) {
	if opts.ci {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		return fn(ctx)
	}
	return ui.Run(title, fn)
}

// Check runs the smoke sequence and returns one detail line per passed step.
func Check(ctx context.Context, baseURL, password string, traffic time.Duration) ([]string, error) {
	c := &client{base: strings.TrimRight(baseURL, "/"), http: &http.Client{Timeout: 10 * time.Second}}
	var details []string

	if traffic > 0 {
		res, err := loadgen.Run(ctx, loadgen.Config{BaseURL: baseURL, Profile: "health", Duration: traffic, RPS: 10, Concurrency: 2, Seed: 42})
		if err != nil {
			return details, err
		}
		details = append(details, fmt.Sprintf("traffic generated total=%d failures=%d", res.TotalRequests, res.Failures))
	}

	if status, _, err := c.do(ctx, http.MethodGet, "/health/ready", "", nil); err != nil {
		return details, err
	} else if status != http.StatusOK {
		return details, fmt.Errorf("readiness returned %d", status)
	}
	details = append(details, "readiness: ok")

	email := fmt.Sprintf("smoke-%s@example.com", uuid.NewString()[:8])
	reg := map[string]string{"email": email, "password": password, "confirm_password": password, "name": "Smoke Check"}
	if status, body, err := c.do(ctx, http.MethodPost, "/api/v1/auth/register", "", reg); err != nil {
		return details, err
	} else if status != http.StatusCreated {
		return details, fmt.Errorf("register returned %d: %s", status, body)
	}
	details = append(details, "register: ok")

	status, body, err := c.do(ctx, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": email, "password": password})
	if err != nil {
		return details, err
	}
	if status != http.StatusOK {
		return details, fmt.Errorf("login returned %d: %s", status, body)
	}
	var login struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &login); err != nil || login.Data.Token == "" {
		return details, fmt.Errorf("login response missing token")
	}
	details = append(details, "login: ok")

	if status, _, err := c.do(ctx, http.MethodGet, "/api/v1/auth/me", login.Data.Token, nil); err != nil {
		return details, err
	} else if status != http.StatusOK {
		return details, fmt.Errorf("me returned %d", status)
	}
	if status, _, err := c.do(ctx, http.MethodPost, "/api/v1/auth/logout", login.Data.Token, nil); err != nil {
		return details, err
	} else if status != http.StatusOK {
		return details, fmt.Errorf("logout returned %d", status)
	}
	if status, _, err := c.do(ctx, http.MethodGet, "/api/v1/auth/me", login.Data.Token, nil); err != nil {
		return details, err
	} else if status != http.StatusUnauthorized {
		return details, fmt.Errorf("token still valid after logout: %d", status)
	}
	details = append(details, "logout revokes token: ok")
	return details, nil
}

type client struct {
	base string
	http *http.Client
}

func (c *client) do(ctx context.Context, method, path, token string, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return 0, nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, raw, nil
}
