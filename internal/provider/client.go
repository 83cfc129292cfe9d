package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/vmforge/engine/internal/models"
)

// Instance is the provider's view of one compute instance.
type Instance struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	PublicIP  string `json:"public_ip"`
	PrivateIP string `json:"private_ip"`
	Region    string `json:"region"`
}

// Client is the subset of the provider HTTP API this system consumes:
// a full paginated listing (reconciler), a direct action call and a
// status poll (reboot flow).
type Client interface {
	ListInstances(ctx context.Context) ([]Instance, error)
	GetInstance(ctx context.Context, id string) (*Instance, error)
	RebootInstance(ctx context.Context, id string) error
}

// Factory builds an authenticated client from a bearer token. Accounts hold
// tokens encrypted in the vault; a client exists only for the duration of
// one deployment or sweep.
type Factory func(token string) Client

// DefaultBaseURL is the production provider endpoint.
const DefaultBaseURL = "https://api.digitalocean.com"

const listPageSize = 200

// HTTPClient talks to a DigitalOcean-style bearer-token REST API.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient returns a client against baseURL (DefaultBaseURL if empty).
func NewClient(baseURL, token string) *HTTPClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// NewFactory returns a Factory bound to baseURL.
func NewFactory(baseURL string) Factory {
	return func(token string) Client {
		return NewClient(baseURL, token)
	}
}

type listResponse struct {
	Instances []Instance `json:"instances"`
}

// ListInstances fetches the account's complete instance listing, following
// pagination until exhausted.
func (c *HTTPClient) ListInstances(ctx context.Context) ([]Instance, error) {
	var all []Instance
	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("page", strconv.Itoa(page))
		q.Set("per_page", strconv.Itoa(listPageSize))

		var resp listResponse
		if err := c.do(ctx, http.MethodGet, "/v2/instances?"+q.Encode(), nil, &resp); err != nil {
			return nil, fmt.Errorf("list instances page %d: %w", page, err)
		}
		all = append(all, resp.Instances...)
		if len(resp.Instances) < listPageSize {
			return all, nil
		}
	}
}

type getResponse struct {
	Instance Instance `json:"instance"`
}

// GetInstance fetches one instance by provider resource id.
func (c *HTTPClient) GetInstance(ctx context.Context, id string) (*Instance, error) {
	var resp getResponse
	if err := c.do(ctx, http.MethodGet, "/v2/instances/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, fmt.Errorf("get instance %s: %w", id, err)
	}
	return &resp.Instance, nil
}

// RebootInstance issues the provider's reboot action. The call returns as
// soon as the provider accepts the action; callers poll GetInstance for
// completion.
func (c *HTTPClient) RebootInstance(ctx context.Context, id string) error {
	body := map[string]string{"type": "reboot"}
	if err := c.do(ctx, http.MethodPost, "/v2/instances/"+url.PathEscape(id)+"/actions", body, nil); err != nil {
		return fmt.Errorf("reboot instance %s: %w", id, err)
	}
	return nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("provider api %s %s: status %d: %s", method, path, resp.StatusCode, msg)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// MapStatus translates the provider's native status string into the local
// machine status enum. Unrecognized statuses report ok=false and leave the
// tracked status unchanged.
func MapStatus(native string) (status models.MachineStatus, ok bool) {
	switch native {
	case "active":
		return models.MachineRunning, true
	case "off":
		return models.MachineStopped, true
	case "new":
		return models.MachineProvisioning, true
	default:
		return "", false
	}
}
