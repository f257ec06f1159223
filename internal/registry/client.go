package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// modelLibrary is the hub-side filter selecting repositories usable by
// the inference engine.
const modelLibrary = "ctranslate2"

// ErrModelNotFound means the hub has no repository matching the query
var ErrModelNotFound = errors.New("model doesn't exist")

// Model is one model repository known to the hub
type Model struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

// Owner returns the namespace portion of the model identifier
func (m Model) Owner() string {
	owner, _, found := strings.Cut(m.ID, "/")
	if !found {
		return m.ID
	}
	return owner
}

// Client talks to a Hugging Face style model hub API
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a hub client with the given base URL and timeout
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// ListModels returns every CTranslate2 model repository the hub knows
// about. Entries without a creation timestamp are dropped.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	models, err := c.query(ctx, "")
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Listed hub models", slog.Int("count", len(models)))
	return models, nil
}

// GetModel resolves name to an exact hub repository. When the hub returns
// near matches but no exact one, the error lists the candidates.
func (c *Client) GetModel(ctx context.Context, name string) (Model, error) {
	models, err := c.query(ctx, name)
	if err != nil {
		return Model{}, err
	}

	if len(models) == 0 {
		return Model{}, ErrModelNotFound
	}

	for _, m := range models {
		if m.ID == name {
			return m, nil
		}
	}

	candidates := make([]string, 0, len(models))
	for _, m := range models {
		candidates = append(candidates, m.ID)
	}
	return Model{}, fmt.Errorf("%w, possible matches: %s", ErrModelNotFound, strings.Join(candidates, ", "))
}

// query fetches model repositories from the hub, optionally narrowed by a
// search term.
func (c *Client) query(ctx context.Context, search string) ([]Model, error) {
	params := url.Values{}
	params.Set("filter", modelLibrary)
	if search != "" {
		params.Set("search", search)
	}

	endpoint := fmt.Sprintf("%s/api/models?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create hub request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hub request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("hub returned status %d: %s", resp.StatusCode, string(body))
	}

	var raw []Model
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode hub response: %w", err)
	}

	models := make([]Model, 0, len(raw))
	for _, m := range raw {
		if m.CreatedAt.IsZero() {
			continue
		}
		models = append(models, m)
	}

	return models, nil
}
