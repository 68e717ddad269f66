package scorer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/magickw/linkdao-guard/abusemod/policy"
	"github.com/magickw/linkdao-guard/util"
)

// An external content classifier. Each provider returns per-category scores
// in [0,1]; providers fail independently and a failure is never fatal to the
// ensemble.
type Provider interface {
	Name() string
	Classify(ctx context.Context, content string) (map[policy.Category]float64, error)
}

// Request/response schema for JSON-over-HTTP classifier services.
type classifyRequest struct {
	Content string `json:"content"`
}

type classifyResponse struct {
	Categories map[string]float64 `json:"categories"`
}

// Generic client for hosted classification APIs that accept a text body and
// return category scores.
type HTTPProvider struct {
	ProviderName string
	Endpoint     string
	APIToken     string
	Client       *http.Client
	// optional politeness limiter for the upstream API
	Limiter *rate.Limiter
}

var _ Provider = (*HTTPProvider)(nil)

func NewHTTPProvider(name, endpoint, token string) *HTTPProvider {
	return &HTTPProvider{
		ProviderName: name,
		Endpoint:     endpoint,
		APIToken:     token,
		Client:       util.RobustHTTPClient(),
	}
}

func (p *HTTPProvider) Name() string {
	return p.ProviderName
}

func (p *HTTPProvider) Classify(ctx context.Context, content string) (map[policy.Category]float64, error) {
	if p.Limiter != nil {
		if err := p.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	body, err := json.Marshal(classifyRequest{Content: content})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+p.APIToken)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("classifier %s: unexpected status %d", p.ProviderName, resp.StatusCode)
	}

	var out classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}

	scores := make(map[policy.Category]float64, len(out.Categories))
	for name, score := range out.Categories {
		scores[policy.Category(name)] = score
	}
	return scores, nil
}
