package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/propflow/ai-services/internal/config"
)

// ServiceSuggestions builds suggested actions by asking the platform
// services for pending items (payments due, open maintenance requests,
// upcoming lease renewals). Each source is best-effort: a service that is
// down simply contributes nothing.
type ServiceSuggestions struct {
	services config.ServicesConfig
	client   *http.Client
}

// NewServiceSuggestions creates a suggestions provider over the platform services
func NewServiceSuggestions(services config.ServicesConfig) *ServiceSuggestions {
	return &ServiceSuggestions{
		services: services,
		client: &http.Client{
			Timeout: 3 * time.Second,
		},
	}
}

type pendingItem struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// source describes one platform endpoint contributing suggestions
type source struct {
	name     string
	url      string
	kind     string
	headline string
}

// SuggestionsFor aggregates pending items across the platform services
func (p *ServiceSuggestions) SuggestionsFor(ctx context.Context, userID string) ([]Suggestion, error) {
	sources := []source{
		{
			name:     "payments",
			url:      fmt.Sprintf("%s/api/v1/payments/pending?user_id=%s", p.services.PaymentURL, userID),
			kind:     "payment",
			headline: "Review pending payment",
		},
		{
			name:     "maintenance",
			url:      fmt.Sprintf("%s/api/v1/requests/open?user_id=%s", p.services.MaintenanceURL, userID),
			kind:     "maintenance",
			headline: "Track maintenance request",
		},
		{
			name:     "leases",
			url:      fmt.Sprintf("%s/api/v1/leases/renewals?user_id=%s", p.services.LeaseURL, userID),
			kind:     "lease",
			headline: "Review upcoming lease renewal",
		},
	}

	var suggestions []Suggestion
	for _, src := range sources {
		items, err := p.fetchPending(ctx, src.url)
		if err != nil {
			log.Printf("Warning: suggestions source %s unavailable: %v", src.name, err)
			continue
		}

		for _, item := range items {
			title := item.Title
			if title == "" {
				title = src.headline
			}
			suggestions = append(suggestions, Suggestion{
				Title:       title,
				Type:        src.kind,
				Description: item.Description,
			})
		}
	}

	return suggestions, nil
}

// fetchPending retrieves pending items from one service endpoint, retrying
// transient failures before giving up on the source.
func (p *ServiceSuggestions) fetchPending(ctx context.Context, url string) ([]pendingItem, error) {
	var items []pendingItem

	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return retry.Unrecoverable(err)
			}

			resp, err := p.client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("unexpected status %d", resp.StatusCode)
			}

			items = items[:0]
			if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
				return retry.Unrecoverable(fmt.Errorf("failed to decode response: %w", err))
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(2),
		retry.Delay(100*time.Millisecond),
		retry.LastErrorOnly(true),
	)

	if err != nil {
		return nil, err
	}
	return items, nil
}
