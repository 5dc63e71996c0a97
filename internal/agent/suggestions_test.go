package agent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/propflow/ai-services/internal/config"
)

func pendingHandler(t *testing.T, body string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("user_id") == "" {
			t.Error("Expected user_id query parameter")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}
}

func TestSuggestionsForAggregatesSources(t *testing.T) {
	payments := httptest.NewServer(pendingHandler(t, `[{"id":"p1","title":"Rent due March 1","description":"$1200"}]`))
	defer payments.Close()
	maintenance := httptest.NewServer(pendingHandler(t, `[{"id":"m1","title":"Leaky faucet"}]`))
	defer maintenance.Close()
	leases := httptest.NewServer(pendingHandler(t, `[]`))
	defer leases.Close()

	provider := NewServiceSuggestions(config.ServicesConfig{
		PaymentURL:     payments.URL,
		MaintenanceURL: maintenance.URL,
		LeaseURL:       leases.URL,
	})

	suggestions, err := provider.SuggestionsFor(context.Background(), "user1")
	if err != nil {
		t.Fatalf("SuggestionsFor failed: %v", err)
	}

	if len(suggestions) != 2 {
		t.Fatalf("Expected 2 suggestions, got %d", len(suggestions))
	}
	if suggestions[0].Title != "Rent due March 1" || suggestions[0].Type != "payment" {
		t.Errorf("Unexpected first suggestion: %+v", suggestions[0])
	}
	if suggestions[1].Title != "Leaky faucet" || suggestions[1].Type != "maintenance" {
		t.Errorf("Unexpected second suggestion: %+v", suggestions[1])
	}
}

func TestSuggestionsForSkipsUnavailableSource(t *testing.T) {
	payments := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer payments.Close()
	maintenance := httptest.NewServer(pendingHandler(t, `[{"id":"m1","title":"Broken heater"}]`))
	defer maintenance.Close()
	leases := httptest.NewServer(pendingHandler(t, `[]`))
	defer leases.Close()

	provider := NewServiceSuggestions(config.ServicesConfig{
		PaymentURL:     payments.URL,
		MaintenanceURL: maintenance.URL,
		LeaseURL:       leases.URL,
	})

	suggestions, err := provider.SuggestionsFor(context.Background(), "user1")
	if err != nil {
		t.Fatalf("SuggestionsFor failed: %v", err)
	}

	if len(suggestions) != 1 {
		t.Fatalf("Expected 1 suggestion with payments down, got %d", len(suggestions))
	}
	if suggestions[0].Title != "Broken heater" {
		t.Errorf("Unexpected suggestion: %+v", suggestions[0])
	}
}

func TestSuggestionsForRetriesTransientFailure(t *testing.T) {
	var calls int32
	payments := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`[{"id":"p1","title":"Rent due"}]`))
	}))
	defer payments.Close()
	quiet := httptest.NewServer(pendingHandler(t, `[]`))
	defer quiet.Close()

	provider := NewServiceSuggestions(config.ServicesConfig{
		PaymentURL:     payments.URL,
		MaintenanceURL: quiet.URL,
		LeaseURL:       quiet.URL,
	})

	suggestions, err := provider.SuggestionsFor(context.Background(), "user1")
	if err != nil {
		t.Fatalf("SuggestionsFor failed: %v", err)
	}

	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("Expected the payments call to be retried once, got %d calls", calls)
	}
	if len(suggestions) != 1 || suggestions[0].Title != "Rent due" {
		t.Errorf("Unexpected suggestions: %+v", suggestions)
	}
}

func TestSuggestionsForFillsMissingTitle(t *testing.T) {
	payments := httptest.NewServer(pendingHandler(t, `[{"id":"p1"}]`))
	defer payments.Close()
	quiet := httptest.NewServer(pendingHandler(t, `[]`))
	defer quiet.Close()

	provider := NewServiceSuggestions(config.ServicesConfig{
		PaymentURL:     payments.URL,
		MaintenanceURL: quiet.URL,
		LeaseURL:       quiet.URL,
	})

	suggestions, err := provider.SuggestionsFor(context.Background(), "user1")
	if err != nil {
		t.Fatalf("SuggestionsFor failed: %v", err)
	}

	if len(suggestions) != 1 {
		t.Fatalf("Expected 1 suggestion, got %d", len(suggestions))
	}
	if suggestions[0].Title != "Review pending payment" {
		t.Errorf("Expected the source headline as fallback title, got %q", suggestions[0].Title)
	}
}
