package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"dealwatch/internal/domain"
)

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func newTestClient(url string) *HTTPClient {
	return NewHTTPClient(url,
		WithAPIKey("secret"),
		WithRetryDelay(time.Millisecond),
		WithMaxDelay(5*time.Millisecond),
		WithMaxRetries(2),
	)
}

func TestHTTPClient_Fetch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/companies/c1", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "PitchBook secret" {
			t.Errorf("expected auth header, got %q", got)
		}
		writeJSON(w, map[string]any{
			"companyId":         "c1",
			"companyName":       "Acme",
			"businessStatus":    "Acquired/Merged",
			"employees":         42,
			"totalRaised":       1.5e7,
			"lastFinancingSize": 5e6,
		})
	})
	mux.HandleFunc("/companies/c1/deals", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("cursor") {
		case "":
			writeJSON(w, map[string]any{
				"items":      []map[string]any{{"dealId": "d1", "dealType": "Series A", "dealStatus": "Completed", "dealSize": 5e6}},
				"nextCursor": "p2",
			})
		case "p2":
			writeJSON(w, map[string]any{
				"items": []map[string]any{{"id": "d2", "dealType1": "Venture Debt", "dealDate": "2024-02-01"}},
			})
		default:
			t.Errorf("unexpected cursor %q", r.URL.Query().Get("cursor"))
		}
	})
	mux.HandleFunc("/companies/c1/people", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"results": []map[string]any{{"personId": "p1", "fullName": "Ada Lovelace", "primaryTitle": "CEO"}},
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	p, err := newTestClient(server.URL).Fetch(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if p.Name != "Acme" || p.Status != "acquired" {
		t.Errorf("unexpected company fields: %q %q", p.Name, p.Status)
	}
	if len(p.Deals) != 2 {
		t.Fatalf("expected 2 deals across pages, got %d", len(p.Deals))
	}
	if p.Deals[0].Type != "series_a" || p.Deals[1].Type != "venture_debt" {
		t.Errorf("unexpected deal types: %q %q", p.Deals[0].Type, p.Deals[1].Type)
	}
	if p.Deals[0].SizeUSD == nil || *p.Deals[0].SizeUSD != 5e6 {
		t.Errorf("deal size not mapped")
	}
	if v := p.Metrics[domain.MetricEmployeeCount]; v.Int == nil || *v.Int != 42 {
		t.Errorf("employee count not mapped as int: %+v", v)
	}
	if v := p.Metrics[domain.MetricTotalRaisedUSD]; v.Float == nil || *v.Float != 1.5e7 {
		t.Errorf("total raised not mapped: %+v", v)
	}
	if _, ok := p.Metrics[domain.MetricValuation]; ok {
		t.Errorf("absent valuation must not be set")
	}
	if len(p.Team) != 1 || p.Team[0].Name != "Ada Lovelace" || p.Team[0].Role != "CEO" {
		t.Errorf("unexpected team: %+v", p.Team)
	}
}

func TestHTTPClient_StatusMapping(t *testing.T) {
	tests := []struct {
		status   int
		wantKind Kind
		wantHits int32
	}{
		{http.StatusNotFound, KindPermanent, 1},
		{http.StatusUnauthorized, KindPermanent, 1},
		{http.StatusForbidden, KindPermanent, 1},
		{http.StatusGone, KindPermanent, 1},
		{http.StatusTooManyRequests, KindRateLimited, 3},
		{http.StatusInternalServerError, KindTransient, 3},
		{http.StatusBadGateway, KindTransient, 3},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var hits atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				http.Error(w, "nope", tt.status)
			}))
			defer server.Close()

			_, err := newTestClient(server.URL).Fetch(context.Background(), "c1")
			if err == nil {
				t.Fatal("expected error")
			}
			var fe *Error
			if !errors.As(err, &fe) {
				t.Fatalf("expected *Error, got %T", err)
			}
			if fe.Kind != tt.wantKind {
				t.Errorf("expected kind %s, got %s", tt.wantKind, fe.Kind)
			}
			if fe.StatusCode != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, fe.StatusCode)
			}
			if hits.Load() != tt.wantHits {
				t.Errorf("expected %d attempts, got %d", tt.wantHits, hits.Load())
			}
		})
	}
}

func TestHTTPClient_RetriesThenSucceeds(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/companies/c1" && hits.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, map[string]any{"companyId": "c1"})
	}))
	defer server.Close()

	p, err := newTestClient(server.URL).Fetch(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if p == nil {
		t.Fatal("expected payload")
	}
	if hits.Load() != 2 {
		t.Errorf("expected 2 company requests, got %d", hits.Load())
	}
}

func TestHTTPClient_InvalidPayloadIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/companies/c1/deals" {
			writeJSON(w, map[string]any{"items": []map[string]any{{"dealId": "d1"}, {"dealId": "d1"}}})
			return
		}
		writeJSON(w, map[string]any{"companyId": "c1"})
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Fetch(context.Background(), "c1")
	if KindOf(err) != KindTransient {
		t.Fatalf("expected transient, got %v", err)
	}
	if !errors.Is(err, domain.ErrInvalidPayload) {
		t.Errorf("expected ErrInvalidPayload in chain, got %v", err)
	}
}

func TestHTTPClient_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, WithRetryDelay(time.Hour), WithMaxRetries(3))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.Fetch(ctx, "c1")
	if KindOf(err) != KindTransient || !IsTimeout(err) {
		t.Errorf("expected transient timeout, got %v", err)
	}
}

func TestParseRetryAfter(t *testing.T) {
	if d := parseRetryAfter("7"); d != 7*time.Second {
		t.Errorf("expected 7s, got %s", d)
	}
	if d := parseRetryAfter(""); d != 0 {
		t.Errorf("expected 0, got %s", d)
	}
	if d := parseRetryAfter("soon"); d != 0 {
		t.Errorf("expected 0 for garbage, got %s", d)
	}
}
