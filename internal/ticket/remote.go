package ticket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const remoteCollection = "tickets"

// RemoteStore defines the interface for the shared cloud ticket store. Every
// operation may fail for connectivity or auth reasons; callers must treat
// failures as "remote unavailable, continue offline".
type RemoteStore interface {
	// SaveTicket upserts one ticket keyed by ID
	SaveTicket(ctx context.Context, t Ticket) error

	// UpdateTicket replaces the stored ticket with the same ID
	UpdateTicket(ctx context.Context, t Ticket) error

	// GetAllTickets fetches the full remote collection once
	GetAllTickets(ctx context.Context) ([]Ticket, error)

	// DeleteTicket removes the ticket with the given ID
	DeleteTicket(ctx context.Context, id string) error
}

// RESTStore implements RemoteStore against a Firebase Realtime Database style
// JSON document API: the collection lives at {base}/tickets.json and each
// ticket at {base}/tickets/{id}.json.
type RESTStore struct {
	baseURL string
	client  *http.Client
}

// NewRESTStore creates a RemoteStore for the database rooted at baseURL
func NewRESTStore(baseURL string) (*RESTStore, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("remote base URL is required")
	}
	return &RESTStore{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// SaveTicket upserts one ticket keyed by ID. The total is recomputed before
// the write so stale totals never reach the shared store.
func (s *RESTStore) SaveTicket(ctx context.Context, t Ticket) error {
	t.RecomputeTotal()

	body, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshaling ticket: %w", err)
	}

	url := fmt.Sprintf("%s/%s/%s.json", s.baseURL, remoteCollection, t.ID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return s.do(req)
}

// UpdateTicket replaces the stored ticket with the same ID. The document API
// upserts by key, so an update is the same write as a save.
func (s *RESTStore) UpdateTicket(ctx context.Context, t Ticket) error {
	return s.SaveTicket(ctx, t)
}

// GetAllTickets fetches the full remote collection. Every fetched record has
// its total recomputed; remote data may be stale or hand-edited.
func (s *RESTStore) GetAllTickets(ctx context.Context) ([]Ticket, error) {
	url := fmt.Sprintf("%s/%s.json", s.baseURL, remoteCollection)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching tickets: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("remote store error (status %d): %s", resp.StatusCode, string(body))
	}

	// An empty collection comes back as the JSON literal null, which decodes
	// into a nil map.
	var byID map[string]Ticket
	if err := json.NewDecoder(resp.Body).Decode(&byID); err != nil {
		return nil, fmt.Errorf("decoding tickets: %w", err)
	}

	tickets := make([]Ticket, 0, len(byID))
	for id, t := range byID {
		if t.ID == "" {
			t.ID = id
		}
		t.RecomputeTotal()
		tickets = append(tickets, t)
	}
	sortByIDDescending(tickets)
	return tickets, nil
}

// DeleteTicket removes the ticket with the given ID
func (s *RESTStore) DeleteTicket(ctx context.Context, id string) error {
	url := fmt.Sprintf("%s/%s/%s.json", s.baseURL, remoteCollection, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	return s.do(req)
}

func (s *RESTStore) do(req *http.Request) error {
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling remote store: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("remote store error (status %d): %s", resp.StatusCode, string(body))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}
