package rendezvous

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// fakeService is a minimal in-memory matchmaking service.
type fakeService struct {
	mu      sync.Mutex
	lobbies map[string]bool
	clients map[string][]ClientInfo
	signals map[string][]Signal
}

func newFakeService() *fakeService {
	return &fakeService{
		lobbies: make(map[string]bool),
		clients: make(map[string][]ClientInfo),
		signals: make(map[string][]Signal),
	}
}

func (s *fakeService) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /lobbies", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.lobbies["GAME42"] = true
		s.mu.Unlock()
		json.NewEncoder(w).Encode(Lobby{Code: "GAME42", HostToken: "tok-1"})
	})

	mux.HandleFunc("POST /lobbies/{code}/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		ok := s.lobbies[r.PathValue("code")]
		s.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
		}
	})

	mux.HandleFunc("POST /lobbies/{code}/join", func(w http.ResponseWriter, r *http.Request) {
		code := r.PathValue("code")
		s.mu.Lock()
		ok := s.lobbies[code]
		s.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		var body ClientInfo
		json.NewDecoder(r.Body).Decode(&body)
		s.mu.Lock()
		s.clients[code] = append(s.clients[code], body)
		s.mu.Unlock()

		json.NewEncoder(w).Encode(map[string]string{"host_endpoint": "203.0.113.7:47550"})
	})

	mux.HandleFunc("GET /lobbies/{code}/clients", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		clients := s.clients[r.PathValue("code")]
		s.mu.Unlock()
		json.NewEncoder(w).Encode(map[string][]ClientInfo{"clients": clients})
	})

	mux.HandleFunc("POST /lobbies/{code}/signals", func(w http.ResponseWriter, r *http.Request) {
		var sig Signal
		json.NewDecoder(r.Body).Decode(&sig)
		s.mu.Lock()
		s.signals[sig.To] = append(s.signals[sig.To], sig)
		s.mu.Unlock()
	})

	mux.HandleFunc("GET /lobbies/{code}/signals", func(w http.ResponseWriter, r *http.Request) {
		to := r.URL.Query().Get("to")
		s.mu.Lock()
		sigs := s.signals[to]
		s.signals[to] = nil
		s.mu.Unlock()
		json.NewEncoder(w).Encode(map[string][]Signal{"signals": sigs})
	})

	return mux
}

func newTestClient(t *testing.T) (*Client, *fakeService) {
	t.Helper()
	service := newFakeService()
	server := httptest.NewServer(service.handler())
	t.Cleanup(server.Close)

	client, err := NewClient(Config{
		BaseURL:      server.URL,
		PollInterval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client, service
}

func TestClient_LobbyLifecycle(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	lobby, err := client.CreateLobby(ctx)
	if err != nil {
		t.Fatalf("CreateLobby: %v", err)
	}
	if lobby.Code == "" || lobby.HostToken == "" {
		t.Fatalf("incomplete lobby: %+v", lobby)
	}

	if err := client.Heartbeat(ctx, lobby.Code, lobby.HostToken); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}

	hostEndpoint, err := client.Join(ctx, lobby.Code, "client-1", "198.51.100.9:1234", ModePunch)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if hostEndpoint == "" {
		t.Fatal("empty host endpoint")
	}
	if _, err := client.Join(ctx, lobby.Code, "client-2", "", ModeRelay); err != nil {
		t.Fatalf("Join: %v", err)
	}

	clients, err := client.PendingClients(ctx, lobby.Code, lobby.HostToken)
	if err != nil {
		t.Fatalf("PendingClients: %v", err)
	}
	if len(clients) != 2 || clients[0].ID != "client-1" {
		t.Fatalf("pending clients = %+v", clients)
	}
	if clients[0].Mode != ModePunch || clients[1].Mode != ModeRelay {
		t.Errorf("pending modes = %q, %q", clients[0].Mode, clients[1].Mode)
	}
}

func TestClient_UnknownLobby(t *testing.T) {
	client, _ := newTestClient(t)

	_, err := client.Join(context.Background(), "NOPE", "client-1", "198.51.100.9:1234", ModePunch)
	if !errors.Is(err, ErrLobbyNotFound) {
		t.Errorf("Join unknown lobby = %v, want ErrLobbyNotFound", err)
	}
}

func TestClient_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client, err := NewClient(Config{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := client.CreateLobby(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("CreateLobby = %v, want ErrUnavailable", err)
	}
}

func TestClient_Unreachable(t *testing.T) {
	client, err := NewClient(Config{
		BaseURL:    "http://127.0.0.1:1",
		HTTPClient: &http.Client{Timeout: 500 * time.Millisecond},
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := client.CreateLobby(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("CreateLobby = %v, want ErrUnavailable", err)
	}
}

func TestExchange_EndpointRoundTrip(t *testing.T) {
	client, _ := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	host := NewExchange(client, "GAME42", "host", "client-1")
	joiner := NewExchange(client, "GAME42", "client-1", "host")

	if err := host.Publish(ctx, "203.0.113.7:47550"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	endpoint, err := joiner.Remote(ctx)
	if err != nil {
		t.Fatalf("Remote: %v", err)
	}
	if endpoint != "203.0.113.7:47550" {
		t.Errorf("endpoint = %q", endpoint)
	}
}

func TestExchange_OfferAnswer(t *testing.T) {
	client, _ := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	host := NewExchange(client, "GAME42", "host", "client-1")
	joiner := NewExchange(client, "GAME42", "client-1", "host")

	if err := joiner.SendOffer(ctx, "v=0 offer"); err != nil {
		t.Fatalf("SendOffer: %v", err)
	}
	offer, err := host.RecvOffer(ctx)
	if err != nil {
		t.Fatalf("RecvOffer: %v", err)
	}
	if offer != "v=0 offer" {
		t.Errorf("offer = %q", offer)
	}

	if err := host.SendAnswer(ctx, "v=0 answer"); err != nil {
		t.Fatalf("SendAnswer: %v", err)
	}
	answer, err := joiner.RecvAnswer(ctx)
	if err != nil {
		t.Fatalf("RecvAnswer: %v", err)
	}
	if answer != "v=0 answer" {
		t.Errorf("answer = %q", answer)
	}
}
