package portal

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// ticketTTL is how long a WebSocket ticket is valid.
const ticketTTL = 60 * time.Second

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// handleLogin checks operator credentials against the settings store and
// returns a bearer token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	ok, err := s.settings.VerifyPortalLogin(req.Username, req.Password)
	if err != nil {
		s.logger.Error("verifying portal login", "error", err)
		writeInternalError(w, "login failed")
		return
	}
	if !ok {
		s.logger.Warn("portal login rejected", "username", req.Username)
		writeUnauthorized(w, "invalid credentials")
		return
	}

	ttl := time.Duration(s.cfg.JWT.TokenTTL) * time.Minute
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	signed, err := issueToken(req.Username, s.cfg.JWT.Secret, ttl, time.Now())
	if err != nil {
		writeInternalError(w, "failed to generate token")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   int(ttl.Seconds()),
	})
}

// handleWSTicket issues a single-use ticket for the event stream so the
// token never appears in a URL.
func (s *Server) handleWSTicket(w http.ResponseWriter, _ *http.Request) {
	ticket := s.tickets.issue(time.Now())
	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":     ticket,
		"expires_in": int(ticketTTL.Seconds()),
	})
}

// ticketStore holds pending WebSocket tickets.
type ticketStore struct {
	mu      sync.Mutex
	tickets map[string]time.Time
}

func newTicketStore() *ticketStore {
	return &ticketStore{tickets: make(map[string]time.Time)}
}

// ticketBytes is the number of random bytes in a ticket.
const ticketBytes = 32

func (t *ticketStore) issue(now time.Time) string {
	b := make([]byte, ticketBytes)
	//nolint:errcheck // crypto/rand.Read always returns len(b) on supported platforms
	rand.Read(b)
	ticket := hex.EncodeToString(b)

	t.mu.Lock()
	t.tickets[ticket] = now.Add(ticketTTL)
	t.mu.Unlock()
	return ticket
}

// consume validates and removes ticket.
func (t *ticketStore) consume(ticket string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	expires, ok := t.tickets[ticket]
	if !ok {
		return false
	}
	delete(t.tickets, ticket)
	return now.Before(expires)
}

func (t *ticketStore) clean(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for ticket, expires := range t.tickets {
		if now.After(expires) {
			delete(t.tickets, ticket)
		}
	}
}

func (t *ticketStore) cleanLoop(ctx context.Context) {
	ticker := time.NewTicker(ticketTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			t.clean(now)
		}
	}
}
