package ipc

import (
	"context"
	"net"
	"net/http"
	"time"
)

// Server wraps an HTTP server with engine-specific routing.
type Server struct {
	httpServer *http.Server
}

// NewServer creates a Server that binds to the given address.
func NewServer(h *Handler, listenAddr string) *Server {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           corsMiddleware(Routes(h)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Server{
		httpServer: srv,
	}
}

// Routes registers every endpoint on a new mux.
func Routes(h *Handler) *http.ServeMux {
	mux := http.NewServeMux()

	// Health endpoint.
	mux.HandleFunc("GET /api/v1/health", h.Health)

	// Player endpoints.
	mux.HandleFunc("POST /api/v1/players", h.CreatePlayer)
	mux.HandleFunc("GET /api/v1/players", h.ListPlayers)
	mux.HandleFunc("GET /api/v1/players/{playerID}", h.GetPlayer)
	mux.HandleFunc("GET /api/v1/players/{playerID}/ledger", h.PlayerLedger)
	mux.HandleFunc("POST /api/v1/players/{playerID}/attributes", h.AssignPoint)
	mux.HandleFunc("GET /api/v1/players/{playerID}/tasks", h.ListTasks)
	mux.HandleFunc("GET /api/v1/players/{playerID}/duels", h.ListPlayerDuels)

	// Task endpoints.
	mux.HandleFunc("POST /api/v1/tasks", h.CreateTask)
	mux.HandleFunc("GET /api/v1/tasks/{taskID}", h.GetTask)
	mux.HandleFunc("POST /api/v1/tasks/{taskID}/complete", h.CompleteTask)
	mux.HandleFunc("POST /api/v1/tasks/{taskID}/fail", h.FailTask)

	// Raid endpoints.
	mux.HandleFunc("POST /api/v1/raids", h.StartRaid)
	mux.HandleFunc("GET /api/v1/raids/{raidID}", h.GetRaid)
	mux.HandleFunc("GET /api/v1/raids/{raidID}/members", h.ListRaidMembers)
	mux.HandleFunc("POST /api/v1/raids/{raidID}/join", h.JoinRaid)
	mux.HandleFunc("POST /api/v1/raids/{raidID}/leave", h.LeaveRaid)
	mux.HandleFunc("POST /api/v1/raids/{raidID}/tick", h.TickRaid)
	mux.HandleFunc("POST /api/v1/raids/{raidID}/sweep", h.SweepRaid)
	mux.HandleFunc("GET /api/v1/raids/{raidID}/events", h.ListRaidEvents)
	mux.HandleFunc("GET /api/v1/raids/{raidID}/events/stream", h.StreamRaidEvents)

	// Duel endpoints.
	mux.HandleFunc("POST /api/v1/duels", h.Challenge)
	mux.HandleFunc("GET /api/v1/duels/{duelID}", h.GetDuel)
	mux.HandleFunc("POST /api/v1/duels/{duelID}/accept", h.DuelAction(h.Duels.Accept))
	mux.HandleFunc("POST /api/v1/duels/{duelID}/decline", h.DuelAction(h.Duels.Decline))
	mux.HandleFunc("POST /api/v1/duels/{duelID}/cancel", h.DuelAction(h.Duels.Cancel))
	mux.HandleFunc("POST /api/v1/duels/{duelID}/withdraw", h.DuelAction(h.Duels.Withdraw))
	mux.HandleFunc("POST /api/v1/duels/{duelID}/lock", h.DuelAction(h.Duels.Lock))
	mux.HandleFunc("GET /api/v1/duels/{duelID}/selections", h.ListSelections)
	mux.HandleFunc("POST /api/v1/duels/{duelID}/selections", h.SelectTask)
	mux.HandleFunc("DELETE /api/v1/duels/{duelID}/selections/{selectionID}", h.UnselectTask)
	mux.HandleFunc("POST /api/v1/duels/{duelID}/selections/{selectionID}/evidence", h.SubmitEvidence)
	mux.HandleFunc("POST /api/v1/duels/{duelID}/selections/{selectionID}/contest", h.Contest)
	mux.HandleFunc("GET /api/v1/duels/{duelID}/selections/{selectionID}/audit", h.AuditTrail)
	mux.HandleFunc("GET /api/v1/duels/{duelID}/snapshots/{status}", h.GetSnapshot)
	mux.HandleFunc("GET /api/v1/duels/{duelID}/events", h.ListDuelEvents)
	mux.HandleFunc("GET /api/v1/duels/{duelID}/events/stream", h.StreamDuelEvents)

	// Evidence blobs.
	mux.HandleFunc("GET /api/v1/evidence/{duelID}/{file}", h.GetEvidence)

	return mux
}

// Start begins listening for HTTP connections. Blocks until the server stops.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// FormatListenURL turns a listen address such as ":9800" into a URL a
// browser can open.
func FormatListenURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// corsMiddleware adds CORS headers for browser clients.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
