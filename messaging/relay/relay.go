package relay

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/nbd-wtf/go-nostr"
	"github.com/rs/cors"
	"github.com/spf13/cast"

	"poolmachine/custody"
	"poolmachine/messaging/eventers"
	"poolmachine/poolmachine"
)

var json = jsoniter.ConfigFastest

var router = mux.NewRouter()

// Start serves the local relay for frontends: a websocket stream of signed
// events on / plus read-only JSON views of the custody state.
func Start(m *custody.Machine, terminate chan struct{}, wg *sync.WaitGroup) {
	poolmachine.LogCLI("Starting our local relay for the frontend", 4)
	// catch the websocket call before anything else
	router.Path("/").Headers("Upgrade", "websocket").HandlerFunc(handleWebsocket())
	router.HandleFunc("/pools/{goal}/progress", handleProgress(m)).Methods("GET")
	router.HandleFunc("/pools/{goal}/stats", handleStats(m)).Methods("GET")
	router.HandleFunc("/goals/{goal}/status", handleStatus(m)).Methods("GET")
	router.HandleFunc("/goals/{goal}/request", handleRequest(m)).Methods("GET")
	router.HandleFunc("/goals/{goal}/state", handleState(m)).Methods("GET")
	router.HandleFunc("/goals/{goal}/events", handleEvents()).Methods("GET")

	srv := &http.Server{
		Handler:           cors.Default().Handler(router),
		Addr:              poolmachine.MakeOrGetConfig().GetString("websocketAddr"),
		WriteTimeout:      2 * time.Second,
		ReadTimeout:       2 * time.Second,
		IdleTimeout:       30 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
	}
	wg.Add(1)
	go func() {
		<-terminate
		srv.Close()
		wg.Done()
		poolmachine.LogCLI("relay shut down gracefully", 4)
	}()
	poolmachine.LogCLI("listening on "+srv.Addr, 4)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			poolmachine.LogCLI(err.Error(), 0)
		}
	}()
}

func writeView(w http.ResponseWriter, view interface{}) {
	w.Header().Set("Content-Type", "application/json")
	b, err := json.Marshal(view)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Write(b)
}

func goalVar(r *http.Request) int64 {
	return cast.ToInt64(mux.Vars(r)["goal"])
}

func handleProgress(m *custody.Machine) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := m.Pools.GetProgress(goalVar(r))
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeView(w, p)
	}
}

func handleStats(m *custody.Machine) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := m.Pools.GetContributionStats(goalVar(r))
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeView(w, s)
	}
}

func handleStatus(m *custody.Machine) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		status, ok := m.Mirror.Status(goalVar(r))
		if !ok {
			http.Error(w, "no status for goal", http.StatusNotFound)
			return
		}
		writeView(w, status)
	}
}

func handleRequest(m *custody.Machine) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := m.Withdrawals.RequestFor(goalVar(r))
		if !ok {
			http.Error(w, "no refund request for goal", http.StatusNotFound)
			return
		}
		writeView(w, req)
	}
}

func handleState(m *custody.Machine) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		writeView(w, map[string]string{
			"state": m.Withdrawals.GoalState(goalVar(r)).String(),
		})
	}
}

func handleEvents() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		writeView(w, eventers.EventsForGoal(mux.Vars(r)["goal"]))
	}
}

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = pongWait / 2

	// Maximum message size allowed from peer.
	maxMessageSize = 5242880
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleWebsocket speaks just enough of the nostr relay protocol for a
// frontend to REQ our event stream: retained events are replayed first, then
// live events are forwarded as they are produced.
func handleWebsocket() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			poolmachine.LogCLI("failed to upgrade websocket", 3)
			return
		}
		ticker := time.NewTicker(pingPeriod)
		ws := &WebSocket{conn: conn}

		// reader
		go func() {
			defer func() {
				ticker.Stop()
				conn.Close()
				dropSubscriptions(ws)
			}()
			conn.SetReadLimit(maxMessageSize)
			conn.SetReadDeadline(time.Now().Add(pongWait))
			conn.SetPongHandler(func(string) error {
				conn.SetReadDeadline(time.Now().Add(pongWait))
				return nil
			})
			for {
				typ, message, err := conn.ReadMessage()
				if err != nil {
					if websocket.IsUnexpectedCloseError(
						err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
						poolmachine.LogCLI("unexpected close of websocket", 3)
					}
					break
				}
				if typ == websocket.PingMessage {
					ws.WriteMessage(websocket.PongMessage, nil)
					continue
				}
				handleMessage(ws, message)
			}
		}()

		// writer
		go func() {
			defer func() {
				ticker.Stop()
				conn.Close()
			}()
			for range ticker.C {
				if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
					poolmachine.LogCLI("couldn't ping, exterminating socket", 3)
					return
				}
			}
		}()
	}
}

func handleMessage(ws *WebSocket, message []byte) {
	var clientErrorResp string
	defer func() {
		if clientErrorResp != "" {
			ws.WriteJSON([]interface{}{"NOTICE", clientErrorResp})
		}
	}()

	var request []jsoniter.RawMessage
	if err := json.Unmarshal(message, &request); err != nil {
		return
	}
	if len(request) < 2 {
		clientErrorResp = "request has less than 2 parameters"
		return
	}
	var typ string
	json.Unmarshal(request[0], &typ)
	switch typ {
	case "REQ":
		var id string
		if err := json.Unmarshal(request[1], &id); err != nil || id == "" {
			clientErrorResp = "REQ has no <id>"
			return
		}
		filters := make(nostr.Filters, 0, len(request)-2)
		for _, filterReq := range request[2:] {
			var filter nostr.Filter
			if err := json.Unmarshal(filterReq, &filter); err != nil {
				clientErrorResp = "failed to decode filter"
				return
			}
			filters = append(filters, filter)
		}
		addSubscription(ws, id, filters)
	case "CLOSE":
		var id string
		json.Unmarshal(request[1], &id)
		if id == "" {
			clientErrorResp = "CLOSE has no <id>"
			return
		}
		removeSubscription(ws, id)
	default:
		clientErrorResp = "unknown message type " + typ
	}
}
