package relay

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nbd-wtf/go-nostr"

	"poolmachine/messaging/eventers"
	"poolmachine/poolmachine"
)

// WebSocket wraps a connection with a write lock so that the replay
// goroutines and the ping loop never interleave frames.
type WebSocket struct {
	conn  *websocket.Conn
	mutex sync.Mutex
}

func (ws *WebSocket) WriteJSON(v interface{}) error {
	ws.mutex.Lock()
	defer ws.mutex.Unlock()
	ws.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.conn.WriteJSON(v)
}

func (ws *WebSocket) WriteMessage(t int, b []byte) error {
	ws.mutex.Lock()
	defer ws.mutex.Unlock()
	ws.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.conn.WriteMessage(t, b)
}

type listener struct {
	filters nostr.Filters
	feedID  int64
}

var listeners = make(map[*WebSocket]map[string]*listener)
var listenersMutex = sync.Mutex{}

func addSubscription(ws *WebSocket, id string, filters nostr.Filters) {
	feedID, feed := eventers.SubscribeToEvents()

	listenersMutex.Lock()
	subs, ok := listeners[ws]
	if !ok {
		subs = make(map[string]*listener)
		listeners[ws] = subs
	}
	if existing, ok := subs[id]; ok {
		eventers.Unsubscribe(existing.feedID)
	}
	subs[id] = &listener{filters: filters, feedID: feedID}
	listenersMutex.Unlock()

	go func() {
		for _, ev := range eventers.AllEvents() {
			if matches(filters, &ev) {
				if err := ws.WriteJSON([]interface{}{"EVENT", id, ev}); err != nil {
					poolmachine.LogCLI(err.Error(), 2)
					return
				}
			}
		}
		ws.WriteJSON([]interface{}{"EOSE", id})
		for ev := range feed {
			if !matches(filters, &ev) {
				continue
			}
			if err := ws.WriteJSON([]interface{}{"EVENT", id, ev}); err != nil {
				poolmachine.LogCLI(err.Error(), 2)
				return
			}
		}
	}()
}

func removeSubscription(ws *WebSocket, id string) {
	listenersMutex.Lock()
	defer listenersMutex.Unlock()
	subs, ok := listeners[ws]
	if !ok {
		return
	}
	if sub, ok := subs[id]; ok {
		eventers.Unsubscribe(sub.feedID)
		delete(subs, id)
	}
	if len(subs) == 0 {
		delete(listeners, ws)
	}
}

func dropSubscriptions(ws *WebSocket) {
	listenersMutex.Lock()
	defer listenersMutex.Unlock()
	for _, sub := range listeners[ws] {
		eventers.Unsubscribe(sub.feedID)
	}
	delete(listeners, ws)
}

// an empty filter set matches everything
func matches(filters nostr.Filters, ev *nostr.Event) bool {
	if len(filters) == 0 {
		return true
	}
	for _, filter := range filters {
		if filter.Matches(ev) {
			return true
		}
	}
	return false
}
