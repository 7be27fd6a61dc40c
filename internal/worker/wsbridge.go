package worker

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	bridgeWriteWait = 10 * time.Second
	bridgePongWait  = 60 * time.Second
	bridgePingEvery = (bridgePongWait * 9) / 10
)

var bridgeUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

type bridgeOutbound struct {
	Type       string   `json:"type"` // "run" or "cancel"
	Request    *Request `json:"request,omitempty"`
	RowID      string   `json:"rowId,omitempty"`
	RevisionID string   `json:"revisionId,omitempty"`
}

type bridgeInbound struct {
	Type   string  `json:"type"` // "result"
	Result *Result `json:"result,omitempty"`
}

// WSBridge forwards run requests to an out-of-process worker over a
// websocket and feeds its results into the Sink. One worker connection is
// active at a time; requests issued while disconnected fail fast so the
// dispatcher can record the error result.
type WSBridge struct {
	sink Sink

	mu    sync.Mutex
	sends chan bridgeOutbound
	conn  *websocket.Conn
}

func NewWSBridge(sink Sink) *WSBridge {
	return &WSBridge{sink: sink}
}

// HandleWS upgrades the worker's connection and pumps messages both ways
// until the connection drops.
func (b *WSBridge) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := bridgeUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sends := make(chan bridgeOutbound, 64)
	b.mu.Lock()
	b.conn = conn
	b.sends = sends
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		if b.conn == conn {
			b.conn = nil
			b.sends = nil
		}
		b.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := conn.SetReadDeadline(time.Now().Add(bridgePongWait)); err != nil {
		log.Printf("worker ws set read deadline failed: %v", err)
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(bridgePongWait))
	})

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(bridgePingEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case out := <-sends:
				if err := conn.SetWriteDeadline(time.Now().Add(bridgeWriteWait)); err != nil {
					return
				}
				if err := conn.WriteJSON(out); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.SetWriteDeadline(time.Now().Add(bridgeWriteWait)); err != nil {
					return
				}
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		var in bridgeInbound
		if err := conn.ReadJSON(&in); err != nil {
			cancel()
			<-writerDone
			return
		}
		if in.Type == "result" && in.Result != nil && b.sink != nil {
			b.sink.Deliver(*in.Result)
		}
	}
}

func (b *WSBridge) send(out bridgeOutbound) error {
	b.mu.Lock()
	sends := b.sends
	b.mu.Unlock()
	if sends == nil {
		return fmt.Errorf("no worker connected")
	}
	select {
	case sends <- out:
		return nil
	default:
		return fmt.Errorf("worker send queue is full")
	}
}

func (b *WSBridge) Run(_ context.Context, req Request) error {
	return b.send(bridgeOutbound{Type: "run", Request: &req})
}

// Cancel signals the worker to abort matching runs. Fire-and-forget: local
// state is cleared by the dispatcher without waiting for acknowledgement.
func (b *WSBridge) Cancel(rowID, revisionID string) {
	if err := b.send(bridgeOutbound{Type: "cancel", RowID: rowID, RevisionID: revisionID}); err != nil {
		log.Printf("worker cancel not delivered: %v", err)
	}
}
