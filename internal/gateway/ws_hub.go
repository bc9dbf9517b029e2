package gateway

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/yourorg/coinwatch/internal/domain"
	redisRepo "github.com/yourorg/coinwatch/internal/repository/redis"
)

type subscription struct {
	client *Client
	asset  domain.AssetID
}

type assetMessage struct {
	asset domain.AssetID
	data  []byte
}

// Hub fans the engine's Redis streams out to websocket clients. Price
// channels are subscribed on demand per asset; the fired-alerts channel is
// held open for the hub's lifetime and broadcast to every client.
type Hub struct {
	clients      map[*Client]bool
	subs         map[domain.AssetID]map[*Client]bool
	redisCancels map[domain.AssetID]context.CancelFunc

	register    chan *Client
	unregister  chan *Client
	subscribe   chan subscription
	unsubscribe chan subscription
	deliver     chan assetMessage
	broadcast   chan []byte

	stream *redisRepo.Stream
	logger *slog.Logger
}

func NewHub(stream *redisRepo.Stream, logger *slog.Logger) *Hub {
	return &Hub{
		clients:      make(map[*Client]bool),
		subs:         make(map[domain.AssetID]map[*Client]bool),
		redisCancels: make(map[domain.AssetID]context.CancelFunc),
		register:     make(chan *Client, 64),
		unregister:   make(chan *Client, 64),
		subscribe:    make(chan subscription, 64),
		unsubscribe:  make(chan subscription, 64),
		deliver:      make(chan assetMessage, 256),
		broadcast:    make(chan []byte, 256),
		stream:       stream,
		logger:       logger,
	}
}

func (h *Hub) Run(ctx context.Context) {
	if h.stream != nil {
		go h.pumpAlerts(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			h.clients[client] = true
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				for asset, clients := range h.subs {
					if _, ok := clients[client]; ok {
						delete(clients, client)
						if len(clients) == 0 {
							if cancel, ok := h.redisCancels[asset]; ok {
								cancel()
								delete(h.redisCancels, asset)
							}
							delete(h.subs, asset)
						}
					}
				}
				close(client.send)
			}
		case sub := <-h.subscribe:
			if _, ok := h.subs[sub.asset]; !ok {
				h.subs[sub.asset] = make(map[*Client]bool)
				if h.stream != nil {
					subCtx, cancel := context.WithCancel(ctx)
					h.redisCancels[sub.asset] = cancel
					go h.pumpPrices(subCtx, sub.asset)
				}
			}
			h.subs[sub.asset][sub.client] = true
		case sub := <-h.unsubscribe:
			if clients, ok := h.subs[sub.asset]; ok {
				delete(clients, sub.client)
				if len(clients) == 0 {
					if cancel, ok := h.redisCancels[sub.asset]; ok {
						cancel()
						delete(h.redisCancels, sub.asset)
					}
					delete(h.subs, sub.asset)
				}
			}
		case msg := <-h.deliver:
			h.fanOut(msg.asset, msg.data)
		case data := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
				}
			}
		}
	}
}

func (h *Hub) pumpPrices(ctx context.Context, asset domain.AssetID) {
	pubsub := h.stream.SubscribePrices(ctx, asset)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			// Fan-out happens on Run's goroutine; h.subs is never touched
			// from here.
			select {
			case h.deliver <- assetMessage{asset: asset, data: wsEnvelope("price", msg.Payload)}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (h *Hub) pumpAlerts(ctx context.Context) {
	pubsub := h.stream.SubscribeAlerts(ctx)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			select {
			case h.broadcast <- wsEnvelope("alert", msg.Payload):
			case <-ctx.Done():
				return
			}
		}
	}
}

func wsEnvelope(kind, payload string) []byte {
	data, err := json.Marshal(map[string]json.RawMessage{
		"type": json.RawMessage(`"` + kind + `"`),
		"data": json.RawMessage(payload),
	})
	if err != nil {
		return nil
	}
	return data
}

func (h *Hub) fanOut(asset domain.AssetID, data []byte) {
	clients, ok := h.subs[asset]
	if !ok {
		return
	}
	for client := range clients {
		select {
		case client.send <- data:
		default:
		}
	}
}
