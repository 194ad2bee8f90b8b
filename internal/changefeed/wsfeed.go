package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// WSFeed subscribes to change events over a websocket endpoint. The client
// sends one subscribe frame naming the entity type and filter; the server
// answers with a stream of wireEvent JSON frames.
type WSFeed struct {
	url    string
	logger *zap.Logger
}

type wsSubscribe struct {
	Action     string `json:"action"`
	EntityType string `json:"entity_type"`
	Filter     string `json:"filter,omitempty"`
}

// NewWSFeed creates a websocket-backed feed.
func NewWSFeed(url string, logger *zap.Logger) *WSFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSFeed{url: url, logger: logger}
}

// Subscribe dials the feed endpoint and streams matching events until the
// release function is called or ctx is canceled.
func (f *WSFeed) Subscribe(ctx context.Context, entityType, filter string) (<-chan ChangeEvent, func(), error) {
	conn, _, err := websocket.Dial(ctx, f.url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("wsfeed: dial %s: %w", f.url, err)
	}

	sub := wsSubscribe{Action: "subscribe", EntityType: entityType, Filter: filter}
	frame, _ := json.Marshal(sub)
	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
		return nil, nil, fmt.Errorf("wsfeed: subscribe %s: %w", entityType, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan ChangeEvent, 64)

	go func() {
		defer close(ch)
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				if ctx.Err() == nil {
					f.logger.Warn("ws feed read failed", zap.Error(err))
				}
				return
			}
			evt, err := decodeWireEvent(data)
			if err != nil {
				f.logger.Warn("bad ws frame", zap.Error(err))
				continue
			}
			if evt.EntityType != entityType || !matchesFilter(evt, filter) {
				continue
			}
			select {
			case ch <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()

	var once sync.Once
	release := func() {
		once.Do(func() {
			cancel()
			_ = conn.Close(websocket.StatusNormalClosure, "")
		})
	}
	return ch, release, nil
}
