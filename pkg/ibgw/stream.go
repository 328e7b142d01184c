package ibgw

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"histcache/internal/market"
)

// QuoteStream handles the WebSocket connection to the gateway's real-time
// quote feed and routes incoming quotes to a handler.
type QuoteStream struct {
	url     string
	symbols []string
	conn    *websocket.Conn
	handler func(market.Quote)
	logger  *zap.Logger
}

func NewQuoteStream(url string, symbols []string, logger *zap.Logger) *QuoteStream {
	return &QuoteStream{
		url:     url,
		symbols: symbols,
		logger:  logger,
	}
}

// SetQuoteHandler sets the function to handle incoming quotes.
func (s *QuoteStream) SetQuoteHandler(h func(market.Quote)) {
	s.handler = h
}

// Connect establishes the WebSocket connection and subscribes to quote
// topics for the configured symbols. It does not start the listener.
func (s *QuoteStream) Connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(s.url, nil)
	if err != nil {
		s.logger.Error("failed to connect to quote stream", zap.String("url", s.url), zap.Error(err))
		return err
	}
	s.conn = conn
	s.logger.Info("quote stream connected", zap.String("url", s.url))

	return s.subscribe()
}

func (s *QuoteStream) subscribe() error {
	args := make([]string, 0, len(s.symbols))
	for _, symbol := range s.symbols {
		args = append(args, "quote."+symbol)
	}

	subMsg := map[string]interface{}{
		"op":   "subscribe",
		"args": args,
	}
	if err := s.conn.WriteJSON(subMsg); err != nil {
		return fmt.Errorf("quote subscribe failed: %w", err)
	}
	return nil
}

// Listen reads quote messages until the connection drops, then reconnects
// and resubscribes indefinitely.
func (s *QuoteStream) Listen() {
	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			s.logger.Error("quote stream read error", zap.Error(err))

			for {
				time.Sleep(3 * time.Second)
				if err := s.reconnect(); err != nil {
					s.logger.Warn("retrying quote stream reconnect...")
					continue
				}
				s.logger.Info("quote stream reconnected")
				break
			}
			continue
		}

		s.handleMessage(msg)
	}
}

func (s *QuoteStream) handleMessage(msg []byte) {
	// Subscription acks and heartbeats carry no topic; skip them early.
	var meta struct {
		Topic string `json:"topic"`
	}
	if err := json.Unmarshal(msg, &meta); err != nil || meta.Topic == "" {
		return
	}

	var parsed struct {
		Topic string       `json:"topic"`
		Data  market.Quote `json:"data"`
	}
	if err := json.Unmarshal(msg, &parsed); err != nil {
		s.logger.Warn("failed to parse quote payload", zap.Error(err))
		return
	}
	if parsed.Data.Timestamp.IsZero() {
		parsed.Data.Timestamp = time.Now().UTC()
	}

	if s.handler != nil {
		s.handler(parsed.Data)
	}
}

func (s *QuoteStream) reconnect() error {
	newConn, _, err := websocket.DefaultDialer.Dial(s.url, nil)
	if err != nil {
		return err
	}

	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.conn = newConn

	return s.subscribe()
}

// Close tears down the connection.
func (s *QuoteStream) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
