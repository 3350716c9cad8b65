package finnhub

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/wrenholt/papertrader/internal/domain"
)

const (
	defaultStreamURL = "wss://ws.finnhub.io"

	writeWait   = 10 * time.Second
	dialTimeout = 30 * time.Second

	baseReconnectDelay   = 5 * time.Second
	maxReconnectDelay    = 5 * time.Minute
	maxReconnectAttempts = 10

	// Trades older than this are not served; the resolver falls through to
	// the REST sources instead.
	tradeStaleThreshold = 5 * time.Minute
)

// lastTrade is the most recent trade seen for one symbol.
type lastTrade struct {
	price float64
	at    time.Time
}

// Stream consumes the Finnhub trade websocket and answers quote lookups from
// an in-memory last-trade map. It satisfies the same source contract as the
// REST clients so the resolver can place it first in the chain.
type Stream struct {
	url    string
	apiKey string

	conn       *websocket.Conn
	connCtx    context.Context
	cancelFunc context.CancelFunc
	mu         sync.RWMutex

	log zerolog.Logger

	connected    bool
	reconnecting bool
	stopChan     chan struct{}
	stopped      bool

	// Desired subscriptions; replayed after every reconnect
	symbols map[string]struct{}

	trades  map[string]lastTrade
	tradeMu sync.RWMutex
}

// NewStream creates a new Finnhub websocket stream client
func NewStream(apiKey string, log zerolog.Logger) *Stream {
	return &Stream{
		url:      defaultStreamURL,
		apiKey:   apiKey,
		log:      log.With().Str("client", "finnhub_stream").Logger(),
		stopChan: make(chan struct{}),
		symbols:  make(map[string]struct{}),
		trades:   make(map[string]lastTrade),
	}
}

// Name returns the source name used for quote tagging
func (s *Stream) Name() string {
	return "finnhub-stream"
}

// Start establishes the websocket connection and begins reading trades. A
// failed initial dial is not fatal; the reconnect loop keeps trying in the
// background.
func (s *Stream) Start() error {
	s.log.Info().Msg("Starting Finnhub trade stream")

	if err := s.connect(); err != nil {
		s.log.Warn().Err(err).Msg("Initial stream connection failed, will retry in background")
		go s.reconnectLoop()
		return err
	}

	s.mu.RLock()
	ctx := s.connCtx
	s.mu.RUnlock()
	go s.readMessages(ctx)

	s.log.Info().Msg("Finnhub trade stream started")
	return nil
}

// Stop gracefully shuts down the stream
func (s *Stream) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	s.log.Info().Msg("Stopping Finnhub trade stream")
	close(s.stopChan)
	return s.disconnect()
}

// IsConnected returns the current connection status
func (s *Stream) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// Fetch serves the most recent streamed trade for a ticker. Tickers without
// a fresh trade are a failure so the resolver moves on to REST sources.
func (s *Stream) Fetch(_ context.Context, ticker string) (*domain.Quote, error) {
	symbol := domain.NormalizeTicker(ticker)

	s.tradeMu.RLock()
	trade, ok := s.trades[symbol]
	s.tradeMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("no streamed trade for %s", symbol)
	}
	if time.Since(trade.at) > tradeStaleThreshold {
		return nil, fmt.Errorf("streamed trade for %s is stale (%s old)", symbol, time.Since(trade.at).Round(time.Second))
	}

	return &domain.Quote{
		Symbol:       symbol,
		CurrentPrice: trade.price,
		Source:       s.Name(),
		FetchedAt:    trade.at,
	}, nil
}

// SetSymbols replaces the subscription set. New symbols are subscribed and
// removed ones unsubscribed on the live connection; the full set is replayed
// after every reconnect.
func (s *Stream) SetSymbols(tickers []string) {
	desired := make(map[string]struct{}, len(tickers))
	for _, t := range tickers {
		desired[domain.NormalizeTicker(t)] = struct{}{}
	}

	s.mu.Lock()
	var added, removed []string
	for symbol := range desired {
		if _, ok := s.symbols[symbol]; !ok {
			added = append(added, symbol)
		}
	}
	for symbol := range s.symbols {
		if _, ok := desired[symbol]; !ok {
			removed = append(removed, symbol)
		}
	}
	s.symbols = desired
	conn := s.conn
	ctx := s.connCtx
	s.mu.Unlock()

	if conn == nil {
		return
	}

	for _, symbol := range added {
		if err := s.send(ctx, conn, "subscribe", symbol); err != nil {
			s.log.Warn().Err(err).Str("ticker", symbol).Msg("Failed to subscribe")
		}
	}
	for _, symbol := range removed {
		if err := s.send(ctx, conn, "unsubscribe", symbol); err != nil {
			s.log.Warn().Err(err).Str("ticker", symbol).Msg("Failed to unsubscribe")
		}
	}

	if len(added) > 0 || len(removed) > 0 {
		s.log.Info().
			Int("subscribed", len(added)).
			Int("unsubscribed", len(removed)).
			Msg("Stream subscriptions updated")
	}
}

func (s *Stream) connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wsURL := s.url + "?token=" + s.apiKey

	s.log.Info().Msg("Connecting to Finnhub websocket")

	dialCtx, dialCancel := context.WithTimeout(context.Background(), dialTimeout)
	defer dialCancel()

	conn, _, err := websocket.Dial(dialCtx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to dial websocket: %w", err)
	}

	connCtx, connCancel := context.WithCancel(context.Background())
	s.conn = conn
	s.connCtx = connCtx
	s.cancelFunc = connCancel
	s.connected = true

	// Replay the desired subscription set
	for symbol := range s.symbols {
		if err := s.send(connCtx, conn, "subscribe", symbol); err != nil {
			connCancel()
			conn.Close(websocket.StatusNormalClosure, "subscribe failed")
			s.conn = nil
			s.connCtx = nil
			s.cancelFunc = nil
			s.connected = false
			return fmt.Errorf("failed to subscribe to %s: %w", symbol, err)
		}
	}

	s.log.Info().Int("symbols", len(s.symbols)).Msg("Connected to Finnhub websocket")
	return nil
}

func (s *Stream) disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}

	if s.cancelFunc != nil {
		s.cancelFunc()
		s.cancelFunc = nil
	}

	err := s.conn.Close(websocket.StatusNormalClosure, "")

	s.conn = nil
	s.connCtx = nil
	s.connected = false

	if err != nil {
		return fmt.Errorf("error closing websocket: %w", err)
	}
	return nil
}

// send writes one subscribe/unsubscribe control message
func (s *Stream) send(ctx context.Context, conn *websocket.Conn, msgType, symbol string) error {
	msg := map[string]string{"type": msgType, "symbol": symbol}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal %s message: %w", msgType, err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()

	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("failed to send %s message: %w", msgType, err)
	}
	return nil
}

func (s *Stream) readMessages(ctx context.Context) {
	defer func() {
		s.log.Info().Msg("Stream read loop stopped")
		s.mu.RLock()
		stopped := s.stopped
		s.mu.RUnlock()
		if !stopped {
			go s.reconnectLoop()
		}
	}()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ctx.Done():
			s.log.Debug().Msg("Read loop context cancelled")
			return
		default:
		}

		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()

		if conn == nil {
			s.log.Warn().Msg("Connection is nil, stopping read loop")
			return
		}

		msgType, message, err := conn.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus == websocket.StatusNormalClosure || closeStatus == websocket.StatusGoingAway {
				s.log.Info().Int("status", int(closeStatus)).Msg("Websocket closed normally")
			} else if ctx.Err() != nil {
				s.log.Debug().Msg("Read cancelled by context")
			} else {
				s.log.Error().Err(err).Msg("Unexpected websocket read error")
			}
			return
		}

		if msgType != websocket.MessageText {
			continue
		}

		if err := s.handleMessage(message); err != nil {
			s.log.Error().Err(err).Str("message", string(message)).Msg("Failed to handle stream message")
		}
	}
}

// streamMessage is the Finnhub websocket envelope. Trade events carry a data
// array; ping and error events carry none.
type streamMessage struct {
	Type string        `json:"type"`
	Msg  string        `json:"msg"`
	Data []streamTrade `json:"data"`
}

type streamTrade struct {
	Symbol    string  `json:"s"`
	Price     float64 `json:"p"`
	Timestamp int64   `json:"t"` // unix milliseconds
	Volume    float64 `json:"v"`
}

func (s *Stream) handleMessage(message []byte) error {
	var msg streamMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return fmt.Errorf("failed to parse stream message: %w", err)
	}

	switch msg.Type {
	case "trade":
		s.recordTrades(msg.Data)
		return nil
	case "ping":
		return nil
	case "error":
		return fmt.Errorf("stream error: %s", msg.Msg)
	default:
		s.log.Debug().Str("type", msg.Type).Msg("Ignoring unknown stream message type")
		return nil
	}
}

func (s *Stream) recordTrades(trades []streamTrade) {
	if len(trades) == 0 {
		return
	}

	s.tradeMu.Lock()
	for _, trade := range trades {
		if trade.Price <= 0 || trade.Symbol == "" {
			continue
		}
		at := time.Now().UTC()
		if trade.Timestamp > 0 {
			at = time.UnixMilli(trade.Timestamp).UTC()
		}
		s.trades[domain.NormalizeTicker(trade.Symbol)] = lastTrade{price: trade.Price, at: at}
	}
	s.tradeMu.Unlock()

	s.log.Debug().Int("trades", len(trades)).Msg("Recorded streamed trades")
}

func (s *Stream) reconnectLoop() {
	s.mu.Lock()
	if s.reconnecting || s.stopped {
		s.mu.Unlock()
		return
	}
	s.reconnecting = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.reconnecting = false
		s.mu.Unlock()
	}()

	attempt := 0
	for {
		select {
		case <-s.stopChan:
			s.log.Info().Msg("Reconnection loop stopped")
			return
		default:
		}

		s.mu.RLock()
		stopped := s.stopped
		s.mu.RUnlock()
		if stopped {
			return
		}

		attempt++
		delay := s.calculateBackoff(attempt)

		if attempt <= maxReconnectAttempts {
			s.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("Attempting stream reconnect")
		} else {
			s.log.Warn().Int("attempt", attempt).Dur("delay", delay).Msg("Stream reconnect attempt (exceeded max attempts, will keep retrying)")
		}

		select {
		case <-time.After(delay):
		case <-s.stopChan:
			return
		}

		if err := s.connect(); err != nil {
			s.log.Error().Err(err).Int("attempt", attempt).Msg("Stream reconnect failed")
			continue
		}

		s.log.Info().Int("attempt", attempt).Msg("Stream reconnected")
		attempt = 0

		s.mu.RLock()
		ctx := s.connCtx
		s.mu.RUnlock()
		go s.readMessages(ctx)
		return
	}
}

func (s *Stream) calculateBackoff(attempt int) time.Duration {
	delay := float64(baseReconnectDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxReconnectDelay) {
		delay = float64(maxReconnectDelay)
	}
	return time.Duration(delay)
}
