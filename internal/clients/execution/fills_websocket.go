package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/domain"
)

const (
	writeWait   = 10 * time.Second
	dialTimeout = 30 * time.Second

	baseReconnectDelay = 5 * time.Second
	maxReconnectDelay  = 5 * time.Minute
)

// FillHandler consumes asynchronous fill updates. Handlers run on the
// read loop goroutine and must not block.
type FillHandler func(batchID string, result domain.OrderResult)

// FillStream subscribes to the venue adapter's fill channel and forwards
// updates to a handler. The stream reconnects with exponential backoff
// until stopped; updates missed while disconnected are not replayed (the
// next rebalance cycle reconciles from portfolio state).
type FillStream struct {
	url        string
	handler    FillHandler
	conn       *websocket.Conn
	connCtx    context.Context
	cancelFunc context.CancelFunc
	mu         sync.RWMutex

	log zerolog.Logger

	connected    bool
	reconnecting bool
	stopChan     chan struct{}
	stopped      bool
}

// NewFillStream creates a fill stream client.
func NewFillStream(url string, handler FillHandler, log zerolog.Logger) *FillStream {
	return &FillStream{
		url:      url,
		handler:  handler,
		log:      log.With().Str("component", "fill_stream").Logger(),
		stopChan: make(chan struct{}),
	}
}

// Start connects and begins the read loop. A failed initial connection
// retries in the background rather than failing startup.
func (fs *FillStream) Start() error {
	fs.log.Info().Msg("Starting fill stream client")

	if err := fs.connect(); err != nil {
		fs.log.Warn().Err(err).Msg("Initial fill stream connection failed, will retry in background")
		go fs.reconnectLoop()
		return err
	}

	fs.mu.RLock()
	ctx := fs.connCtx
	fs.mu.RUnlock()
	go fs.readMessages(ctx)

	return nil
}

// Stop gracefully shuts down the stream.
func (fs *FillStream) Stop() error {
	fs.mu.Lock()
	if fs.stopped {
		fs.mu.Unlock()
		return nil
	}
	fs.stopped = true
	fs.mu.Unlock()

	close(fs.stopChan)
	return fs.disconnect()
}

// IsConnected returns the current connection status.
func (fs *FillStream) IsConnected() bool {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.connected
}

func (fs *FillStream) connect() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	dialCtx, dialCancel := context.WithTimeout(context.Background(), dialTimeout)
	defer dialCancel()

	conn, _, err := websocket.Dial(dialCtx, fs.url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial fill stream: %w", err)
	}

	connCtx, connCancel := context.WithCancel(context.Background())
	fs.conn = conn
	fs.connCtx = connCtx
	fs.cancelFunc = connCancel
	fs.connected = true

	if err := fs.subscribe(connCtx); err != nil {
		connCancel()
		conn.Close(websocket.StatusNormalClosure, "subscribe failed")
		fs.conn = nil
		fs.connCtx = nil
		fs.cancelFunc = nil
		fs.connected = false
		return fmt.Errorf("failed to subscribe to fills: %w", err)
	}

	fs.log.Info().Str("url", fs.url).Msg("Connected to fill stream")
	return nil
}

func (fs *FillStream) disconnect() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.conn == nil {
		return nil
	}

	if fs.cancelFunc != nil {
		fs.cancelFunc()
		fs.cancelFunc = nil
	}

	err := fs.conn.Close(websocket.StatusNormalClosure, "")
	fs.conn = nil
	fs.connCtx = nil
	fs.connected = false

	if err != nil {
		return fmt.Errorf("error closing fill stream: %w", err)
	}
	return nil
}

func (fs *FillStream) subscribe(ctx context.Context) error {
	data, err := json.Marshal([]string{"fills"})
	if err != nil {
		return fmt.Errorf("failed to marshal subscription message: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()

	if err := fs.conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("failed to send subscription message: %w", err)
	}
	return nil
}

// fillMessage is the wire format of one fill update.
type fillMessage struct {
	BatchID string             `json:"batch_id"`
	Result  domain.OrderResult `json:"result"`
}

func (fs *FillStream) readMessages(ctx context.Context) {
	defer func() {
		fs.mu.RLock()
		stopped := fs.stopped
		fs.mu.RUnlock()
		if !stopped {
			go fs.reconnectLoop()
		}
	}()

	for {
		select {
		case <-fs.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		fs.mu.RLock()
		conn := fs.conn
		fs.mu.RUnlock()
		if conn == nil {
			return
		}

		msgType, message, err := conn.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus == websocket.StatusNormalClosure || closeStatus == websocket.StatusGoingAway {
				fs.log.Info().Int("status", int(closeStatus)).Msg("Fill stream closed normally")
			} else if ctx.Err() != nil {
				fs.log.Debug().Msg("Fill stream read cancelled")
			} else {
				fs.log.Error().Err(err).Msg("Unexpected fill stream read error")
			}
			return
		}

		if msgType != websocket.MessageText {
			continue
		}

		if err := fs.handleMessage(message); err != nil {
			fs.log.Error().Err(err).Msg("Failed to handle fill message")
			// Keep reading despite parse errors
		}
	}
}

func (fs *FillStream) handleMessage(message []byte) error {
	// Protocol: ["fills", {batch_id, result}]
	var raw []json.RawMessage
	if err := json.Unmarshal(message, &raw); err != nil {
		return fmt.Errorf("failed to parse message array: %w", err)
	}
	if len(raw) < 2 {
		return fmt.Errorf("message array too short: expected 2 elements, got %d", len(raw))
	}

	var channel string
	if err := json.Unmarshal(raw[0], &channel); err != nil {
		return fmt.Errorf("failed to parse channel: %w", err)
	}
	if channel != "fills" {
		return nil
	}

	var msg fillMessage
	if err := json.Unmarshal(raw[1], &msg); err != nil {
		return fmt.Errorf("failed to parse fill update: %w", err)
	}

	fs.log.Debug().
		Str("batch_id", msg.BatchID).
		Str("ticker", msg.Result.Order.Ticker).
		Str("status", string(msg.Result.Status)).
		Msg("Fill update received")

	if fs.handler != nil {
		fs.handler(msg.BatchID, msg.Result)
	}
	return nil
}

func (fs *FillStream) reconnectLoop() {
	fs.mu.Lock()
	if fs.reconnecting || fs.stopped {
		fs.mu.Unlock()
		return
	}
	fs.reconnecting = true
	fs.mu.Unlock()

	defer func() {
		fs.mu.Lock()
		fs.reconnecting = false
		fs.mu.Unlock()
	}()

	attempt := 0
	for {
		select {
		case <-fs.stopChan:
			return
		default:
		}

		attempt++
		delay := backoff(attempt)
		fs.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("Reconnecting to fill stream")

		select {
		case <-time.After(delay):
		case <-fs.stopChan:
			return
		}

		if err := fs.connect(); err != nil {
			fs.log.Error().Err(err).Int("attempt", attempt).Msg("Fill stream reconnection failed")
			continue
		}

		fs.mu.RLock()
		ctx := fs.connCtx
		fs.mu.RUnlock()
		go fs.readMessages(ctx)
		return
	}
}

func backoff(attempt int) time.Duration {
	delay := float64(baseReconnectDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxReconnectDelay) {
		delay = float64(maxReconnectDelay)
	}
	return time.Duration(delay)
}
