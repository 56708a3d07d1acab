package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"trade_go/internal/domain"
	"trade_go/internal/infra"
)

const (
	maxRetries   = 10
	pingInterval = 30 * time.Second
	readTimeout  = 90 * time.Second
)

// Event names pushed by the pricer.
const (
	EventPrice         = "price"
	EventKeyPrice      = "keyPrice"
	EventPricesUpdated = "pricesUpdated"
)

type message struct {
	Event string            `json:"event"`
	Data  *domain.ItemPrice `json:"data"`
}

// Worker keeps a websocket open to the pricer and forwards price updates.
type Worker struct {
	url     string
	updates chan<- domain.ItemPrice
	metrics *infra.Metrics
	logger  *slog.Logger

	conn      *websocket.Conn
	mu        sync.RWMutex
	writeMu   sync.Mutex
	connected bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewWorker creates a price feed worker. metrics may be nil.
func NewWorker(url string, updates chan<- domain.ItemPrice, metrics *infra.Metrics) *Worker {
	return &Worker{
		url:     url,
		updates: updates,
		metrics: metrics,
		logger:  slog.Default().With("module", "pricefeed"),
	}
}

// Connect starts the connection loop in the background.
func (w *Worker) Connect(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.connectionLoop(ctx)
	return nil
}

// Connected reports whether the socket is currently open.
func (w *Worker) Connected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}

func (w *Worker) connectionLoop(ctx context.Context) {
	defer w.wg.Done()
	retryCount := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := w.connect(ctx); err != nil {
			w.logger.Warn("Price feed connection failed", slog.Any("error", err), slog.Int("retry", retryCount))
			delay := infra.CalculateBackoff(retryCount)
			retryCount++
			if retryCount > maxRetries {
				retryCount = 0
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		}

		retryCount = 0
		w.readLoop(ctx)
	}
}

func (w *Worker) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	header := make(http.Header)
	header.Set("User-Agent", infra.DefaultUserAgent)

	conn, _, err := dialer.DialContext(ctx, w.url, header)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	w.mu.Lock()
	w.conn = conn
	w.connected = true
	w.mu.Unlock()
	w.metrics.SetFeedConnected(true)

	w.logger.Info("Price feed connected", slog.String("url", w.url))
	return nil
}

func (w *Worker) threadSafeWrite(msgType int, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.conn == nil {
		return fmt.Errorf("no conn")
	}
	w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.conn.WriteMessage(msgType, data)
}

func (w *Worker) readLoop(ctx context.Context) {
	done := make(chan struct{})
	defer close(done)
	go w.pingLoop(done)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn == nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Warn("Price feed read failed", slog.Any("error", err))
			}
			w.closeConnection()
			return
		}
		w.handleMessage(msg)
	}
}

func (w *Worker) pingLoop(done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := w.threadSafeWrite(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (w *Worker) handleMessage(raw []byte) {
	p, ok := decode(raw)
	if !ok {
		return
	}
	select {
	case w.updates <- p:
	default: // DROP
		w.metrics.RecordDropped("pricefeed")
		w.logger.Warn("Price update dropped", slog.String("sku", p.SKU))
	}
}

// decode turns one pricer message into an update. pricesUpdated and unknown
// events carry nothing to store.
func decode(raw []byte) (domain.ItemPrice, bool) {
	var msg message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return domain.ItemPrice{}, false
	}

	switch msg.Event {
	case EventPrice:
		if msg.Data == nil || msg.Data.SKU == "" {
			return domain.ItemPrice{}, false
		}
		return *msg.Data, true
	case EventKeyPrice:
		if msg.Data == nil {
			return domain.ItemPrice{}, false
		}
		p := *msg.Data
		p.SKU = domain.KeySKU
		if p.Name == "" {
			p.Name = domain.KeyName
		}
		return p, true
	case EventPricesUpdated:
		slog.Debug("Pricer finished a pricelist pass")
	}
	return domain.ItemPrice{}, false
}

func (w *Worker) closeConnection() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	if w.connected {
		w.metrics.SetFeedConnected(false)
	}
	w.connected = false
}

// Disconnect stops the loop and closes the socket.
func (w *Worker) Disconnect() {
	if w.cancel != nil {
		w.cancel()
	}
	w.closeConnection()
	w.wg.Wait()
}
