// Package feed streams top-of-book quotes over a websocket and serves them
// as the engine's price oracle.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"stealth_twap/internal/analytics"
	"stealth_twap/internal/domain"
	"stealth_twap/internal/infra"
	"stealth_twap/pkg/quant"

	"github.com/gorilla/websocket"
)

const (
	maxRetries   = 10
	readTimeout  = 60 * time.Second
	writeTimeout = 5 * time.Second
)

var (
	ErrNoQuote    = errors.New("no quote")
	ErrStaleQuote = errors.New("stale quote")
)

// QuoteObserver receives every accepted quote.
type QuoteObserver interface {
	Observe(q analytics.Quote)
}

// ConnectionGauge tracks open connections. infra.Metrics implements it.
type ConnectionGauge interface {
	IncrementConnections()
	DecrementConnections()
}

// Config of a Worker. Assets maps feed symbols to asset ids.
type Config struct {
	URL        string
	Assets     map[string]uint32
	StaleAfter time.Duration
	Backoff    infra.Backoff
}

// quoteMessage is one feed frame. Prices are decimal strings.
type quoteMessage struct {
	Type      string `json:"type"` // quote
	Symbol    string `json:"symbol"`
	Price     string `json:"price"`
	Bid       string `json:"bid"`
	Ask       string `json:"ask"`
	BidSize   int64  `json:"bid_size"`
	AskSize   int64  `json:"ask_size"`
	Volume24h int64  `json:"volume_24h"`
}

type subscribeMessage struct {
	Op      string   `json:"op"`
	Symbols []string `json:"symbols"`
}

type latest struct {
	quote analytics.Quote
	at    time.Time
}

// Worker keeps the latest quote per asset. It implements domain.Oracle.
type Worker struct {
	cfg      Config
	clock    domain.Clock
	observer QuoteObserver
	gauge    ConnectionGauge

	quotesMu sync.RWMutex
	quotes   map[uint32]latest

	conn    *websocket.Conn
	mu      sync.RWMutex
	writeMu sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	logger *slog.Logger
}

// NewWorker creates a feed worker. observer and gauge may be nil.
func NewWorker(cfg Config, clock domain.Clock, observer QuoteObserver, gauge ConnectionGauge) *Worker {
	if cfg.Backoff == (infra.Backoff{}) {
		cfg.Backoff = infra.DefaultBackoff
	}
	return &Worker{
		cfg:      cfg,
		clock:    clock,
		observer: observer,
		gauge:    gauge,
		quotes:   make(map[uint32]latest),
		logger:   slog.Default().With("module", "feed"),
	}
}

// ======================================================================================
// Oracle
// ======================================================================================

// GetPrice returns the last trade price of asset.
func (w *Worker) GetPrice(ctx context.Context, asset uint32) (quant.Price, error) {
	q, err := w.quote(ctx, asset)
	if err != nil {
		return 0, err
	}
	return q.Price, nil
}

// GetBBO returns the best bid and ask of asset; either may be zero.
func (w *Worker) GetBBO(ctx context.Context, asset uint32) (quant.Price, quant.Price, error) {
	q, err := w.quote(ctx, asset)
	if err != nil {
		return 0, 0, err
	}
	return q.Bid, q.Ask, nil
}

func (w *Worker) quote(ctx context.Context, asset uint32) (analytics.Quote, error) {
	if err := ctx.Err(); err != nil {
		return analytics.Quote{}, err
	}

	w.quotesMu.RLock()
	l, ok := w.quotes[asset]
	w.quotesMu.RUnlock()

	if !ok {
		return analytics.Quote{}, fmt.Errorf("%w for asset %d", ErrNoQuote, asset)
	}
	if w.cfg.StaleAfter > 0 && w.clock.Now().Sub(l.at) > w.cfg.StaleAfter {
		return analytics.Quote{}, fmt.Errorf("%w for asset %d", ErrStaleQuote, asset)
	}
	return l.quote, nil
}

// ======================================================================================
// Connection
// ======================================================================================

// Connect starts the reconnecting read loop in the background.
func (w *Worker) Connect(ctx context.Context) error {
	if w.cfg.URL == "" {
		return fmt.Errorf("feed url not configured")
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.connectionLoop(ctx)
	return nil
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
			w.logger.Warn("Feed connection failed", slog.Any("error", err), slog.Int("retry", retryCount))
			delay := w.cfg.Backoff.Delay(retryCount)
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
	conn, _, err := dialer.DialContext(ctx, w.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()
	if w.gauge != nil {
		w.gauge.IncrementConnections()
	}

	// Disconnect may have run between dial and store
	if err := ctx.Err(); err != nil {
		w.closeConnection()
		return err
	}

	if err := w.subscribe(); err != nil {
		w.closeConnection()
		return err
	}

	w.logger.Info("✅ Feed connected", slog.Int("symbols", len(w.cfg.Assets)))
	return nil
}

func (w *Worker) subscribe() error {
	symbols := make([]string, 0, len(w.cfg.Assets))
	for s := range w.cfg.Assets {
		symbols = append(symbols, s)
	}
	b, err := json.Marshal(subscribeMessage{Op: "subscribe", Symbols: symbols})
	if err != nil {
		return err
	}
	return w.threadSafeWrite(websocket.TextMessage, b)
}

func (w *Worker) threadSafeWrite(msgType int, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.conn == nil {
		return fmt.Errorf("no conn")
	}
	w.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return w.conn.WriteMessage(msgType, data)
}

func (w *Worker) readLoop(ctx context.Context) {
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
			w.closeConnection()
			return
		}
		w.handleMessage(msg)
	}
}

func (w *Worker) handleMessage(msg []byte) {
	var m quoteMessage
	if json.Unmarshal(msg, &m) != nil || m.Type != "quote" {
		return
	}
	asset, ok := w.cfg.Assets[m.Symbol]
	if !ok {
		return
	}

	q, err := m.toQuote(asset)
	if err != nil {
		w.logger.Debug("Dropped malformed quote", slog.String("symbol", m.Symbol), slog.Any("error", err))
		return
	}

	w.quotesMu.Lock()
	w.quotes[asset] = latest{quote: q, at: w.clock.Now()}
	w.quotesMu.Unlock()

	if w.observer != nil {
		w.observer.Observe(q)
	}
}

func (m quoteMessage) toQuote(asset uint32) (analytics.Quote, error) {
	q := analytics.Quote{
		Asset:     asset,
		BidSize:   m.BidSize,
		AskSize:   m.AskSize,
		Volume24h: m.Volume24h,
	}
	var err error
	if q.Price, err = quant.ParsePrice(m.Price); err != nil {
		return q, err
	}
	if q.Price <= 0 {
		return q, fmt.Errorf("non-positive price %s", m.Price)
	}
	if m.Bid != "" {
		if q.Bid, err = quant.ParsePrice(m.Bid); err != nil {
			return q, err
		}
	}
	if m.Ask != "" {
		if q.Ask, err = quant.ParsePrice(m.Ask); err != nil {
			return q, err
		}
	}
	return q, nil
}

func (w *Worker) closeConnection() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
		if w.gauge != nil {
			w.gauge.DecrementConnections()
		}
	}
}

// Disconnect stops the loop and waits for it to exit.
func (w *Worker) Disconnect() {
	if w.cancel != nil {
		w.cancel()
	}
	w.closeConnection()
	w.wg.Wait()
}
