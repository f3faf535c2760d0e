package live

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	streamReconnectDelay = 5 * time.Second
	streamPingInterval   = 30 * time.Second
)

// StreamingQuoteSource is an optional reconnecting websocket client
// (fixed 5s delay between attempts) an ExchangeAdapter implementation may embed to satisfy the
// "optional streaming of bars and quotes" clause of spec §4.6. Adapted
// from the Polymarket feed's connection loop (feeds/polymarket_ws.go),
// generalized from a fixed per-market orderbook parser into a
// symbol-keyed quote cache fed by a caller-supplied message decoder.
type StreamingQuoteSource struct {
	mu sync.RWMutex

	url     string
	decode  func([]byte) ([]Quote, error)
	conn    *websocket.Conn
	running bool
	stopCh  chan struct{}

	subscribers []chan Quote
	latest      map[string]Quote
}

// NewStreamingQuoteSource builds a quote source against url, using
// decode to turn a raw websocket frame into zero or more Quotes.
func NewStreamingQuoteSource(url string, decode func([]byte) ([]Quote, error)) *StreamingQuoteSource {
	return &StreamingQuoteSource{
		url:     url,
		decode:  decode,
		stopCh:  make(chan struct{}),
		latest:  make(map[string]Quote),
	}
}

func (s *StreamingQuoteSource) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	go s.connectionLoop()
}

func (s *StreamingQuoteSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stopCh)
	if s.conn != nil {
		s.conn.Close()
	}
}

// Subscribe returns a channel fed with decoded quotes; a quote is dropped
// for a subscriber whose 256-slot buffer is full.
func (s *StreamingQuoteSource) Subscribe() chan Quote {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan Quote, 256)
	s.subscribers = append(s.subscribers, ch)
	return ch
}

// Latest returns the most recently observed quote for a symbol.
func (s *StreamingQuoteSource) Latest(symbol string) (Quote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.latest[symbol]
	return q, ok
}

func (s *StreamingQuoteSource) connectionLoop() {
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		if err := s.connect(); err != nil {
			log.Error().Err(err).Str("url", s.url).Msg("streaming quote source: connect failed, retrying")
			time.Sleep(streamReconnectDelay)
			continue
		}

		s.readLoop()
		time.Sleep(streamReconnectDelay)
	}
}

func (s *StreamingQuoteSource) connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(s.url, nil)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	go s.pingLoop()
	return nil
}

func (s *StreamingQuoteSource) pingLoop() {
	ticker := time.NewTicker(streamPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.mu.RLock()
			conn := s.conn
			s.mu.RUnlock()
			if conn != nil {
				conn.WriteMessage(websocket.PingMessage, nil)
			}
		}
	}
}

func (s *StreamingQuoteSource) readLoop() {
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warn().Err(err).Msg("streaming quote source: read error")
			return
		}

		quotes, err := s.decode(message)
		if err != nil {
			continue
		}
		for _, q := range quotes {
			s.mu.Lock()
			s.latest[q.Symbol] = q
			subs := s.subscribers
			s.mu.Unlock()
			for _, ch := range subs {
				select {
				case ch <- q:
				default:
				}
			}
		}
	}
}

// rawQuoteFrame is the shape a typical venue's quote push message
// takes; adapters can use DecodeRawQuoteFrame directly or provide
// their own decode function to NewStreamingQuoteSource.
type rawQuoteFrame struct {
	Symbol string `json:"symbol"`
	Bid    string `json:"bid"`
	Ask    string `json:"ask"`
}

func DecodeRawQuoteFrame(data []byte) ([]Quote, error) {
	var frames []rawQuoteFrame
	if err := json.Unmarshal(data, &frames); err != nil {
		var single rawQuoteFrame
		if err := json.Unmarshal(data, &single); err != nil {
			return nil, err
		}
		frames = []rawQuoteFrame{single}
	}
	out := make([]Quote, 0, len(frames))
	for _, f := range frames {
		bid, err := decimal.NewFromString(f.Bid)
		if err != nil {
			continue
		}
		ask, err := decimal.NewFromString(f.Ask)
		if err != nil {
			continue
		}
		out = append(out, Quote{Symbol: f.Symbol, Bid: bid, Ask: ask, Timestamp: time.Now().UTC()})
	}
	return out, nil
}
