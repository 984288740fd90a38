package order

import (
	"context"
	"encoding/json"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"tradebridge/internal/balance"
	"tradebridge/internal/events"
)

// StreamClient is the listen-key surface of the venue REST client.
type StreamClient interface {
	CreateListenKey(ctx context.Context) (string, error)
	KeepAliveListenKey(ctx context.Context, listenKey string) error
	CloseListenKey(ctx context.Context, listenKey string) error
	StreamURL(listenKey string) string
}

// publisher is the event funnel the stream feeds (the Router).
type publisher interface {
	Publish(ev events.Event) int64
}

// UserStream maintains the venue's push user-data subscription and
// translates its execution reports and account snapshots into
// normalized events.
type UserStream struct {
	client   StreamClient
	sink     publisher
	balances *balance.Store
	logger   zerolog.Logger

	keepAliveEvery time.Duration
	reconnectDelay time.Duration

	connected atomic.Bool
}

func NewUserStream(client StreamClient, sink publisher, balances *balance.Store, logger zerolog.Logger) *UserStream {
	return &UserStream{
		client:         client,
		sink:           sink,
		balances:       balances,
		logger:         logger.With().Str("component", "user_stream").Logger(),
		keepAliveEvery: 25 * time.Minute,
		reconnectDelay: 3 * time.Second,
	}
}

// Connected reports whether the push subscription is currently live, so
// the router's poller can suppress itself while it is.
func (s *UserStream) Connected() bool { return s.connected.Load() }

// Run loops the stream's connect/read/teardown state machine until the
// context is cancelled. Each pass acquires a fresh listen key, reads
// until the socket dies, releases the key, and retries after a short
// fixed delay.
func (s *UserStream) Run(ctx context.Context) {
	for {
		if err := s.runOnce(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("user stream session ended")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.reconnectDelay):
		}
	}
}

func (s *UserStream) runOnce(ctx context.Context) error {
	listenKey, err := s.client.CreateListenKey(ctx)
	if err != nil {
		return err
	}
	// Best-effort release on every exit path.
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.client.CloseListenKey(releaseCtx, listenKey); err != nil {
			s.logger.Debug().Err(err).Msg("close listen key failed")
		}
	}()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.client.StreamURL(listenKey), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	s.connected.Store(true)
	defer s.connected.Store(false)
	s.logger.Info().Msg("user stream connected")

	// Keepalive refreshes the listen key; a refresh failure does not
	// tear the connection down, only the read loop does that.
	kaCtx, kaCancel := context.WithCancel(ctx)
	defer kaCancel()
	go s.keepAlive(kaCtx, listenKey)

	// Unblock the read loop when the context is cancelled.
	go func() {
		<-kaCtx.Done()
		_ = conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.handleMessage(msg)
	}
}

func (s *UserStream) keepAlive(ctx context.Context, listenKey string) {
	ticker := time.NewTicker(s.keepAliveEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.client.KeepAliveListenKey(ctx, listenKey); err != nil {
				s.logger.Warn().Err(err).Msg("listen key keepalive failed")
			}
		}
	}
}

// handleMessage dispatches on the venue's event-type discriminator.
// Unparseable or irrelevant messages are dropped.
func (s *UserStream) handleMessage(msg []byte) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(msg, &raw); err != nil {
		return
	}
	v, ok := raw["e"]
	if !ok {
		return
	}
	var eventType string
	if err := json.Unmarshal(v, &eventType); err != nil {
		// Some venue messages carry a non-string discriminator.
		return
	}

	switch eventType {
	case "executionReport":
		s.handleExecutionReport(msg)
	case "outboundAccountPosition":
		s.handleAccountPosition(msg)
	}
}

// handleExecutionReport translates one venue execution report into an
// order_update and, when it carries a fill, an additional fill event.
func (s *UserStream) handleExecutionReport(msg []byte) {
	var rep struct {
		Symbol        string `json:"s"`
		Side          string `json:"S"`
		Status        string `json:"X"`
		Reason        string `json:"r"`
		OrderID       int64  `json:"i"`
		ClientOrderID string `json:"c"`
		OrigClientID  string `json:"C"`
		Price         string `json:"p"`
		Qty           string `json:"q"`
		LastQty       string `json:"l"`
		LastPrice     string `json:"L"`
		EventTime     int64  `json:"E"`
	}
	if err := json.Unmarshal(msg, &rep); err != nil {
		return
	}

	clientID := rep.ClientOrderID
	// Cancels report the original id in a separate field.
	if rep.OrigClientID != "" && rep.OrigClientID != "null" {
		clientID = rep.OrigClientID
	}
	if clientID == "" {
		return
	}

	ts := rep.EventTime * int64(time.Millisecond)
	s.sink.Publish(events.Event{
		Type:          events.KindOrderUpdate,
		ClientOrderID: clientID,
		VenueOrderID:  formatInt(rep.OrderID),
		Status:        normalizeStreamStatus(rep.Status),
		Reason:        rejectReason(rep.Reason),
		Symbol:        rep.Symbol,
		Side:          rep.Side,
		Qty:           parseFloat(rep.Qty),
		Price:         parseFloat(rep.Price),
		Timestamp:     ts,
	})

	if lastQty := parseFloat(rep.LastQty); lastQty > 0 {
		s.sink.Publish(events.Event{
			Type:          events.KindFill,
			ClientOrderID: clientID,
			Symbol:        rep.Symbol,
			Qty:           lastQty,
			Price:         parseFloat(rep.LastPrice),
			Timestamp:     ts,
		})
	}
}

// handleAccountPosition replaces the whole balance snapshot and emits
// an account marker event.
func (s *UserStream) handleAccountPosition(msg []byte) {
	var upd struct {
		EventTime int64 `json:"E"`
		Balances  []struct {
			Asset  string `json:"a"`
			Free   string `json:"f"`
			Locked string `json:"l"`
		} `json:"B"`
	}
	if err := json.Unmarshal(msg, &upd); err != nil {
		return
	}

	entries := make([]balance.Entry, 0, len(upd.Balances))
	for _, b := range upd.Balances {
		entries = append(entries, balance.Entry{
			Asset:  b.Asset,
			Free:   parseFloat(b.Free),
			Locked: parseFloat(b.Locked),
		})
	}
	s.balances.ReplaceAll(entries)

	s.sink.Publish(events.Event{
		Type:      events.KindAccount,
		Timestamp: upd.EventTime * int64(time.Millisecond),
	})
}

// normalizeStreamStatus maps raw stream status strings onto the store's
// state machine. Unknown statuses map to empty (field treated absent).
func normalizeStreamStatus(s string) string {
	switch s {
	case "NEW":
		return StatusAccepted
	case "PARTIALLY_FILLED":
		return StatusPartiallyFilled
	case "FILLED":
		return StatusFilled
	case "CANCELED":
		return StatusCancelled
	case "REJECTED":
		return StatusRejected
	case "EXPIRED", "EXPIRED_IN_MATCH":
		return StatusExpired
	}
	return ""
}

// rejectReason filters the venue's placeholder reason value.
func rejectReason(r string) string {
	if r == "" || r == "NONE" {
		return ""
	}
	return r
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(v, 64)
	return f
}

func formatInt(v int64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatInt(v, 10)
}
