package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rocketscienceinc/tilegrid/internal/apperror"
	"github.com/rocketscienceinc/tilegrid/internal/codec"
	"github.com/rocketscienceinc/tilegrid/internal/entity"
)

const (
	RequestPath   = "/request"
	SubscribePath = "/subscribe"

	defaultRequestTimeout = 5 * time.Second
	defaultMaxBackoff     = 30 * time.Second
	defaultEventBuffer    = 256
)

type Options struct {
	RequestTimeout time.Duration
	MaxBackoff     time.Duration
	EventBuffer    int
}

// event is either a broadcast change or a full snapshot taken while resubscribing.
// self marks the echo of a command this client sent.
type event struct {
	change   *entity.Change
	snapshot *entity.Grid
	self     bool
}

// Client is the core used by presentation layers: it fetches snapshots, submits mutations and
// keeps a local mirror in sync with the authority's broadcasts.
type Client struct {
	logger *slog.Logger
	id     entity.ClientID
	opts   Options
	dialer *websocket.Dialer

	requestURL   string
	subscribeURL string

	mirror *Mirror

	reqMu     sync.Mutex
	reqConn   *websocket.Conn
	lastPaint *entity.Command

	cbMu      sync.Mutex
	onChange  []func(entity.Change)
	onResync  []func(*entity.Grid)
	events    chan event
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once

	echoes      atomic.Uint64
	resubscribe atomic.Uint64
}

// Dial - connects both channels to the authority at addr (host:port) and loads the mirror.
// Failing to connect at startup is returned to the caller; later broadcast disconnects are
// retried in the background.
func Dial(ctx context.Context, logger *slog.Logger, addr string, opts Options) (*Client, error) {
	opts = withDefaults(opts)

	grid, err := entity.NewGrid(1, 1)
	if err != nil {
		return nil, err
	}

	id := entity.NewClientID()

	that := &Client{
		logger: logger.With("component", "client", "client_id", id.String()),
		id:     id,
		opts:   opts,
		dialer: &websocket.Dialer{
			HandshakeTimeout: opts.RequestTimeout,
		},
		requestURL:   (&url.URL{Scheme: "ws", Host: addr, Path: RequestPath}).String(),
		subscribeURL: (&url.URL{Scheme: "ws", Host: addr, Path: SubscribePath}).String(),
		mirror:       NewMirror(grid),
		events:       make(chan event, opts.EventBuffer),
	}

	that.reqConn, err = that.dial(ctx, that.requestURL)
	if err != nil {
		return nil, err
	}

	subConn, err := that.dial(ctx, that.subscribeURL)
	if err != nil {
		_ = that.reqConn.Close()
		return nil, err
	}

	// subscribed before fetching, so every change after the snapshot arrives as a broadcast
	grid, err = that.fetch(ctx)
	if err != nil {
		_ = subConn.Close()
		_ = that.reqConn.Close()
		return nil, fmt.Errorf("failed to fetch initial snapshot: %w", err)
	}

	that.mirror.Replace(grid)

	loopCtx, cancel := context.WithCancel(context.Background())
	that.cancel = cancel

	that.wg.Add(2)
	go that.subscribeLoop(loopCtx, subConn)
	go that.dispatch()

	return that, nil
}

func withDefaults(opts Options) Options {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}

	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}

	if opts.EventBuffer <= 0 {
		opts.EventBuffer = defaultEventBuffer
	}

	return opts
}

func (that *Client) ID() entity.ClientID {
	return that.id
}

func (that *Client) Mirror() *Mirror {
	return that.mirror
}

// OnRemoteChange - registers fn to be called after a remote change was applied to the mirror.
// Callbacks run on the dispatch goroutine in broadcast order.
func (that *Client) OnRemoteChange(fn func(entity.Change)) {
	that.cbMu.Lock()
	defer that.cbMu.Unlock()

	that.onChange = append(that.onChange, fn)
}

// OnResync - registers fn to be called after the mirror was replaced by a snapshot taken
// while (re)subscribing.
func (that *Client) OnResync(fn func(*entity.Grid)) {
	that.cbMu.Lock()
	defer that.cbMu.Unlock()

	that.onResync = append(that.onResync, fn)
}

// FetchSnapshot - fetches the full grid and replaces the mirror with it.
func (that *Client) FetchSnapshot(ctx context.Context) (*entity.Grid, error) {
	grid, err := that.fetch(ctx)
	if err != nil {
		return nil, err
	}

	that.mirror.Replace(grid.Clone())

	return grid, nil
}

// SubmitUpdate - asks the authority to paint the cell at column x, row y. The mirror is only
// changed once the authority accepted the update.
func (that *Client) SubmitUpdate(ctx context.Context, x, y, color int) error {
	if color < entity.MinColor || color > entity.MaxColor {
		return fmt.Errorf("%w: %d", apperror.ErrInvalidColor, color)
	}

	cmd := entity.NewUpdate(that.id, x, y, color)

	if that.isLastPaint(cmd) {
		return nil
	}

	return that.submit(ctx, cmd)
}

// SubmitResize - asks the authority to change the grid dimensions.
func (that *Client) SubmitResize(ctx context.Context, rows, columns int) error {
	return that.submit(ctx, entity.NewResize(that.id, rows, columns))
}

// Stats - number of self echoes dropped and of broadcast resubscriptions.
func (that *Client) Stats() (uint64, uint64) {
	return that.echoes.Load(), that.resubscribe.Load()
}

// Close - stops the subscription flow and closes both channels.
func (that *Client) Close() error {
	that.closeOnce.Do(func() {
		that.cancel()

		that.reqMu.Lock()
		if that.reqConn != nil {
			_ = that.reqConn.Close()
			that.reqConn = nil
		}
		that.reqMu.Unlock()

		that.wg.Wait()
	})

	return nil
}

// submit - sends cmd and applies it to the mirror once the authority accepts it. The request
// lock is held throughout, so the mirror always knows which own command is in flight.
func (that *Client) submit(ctx context.Context, cmd entity.Command) error {
	log := that.logger.With("method", "submit")

	raw := codec.EncodeCommand(cmd)

	that.reqMu.Lock()
	defer that.reqMu.Unlock()

	that.mirror.Expect(raw)

	reply, err := that.roundTripLocked(ctx, raw)
	if err != nil {
		that.mirror.Settle()
		return err
	}

	if err = codec.DecodeAck(reply); err != nil {
		that.mirror.Settle()
		return fmt.Errorf("%s rejected: %w", cmd.Name, err)
	}

	switch cmd.Name {
	case entity.CommandUpdate:
		that.lastPaint = &cmd
	case entity.CommandResize:
		that.lastPaint = nil
	}

	if err = that.mirror.ApplyConfirmed(cmd); err != nil {
		log.Debug("mirror is stale, waiting for resync", "error", err)
	}

	return nil
}

// isLastPaint - true when cmd repeats the last accepted paint and the mirror still shows it.
func (that *Client) isLastPaint(cmd entity.Command) bool {
	that.reqMu.Lock()
	last := that.lastPaint
	that.reqMu.Unlock()

	if last == nil || last.X != cmd.X || last.Y != cmd.Y || last.Color != cmd.Color {
		return false
	}

	cell, err := that.mirror.Get(cmd.X, cmd.Y)

	return err == nil && cell.Color == cmd.Color
}

func (that *Client) fetch(ctx context.Context) (*entity.Grid, error) {
	reply, err := that.roundTrip(ctx, codec.FetchRequest)
	if err != nil {
		return nil, err
	}

	grid, err := entity.NewGrid(1, 1)
	if err != nil {
		return nil, err
	}

	if err = codec.DecodeSnapshot(reply, grid); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}

	return grid, nil
}

// roundTrip - writes one request and waits for its reply. Only one request is outstanding at
// a time. After a timeout or transport error the connection is dropped, since a late reply
// would otherwise be read as the answer to the next request.
func (that *Client) roundTrip(ctx context.Context, msg string) (string, error) {
	that.reqMu.Lock()
	defer that.reqMu.Unlock()

	return that.roundTripLocked(ctx, msg)
}

// roundTripLocked - roundTrip for callers already holding reqMu.
func (that *Client) roundTripLocked(ctx context.Context, msg string) (string, error) {
	if that.reqConn == nil {
		conn, err := that.dial(ctx, that.requestURL)
		if err != nil {
			return "", err
		}
		that.reqConn = conn
	}

	conn := that.reqConn

	deadline := time.Now().Add(that.opts.RequestTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	_ = conn.SetWriteDeadline(deadline)
	_ = conn.SetReadDeadline(deadline)

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	err := conn.WriteMessage(websocket.TextMessage, []byte(msg))
	if err == nil {
		var payload []byte
		if _, payload, err = conn.ReadMessage(); err == nil {
			return string(payload), nil
		}
	}

	_ = conn.Close()
	that.reqConn = nil

	if ctx.Err() != nil {
		return "", fmt.Errorf("request abandoned: %w", ctx.Err())
	}

	return "", classify(err)
}

func (that *Client) dial(ctx context.Context, target string) (*websocket.Conn, error) {
	conn, resp, err := that.dialer.DialContext(ctx, target, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", apperror.ErrTransportDisconnected, target, err)
	}

	return conn, nil
}

func classify(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", apperror.ErrTimeout, err)
	}

	return fmt.Errorf("%w: %w", apperror.ErrTransportDisconnected, err)
}
