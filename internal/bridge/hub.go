// Package bridge connects the engine to the embedded player running in a
// browser page. The page attaches over a websocket; commands go down as
// request frames and results, events and token requests come back up.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"playsync/internal/core"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024

	sendBuffer = 32
)

// Frame types.
const (
	FrameCommand      = "command"
	FrameResult       = "result"
	FrameEvent        = "event"
	FrameTokenRequest = "token_request"
	FrameToken        = "token"
)

// Commands understood by the page.
const (
	CmdConnect    = "connect"
	CmdDisconnect = "disconnect"
	CmdGetState   = "get_state"
	CmdToggle     = "toggle_play"
	CmdResume     = "resume"
	CmdNext       = "next"
	CmdPrevious   = "previous"
	CmdSeek       = "seek"
	CmdSetVolume  = "set_volume"
	CmdActivate   = "activate_element"
)

var errNotAttached = fmt.Errorf("%w: no player page attached", core.ErrDeviceNotReady)

// Frame is one websocket message in either direction.
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Command string          `json:"command,omitempty"`
	Args    json.RawMessage `json:"args,omitempty"`

	OK        bool           `json:"ok,omitempty"`
	Error     string         `json:"error,omitempty"`
	Connected bool           `json:"connected,omitempty"`
	State     *core.SDKState `json:"state,omitempty"`

	Event    string `json:"event,omitempty"`
	DeviceID string `json:"device_id,omitempty"`
	Message  string `json:"message,omitempty"`

	Token string `json:"token,omitempty"`
}

type connectArgs struct {
	Name   string  `json:"name"`
	Volume float64 `json:"volume"`
}

type seekArgs struct {
	PositionMs int `json:"position_ms"`
}

type volumeArgs struct {
	Volume float64 `json:"volume"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Hub is the engine's embedded player. Only the most recently attached page
// is used; an older page is closed when a new one attaches.
type Hub struct {
	logger      *zap.Logger
	callTimeout time.Duration

	mu       sync.Mutex
	peer     *peer
	handler  func(core.PlayerEvent)
	opts     *core.LocalPlayerOptions
	deviceID string
}

func NewHub(callTimeout time.Duration, logger *zap.Logger) *Hub {
	return &Hub{
		logger:      logger,
		callTimeout: callTimeout,
	}
}

// ServeHTTP upgrades the player page's connection and makes it the active peer.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade player bridge connection", zap.Error(err))
		return
	}

	p := newPeer(h, conn)

	h.mu.Lock()
	old := h.peer
	h.peer = p
	opts := h.opts
	h.mu.Unlock()

	if old != nil {
		h.logger.Info("Replacing attached player page")
		old.close()
	}

	go p.writePump()
	go p.readPump()

	h.logger.Info("Player page attached", zap.String("remote_addr", r.RemoteAddr))

	if opts != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), h.callTimeout)
			defer cancel()
			if _, err := h.connectPeer(ctx, p, *opts); err != nil {
				h.emit(core.PlayerEvent{Type: core.PlayerEventInitializationError, Message: err.Error()})
			}
		}()
	}
}

// Attached reports whether a player page is connected.
func (h *Hub) Attached() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.peer != nil
}

func (h *Hub) SetEventHandler(handler func(core.PlayerEvent)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = handler
}

// Connect asks the attached page to create and connect its player. Without
// a page it returns false; the page connects as soon as it attaches.
func (h *Hub) Connect(ctx context.Context, opts core.LocalPlayerOptions) (bool, error) {
	h.mu.Lock()
	h.opts = &opts
	p := h.peer
	h.mu.Unlock()

	if p == nil {
		return false, nil
	}
	return h.connectPeer(ctx, p, opts)
}

func (h *Hub) connectPeer(ctx context.Context, p *peer, opts core.LocalPlayerOptions) (bool, error) {
	res, err := h.callPeer(ctx, p, CmdConnect, connectArgs{Name: opts.Name, Volume: opts.InitialVolume})
	if err != nil {
		return false, fmt.Errorf("%w: %w", core.ErrInitialization, err)
	}
	return res.Connected, nil
}

// Disconnect tells the page to drop its player and stops auto-connecting.
func (h *Hub) Disconnect() {
	h.mu.Lock()
	h.opts = nil
	h.deviceID = ""
	p := h.peer
	h.mu.Unlock()

	if p != nil {
		p.send(&Frame{Type: FrameCommand, ID: uuid.NewString(), Command: CmdDisconnect})
	}
}

// CurrentState returns the page's player state, nil when the player is not
// the active device.
func (h *Hub) CurrentState(ctx context.Context) (*core.LocalSnapshot, error) {
	res, err := h.call(ctx, CmdGetState, nil)
	if err != nil {
		return nil, err
	}
	return core.NormalizeSDKState(res.State), nil
}

func (h *Hub) TogglePlay(ctx context.Context) error {
	_, err := h.call(ctx, CmdToggle, nil)
	return err
}

func (h *Hub) Resume(ctx context.Context) error {
	_, err := h.call(ctx, CmdResume, nil)
	return err
}

func (h *Hub) NextTrack(ctx context.Context) error {
	_, err := h.call(ctx, CmdNext, nil)
	return err
}

func (h *Hub) PreviousTrack(ctx context.Context) error {
	_, err := h.call(ctx, CmdPrevious, nil)
	return err
}

func (h *Hub) Seek(ctx context.Context, positionMs int) error {
	_, err := h.call(ctx, CmdSeek, seekArgs{PositionMs: positionMs})
	return err
}

func (h *Hub) SetVolume(ctx context.Context, volume float64) error {
	_, err := h.call(ctx, CmdSetVolume, volumeArgs{Volume: volume})
	return err
}

// ActivateElement unlocks audio output in the page, which browsers only
// allow while handling a user gesture.
func (h *Hub) ActivateElement(ctx context.Context) error {
	_, err := h.call(ctx, CmdActivate, nil)
	return err
}

func (h *Hub) call(ctx context.Context, command string, args any) (*Frame, error) {
	h.mu.Lock()
	p := h.peer
	h.mu.Unlock()

	if p == nil {
		return nil, errNotAttached
	}
	return h.callPeer(ctx, p, command, args)
}

func (h *Hub) callPeer(ctx context.Context, p *peer, command string, args any) (*Frame, error) {
	frame := &Frame{Type: FrameCommand, ID: uuid.NewString(), Command: command}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s args: %w", command, err)
		}
		frame.Args = raw
	}

	ctx, cancel := context.WithTimeout(ctx, h.callTimeout)
	defer cancel()

	res, err := p.request(ctx, frame)
	if err != nil {
		return nil, fmt.Errorf("player %s: %w", command, err)
	}
	if !res.OK {
		return nil, fmt.Errorf("player %s: %s", command, res.Error)
	}
	return res, nil
}

func (h *Hub) emit(ev core.PlayerEvent) {
	h.mu.Lock()
	handler := h.handler
	h.mu.Unlock()

	if handler != nil {
		handler(ev)
	}
}

func (h *Hub) handleEvent(f *Frame) {
	ev := core.PlayerEvent{
		Type:     core.PlayerEventType(f.Event),
		DeviceID: f.DeviceID,
		Message:  f.Message,
	}

	switch ev.Type {
	case core.PlayerEventReady:
		h.mu.Lock()
		h.deviceID = f.DeviceID
		h.mu.Unlock()
	case core.PlayerEventStateChanged:
		// a null state means playback moved to another device
		if f.State == nil {
			return
		}
		ev.State = core.NormalizeSDKState(f.State)
	}

	h.emit(ev)
}

func (h *Hub) handleTokenRequest(p *peer, f *Frame) {
	h.mu.Lock()
	opts := h.opts
	h.mu.Unlock()

	reply := &Frame{Type: FrameToken, ID: f.ID}
	if opts == nil || opts.Tokens == nil {
		reply.Error = "player is not connected"
		p.send(reply)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.callTimeout)
	defer cancel()

	token, err := opts.Tokens.Token(ctx)
	if err != nil {
		h.logger.Warn("Failed to hand out playback token", zap.Error(err))
		reply.Error = err.Error()
	} else {
		reply.OK = true
		reply.Token = token
	}
	p.send(reply)
}

// detach runs when a peer's connection ends. Losing the active page means
// losing the local device.
func (h *Hub) detach(p *peer) {
	h.mu.Lock()
	if h.peer != p {
		h.mu.Unlock()
		return
	}
	h.peer = nil
	deviceID := h.deviceID
	h.deviceID = ""
	h.mu.Unlock()

	h.logger.Info("Player page detached")
	if deviceID != "" {
		h.emit(core.PlayerEvent{Type: core.PlayerEventNotReady, DeviceID: deviceID})
	}
}

// peer is one attached page connection.
type peer struct {
	hub  *Hub
	conn *websocket.Conn
	out  chan *Frame

	mu      sync.Mutex
	pending map[string]chan *Frame
	closed  bool
	done    chan struct{}
}

func newPeer(h *Hub, conn *websocket.Conn) *peer {
	return &peer{
		hub:     h,
		conn:    conn,
		out:     make(chan *Frame, sendBuffer),
		pending: make(map[string]chan *Frame),
		done:    make(chan struct{}),
	}
}

func (p *peer) send(f *Frame) bool {
	select {
	case p.out <- f:
		return true
	case <-p.done:
		return false
	}
}

// request sends f and waits for the result frame with the same id.
func (p *peer) request(ctx context.Context, f *Frame) (*Frame, error) {
	ch := make(chan *Frame, 1)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errNotAttached
	}
	p.pending[f.ID] = ch
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.pending, f.ID)
		p.mu.Unlock()
	}()

	if !p.send(f) {
		return nil, errNotAttached
	}

	select {
	case res := <-ch:
		return res, nil
	case <-p.done:
		return nil, errNotAttached
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *peer) resolve(f *Frame) {
	p.mu.Lock()
	ch, ok := p.pending[f.ID]
	p.mu.Unlock()

	if !ok {
		return
	}
	select {
	case ch <- f:
	default:
	}
}

func (p *peer) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.conn.Close()
}

func (p *peer) readPump() {
	defer func() {
		p.close()
		p.hub.detach(p)
	}()

	p.conn.SetReadLimit(maxMessageSize)
	p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		p.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				p.hub.logger.Warn("Player bridge connection error", zap.Error(err))
			}
			return
		}

		var f Frame
		if err := json.Unmarshal(message, &f); err != nil {
			p.hub.logger.Warn("Invalid player bridge frame", zap.Error(err))
			continue
		}

		switch f.Type {
		case FrameResult:
			p.resolve(&f)
		case FrameEvent:
			p.hub.handleEvent(&f)
		case FrameTokenRequest:
			go p.hub.handleTokenRequest(p, &f)
		default:
			p.hub.logger.Debug("Ignoring player bridge frame", zap.String("type", f.Type))
		}
	}
}

func (p *peer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.close()
	}()

	for {
		select {
		case <-p.done:
			return
		case f := <-p.out:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteJSON(f); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					p.hub.logger.Debug("Failed to write player bridge frame", zap.Error(err))
				}
				return
			}
		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
