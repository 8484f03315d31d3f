package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/lox/fairdice/internal/auth"
	"github.com/lox/fairdice/internal/service"
	"github.com/lox/fairdice/internal/transcript"
)

// Connection represents a WebSocket connection to a client
type Connection struct {
	conn      *websocket.Conn
	send      chan *Message
	identity  string
	logger    *log.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.RWMutex
	closeOnce sync.Once
	games     *service.GameService
	journal   *transcript.Journal
	validator auth.Validator
}

// NewConnection creates a new connection wrapper
func NewConnection(conn *websocket.Conn, logger *log.Logger, games *service.GameService, journal *transcript.Journal, validator auth.Validator) *Connection {
	ctx, cancel := context.WithCancel(context.Background())

	return &Connection{
		conn:      conn,
		send:      make(chan *Message, 256),
		logger:    logger.WithPrefix("conn"),
		ctx:       ctx,
		cancel:    cancel,
		games:     games,
		journal:   journal,
		validator: validator,
	}
}

// Start begins handling the connection
func (c *Connection) Start() {
	go c.writePump()
	go c.readPump()
}

// Close closes the connection
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		close(c.send)
		err = c.conn.Close()
	})
	return err
}

// SendMessage sends a message to the client
func (c *Connection) SendMessage(msg *Message) error {
	defer func() {
		if r := recover(); r != nil {
			// Channel was closed, expected during shutdown
			c.logger.Debug("Attempted to send message on closed connection", "error", r)
		}
	}()

	select {
	case c.send <- msg:
		return nil
	case <-c.ctx.Done():
		return c.ctx.Err()
	default:
		c.logger.Warn("Connection send buffer full, closing connection")
		_ = c.Close()
		return ErrConnectionClosed
	}
}

// SetIdentity associates this connection with a participant identity
func (c *Connection) SetIdentity(identity string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity = identity
}

// Identity returns the associated participant identity
func (c *Connection) Identity() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 8192
)

var ErrConnectionClosed = websocket.ErrCloseSent

// readPump handles incoming messages from the client
func (c *Connection) readPump() {
	defer func() { _ = c.Close() }()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		var msg Message
		err := c.conn.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", "error", err)
			}
			break
		}

		c.handleMessage(&msg)
	}
}

// writePump handles outgoing messages to the client
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(message); err != nil {
				c.logger.Error("Failed to write message", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// handleMessage processes incoming messages from the client
func (c *Connection) handleMessage(msg *Message) {
	c.logger.Debug("Received message", "type", msg.Type, "identity", c.Identity())

	switch msg.Type {
	case MessageTypeAuth:
		var data AuthData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.sendError("invalid_message", "Failed to parse auth data")
			return
		}
		c.handleAuth(data)

	case MessageTypeCommit:
		var data CommitData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.sendError("invalid_message", "Failed to parse commit data")
			return
		}
		c.handleCommit(data)

	case MessageTypeReveal:
		var data RevealData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.sendError("invalid_message", "Failed to parse reveal data")
			return
		}
		c.handleReveal(data)

	case MessageTypeRetry:
		c.handleRetry()

	case MessageTypeCancel:
		var data CancelData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.sendError("invalid_message", "Failed to parse cancel data")
			return
		}
		c.handleCancel(data)

	case MessageTypeWithdraw:
		c.handleWithdraw()

	case MessageTypeWithdrawFees:
		c.handleWithdrawFees()

	case MessageTypeStatus:
		c.handleStatus()

	case MessageTypeHistory:
		var data HistoryData
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &data); err != nil {
				c.sendError("invalid_message", "Failed to parse history data")
				return
			}
		}
		c.handleHistory(data)

	default:
		c.sendError("unknown_message_type", "Unknown message type: "+msg.Type.String())
	}
}

// sendError sends an error message to the client
func (c *Connection) sendError(code, message string) {
	errorMsg, err := NewMessage(MessageTypeError, ErrorData{
		Code:    code,
		Message: message,
	})
	if err != nil {
		c.logger.Error("Failed to create error message", "error", err)
		return
	}

	_ = c.SendMessage(errorMsg)
}

// sendServiceError maps a service or engine error onto a protocol error code.
func (c *Connection) sendServiceError(err error) {
	c.sendError(errorCode(err), err.Error())
}

// identityOrError returns the authenticated identity, sending an error when
// the connection has not authenticated yet.
func (c *Connection) identityOrError() (string, bool) {
	identity := c.Identity()
	if identity == "" {
		c.sendError("not_authenticated", "Must authenticate first")
		return "", false
	}
	return identity, true
}

func (c *Connection) handleAuth(data AuthData) {
	c.logger.Info("Auth request", "identity", data.Identity)

	if data.Identity == "" {
		c.sendError("invalid_auth", "Identity required")
		return
	}

	identity := data.Identity
	verified, err := c.validator.Validate(c.ctx, data.Token)
	switch {
	case errors.Is(err, auth.ErrInvalidToken):
		c.sendError("invalid_auth", "Token rejected")
		return
	case err != nil:
		// Fail closed; a flapping auth service must not mint identities.
		c.logger.Error("Auth service unavailable", "error", err)
		c.sendError("auth_unavailable", "Authentication service unavailable")
		return
	case verified != nil:
		// The validated account is canonical, not the self-asserted name.
		identity = verified.Account
	}

	c.SetIdentity(identity)

	response, _ := NewMessage(MessageTypeAuthResponse, AuthResponseData{
		Success:  true,
		Identity: identity,
	})
	_ = c.SendMessage(response)
}

func (c *Connection) handleCommit(data CommitData) {
	identity, ok := c.identityOrError()
	if !ok {
		return
	}

	commitment, err := decodeHash(data.Commitment)
	if err != nil {
		c.sendError("invalid_commitment", err.Error())
		return
	}

	if err := c.games.Commit(identity, commitment, data.Stake); err != nil {
		c.sendServiceError(err)
		return
	}

	rec, _ := c.games.Engine().RecordOf(identity)
	response, _ := NewMessage(MessageTypeCommitted, CommittedData{
		Sequence:       rec.Sequence,
		RevealOpensAt:  rec.RevealStart,
		RevealClosesAt: rec.RevealDeadline,
	})
	_ = c.SendMessage(response)
}

func (c *Connection) handleReveal(data RevealData) {
	identity, ok := c.identityOrError()
	if !ok {
		return
	}

	secret, err := decodeHash(data.Secret)
	if err != nil {
		c.sendError("invalid_secret", err.Error())
		return
	}

	if err := c.games.Reveal(c.ctx, identity, data.Guess, secret); err != nil {
		c.sendServiceError(err)
		return
	}

	rec, _ := c.games.Engine().RecordOf(identity)
	response, _ := NewMessage(MessageTypeRevealed, RevealedData{
		RequestHandle: rec.RequestHandle,
	})
	_ = c.SendMessage(response)
}

func (c *Connection) handleRetry() {
	identity, ok := c.identityOrError()
	if !ok {
		return
	}

	if err := c.games.Retry(c.ctx, identity); err != nil {
		c.sendServiceError(err)
		return
	}

	rec, _ := c.games.Engine().RecordOf(identity)
	response, _ := NewMessage(MessageTypeRetried, RetriedData{
		RequestHandle: rec.RequestHandle,
		RetryCount:    rec.RetryCount,
	})
	_ = c.SendMessage(response)
}

func (c *Connection) handleCancel(data CancelData) {
	identity, ok := c.identityOrError()
	if !ok {
		return
	}

	var refund uint64
	var err error
	switch data.Mode {
	case "expired":
		refund, err = c.games.CancelExpired(identity)
	case "stuck":
		refund, err = c.games.CancelStuck(identity)
	default:
		c.sendError("invalid_cancel_mode", "Cancel mode must be expired or stuck")
		return
	}
	if err != nil {
		c.sendServiceError(err)
		return
	}

	response, _ := NewMessage(MessageTypeCancelled, CancelledData{
		Mode:   data.Mode,
		Refund: refund,
	})
	_ = c.SendMessage(response)
}

func (c *Connection) handleWithdraw() {
	identity, ok := c.identityOrError()
	if !ok {
		return
	}

	amount, err := c.games.Withdraw(identity)
	if err != nil {
		c.sendServiceError(err)
		return
	}

	response, _ := NewMessage(MessageTypeWithdrawn, WithdrawnData{Amount: amount})
	_ = c.SendMessage(response)
}

func (c *Connection) handleWithdrawFees() {
	identity, ok := c.identityOrError()
	if !ok {
		return
	}

	amount, err := c.games.WithdrawFees(identity)
	if err != nil {
		c.sendServiceError(err)
		return
	}

	response, _ := NewMessage(MessageTypeWithdrawn, WithdrawnData{Amount: amount})
	_ = c.SendMessage(response)
}

func (c *Connection) handleStatus() {
	identity, ok := c.identityOrError()
	if !ok {
		return
	}

	response, _ := NewMessage(MessageTypeStatusReport, c.games.Status(identity))
	_ = c.SendMessage(response)
}

func (c *Connection) handleHistory(data HistoryData) {
	identity, ok := c.identityOrError()
	if !ok {
		return
	}

	if c.journal == nil {
		c.sendError("history_unavailable", "Event journal is not enabled")
		return
	}

	entries, err := c.journal.Events(identity, data.Limit)
	if err != nil {
		c.logger.Error("Failed to query journal", "identity", identity, "error", err)
		c.sendError("internal_error", "Failed to load history")
		return
	}

	response, _ := NewMessage(MessageTypeHistoryList, HistoryListData{Entries: entries})
	_ = c.SendMessage(response)
}
