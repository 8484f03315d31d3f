package server

// MessageType represents a WebSocket message type with type safety
type MessageType string

// WebSocket message type constants
// These are used for client-server communication protocol
const (
	// Client to server messages
	MessageTypeAuth         MessageType = "auth"
	MessageTypeCommit       MessageType = "commit"
	MessageTypeReveal       MessageType = "reveal"
	MessageTypeRetry        MessageType = "retry"
	MessageTypeCancel       MessageType = "cancel"
	MessageTypeWithdraw     MessageType = "withdraw"
	MessageTypeWithdrawFees MessageType = "withdraw_fees"
	MessageTypeStatus       MessageType = "status"
	MessageTypeHistory      MessageType = "history"

	// Server to client messages
	MessageTypeError        MessageType = "error"
	MessageTypeAuthResponse MessageType = "auth_response"
	MessageTypeCommitted    MessageType = "committed"
	MessageTypeRevealed     MessageType = "revealed"
	MessageTypeRetried      MessageType = "retried"
	MessageTypeCancelled    MessageType = "cancelled"
	MessageTypeWithdrawn    MessageType = "withdrawn"
	MessageTypeStatusReport MessageType = "status_report"
	MessageTypeHistoryList  MessageType = "history_list"
	MessageTypeGameEvent    MessageType = "game_event"
)

// String returns the string representation of the message type
func (mt MessageType) String() string {
	return string(mt)
}
