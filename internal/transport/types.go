package transport

import (
	"context"
	"errors"
)

// PushKind tags the payload so the receiving client can branch on it.
type PushKind string

const (
	PushMessage  PushKind = "message"
	PushReminder PushKind = "reminder"
)

// Push is the envelope handed to a client connection.
//
//	{"type":"message","data":"dinner"}
//	{"type":"reminder","data":{"time":"18:00","text":"dinner"}}
type Push struct {
	Type PushKind `json:"type"`
	Data any      `json:"data"`
}

// ReminderData is the Data of a reminder push.
type ReminderData struct {
	Time string `json:"time"`
	Text string `json:"text"`
}

// ErrClosed is returned by Conn.Send after the connection went away.
var ErrClosed = errors.New("connection closed")

// Conn is one live client session's outbound channel.
//
// Send hands a push to the transport and returns once it is written; it
// does not wait for the client to acknowledge receipt.
type Conn interface {
	ID() string
	Send(ctx context.Context, p Push) error
	Ping(ctx context.Context) error
	Close() error
}
