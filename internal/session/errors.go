package session

import "errors"

var (
	ErrCooldownActive = errors.New("reconnect refused: cooldown active")
	ErrNotConnected   = errors.New("session not connected")
	ErrSendInFlight   = errors.New("transcript save already in flight")
	ErrNoCredential   = errors.New("no ephemeral key provided by the server")
)

// httpStatuser is implemented by sender errors that carry an HTTP answer.
type httpStatuser interface {
	HTTPStatus() int
}
