package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kashima-app/kashima/core/infra/logging"
)

const presenceSubjectPrefix = "kashima.presence."

var (
	errNilBus      = errors.New("nats bus not initialized")
	errEmptyUser   = errors.New("empty username")
	errEmptyStatus = errors.New("empty status")
)

// PresenceEvent is published whenever a user's presence changes.
type PresenceEvent struct {
	Username string `json:"username"`
	Status   string `json:"status"`
	Song     string `json:"song,omitempty"`
	At       int64  `json:"at"`
}

// Publisher fans presence changes out to interested services.
type Publisher interface {
	PublishPresence(username, status, song string) error
	Close()
}

// NoopPublisher drops all events; used when NATS is not configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishPresence(string, string, string) error { return nil }
func (NoopPublisher) Close()                                       {}

// NatsBus is a thin wrapper over a NATS connection that speaks JSON presence events.
type NatsBus struct {
	nc *nats.Conn
}

// NewNatsBus dials NATS at the provided URL.
func NewNatsBus(url string) (*NatsBus, error) {
	opts := []nats.Option{
		nats.Name("kashima-bus"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logging.Warn("bus", "disconnected from NATS", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info("bus", "reconnected to NATS", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logging.Info("bus", "connection closed")
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &NatsBus{nc: nc}, nil
}

// PresenceSubject constructs the per-user presence subject.
func PresenceSubject(username string) string {
	return presenceSubjectPrefix + strings.ToLower(strings.TrimSpace(username))
}

// PublishPresence sends a JSON-encoded presence event for the given user.
func (b *NatsBus) PublishPresence(username, status, song string) error {
	if b == nil || b.nc == nil {
		return errNilBus
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return errEmptyUser
	}
	if strings.TrimSpace(status) == "" {
		return errEmptyStatus
	}
	event := PresenceEvent{
		Username: username,
		Status:   status,
		Song:     song,
		At:       time.Now().UnixMilli(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode presence event: %w", err)
	}
	return b.nc.Publish(PresenceSubject(username), data)
}

// Close shuts down the underlying NATS connection.
func (b *NatsBus) Close() {
	if b.nc != nil {
		b.nc.Close()
	}
}
