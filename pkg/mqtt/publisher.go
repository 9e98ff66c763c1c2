package mqtt

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/eclipse/paho.golang/paho"
	"go.uber.org/zap"

	"github.com/aquaponics/pondwatch/pkg/kafka/messages"
	"github.com/aquaponics/pondwatch/pkg/sensor"
)

const contentTypeJSON = "application/json"

// Client is the subset of *paho.Client the Publisher needs.
type Client interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
	Disconnect(d *paho.Disconnect) error
}

// Dialer opens a connected Client. onLost is called when the connection
// fails after the dial returned.
type Dialer func(ctx context.Context, cfg Config, onLost func(error)) (Client, error)

// Publisher sends readings to <prefix>/<pond>/readings. It connects lazily
// and reconnects on the next Publish after the connection is lost. Safe for
// concurrent use.
type Publisher struct {
	cfg  Config
	log  *zap.SugaredLogger
	dial Dialer

	mu     sync.Mutex
	client Client
	closed bool
}

// NewPublisher validates cfg and returns a Publisher dialing the broker over TCP.
func NewPublisher(cfg Config, log *zap.SugaredLogger) (*Publisher, error) {
	return NewPublisherWithDialer(cfg, log, DialTCP)
}

// NewPublisherWithDialer is NewPublisher with a custom Dialer.
func NewPublisherWithDialer(cfg Config, log *zap.SugaredLogger, dial Dialer) (*Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Publisher{cfg: cfg, log: log, dial: dial}, nil
}

// DialTCP connects a paho client to cfg.Broker.
func DialTCP(ctx context.Context, cfg Config, onLost func(error)) (Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", cfg.Broker)
	if err != nil {
		return nil, fmt.Errorf("failed to dial mqtt broker %s: %w", cfg.Broker, err)
	}

	c := paho.NewClient(paho.ClientConfig{
		ClientID:      cfg.ClientID,
		Conn:          conn,
		OnClientError: onLost,
		OnServerDisconnect: func(d *paho.Disconnect) {
			onLost(fmt.Errorf("server disconnected, reason code %d", d.ReasonCode))
		},
	})

	connack, err := c.Connect(dialCtx, &paho.Connect{
		ClientID:     cfg.ClientID,
		CleanStart:   true,
		KeepAlive:    uint16(cfg.KeepAlive.Seconds()),
		Username:     cfg.Username,
		UsernameFlag: cfg.Username != "",
		Password:     []byte(cfg.Password),
		PasswordFlag: cfg.Password != "",
	})
	if err != nil {
		conn.Close() //nolint:errcheck // already failing
		if connack != nil {
			return nil, fmt.Errorf("mqtt connect refused, reason code %d: %w", connack.ReasonCode, err)
		}
		return nil, fmt.Errorf("failed to connect to mqtt broker: %w", err)
	}
	return c, nil
}

func (p *Publisher) Name() string { return "mqtt" }

// Connect establishes the connection eagerly.
func (p *Publisher) Connect(ctx context.Context) error {
	_, err := p.connection(ctx)
	return err
}

func (p *Publisher) connection(ctx context.Context) (Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, errors.New("mqtt publisher closed")
	}
	if p.client != nil {
		return p.client, nil
	}

	var c Client
	c, err := p.dial(ctx, p.cfg, func(err error) { p.lost(c, err) })
	if err != nil {
		return nil, err
	}
	p.client = c
	p.log.Infow("connected to mqtt broker", "broker", p.cfg.Broker, "clientID", p.cfg.ClientID)
	return c, nil
}

// lost drops c so the next Publish reconnects.
func (p *Publisher) lost(c Client, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil && p.client == c {
		p.client = nil
		p.log.Warnw("mqtt connection lost", "broker", p.cfg.Broker, "error", err)
	}
}

// Publish sends the reading as a JSON ReadingMessage.
func (p *Publisher) Publish(ctx context.Context, pond string, r sensor.Reading) error {
	m := messages.ReadingMessage{Pond: pond, Reading: r}
	if err := m.Validate(); err != nil {
		return err
	}
	payload, err := m.Marshal()
	if err != nil {
		return err
	}

	c, err := p.connection(ctx)
	if err != nil {
		return err
	}

	pub := &paho.Publish{
		QoS:     p.cfg.QoS,
		Topic:   Topic(p.cfg.TopicPrefix, pond),
		Payload: payload,
		Properties: &paho.PublishProperties{
			ContentType: contentTypeJSON,
			User: paho.UserProperties{
				{Key: "pond", Value: pond},
				{Key: "entry_id", Value: strconv.FormatInt(r.EntryID, 10)},
			},
		},
	}

	res, err := c.Publish(ctx, pub)
	// QoS 0 publishes may return (nil, nil)
	if pub.QoS == 0 && res == nil && err == nil {
		return nil
	}
	if err != nil {
		p.lost(c, err)
		return fmt.Errorf("failed to publish reading %d of pond %s: %w", r.EntryID, pond, err)
	}
	if res != nil && res.ReasonCode >= 0x80 {
		return fmt.Errorf("mqtt publish of pond %s rejected, reason code %#x", pond, res.ReasonCode)
	}
	return nil
}

// Close disconnects from the broker. Publishing after Close fails.
func (p *Publisher) Close() error {
	p.mu.Lock()
	p.closed = true
	c := p.client
	p.client = nil
	p.mu.Unlock()

	if c == nil {
		return nil
	}
	if err := c.Disconnect(&paho.Disconnect{ReasonCode: 0}); err != nil {
		return fmt.Errorf("failed to disconnect from mqtt broker: %w", err)
	}
	return nil
}
