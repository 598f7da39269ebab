package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"synbridge/pkg/connection"
)

// ErrConnectionLost 与 broker 的连接断开后由 ReadFrame 返回
var ErrConnectionLost = errors.New("mqtt connection lost")

// Config MQTT broker 及主题配置
type Config struct {
	Broker      string
	Port        int
	Username    string
	Password    string
	ClientID    string
	TopicPrefix string
	QoS         byte
}

// Topics 返回上行(host→companion)和下行(companion→host)主题
func Topics(prefix, clientID string) (up, down string) {
	return fmt.Sprintf("%s/%s/up", prefix, clientID), fmt.Sprintf("%s/%s/down", prefix, clientID)
}

// Dialer 通过 broker 连接 companion
type Dialer struct {
	cfg       Config
	log       *zap.Logger
	newClient func(*MQTT.ClientOptions) MQTT.Client
}

// NewDialer 创建新的 Dialer
func NewDialer(cfg Config, logger *zap.Logger) *Dialer {
	if cfg.Broker == "" {
		cfg.Broker = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 1883
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "synbridge"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("host_%d", time.Now().Unix())
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dialer{cfg: cfg, log: logger, newClient: MQTT.NewClient}
}

func (d *Dialer) clientOptions(onLost func(error)) *MQTT.ClientOptions {
	opts := MQTT.NewClientOptions().AddBroker(fmt.Sprintf("tcp://%s:%d", d.cfg.Broker, d.cfg.Port))
	opts.SetClientID(d.cfg.ClientID)
	if d.cfg.Username != "" {
		opts.SetUsername(d.cfg.Username)
		opts.SetPassword(d.cfg.Password)
	}
	// reconnects are driven by the connection manager
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetCleanSession(true)
	opts.SetConnectionLostHandler(func(_ MQTT.Client, err error) { onLost(err) })
	opts.SetDefaultPublishHandler(func(_ MQTT.Client, msg MQTT.Message) {
		d.log.Debug("unexpected message", zap.String("topic", msg.Topic()))
	})
	return opts
}

// Dial 连接到MQTT服务器并订阅下行主题
func (d *Dialer) Dial(ctx context.Context) (connection.Conn, error) {
	up, down := Topics(d.cfg.TopicPrefix, d.cfg.ClientID)
	c := &Conn{
		up:     up,
		down:   down,
		qos:    d.cfg.QoS,
		frames: make(chan []byte, 256),
		lost:   make(chan struct{}),
		closed: make(chan struct{}),
		log:    d.log,
	}
	c.client = d.newClient(d.clientOptions(c.markLost))

	if err := wait(ctx, c.client.Connect()); err != nil {
		// stops the client's connect goroutine when ctx gave up first
		c.client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connect %s:%d: %w", d.cfg.Broker, d.cfg.Port, err)
	}

	token := c.client.Subscribe(down, c.qos, func(_ MQTT.Client, msg MQTT.Message) {
		c.deliver(msg.Payload())
	})
	if err := wait(ctx, token); err != nil {
		c.client.Disconnect(250)
		return nil, fmt.Errorf("subscribe %s: %w", down, err)
	}

	d.log.Info("connected to broker", zap.String("up", up), zap.String("down", down))
	return c, nil
}

// Conn 一次 broker 会话
// ReadFrame 读取下行主题的消息，WriteFrame 发布到上行主题
type Conn struct {
	client MQTT.Client
	up     string
	down   string
	qos    byte
	log    *zap.Logger

	frames chan []byte

	lostOnce sync.Once
	lostErr  error
	lost     chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

func (c *Conn) deliver(payload []byte) {
	frame := append([]byte(nil), payload...)
	select {
	case c.frames <- frame:
	case <-c.closed:
	default:
		c.log.Warn("dropping frame, reader is behind", zap.String("topic", c.down))
	}
}

func (c *Conn) markLost(err error) {
	c.lostOnce.Do(func() {
		c.lostErr = fmt.Errorf("%w: %v", ErrConnectionLost, err)
		close(c.lost)
	})
}

// ReadFrame 读取下一条下行消息
func (c *Conn) ReadFrame(ctx context.Context) ([]byte, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case <-c.lost:
		return nil, c.lostErr
	case <-c.closed:
		return nil, connection.ErrNotConnected
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WriteFrame 发布消息到上行主题
func (c *Conn) WriteFrame(ctx context.Context, frame []byte) error {
	if err := wait(ctx, c.client.Publish(c.up, c.qos, false, frame)); err != nil {
		return fmt.Errorf("publish %s: %w", c.up, err)
	}
	return nil
}

// Close 取消订阅并断开连接
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.client.IsConnected() {
			c.client.Unsubscribe(c.down).WaitTimeout(time.Second)
			c.client.Disconnect(250)
		}
	})
	return nil
}

func wait(ctx context.Context, token MQTT.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
