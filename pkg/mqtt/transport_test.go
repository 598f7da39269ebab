package mqtt

import (
	"context"
	"errors"
	"testing"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func (t *fakeToken) Wait() bool                     { <-t.done; return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

// fakeClient overrides the calls Dial makes; anything else panics.
type fakeClient struct {
	MQTT.Client
	connect     *fakeToken
	disconnects []uint
}

func (c *fakeClient) Connect() MQTT.Token { return c.connect }
func (c *fakeClient) Disconnect(q uint)   { c.disconnects = append(c.disconnects, q) }
func (c *fakeClient) IsConnected() bool   { return false }

func TestTopics(t *testing.T) {
	up, down := Topics("synbridge", "editor-1")
	assert.Equal(t, "synbridge/editor-1/up", up)
	assert.Equal(t, "synbridge/editor-1/down", down)
}

func TestDialerDefaults(t *testing.T) {
	d := NewDialer(Config{Username: "u", Password: "p", ClientID: "host-a"}, nil)

	opts := d.clientOptions(func(error) {})
	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "tcp://localhost:1883", opts.Servers[0].String())
	assert.Equal(t, "host-a", opts.ClientID)
	assert.Equal(t, "u", opts.Username)
	assert.False(t, opts.AutoReconnect)
	assert.Equal(t, "synbridge", d.cfg.TopicPrefix)
}

func TestConnDeliverAndLoss(t *testing.T) {
	c := &Conn{
		down:   "p/c/down",
		frames: make(chan []byte, 1),
		lost:   make(chan struct{}),
		closed: make(chan struct{}),
		log:    NewDialer(Config{}, nil).log,
	}

	payload := []byte("frame")
	c.deliver(payload)
	payload[0] = 'X'
	c.deliver([]byte("dropped"))

	got, err := c.ReadFrame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "frame", string(got))

	c.markLost(errors.New("broker gone"))
	c.markLost(errors.New("again"))
	_, err = c.ReadFrame(context.Background())
	assert.ErrorIs(t, err, ErrConnectionLost)
	assert.Contains(t, err.Error(), "broker gone")
}

func TestDialDisconnectsOnConnectFailure(t *testing.T) {
	refused := &fakeToken{done: make(chan struct{}), err: errors.New("connection refused")}
	close(refused.done)

	cases := []struct {
		name    string
		token   *fakeToken
		timeout time.Duration
		want    error
	}{
		{"broker error", refused, time.Second, refused.err},
		{"context deadline", &fakeToken{done: make(chan struct{})}, 20 * time.Millisecond, context.DeadlineExceeded},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := &fakeClient{connect: tc.token}
			d := NewDialer(Config{ClientID: "host-a"}, nil)
			d.newClient = func(*MQTT.ClientOptions) MQTT.Client { return client }

			ctx, cancel := context.WithTimeout(context.Background(), tc.timeout)
			defer cancel()
			conn, err := d.Dial(ctx)
			assert.Nil(t, conn)
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, []uint{0}, client.disconnects)
		})
	}
}
