// Package mqttc is MQTT client shared by uplink subscription and stream delivery.
// Subscriptions are restored on every (re)connect.
package mqttc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"io/ioutil"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
	"github.com/temoto/ttn-convert/helpers"
	"github.com/temoto/ttn-convert/log2"
)

const (
	DefaultKeepalive      = 60 * time.Second
	DefaultConnectTimeout = 30 * time.Second
)

var ErrNotConnected = errors.New("mqtt not connected")

type Handler func(topic string, payload []byte)

type Options struct {
	Broker       string
	ClientID     string
	Username     string
	Password     string
	CAFile       string
	QoS          byte
	KeepaliveSec int
	ConnectSec   int
}

// InstallLogger routes paho library diagnostics to log. Process-wide.
func InstallLogger(log *log2.Log) {
	mqtt.ERROR = log
	mqtt.CRITICAL = log
	mqtt.WARN = log
}

type Client struct {
	log     *log2.Log
	opt     Options
	m       mqtt.Client
	mu      sync.Mutex
	subs    map[string]Handler
	timeout time.Duration
}

// New connects in background; connection failures are retried by paho.
func New(log *log2.Log, opt Options) (*Client, error) {
	if opt.Broker == "" {
		return nil, errors.NotValidf("mqtt broker empty")
	}
	self := &Client{
		log:     log,
		opt:     opt,
		subs:    make(map[string]Handler),
		timeout: helpers.IntSecondDefault(opt.ConnectSec, DefaultConnectTimeout),
	}
	mopt := mqtt.NewClientOptions().
		AddBroker(opt.Broker).
		SetClientID(opt.ClientID).
		SetUsername(opt.Username).
		SetPassword(opt.Password).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetKeepAlive(helpers.IntSecondDefault(opt.KeepaliveSec, DefaultKeepalive)).
		SetConnectTimeout(self.timeout).
		SetOnConnectHandler(self.onConnect).
		SetConnectionLostHandler(self.onConnectionLost)
	if opt.CAFile != "" {
		tlsconf, err := tlsConfig(opt.CAFile)
		if err != nil {
			return nil, errors.Annotate(err, "mqtt tls")
		}
		mopt.SetTLSConfig(tlsconf)
	}
	self.m = mqtt.NewClient(mopt)
	return self, nil
}

// Connect blocks until first connection or ctx done.
func (self *Client) Connect(ctx context.Context) error {
	return errors.Annotatef(self.wait(ctx, self.m.Connect()), "mqtt connect broker=%s", self.opt.Broker)
}

// Subscribe registers h and subscribes now if connected, otherwise on next connect.
func (self *Client) Subscribe(topic string, h Handler) error {
	helpers.WithLock(&self.mu, func() { self.subs[topic] = h })
	if !self.m.IsConnected() {
		return nil
	}
	return self.subscribe(self.m, topic, h)
}

func (self *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	if !self.m.IsConnected() {
		return ErrNotConnected
	}
	err := self.wait(ctx, self.m.Publish(topic, self.opt.QoS, false, payload))
	return errors.Annotatef(err, "mqtt publish topic=%s", topic)
}

// Health is nil while connected.
func (self *Client) Health() error {
	if self == nil || !self.m.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

func (self *Client) Close() {
	self.log.Infof("mqtt disconnect broker=%s", self.opt.Broker)
	self.m.Disconnect(uint(self.timeout / time.Millisecond))
}

func (self *Client) onConnect(c mqtt.Client) {
	self.log.Infof("mqtt connect broker=%s", self.opt.Broker)
	var subs map[string]Handler
	helpers.WithLock(&self.mu, func() {
		subs = make(map[string]Handler, len(self.subs))
		for t, h := range self.subs {
			subs[t] = h
		}
	})
	for t, h := range subs {
		if err := self.subscribe(c, t, h); err != nil {
			self.log.Error(err)
		}
	}
}

func (self *Client) onConnectionLost(c mqtt.Client, err error) {
	self.log.Errorf("mqtt connection lost broker=%s err=%v", self.opt.Broker, err)
}

func (self *Client) subscribe(c mqtt.Client, topic string, h Handler) error {
	cb := func(_ mqtt.Client, msg mqtt.Message) { h(msg.Topic(), msg.Payload()) }
	t := c.Subscribe(topic, self.opt.QoS, cb)
	if !t.WaitTimeout(self.timeout) {
		return errors.Timeoutf("mqtt subscribe topic=%s", topic)
	}
	if err := t.Error(); err != nil {
		return errors.Annotatef(err, "mqtt subscribe topic=%s", topic)
	}
	self.log.Debugf("mqtt subscribe topic=%s", topic)
	return nil
}

func (self *Client) wait(ctx context.Context, t mqtt.Token) error {
	done := make(chan struct{})
	go func() {
		t.Wait()
		close(done)
	}()
	select {
	case <-done:
		return t.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func tlsConfig(caFile string) (*tls.Config, error) {
	pem, err := ioutil.ReadFile(caFile)
	if err != nil {
		return nil, errors.Annotatef(err, "ca_file=%s", caFile)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.NotValidf("ca_file=%s no certificates", caFile)
	}
	return &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}
