// Package stream is the durable outbox for converted messages.
//
// Contract:
// - Append blocks at most for disk write
// - entries are delivered to Publisher at least once, in append order while it succeeds
// - failed delivery puts entry back at queue tail and waits with backoff
// - Close stops delivery, undelivered entries stay on disk for next Open
package stream

import (
	"context"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/spq"
	"github.com/temoto/ttn-convert/helpers"
	"github.com/temoto/ttn-convert/internal/codec"
	"github.com/temoto/ttn-convert/internal/metrics"
	"github.com/temoto/ttn-convert/log2"
)

// Stream outcomes for metrics.
const (
	OutcomeAppended  = "appended"
	OutcomePublished = "published"
	OutcomeRetry     = "retry"
	OutcomeDropped   = "dropped"
)

const DefaultPublishTimeout = 30 * time.Second

type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

type Config struct {
	Name        string
	PersistPath string
	TopicPrefix string

	PublishTimeout time.Duration
	RetryMin       time.Duration
	RetryMax       time.Duration
}

func (self *Config) Topic() string { return self.TopicPrefix + self.Name }

type Entry struct {
	Payload   []byte `cbor:"payload"`
	Timestamp string `cbor:"timestamp"`
}

// plain Entry without Binary(Un)Marshaler, cbor would otherwise encode it as byte string.
type plainEntry Entry

func (self *Entry) MarshalBinary() ([]byte, error) { return codec.Marshal((*plainEntry)(self)) }
func (self *Entry) UnmarshalBinary(b []byte) error {
	return codec.Unmarshal(b, (*plainEntry)(self))
}

func (self *Entry) Time() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, self.Timestamp)
}

type Stream struct {
	config  Config
	log     *log2.Log
	metrics *metrics.Collector
	q       *spq.Queue
	pub     Publisher
	alive   *alive.Alive
	ctx     context.Context
	cancel  context.CancelFunc
	backoff helpers.Backoff
	now     func() time.Time
}

// Open starts delivery worker when pub is not nil.
// Without publisher entries only accumulate on disk.
func Open(log *log2.Log, config Config, pub Publisher, m *metrics.Collector) (*Stream, error) {
	if config.Name == "" {
		return nil, errors.NotValidf("stream name empty")
	}
	if config.PersistPath == "" {
		panic("code error must set stream.Config.PersistPath")
	}
	if config.PublishTimeout == 0 {
		config.PublishTimeout = DefaultPublishTimeout
	}
	if config.RetryMin == 0 {
		config.RetryMin = time.Second
	}
	if config.RetryMax == 0 {
		config.RetryMax = time.Minute
	}

	q, err := spq.Open(config.PersistPath)
	if err != nil {
		return nil, errors.Annotatef(err, "stream=%s queue", config.Name)
	}
	self := &Stream{
		config:  config,
		log:     log,
		metrics: m,
		q:       q,
		pub:     pub,
		alive:   alive.NewAlive(),
		backoff: helpers.Backoff{Min: config.RetryMin, Max: config.RetryMax, K: 2},
		now:     time.Now,
	}
	self.ctx, self.cancel = context.WithCancel(context.Background())
	if pub != nil && self.alive.Add(1) {
		go self.worker()
	}
	return self, nil
}

func (self *Stream) Name() string { return self.config.Name }

func (self *Stream) Append(payload []byte) error {
	e := &Entry{
		Payload:   payload,
		Timestamp: self.now().UTC().Format(time.RFC3339Nano),
	}
	if err := self.q.MarshalPush(e); err != nil {
		return errors.Annotatef(err, "stream=%s append", self.config.Name)
	}
	self.metrics.Stream(OutcomeAppended)
	return nil
}

// Close waits for in-flight delivery to finish or time out.
func (self *Stream) Close() error {
	self.alive.Stop()
	self.cancel()
	err := self.q.Close()
	self.alive.Wait()
	return errors.Annotatef(err, "stream=%s close", self.config.Name)
}

func (self *Stream) worker() {
	defer self.alive.Done()
	stopCh := self.alive.StopChan()
	for {
		box, err := self.q.Peek()
		switch err {
		case nil:
			b := box.Bytes()
			if self.deliver(b) {
				if err = self.q.Delete(box); err != nil && err != spq.ErrClosed {
					self.log.Errorf("stream=%s Delete b=%x err=%v", self.config.Name, b, err)
				}
				self.backoff.Reset()
				continue
			}
			if err = self.q.DeletePush(box); err != nil && err != spq.ErrClosed {
				self.log.Errorf("stream=%s DeletePush b=%x err=%v", self.config.Name, b, err)
			}

		case spq.ErrClosed:
			if self.alive.IsRunning() {
				self.log.Errorf("CRITICAL stream=%s spq closed unexpectedly", self.config.Name)
			}
			return

		default:
			self.log.Errorf("CRITICAL stream=%s spq err=%v", self.config.Name, err)
		}

		delay := self.backoff.DelayAfter(false)
		self.log.Debugf("stream=%s retry delay=%s", self.config.Name, delay)
		select {
		case <-time.After(delay):
		case <-stopCh:
			return
		}
	}
}

// deliver returns true when entry must be removed from queue.
func (self *Stream) deliver(b []byte) bool {
	var e Entry
	if err := e.UnmarshalBinary(b); err != nil {
		// retry will not help
		self.log.Errorf("stream=%s drop corrupt entry b=%x err=%v", self.config.Name, b, err)
		self.metrics.Stream(OutcomeDropped)
		return true
	}

	ctx, cancel := context.WithTimeout(self.ctx, self.config.PublishTimeout)
	defer cancel()
	if err := self.pub.Publish(ctx, self.config.Topic(), b); err != nil {
		self.log.Errorf("stream=%s publish timestamp=%s err=%v", self.config.Name, e.Timestamp, err)
		self.metrics.Stream(OutcomeRetry)
		return false
	}
	self.metrics.Stream(OutcomePublished)
	return true
}
