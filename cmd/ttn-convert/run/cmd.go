package run

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/ttn-convert/cmd/ttn-convert/subcmd"
	"github.com/temoto/ttn-convert/helpers"
	"github.com/temoto/ttn-convert/internal/convert"
	"github.com/temoto/ttn-convert/internal/counter"
	"github.com/temoto/ttn-convert/internal/metrics"
	"github.com/temoto/ttn-convert/internal/mqttc"
	"github.com/temoto/ttn-convert/internal/persist"
	"github.com/temoto/ttn-convert/internal/stream"
	"github.com/temoto/ttn-convert/log2"
)

var Mod = subcmd.Mod{
	Name:       "run",
	Usage:      "subscribe to TTN uplinks and append converted messages to stream",
	NeedConfig: true,
	Main:       Main,
}

type appender interface {
	Append(payload []byte) error
}

// uplinkHandler emits config (if due) before data, both into the same stream.
func uplinkHandler(log *log2.Log, conv *convert.Converter, out appender) mqttc.Handler {
	return func(topic string, payload []byte) {
		log.Debugf("uplink topic=%s payload=%s", topic, payload)
		for _, msg := range conv.Handle(payload) {
			if err := out.Append(msg.Bytes); err != nil {
				log.Errorf("CRITICAL stream append %s err=%v", msg.Kind, errors.ErrorStack(err))
			}
		}
	}
}

func Main(ctx context.Context, env *subcmd.Env) error {
	log, config := env.Log, env.Config
	a := alive.NewAlive()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-ctx.Done():
			a.Stop()
		case <-a.StopChan():
			cancel()
		}
	}()

	tracker := counter.NewTracker(config.Counter.Shards)
	var snapshot persist.Persist
	if err := snapshot.Init("counter", tracker, config.Counter.PersistRoot, config.Counter.Persist, log); err != nil {
		return errors.Annotate(err, "counter persist")
	}
	if err := snapshot.Load(); err != nil {
		// stale or damaged snapshot only means extra config messages
		log.Errorf("counter persist load err=%v", err)
	}
	log.Infof("counter nodes=%d", tracker.Len())

	m := metrics.New(func() float64 { return float64(tracker.Len()) })
	conv := convert.New(log, tracker, m)

	var pub stream.Publisher
	var pubClient *mqttc.Client
	if config.StreamPublish() {
		var err error
		pubClient, err = mqttc.New(log, mqttc.Options{
			Broker:   config.Stream.Publish.Broker,
			ClientID: config.Uplink.ClientID + "-stream",
			Username: config.Stream.Publish.Username,
			Password: config.Stream.Publish.Password,
			QoS:      byte(config.Stream.Publish.QoS),
		})
		if err != nil {
			return errors.Annotate(err, "stream publish")
		}
		go connectLoop(ctx, log, pubClient)
		pub = pubClient
	}
	st, err := stream.Open(log, stream.Config{
		Name:        config.Stream.Name,
		PersistPath: config.Stream.PersistPath,
		TopicPrefix: config.Stream.Publish.TopicPrefix,
	}, pub, m)
	if err != nil {
		return errors.Annotate(err, "stream open")
	}

	uplink, err := mqttc.New(log, mqttc.Options{
		Broker:       config.Uplink.Broker,
		ClientID:     config.Uplink.ClientID,
		Username:     config.Uplink.AppID,
		Password:     config.Uplink.AccessKey,
		CAFile:       config.Uplink.CAFile,
		KeepaliveSec: config.Uplink.KeepaliveSec,
	})
	if err != nil {
		_ = st.Close()
		return errors.Annotate(err, "uplink")
	}
	if err = uplink.Subscribe(config.Uplink.Topic, uplinkHandler(log, conv, st)); err != nil {
		_ = st.Close()
		return errors.Annotate(err, "uplink subscribe")
	}
	go connectLoop(ctx, log, uplink)

	httpErr := make(chan error, 1)
	go func() { httpErr <- metrics.Serve(ctx, log, config.HTTP.Listen, metrics.NewRouter(m, uplink.Health)) }()

	if snapshot.Enabled() && a.Add(1) {
		go storeLoop(a, log, &snapshot, helpers.IntSecondDefault(config.Counter.PersistIntervalSec, time.Minute))
	}

	subcmd.SdNotify(log, daemon.SdNotifyReady)
	log.Infof("running uplink=%s topic=%s stream=%s", config.Uplink.Broker, config.Uplink.Topic, st.Name())

	<-a.StopChan()
	log.Infof("stopping")
	errs := make([]error, 0, 4)
	uplink.Close()
	if err := st.Close(); err != nil {
		errs = append(errs, err)
	}
	if pubClient != nil {
		pubClient.Close()
	}
	a.Wait()
	if err := snapshot.Store(); err != nil {
		errs = append(errs, errors.Annotate(err, "counter persist store"))
	}
	if err := <-httpErr; err != nil && errors.Cause(err) != context.Canceled {
		errs = append(errs, err)
	}
	return helpers.FoldErrors(errs)
}

// connectLoop retries first connection, paho handles reconnects after that.
func connectLoop(ctx context.Context, log *log2.Log, c *mqttc.Client) {
	backoff := helpers.Backoff{Min: time.Second, Max: time.Minute, K: 2}
	for {
		err := c.Connect(ctx)
		if err == nil {
			return
		}
		delay := backoff.DelayAfter(false)
		log.Errorf("%v retry in %s", err, delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

func storeLoop(a *alive.Alive, log *log2.Log, p *persist.Persist, interval time.Duration) {
	defer a.Done()
	tmr := time.NewTicker(interval)
	defer tmr.Stop()
	stopCh := a.StopChan()
	for {
		select {
		case <-tmr.C:
			if err := p.Store(); err != nil {
				log.Errorf("counter persist store err=%v", err)
			}
		case <-stopCh:
			return
		}
	}
}
