package state

import (
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
	"github.com/temoto/ttn-convert/helpers"
	"github.com/temoto/ttn-convert/internal/counter"
	"github.com/temoto/ttn-convert/log2"
)

const (
	DefaultUplinkBroker      = "ssl://eu.thethings.network:8883"
	DefaultUplinkTopic       = "+/devices/+/up"
	DefaultClientID          = "ttn-convert"
	DefaultStreamPersistPath = "/var/lib/ttn-convert/stream"
	DefaultPersistInterval   = 60
)

type Config struct {
	// includeSeen contains absolute paths to prevent include loops
	includeSeen map[string]struct{}
	// only used for Unmarshal, do not access
	XXX_Include []ConfigSource `hcl:"include"`

	LogDebug bool `hcl:"log_debug"`

	Uplink struct {
		Broker        string `hcl:"broker"`
		AppID         string `hcl:"app_id"`
		AccessKey     string `hcl:"access_key"`
		AccessKeyFile string `hcl:"access_key_file"`
		CAFile        string `hcl:"ca_file"`
		Topic         string `hcl:"topic"`
		ClientID      string `hcl:"client_id"`
		KeepaliveSec  int    `hcl:"keepalive_sec"`
	} `hcl:"uplink"`

	Stream struct {
		Name        string `hcl:"name"`
		PersistPath string `hcl:"persist_path"`
		Publish     struct {
			Broker       string `hcl:"broker"`
			TopicPrefix  string `hcl:"topic_prefix"`
			Username     string `hcl:"username"`
			Password     string `hcl:"password"`
			PasswordFile string `hcl:"password_file"`
			QoS          int    `hcl:"qos"`
		} `hcl:"publish"`
	} `hcl:"stream"`

	Counter struct {
		Shards             int    `hcl:"shards"`
		Persist            bool   `hcl:"persist"`
		PersistRoot        string `hcl:"persist_root"`
		PersistIntervalSec int    `hcl:"persist_interval_sec"`
	} `hcl:"counter"`

	HTTP struct {
		Listen string `hcl:"listen"`
	} `hcl:"http"`
}

type ConfigSource struct {
	Name     string `hcl:"name,key"`
	Optional bool   `hcl:"optional"`
}

// Validate fills defaults and returns all problems at once.
func (c *Config) Validate() error {
	errs := make([]error, 0, 4)
	if c.Uplink.Broker == "" {
		c.Uplink.Broker = DefaultUplinkBroker
	}
	if c.Uplink.Topic == "" {
		c.Uplink.Topic = DefaultUplinkTopic
	}
	if c.Uplink.ClientID == "" {
		c.Uplink.ClientID = DefaultClientID
	}
	if c.Uplink.AccessKey == "" {
		errs = append(errs, errors.NotValidf("uplink access_key empty"))
	}
	if c.Uplink.KeepaliveSec < 0 {
		errs = append(errs, errors.NotValidf("uplink keepalive_sec=%d", c.Uplink.KeepaliveSec))
	}

	if c.Stream.Name == "" {
		errs = append(errs, errors.NotValidf("stream name empty"))
	}
	if c.Stream.PersistPath == "" {
		c.Stream.PersistPath = DefaultStreamPersistPath
	}
	switch c.Stream.Publish.QoS {
	case 0, 1:
	default:
		errs = append(errs, errors.NotValidf("stream publish qos=%d", c.Stream.Publish.QoS))
	}

	if c.Counter.Shards == 0 {
		c.Counter.Shards = counter.DefaultShards
	}
	if c.Counter.Shards < 0 {
		errs = append(errs, errors.NotValidf("counter shards=%d", c.Counter.Shards))
	}
	if c.Counter.Persist && c.Counter.PersistRoot == "" {
		errs = append(errs, errors.NotValidf("counter persist=true with empty persist_root"))
	}
	if c.Counter.PersistIntervalSec == 0 {
		c.Counter.PersistIntervalSec = DefaultPersistInterval
	}
	return helpers.FoldErrors(errs)
}

// StreamPublish reports whether entries are republished to a broker.
func (c *Config) StreamPublish() bool { return c.Stream.Publish.Broker != "" }

func (c *Config) read(log *log2.Log, fs FullReader, source ConfigSource, errs *[]error) {
	norm := fs.Normalize(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		log.Fatalf("config duplicate source=%s", source.Name)
	} else {
		log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	}
	c.includeSeen[source.Name] = struct{}{}
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.ReadAll(norm)
	if bs == nil && err == nil {
		if !source.Optional {
			err = errors.NotFoundf("config required name=%s path=%s", source.Name, norm)
			*errs = append(*errs, err)
		}
		return
	}
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	err = hcl.Unmarshal(bs, c)
	if err != nil {
		err = errors.Annotatef(err, "config unmarshal source=%s", source.Name)
		*errs = append(*errs, err)
		return
	}

	var includes []ConfigSource
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		includeNorm := fs.Normalize(include.Name)
		if _, ok := c.includeSeen[includeNorm]; ok {
			err = errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name)
			*errs = append(*errs, err)
			continue
		}
		c.read(log, fs, include, errs)
	}
}

// readSecret replaces empty *value with trimmed content of file, if set.
func readSecret(fs FullReader, value *string, file string, what string) error {
	if file == "" || *value != "" {
		return nil
	}
	norm := fs.Normalize(file)
	b, err := fs.ReadAll(norm)
	if err != nil {
		return errors.Annotatef(err, "config %s file=%s", what, file)
	}
	if b == nil {
		return errors.NotFoundf("config %s file=%s path=%s", what, file, norm)
	}
	*value = strings.TrimSpace(string(b))
	return nil
}

func ReadConfig(log *log2.Log, fs FullReader, names ...string) (*Config, error) {
	if len(names) == 0 {
		log.Fatal("code error [Must]ReadConfig() without names")
	}

	if osfs, ok := fs.(*OsFullReader); ok {
		dir, name := filepath.Split(names[0])
		osfs.SetBase(dir)
		names[0] = name
	}
	c := &Config{
		includeSeen: make(map[string]struct{}),
	}
	errs := make([]error, 0, 8)
	for _, name := range names {
		c.read(log, fs, ConfigSource{Name: name}, &errs)
	}
	if len(errs) != 0 {
		return c, helpers.FoldErrors(errs)
	}
	if err := readSecret(fs, &c.Uplink.AccessKey, c.Uplink.AccessKeyFile, "uplink access_key"); err != nil {
		errs = append(errs, err)
	}
	if err := readSecret(fs, &c.Stream.Publish.Password, c.Stream.Publish.PasswordFile, "stream publish password"); err != nil {
		errs = append(errs, err)
	}
	if err := c.Validate(); err != nil {
		errs = append(errs, err)
	}
	return c, helpers.FoldErrors(errs)
}

func MustReadConfig(log *log2.Log, fs FullReader, names ...string) *Config {
	c, err := ReadConfig(log, fs, names...)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	return c
}
