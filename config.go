package mqttclient

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config is the file form of the client settings. Zero values keep the
// defaults of the matching options.
type Config struct {
	Server string `yaml:"server"`

	Version    int    `yaml:"version"` // 3, 4 or 5
	ClientID   string `yaml:"client_id"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	KeepAlive  *int   `yaml:"keep_alive"` // seconds
	CleanStart *bool  `yaml:"clean_start"`

	SessionExpiry     uint32            `yaml:"session_expiry"`
	ReceiveMaximum    int               `yaml:"receive_maximum"`
	MaxPacketSize     uint32            `yaml:"max_packet_size"`
	TopicAliasMaximum int               `yaml:"topic_alias_maximum"`
	UserProperties    map[string]string `yaml:"user_properties"`

	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	AckTimeout        time.Duration `yaml:"ack_timeout"`
	DialTimeout       time.Duration `yaml:"dial_timeout"`
	DeliveryQueueSize int           `yaml:"delivery_queue_size"`
	AutoAck           *bool         `yaml:"auto_ack"`

	Will      *WillConfig      `yaml:"will"`
	TLS       *TLSConfig       `yaml:"tls"`
	Proxy     *ProxyConfig     `yaml:"proxy"`
	ProxyEnv  bool             `yaml:"proxy_from_environment"`
	RateLimit *RateLimitConfig `yaml:"rate_limit"`
	Log       LogConfig        `yaml:"log"`
}

// WillConfig describes the will message.
type WillConfig struct {
	Topic   string `yaml:"topic"`
	Payload string `yaml:"payload"`
	QoS     int    `yaml:"qos"`
	Retain  bool   `yaml:"retain"`
	Delay   uint32 `yaml:"delay"`
}

// TLSConfig names the certificate files for TLS connections.
type TLSConfig struct {
	CAFile             string `yaml:"ca_file"`
	CertFile           string `yaml:"cert_file"`
	KeyFile            string `yaml:"key_file"`
	ServerName         string `yaml:"server_name"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// RateLimitConfig limits outbound publishes per second.
type RateLimitConfig struct {
	Rate  float64 `yaml:"rate"`
	Burst int     `yaml:"burst"`
}

// LogConfig selects the logger.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error, none
	Format string `yaml:"format"` // text, json or logrus
}

// LoadConfig reads a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses a YAML configuration document and validates it.
func ParseConfig(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges that the options cannot express.
func (c *Config) Validate() error {
	if c.Version != 0 && !ProtocolVersion(c.Version).Valid() {
		return fmt.Errorf("%w: version %d", ErrInvalidOption, c.Version)
	}
	if c.KeepAlive != nil && (*c.KeepAlive < 0 || *c.KeepAlive > maxUint16) {
		return fmt.Errorf("%w: keep_alive %d outside 0..65535", ErrInvalidOption, *c.KeepAlive)
	}
	if c.ReceiveMaximum < 0 || c.ReceiveMaximum > maxUint16 {
		return fmt.Errorf("%w: receive_maximum %d", ErrInvalidOption, c.ReceiveMaximum)
	}
	if c.TopicAliasMaximum < 0 || c.TopicAliasMaximum > maxUint16 {
		return fmt.Errorf("%w: topic_alias_maximum %d", ErrInvalidOption, c.TopicAliasMaximum)
	}
	if c.Will != nil && (c.Will.QoS < 0 || c.Will.QoS > 2) {
		return fmt.Errorf("%w: will qos %d", ErrInvalidOption, c.Will.QoS)
	}
	if c.TLS != nil && (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		return fmt.Errorf("%w: tls cert_file and key_file must be set together", ErrInvalidOption)
	}
	if _, err := ParseLogLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "", "text", "json", "logrus":
	default:
		return fmt.Errorf("%w: log format %q", ErrInvalidOption, c.Log.Format)
	}
	return nil
}

// Options converts the configuration into client options. Certificate files
// are read here.
func (c *Config) Options() ([]Option, error) {
	var opts []Option

	if c.Version != 0 {
		opts = append(opts, WithProtocolVersion(ProtocolVersion(c.Version)))
	}
	if c.ClientID != "" {
		opts = append(opts, WithClientID(c.ClientID))
	}
	if c.Username != "" || c.Password != "" {
		opts = append(opts, WithCredentials(c.Username, c.Password))
	}
	if c.KeepAlive != nil {
		opts = append(opts, WithKeepAlive(uint16(*c.KeepAlive)))
	}
	if c.CleanStart != nil {
		opts = append(opts, WithCleanStart(*c.CleanStart))
	}
	if c.SessionExpiry > 0 {
		opts = append(opts, WithSessionExpiryInterval(c.SessionExpiry))
	}
	if c.ReceiveMaximum > 0 {
		opts = append(opts, WithReceiveMaximum(uint16(c.ReceiveMaximum)))
	}
	if c.MaxPacketSize > 0 {
		opts = append(opts, WithMaxPacketSize(c.MaxPacketSize))
	}
	if c.TopicAliasMaximum > 0 {
		opts = append(opts, WithTopicAliasMaximum(uint16(c.TopicAliasMaximum)))
	}
	for k, v := range c.UserProperties {
		opts = append(opts, WithUserProperty(k, v))
	}

	if c.ConnectTimeout > 0 {
		opts = append(opts, WithConnectTimeout(c.ConnectTimeout))
	}
	if c.AckTimeout > 0 {
		opts = append(opts, WithAckTimeout(c.AckTimeout))
	}
	if c.DialTimeout > 0 {
		opts = append(opts, WithDialTimeout(c.DialTimeout))
	}
	if c.DeliveryQueueSize > 0 {
		opts = append(opts, WithDeliveryQueueSize(c.DeliveryQueueSize))
	}
	if c.AutoAck != nil {
		opts = append(opts, WithAutoAck(*c.AutoAck))
	}

	if c.Will != nil {
		opts = append(opts, WithWill(&WillMessage{
			Topic:         c.Will.Topic,
			Payload:       []byte(c.Will.Payload),
			QoS:           byte(c.Will.QoS),
			Retain:        c.Will.Retain,
			DelayInterval: c.Will.Delay,
		}))
	}

	if c.TLS != nil {
		tlsConfig, err := c.TLS.load()
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithTLS(tlsConfig))
	}
	if c.Proxy != nil {
		opts = append(opts, WithProxy(c.Proxy))
	}
	if c.ProxyEnv {
		opts = append(opts, WithProxyFromEnvironment())
	}
	if c.RateLimit != nil && c.RateLimit.Rate > 0 {
		opts = append(opts, WithPublishRateLimit(c.RateLimit.Rate, c.RateLimit.Burst))
	}

	if c.Log.Level != "" {
		logger, err := c.Log.logger()
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithLogger(logger))
	}

	return opts, nil
}

// NewClientFromConfig creates a client for cfg.Server with the options from
// cfg followed by opts.
func NewClientFromConfig(cfg *Config, opts ...Option) (*Client, error) {
	if cfg.Server == "" {
		return nil, fmt.Errorf("%w: server URL required", ErrInvalidOption)
	}
	base, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	return NewFromURL(cfg.Server, append(base, opts...)...)
}

func (t *TLSConfig) load() (*tls.Config, error) {
	config := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         t.ServerName,
		InsecureSkipVerify: t.InsecureSkipVerify, //nolint:gosec // opt-in for test brokers
	}

	if t.CAFile != "" {
		pem, err := os.ReadFile(t.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("no certificates found in CA file")
		}
		config.RootCAs = pool
	}

	if t.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		config.Certificates = []tls.Certificate{cert}
	}

	return config, nil
}

func (l LogConfig) logger() (Logger, error) {
	level, err := ParseLogLevel(l.Level)
	if err != nil {
		return nil, err
	}

	handlerOpts := &slog.HandlerOptions{Level: slog.LevelDebug}
	switch l.Format {
	case "json":
		return NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stderr, handlerOpts)), level), nil
	case "logrus":
		return NewLogrusLogger(logrus.New(), level), nil
	default:
		return NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, handlerOpts)), level), nil
	}
}
