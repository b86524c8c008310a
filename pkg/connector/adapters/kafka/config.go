package kafka

import (
	"crypto/tls"
	"strconv"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/ajitpratap0/orbit/pkg/errors"
	"github.com/ajitpratap0/orbit/pkg/models"
	"github.com/ajitpratap0/orbit/pkg/secrets"
)

// Config contains Kafka-specific configuration
type Config struct {
	Brokers               []string `yaml:"brokers" json:"brokers"`
	ClientID              string   `yaml:"client_id" json:"client_id"`
	Version               string   `yaml:"version" json:"version"`
	SecurityProtocol      string   `yaml:"security_protocol" json:"security_protocol"`
	SASLMechanism         string   `yaml:"sasl_mechanism" json:"sasl_mechanism"`
	SASLUsername          string   `yaml:"-" json:"-"`
	SASLPassword          string   `yaml:"-" json:"-"`
	TLSInsecureSkipVerify bool     `yaml:"tls_insecure_skip_verify" json:"tls_insecure_skip_verify"`

	// Producer settings
	ProducerAcks        string `yaml:"producer_acks" json:"producer_acks"` // all, 1, 0
	ProducerRetries     int    `yaml:"producer_retries" json:"producer_retries"`
	ProducerCompression string `yaml:"producer_compression" json:"producer_compression"` // none, gzip, snappy, lz4, zstd
	EnableIdempotence   bool   `yaml:"enable_idempotence" json:"enable_idempotence"`

	// Topic settings
	TopicPrefix string `yaml:"topic_prefix" json:"topic_prefix"`
	// Topics overrides the prefixed topic of individual categories
	Topics map[string]string `yaml:"topics" json:"topics"`

	// FetchWait bounds how long a fetch waits for a message below the high water mark
	FetchWait time.Duration `yaml:"fetch_wait" json:"fetch_wait"`
}

// Topic returns the topic that carries a category
func (c Config) Topic(category string) string {
	if t, ok := c.Topics[category]; ok && t != "" {
		return t
	}
	return c.TopicPrefix + category
}

// ConfigFromDescriptor reads the Kafka options of a connector descriptor.
// SASL credentials come from the resolved username and password.
func ConfigFromDescriptor(d *models.ConnectorDescriptor, creds secrets.Credentials) (Config, error) {
	cfg := Config{
		ClientID:            d.Option("client_id", "orbit-"+d.ID),
		Version:             d.Option("version", ""),
		SecurityProtocol:    strings.ToUpper(d.Option("security_protocol", "")),
		SASLMechanism:       strings.ToUpper(d.Option("sasl_mechanism", "")),
		SASLUsername:        creds.Get("username"),
		SASLPassword:        creds.Get("password"),
		ProducerAcks:        d.Option("producer_acks", "all"),
		ProducerCompression: d.Option("producer_compression", "none"),
		TopicPrefix:         d.Option("topic_prefix", d.ID+"."),
		FetchWait:           5 * time.Second,
	}
	for key, topic := range d.Options {
		if category, ok := strings.CutPrefix(key, "topic."); ok && category != "" {
			if cfg.Topics == nil {
				cfg.Topics = make(map[string]string)
			}
			cfg.Topics[category] = topic
		}
	}
	for _, b := range strings.Split(d.Option("brokers", ""), ",") {
		if b = strings.TrimSpace(b); b != "" {
			cfg.Brokers = append(cfg.Brokers, b)
		}
	}
	if len(cfg.Brokers) == 0 {
		return cfg, errors.New(errors.ErrorTypeValidation, "kafka connector requires the brokers option").
			WithDetail("connector_id", d.ID)
	}

	var err error
	if v := d.Option("producer_retries", ""); v != "" {
		if cfg.ProducerRetries, err = strconv.Atoi(v); err != nil {
			return cfg, errors.Wrap(err, errors.ErrorTypeValidation, "invalid producer_retries")
		}
	}
	if v := d.Option("enable_idempotence", ""); v != "" {
		if cfg.EnableIdempotence, err = strconv.ParseBool(v); err != nil {
			return cfg, errors.Wrap(err, errors.ErrorTypeValidation, "invalid enable_idempotence")
		}
	}
	if v := d.Option("tls_insecure_skip_verify", ""); v != "" {
		if cfg.TLSInsecureSkipVerify, err = strconv.ParseBool(v); err != nil {
			return cfg, errors.Wrap(err, errors.ErrorTypeValidation, "invalid tls_insecure_skip_verify")
		}
	}
	if v := d.Option("fetch_wait", ""); v != "" {
		if cfg.FetchWait, err = time.ParseDuration(v); err != nil {
			return cfg, errors.Wrap(err, errors.ErrorTypeValidation, "invalid fetch_wait")
		}
	}
	return cfg, nil
}

// SaramaConfig builds the client configuration shared by consumers and producers
func (c Config) SaramaConfig() (*sarama.Config, error) {
	config := sarama.NewConfig()
	if c.ClientID != "" {
		config.ClientID = c.ClientID
	}
	if c.Version != "" {
		version, err := sarama.ParseKafkaVersion(c.Version)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeValidation, "invalid kafka version")
		}
		config.Version = version
	}

	// Producer settings
	switch c.ProducerAcks {
	case "1":
		config.Producer.RequiredAcks = sarama.WaitForLocal
	case "0":
		config.Producer.RequiredAcks = sarama.NoResponse
	default:
		config.Producer.RequiredAcks = sarama.WaitForAll
	}

	if c.ProducerRetries > 0 {
		config.Producer.Retry.Max = c.ProducerRetries
	}
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	switch c.ProducerCompression {
	case "gzip":
		config.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		config.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		config.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		config.Producer.Compression = sarama.CompressionZSTD
	default:
		config.Producer.Compression = sarama.CompressionNone
	}

	if c.EnableIdempotence {
		config.Producer.Idempotent = true
		config.Net.MaxOpenRequests = 1
	}

	// Consumer settings
	config.Consumer.Return.Errors = true
	config.Consumer.Offsets.Initial = sarama.OffsetOldest

	// Security settings
	if c.SecurityProtocol == "SASL_SSL" || c.SecurityProtocol == "SSL" {
		config.Net.TLS.Enable = true
		config.Net.TLS.Config = &tls.Config{
			InsecureSkipVerify: c.TLSInsecureSkipVerify, //nolint:gosec // opt-in for test clusters
			MinVersion:         tls.VersionTLS12,
		}
	}

	if c.SASLMechanism != "" {
		config.Net.SASL.Enable = true
		config.Net.SASL.User = c.SASLUsername
		config.Net.SASL.Password = c.SASLPassword

		switch c.SASLMechanism {
		case "PLAIN":
			config.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		case "SCRAM-SHA-256":
			config.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
			config.Net.SASL.SCRAMClientGeneratorFunc = scramGenerator(sarama.SASLTypeSCRAMSHA256)
		case "SCRAM-SHA-512":
			config.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
			config.Net.SASL.SCRAMClientGeneratorFunc = scramGenerator(sarama.SASLTypeSCRAMSHA512)
		default:
			return nil, errors.Newf(errors.ErrorTypeValidation, "unsupported sasl mechanism %q", c.SASLMechanism)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "invalid kafka configuration")
	}
	return config, nil
}
