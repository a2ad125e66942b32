package kafka

import "time"

// Config collects every producer and cluster tunable. Zero value is not
// valid; use NewConfig for the documented defaults, then apply Options.
type Config struct {
	// SeedBrokers are the initial URIs used to bootstrap cluster topology.
	// At least one is required.
	SeedBrokers []string

	// ClientID is sent on every request.
	ClientID string

	// SocketTimeout bounds every individual broker read/write.
	SocketTimeout time.Duration

	// RequiredAcks controls how many replicas must acknowledge a produce
	// before the broker responds: 0 (fire and forget), 1 (leader only), or
	// -1 (all in-sync replicas).
	RequiredAcks int16

	// AckTimeout bounds how long the broker waits for the acks it was
	// asked for before responding.
	AckTimeout time.Duration

	// MaxRetries caps how many times DeliverMessages re-attempts records
	// still buffered after an attempt, whatever error left them there.
	MaxRetries int

	// RetryBackoff is the delay between retry attempts.
	RetryBackoff time.Duration

	// MaxBufferSize is the record-count admission limit. Zero means unbounded.
	MaxBufferSize int

	// MaxBufferByteSize is the byte-size admission limit. Zero means unbounded.
	MaxBufferByteSize int

	// CompressionCodec selects the wrapper codec used once Threshold
	// messages have accumulated for a partition.
	CompressionCodec CompressionCodec

	// CompressionThreshold is the minimum message count before a batch is
	// wrapped.
	CompressionThreshold int

	// Partitioner assigns records with no explicit partition. Nil selects
	// the default hash partitioner.
	Partitioner Partitioner

	Logger       Logger
	Instrumenter Instrumenter
}

// Option mutates a Config during construction.
type Option func(*Config)

// NewConfig builds a Config from the documented defaults plus any Options.
func NewConfig(seedBrokers []string, opts ...Option) *Config {
	c := &Config{
		SeedBrokers:          seedBrokers,
		ClientID:             "kafka-go",
		SocketTimeout:        5 * time.Second,
		RequiredAcks:         1,
		AckTimeout:           10 * time.Second,
		MaxRetries:           3,
		RetryBackoff:         100 * time.Millisecond,
		CompressionCodec:     CompressionNone,
		CompressionThreshold: 0,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func WithClientID(id string) Option                { return func(c *Config) { c.ClientID = id } }
func WithSocketTimeout(d time.Duration) Option      { return func(c *Config) { c.SocketTimeout = d } }
func WithRequiredAcks(acks int16) Option            { return func(c *Config) { c.RequiredAcks = acks } }
func WithAckTimeout(d time.Duration) Option         { return func(c *Config) { c.AckTimeout = d } }
func WithMaxRetries(n int) Option                   { return func(c *Config) { c.MaxRetries = n } }
func WithRetryBackoff(d time.Duration) Option       { return func(c *Config) { c.RetryBackoff = d } }
func WithMaxBufferSize(n int) Option                { return func(c *Config) { c.MaxBufferSize = n } }
func WithMaxBufferByteSize(n int) Option            { return func(c *Config) { c.MaxBufferByteSize = n } }
func WithPartitioner(p Partitioner) Option           { return func(c *Config) { c.Partitioner = p } }
func WithLogger(l Logger) Option                     { return func(c *Config) { c.Logger = l } }
func WithInstrumenter(i Instrumenter) Option         { return func(c *Config) { c.Instrumenter = i } }

// WithCompression enables wrapping once threshold messages have
// accumulated for a partition.
func WithCompression(codec CompressionCodec, threshold int) Option {
	return func(c *Config) {
		c.CompressionCodec = codec
		c.CompressionThreshold = threshold
	}
}
