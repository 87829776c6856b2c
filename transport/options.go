package transport

import (
	"fmt"
	"time"

	"github.com/dbranscombe/kafka-net/certstore"
)

// TLSOptions enables TLS on the connection and describes the client identity
// and the server trust policy.
type TLSOptions struct {
	// ClientCertRef selects the client certificate: a path ending in ".pfx"
	// (case-sensitive) loads that file with Password, anything else is a
	// subject name looked up in Certs. Empty → no client certificate is
	// presented.
	ClientCertRef string `mapstructure:"client_cert_ref"`

	// FriendlyName disambiguates store entries sharing a subject.
	FriendlyName string `mapstructure:"friendly_name"`

	// Password decrypts a .pfx ClientCertRef.
	Password string `mapstructure:"password"`

	// AllowSelfSignedServerCert admits server certificates that fail chain
	// validation, provided they are pinned in TrustedPeers.
	AllowSelfSignedServerCert bool `mapstructure:"allow_self_signed_server_cert"`

	// SelfSignedTrainMode pins the first unknown server certificate seen,
	// then trusts it. Trust-on-first-use bootstrap; requires
	// AllowSelfSignedServerCert.
	SelfSignedTrainMode bool `mapstructure:"self_signed_train_mode"`

	// Certs is the personal store used for subject lookups. Optional when
	// ClientCertRef is a .pfx path or empty.
	Certs certstore.Store `mapstructure:"-"`

	// TrustedPeers is the pin store. Required when
	// AllowSelfSignedServerCert is true.
	TrustedPeers certstore.TrustedPeers `mapstructure:"-"`
}

// Options are the immutable transport tunables. Zero values mean "use the
// default".
type Options struct {
	// InitialBackoff is the delay after the first failed connect attempt.
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`

	// BackoffMultiplier grows the delay between attempts.
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier"`

	// MaxReconnectBackoff caps the delay between attempts.
	MaxReconnectBackoff time.Duration `mapstructure:"max_reconnect_backoff"`

	// DialTimeout bounds a single TCP connect (and TLS handshake).
	DialTimeout time.Duration `mapstructure:"dial_timeout"`

	// CloseTimeout bounds how long Close waits for the transport goroutine
	// to exit before giving up on it.
	CloseTimeout time.Duration `mapstructure:"close_timeout"`

	// QueueCapacity bounds each request queue. 0 = unbounded, matching the
	// historical behaviour. When bounded, a full queue rejects the enqueue
	// with ErrQueueFull instead of blocking the caller.
	QueueCapacity int `mapstructure:"queue_capacity"`

	// TLS enables TLS when non-nil.
	TLS *TLSOptions `mapstructure:"tls"`
}

func (o *Options) applyDefaults() {
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 100 * time.Millisecond
	}
	if o.BackoffMultiplier <= 0 {
		o.BackoffMultiplier = 2.0
	}
	if o.MaxReconnectBackoff <= 0 {
		o.MaxReconnectBackoff = 5 * time.Minute
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 10 * time.Second
	}
	if o.CloseTimeout <= 0 {
		o.CloseTimeout = 30 * time.Second
	}
}

func (o Options) validate() error {
	if o.QueueCapacity < 0 {
		return fmt.Errorf("transport: QueueCapacity must be >= 0")
	}
	if o.TLS == nil {
		return nil
	}
	if o.TLS.SelfSignedTrainMode && !o.TLS.AllowSelfSignedServerCert {
		return fmt.Errorf("transport: SelfSignedTrainMode requires AllowSelfSignedServerCert")
	}
	if o.TLS.AllowSelfSignedServerCert && o.TLS.TrustedPeers == nil {
		return fmt.Errorf("transport: AllowSelfSignedServerCert requires a TrustedPeers store")
	}
	return nil
}
