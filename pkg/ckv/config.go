// Package ckv is the public client library for a sharded or
// standalone key/value server: persistent, multiplexed,
// pipelined connections with cluster-aware routing, bounded retries,
// and per-request timeouts. The package is a thin wrapper — the
// engineering lives in internal/{conn,dispatch,router,topology}; this
// file and its siblings just construct and expose that core.
package ckv

import (
	"fmt"
	"os"
	"time"

	"github.com/nodekv/ckv/internal/conn"
	"github.com/nodekv/ckv/internal/log"
	"github.com/nodekv/ckv/internal/retry"
	"github.com/nodekv/ckv/internal/router"
	"github.com/sirupsen/logrus"
)

// ServerProtocol selects the RESP version requested during
// handshake.
type ServerProtocol int

const (
	// RESP3 is the default: typed map/set/attribute replies, tried
	// first via HELLO and falling back to RESP2 on failure.
	RESP3 ServerProtocol = iota
	RESP2
)

// ReadFrom selects the connection-wide default replica read
// strategy, overridable per request via a RoutingSpec's
// preferReplica flag.
type ReadFrom int

const (
	Primary ReadFrom = iota
	PreferReplica
)

// Credentials holds the AUTH username/password pair. An empty
// Password means no AUTH is sent.
type Credentials struct {
	Username string
	Password string
}

// Address is one seed node; Port defaults to 6379 when zero.
type Address struct {
	Host string
	Port int
}

func (a Address) String() string {
	port := a.Port
	if port == 0 {
		port = 6379
	}
	return fmt.Sprintf("%s:%d", a.Host, port)
}

// ReconnectStrategy is the {retries, factor, exponent_base} backoff
// configuration for per-connection reconnects.
type ReconnectStrategy struct {
	Retries      uint8
	Factor       time.Duration
	ExponentBase float64
}

// Config holds every recognized construction option. It is a plain
// validating struct — no functional-options indirection.
type Config struct {
	Addresses   []Address
	UseTLS      bool
	Credentials Credentials

	RequestTimeout   time.Duration
	ReadFromStrategy ReadFrom
	ServerProtocol   ServerProtocol
	ClientName       string
	DatabaseID       int

	ReconnectStrategy ReconnectStrategy
	ClusterMode       bool

	MaxRedirections int
	IdleTimeout     time.Duration // 0 disables the idle reaper
	RefreshInterval time.Duration // 0 disables periodic topology refresh

	// AllowOptimisticRedirect permits resubmitting a request whose
	// connection dropped before the write was acknowledged, on the
	// assumption the server never saw it. Defaults to false: unsafe
	// for non-idempotent commands under at-most-once delivery, so it
	// is opt-in rather than silently enabled.
	AllowOptimisticRedirect bool

	Logger log.Logger
}

// DefaultRequestTimeout is the per-request deadline applied when
// Config.RequestTimeout is unset.
const DefaultRequestTimeout = 250 * time.Millisecond

// validate checks the options that can be checked at construction
// time, surfacing a KindConfiguration error.
func (c *Config) validate() error {
	if len(c.Addresses) == 0 {
		return newConfigError("at least one address is required")
	}
	if c.ReconnectStrategy.Factor < 0 {
		return newConfigError("reconnect_strategy.factor must be >= 0")
	}
	if c.ReconnectStrategy.ExponentBase != 0 && c.ReconnectStrategy.ExponentBase < 1 {
		return newConfigError("reconnect_strategy.exponent_base must be >= 1")
	}
	return nil
}

func (c *Config) withDefaults() Config {
	cfg := *c
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.ReconnectStrategy == (ReconnectStrategy{}) {
		s := retry.DefaultStrategy()
		cfg.ReconnectStrategy = ReconnectStrategy{Retries: s.Retries, Factor: s.Factor, ExponentBase: s.ExponentBase}
	}
	if cfg.MaxRedirections <= 0 {
		cfg.MaxRedirections = router.DefaultMaxRedirections
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, logrus.InfoLevel)
	}
	return cfg
}

func (c *Config) seedAddresses() []string {
	addrs := make([]string, len(c.Addresses))
	for i, a := range c.Addresses {
		addrs[i] = a.String()
	}
	return addrs
}

func (c *Config) connOptions() conn.Options {
	proto := conn.ProtocolRESP3
	if c.ServerProtocol == RESP2 {
		proto = conn.ProtocolRESP2
	}
	return conn.Options{
		UseTLS:      c.UseTLS,
		Username:    c.Credentials.Username,
		Password:    c.Credentials.Password,
		ClientName:  c.ClientName,
		DatabaseID:  c.DatabaseID,
		Protocol:    proto,
		DialTimeout: c.RequestTimeout,
		ReconnectStrategy: retry.Strategy{
			Retries:      c.ReconnectStrategy.Retries,
			Factor:       c.ReconnectStrategy.Factor,
			ExponentBase: c.ReconnectStrategy.ExponentBase,
		},
	}
}

func (c *Config) readFromStrategy() router.ReadFrom {
	if c.ReadFromStrategy == PreferReplica {
		return router.ReadFromPreferReplica
	}
	return router.ReadFromPrimary
}
