package filesystem

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/loggo"
	"github.com/pkg/sftp"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/joe/seedstream/pkg/hostkey"
)

// Exported constants.
const (
	// DefaultConnectTimeout bounds a whole SSH handshake.
	DefaultConnectTimeout = 10 * time.Second
	// DefaultIdleTimeout is how long an unused pooled connection stays open.
	DefaultIdleTimeout = 60 * time.Second
)

// Eviction reasons, as reported in logs and metrics.
const (
	reasonConfig    = "config"
	reasonExplicit  = "explicit"
	reasonIdle      = "idle"
	reasonShutdown  = "shutdown"
	reasonTransport = "transport"
)

//nolint:gochecknoglobals // Package logger, as loggo intends
var poolLogger = loggo.GetLogger("seedstream.pool")

// Conn is a live SSH session with its SFTP sub-channel, as the pool sees it.
// *SFTPConnection implements it.
type Conn interface {
	Client() *sftp.Client
	Fingerprint() string
	Done() <-chan struct{}
	Err() error
	Close() error
}

// ConnectFunc opens a new connection to a host.
type ConnectFunc func(ctx context.Context, host HostConfig) (Conn, error)

// PoolOptions configures a ConnectionPool. Zero values select the defaults.
type PoolOptions struct {
	Clock          clock.Clock
	IdleTimeout    time.Duration
	ConnectTimeout time.Duration

	// ConnectRate limits new connection attempts per host per second.
	// Zero or less disables throttling.
	ConnectRate  float64
	ConnectBurst int

	// Connect replaces the real SSH dialer, mainly for tests.
	Connect ConnectFunc

	Metrics *PoolMetrics
}

// ConnectionPool keeps at most one live SSH/SFTP session per host id.
//
// Sessions are created on first use, shared by every caller for that host, and
// closed after IdleTimeout without use, when the transport dies, on Evict, or on
// CloseAll. Concurrent first uses of a host share one connection attempt.
// Callers borrow the *sftp.Client and must never close it.
type ConnectionPool struct {
	clock          clock.Clock
	idleTimeout    time.Duration
	connectTimeout time.Duration
	connect        ConnectFunc
	connectRate    rate.Limit
	connectBurst   int
	metrics        *PoolMetrics

	inflight singleflight.Group

	mu       sync.Mutex // protects everything below
	entries  map[string]*poolEntry
	limiters map[string]*rate.Limiter
	closed   bool
}

// poolEntry is one live session. Only the pool creates, touches and destroys it.
type poolEntry struct {
	hostID   string
	config   HostConfig
	conn     Conn
	timer    clock.Timer
	deadline time.Time
	leases   int
}

// NewConnectionPool creates an empty pool.
func NewConnectionPool(opts PoolOptions) *ConnectionPool {
	pool := &ConnectionPool{
		clock:          opts.Clock,
		idleTimeout:    opts.IdleTimeout,
		connectTimeout: opts.ConnectTimeout,
		connect:        opts.Connect,
		connectRate:    rate.Inf,
		connectBurst:   opts.ConnectBurst,
		metrics:        opts.Metrics,
		entries:        make(map[string]*poolEntry),
		limiters:       make(map[string]*rate.Limiter),
	}

	if pool.clock == nil {
		pool.clock = clock.WallClock
	}

	if pool.idleTimeout <= 0 {
		pool.idleTimeout = DefaultIdleTimeout
	}

	if pool.connectTimeout <= 0 {
		pool.connectTimeout = DefaultConnectTimeout
	}

	if opts.ConnectRate > 0 {
		pool.connectRate = rate.Limit(opts.ConnectRate)
	}

	if pool.connectBurst <= 0 {
		pool.connectBurst = 1
	}

	if pool.connect == nil {
		timeout := pool.connectTimeout
		pool.connect = func(ctx context.Context, host HostConfig) (Conn, error) {
			conn, err := Connect(ctx, host, ConnectOptions{Timeout: timeout})
			if err != nil {
				return nil, err
			}

			return conn, nil
		}
	}

	return pool
}

// Acquire returns the SFTP client for a host, connecting if needed.
//
// A live entry made with the same config is returned at once and its idle timer
// restarts. A live entry made with a different config is evicted first. If a
// connection attempt for the host is already running, Acquire waits for it and
// shares its outcome; cancelling ctx only abandons the wait.
func (p *ConnectionPool) Acquire(ctx context.Context, host HostConfig) (*sftp.Client, error) {
	entry, err := p.acquireEntry(ctx, host, false)
	if err != nil {
		return nil, err
	}

	return entry.conn.Client(), nil
}

// Lease is Acquire for long-running work such as a stream. The entry is not
// idle-evicted until release is called; release is idempotent.
func (p *ConnectionPool) Lease(ctx context.Context, host HostConfig) (*sftp.Client, func(), error) {
	entry, err := p.acquireEntry(ctx, host, true)
	if err != nil {
		return nil, nil, err
	}

	var once sync.Once
	release := func() {
		once.Do(func() { p.release(entry) })
	}

	return entry.conn.Client(), release, nil
}

// CloseAll closes every pooled connection. Later acquires fail with ErrPoolClosed.
func (p *ConnectionPool) CloseAll() error {
	p.mu.Lock()
	p.closed = true
	entries := make([]*poolEntry, 0, len(p.entries))
	for _, entry := range p.entries {
		p.removeLocked(entry, reasonShutdown)
		entries = append(entries, entry)
	}
	p.mu.Unlock()

	var errs []error
	for _, entry := range entries {
		if err := entry.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close connection to %s: %w", entry.config, err))
		}
	}

	poolLogger.Infof("closed %d pooled connection(s)", len(entries))

	return errors.Join(errs...)
}

// Evict closes and forgets the connection for a host, so the next acquire
// authenticates and verifies the host from scratch. Reports whether an entry existed.
func (p *ConnectionPool) Evict(hostID string) bool {
	p.mu.Lock()
	entry, ok := p.entries[hostID]
	if ok {
		p.removeLocked(entry, reasonExplicit)
	}
	p.mu.Unlock()

	if ok {
		_ = entry.conn.Close()
	}

	return ok
}

// Has reports whether a live entry exists for a host.
func (p *ConnectionPool) Has(hostID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, ok := p.entries[hostID]

	return ok
}

// Len returns the number of live entries.
func (p *ConnectionPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.entries)
}

// acquireEntry returns a live entry for host, optionally taking a lease on it.
// It loops at most twice: a shared attempt may have been made for an older
// config, or its entry may have died before this caller got to it.
func (p *ConnectionPool) acquireEntry(ctx context.Context, host HostConfig, lease bool) (*poolEntry, error) {
	const maxAttempts = 2

	for range maxAttempts {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("acquire %s: %w", host.ID, err)
		}

		entry, stale, err := p.lookup(host, lease)
		if err != nil {
			return nil, err
		}

		if stale != nil {
			_ = stale.conn.Close()
		}

		if entry != nil {
			return entry, nil
		}

		results := p.inflight.DoChan(host.ID, func() (interface{}, error) {
			return p.establish(host)
		})

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire %s: %w", host.ID, ctx.Err())
		case res := <-results:
			if res.Shared {
				p.metrics.sharedWait()
			}

			if res.Err != nil {
				return nil, res.Err
			}

			// Take the entry through the map so a purge in between is noticed.
			entry, stale, err = p.lookup(host, lease)
			if err != nil {
				return nil, err
			}

			if stale != nil {
				_ = stale.conn.Close()
			}

			if entry != nil {
				return entry, nil
			}
		}
	}

	return nil, fmt.Errorf("%w: connection to %s closed before it could be used", ErrTransport, host)
}

// lookup returns the live entry for host and touches it, or nil if a connection
// is needed. An entry made with another config is removed and returned as stale
// for the caller to close outside the lock.
func (p *ConnectionPool) lookup(host HostConfig, lease bool) (*poolEntry, *poolEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, nil, ErrPoolClosed
	}

	entry, ok := p.entries[host.ID]
	if !ok {
		return nil, nil, nil
	}

	if entry.config != host {
		poolLogger.Infof("host %s changed configuration, dropping pooled connection", host.ID)
		p.removeLocked(entry, reasonConfig)

		return nil, entry, nil
	}

	p.touchLocked(entry)
	if lease {
		entry.leases++
	}

	return entry, nil, nil
}

// establish makes one physical connection attempt and installs the entry.
// It runs inside the single-flight group, detached from any one caller.
func (p *ConnectionPool) establish(host HostConfig) (*poolEntry, error) {
	if err := p.waitForConnectSlot(host.ID); err != nil {
		return nil, err
	}

	poolLogger.Debugf("connecting to %s (host %s)", host, host.ID)

	ctx, cancel := context.WithTimeout(context.Background(), p.connectTimeout)
	defer cancel()

	conn, err := p.connect(ctx, host)
	if err != nil {
		p.metrics.connectFailed(err)
		poolLogger.Warningf("connection to %s failed: %v", host, err)

		return nil, err
	}

	observed := conn.Fingerprint()

	switch hostkey.Verify(host.StoredFingerprint, observed) {
	case hostkey.Match:
	case hostkey.Unseen:
		_ = conn.Close()
		p.metrics.connectFailed(ErrHostKeyUnverified)

		return nil, fmt.Errorf("%w: %s presented %s; accept it with a connection test first",
			ErrHostKeyUnverified, host, observed)
	case hostkey.Mismatch:
		_ = conn.Close()
		p.metrics.connectFailed(ErrFingerprintMismatch)
		poolLogger.Warningf("host %s (%s) presented fingerprint %s but %s was accepted; refusing connection",
			host.ID, host.Address(), observed, host.StoredFingerprint)

		return nil, fmt.Errorf("%w: %s presented %s, expected %s",
			ErrFingerprintMismatch, host, observed, host.StoredFingerprint)
	}

	entry := &poolEntry{
		hostID: host.ID,
		config: host,
		conn:   conn,
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = conn.Close()

		return nil, ErrPoolClosed
	}

	if old, ok := p.entries[host.ID]; ok {
		// Only possible if an evict raced this attempt; newest wins.
		p.removeLocked(old, reasonConfig)
		defer func() { _ = old.conn.Close() }()
	}

	entry.deadline = p.clock.Now().Add(p.idleTimeout)
	// The callback only hands off: clock implementations may run it with their own lock held.
	entry.timer = p.clock.AfterFunc(p.idleTimeout, func() { go p.expire(entry) })
	p.entries[host.ID] = entry
	p.metrics.connected(len(p.entries))
	p.mu.Unlock()

	go p.watch(entry)

	poolLogger.Infof("connected to %s (host %s, fingerprint %s)", host, host.ID, observed)

	return entry, nil
}

// expire runs when an entry's idle timer fires.
func (p *ConnectionPool) expire(entry *poolEntry) {
	p.mu.Lock()
	if p.entries[entry.hostID] != entry || entry.leases > 0 || p.clock.Now().Before(entry.deadline) {
		// Gone already, busy (release re-arms the timer), or touched after firing.
		p.mu.Unlock()
		return
	}

	p.removeLocked(entry, reasonIdle)
	p.mu.Unlock()

	poolLogger.Debugf("closing idle connection to %s", entry.config)
	_ = entry.conn.Close()
}

// watch purges an entry as soon as its transport goes away on its own.
func (p *ConnectionPool) watch(entry *poolEntry) {
	<-entry.conn.Done()

	p.mu.Lock()
	current := p.entries[entry.hostID] == entry
	if current {
		p.removeLocked(entry, reasonTransport)
	}
	p.mu.Unlock()

	if current {
		poolLogger.Errorf("connection to %s lost: %v", entry.config, entry.conn.Err())
	}
}

// release drops one lease and restarts the idle timer once the entry is unused.
func (p *ConnectionPool) release(entry *poolEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry.leases--
	if entry.leases == 0 && p.entries[entry.hostID] == entry {
		p.touchLocked(entry)
	}
}

// removeLocked forgets an entry. The caller closes the connection after unlocking.
func (p *ConnectionPool) removeLocked(entry *poolEntry, reason string) {
	delete(p.entries, entry.hostID)

	if entry.timer != nil {
		entry.timer.Stop()
	}

	p.metrics.evicted(reason, len(p.entries))
}

// touchLocked slides the idle deadline forward.
func (p *ConnectionPool) touchLocked(entry *poolEntry) {
	entry.deadline = p.clock.Now().Add(p.idleTimeout)
	entry.timer.Reset(p.idleTimeout)
}

// waitForConnectSlot applies the per-host connect rate limit.
func (p *ConnectionPool) waitForConnectSlot(hostID string) error {
	if p.connectRate == rate.Inf {
		return nil
	}

	p.mu.Lock()
	limiter, ok := p.limiters[hostID]
	if !ok {
		limiter = rate.NewLimiter(p.connectRate, p.connectBurst)
		p.limiters[hostID] = limiter
	}
	now := p.clock.Now()
	reservation := limiter.ReserveN(now, 1)
	p.mu.Unlock()

	if !reservation.OK() {
		return fmt.Errorf("%w: connect rate limit for host %s cannot be satisfied", ErrTransport, hostID)
	}

	if delay := reservation.DelayFrom(now); delay > 0 {
		poolLogger.Debugf("throttling connection to host %s for %s", hostID, delay)
		<-p.clock.After(delay)
	}

	return nil
}
