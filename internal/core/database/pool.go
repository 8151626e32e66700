package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/puddle/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type PoolConfig struct {
	MinSize           int32
	MaxSize           int32
	AcquireTimeout    time.Duration
	HealthCheckPeriod time.Duration

	// IdlePing is how long a connection may sit idle before Acquire pings it.
	// Zero means one second.
	IdlePing time.Duration
}

func (c PoolConfig) validate() error {
	if c.MinSize < 0 || c.MaxSize < 1 || c.MinSize > c.MaxSize {
		return fmt.Errorf("pool: need 0 <= min_size <= max_size and max_size >= 1, got min=%d max=%d", c.MinSize, c.MaxSize)
	}
	if c.AcquireTimeout < 0 || c.HealthCheckPeriod < 0 || c.IdlePing < 0 {
		return errors.New("pool: durations must not be negative")
	}
	return nil
}

// Pool hands out exclusive connections created by a Manager. Waiters are
// served in arrival order and at most MaxSize connections exist at once.
type Pool[C any] struct {
	inner   *puddle.Pool[C]
	manager Manager[C]
	cfg     PoolConfig
	log     *zap.Logger

	discarded atomic.Int64
	timeouts  atomic.Int64

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

func NewPool[C any](m Manager[C], cfg PoolConfig, l *zap.Logger) (*Pool[C], error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if l == nil {
		l = zap.NewNop()
	}
	if cfg.IdlePing == 0 {
		cfg.IdlePing = time.Second
	}
	inner, err := puddle.NewPool(&puddle.Config[C]{
		Constructor: m.Connect,
		Destructor:  m.Close,
		MaxSize:     cfg.MaxSize,
	})
	if err != nil {
		return nil, err
	}
	p := &Pool[C]{
		inner:   inner,
		manager: m,
		cfg:     cfg,
		log:     l.Named("pool"),
		done:    make(chan struct{}),
	}
	if cfg.HealthCheckPeriod > 0 {
		p.wg.Add(1)
		go p.healthLoop()
	}
	return p, nil
}

// Handle is exclusive ownership of one connection until Release.
type Handle[C any] struct {
	res  *puddle.Resource[C]
	pool *Pool[C]
	once sync.Once
}

func (h *Handle[C]) Conn() C { return h.res.Value() }

// Release returns the connection to the pool, or destroys it if the manager
// reports it broken. Calling Release more than once is a no-op.
func (h *Handle[C]) Release() {
	h.once.Do(func() {
		if h.pool.manager.HasBroken(h.res.Value()) {
			h.pool.discard(h.res)
			return
		}
		h.res.Release()
	})
}

// Acquire waits for a connection until ctx is done or the acquire timeout
// elapses. Either deadline yields the manager's TimedOut error. Connections
// idle for longer than IdlePing are pinged before being handed out.
func (p *Pool[C]) Acquire(ctx context.Context) (*Handle[C], error) {
	actx := ctx
	if p.cfg.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, p.cfg.AcquireTimeout)
		defer cancel()
	}
	for {
		res, err := p.inner.Acquire(actx)
		if err != nil {
			return nil, p.acquireErr(ctx, err)
		}
		if p.manager.HasBroken(res.Value()) {
			p.discard(res)
			continue
		}
		if res.IdleDuration() > p.cfg.IdlePing {
			if err := p.manager.IsValid(actx, res.Value()); err != nil || p.manager.HasBroken(res.Value()) {
				p.log.Debug("acquire: evict stale connection", zap.Error(err))
				p.discard(res)
				continue
			}
		}
		return &Handle[C]{res: res, pool: p}, nil
	}
}

func (p *Pool[C]) acquireErr(parent context.Context, err error) error {
	switch {
	case errors.Is(err, puddle.ErrClosedPool):
		return ErrPoolClosed
	case errors.Is(err, context.DeadlineExceeded), errors.Is(parent.Err(), context.DeadlineExceeded):
		p.timeouts.Add(1)
		return p.manager.TimedOut()
	case parent.Err() != nil:
		return parent.Err()
	}
	var ext *ExternalError
	if errors.As(err, &ext) {
		return err
	}
	return &ExternalError{Err: err}
}

// Warm creates connections concurrently until MinSize exist.
func (p *Pool[C]) Warm(ctx context.Context) error {
	need := p.cfg.MinSize - p.inner.Stat().TotalResources()
	if need <= 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	for range need {
		g.Go(func() error {
			err := p.inner.CreateResource(gctx)
			if errors.Is(err, puddle.ErrNotAvailable) {
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return p.acquireErr(ctx, err)
	}
	return nil
}

func (p *Pool[C]) fill(ctx context.Context) error {
	for p.inner.Stat().TotalResources() < p.cfg.MinSize {
		if err := p.inner.CreateResource(ctx); err != nil {
			if errors.Is(err, puddle.ErrNotAvailable) {
				return nil
			}
			return err
		}
	}
	return nil
}

// discard takes res out of the pool at once, closes it and tops the pool
// back up to MinSize.
func (p *Pool[C]) discard(res *puddle.Resource[C]) {
	c := res.Value()
	res.Hijack()
	p.discarded.Add(1)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.manager.Close(c)
		return
	}
	p.wg.Add(1)
	p.mu.Unlock()
	go func() {
		defer p.wg.Done()
		p.manager.Close(c)
		if p.cfg.MinSize == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), p.connectTimeout())
		defer cancel()
		if err := p.fill(ctx); err != nil && !errors.Is(err, puddle.ErrClosedPool) {
			p.log.Warn("replenish", zap.Error(err))
		}
	}()
}

func (p *Pool[C]) connectTimeout() time.Duration {
	if p.cfg.AcquireTimeout > 0 {
		return p.cfg.AcquireTimeout
	}
	return 30 * time.Second
}

func (p *Pool[C]) healthLoop() {
	defer p.wg.Done()
	t := time.NewTicker(p.cfg.HealthCheckPeriod)
	defer t.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-t.C:
			p.checkIdle()
			ctx, cancel := context.WithTimeout(context.Background(), p.connectTimeout())
			if err := p.fill(ctx); err != nil && !errors.Is(err, puddle.ErrClosedPool) {
				p.log.Warn("health: top up", zap.Error(err))
			}
			cancel()
		}
	}
}

// checkIdle destroys idle connections that are broken or fail a ping.
func (p *Pool[C]) checkIdle() {
	for _, res := range p.inner.AcquireAllIdle() {
		if p.manager.HasBroken(res.Value()) {
			p.discard(res)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), p.connectTimeout())
		err := p.manager.IsValid(ctx, res.Value())
		cancel()
		if err != nil || p.manager.HasBroken(res.Value()) {
			p.log.Info("health: evict idle connection", zap.Error(err))
			p.discard(res)
			continue
		}
		res.ReleaseUnused()
	}
}

// Close stops background work and destroys every connection. It blocks
// until all handles are released.
func (p *Pool[C]) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		close(p.done)
		p.wg.Wait()
		p.inner.Close()
	})
}

type PoolStat struct {
	Total        int32
	Idle         int32
	Acquired     int32
	Constructing int32
	MaxSize      int32

	AcquireCount         int64
	EmptyAcquireCount    int64
	CanceledAcquireCount int64
	AcquireDuration      time.Duration
	Discarded            int64
	TimedOut             int64
}

func (p *Pool[C]) Stat() PoolStat {
	s := p.inner.Stat()
	return PoolStat{
		Total:                s.TotalResources(),
		Idle:                 s.IdleResources(),
		Acquired:             s.AcquiredResources(),
		Constructing:         s.ConstructingResources(),
		MaxSize:              s.MaxResources(),
		AcquireCount:         s.AcquireCount(),
		EmptyAcquireCount:    s.EmptyAcquireCount(),
		CanceledAcquireCount: s.CanceledAcquireCount(),
		AcquireDuration:      s.AcquireDuration(),
		Discarded:            p.discarded.Load(),
		TimedOut:             p.timeouts.Load(),
	}
}
