package database

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id     int64
	broken atomic.Bool
}

type fakeManager struct {
	nextID      atomic.Int64
	live        atomic.Int64
	maxLive     atomic.Int64
	destroyed   atomic.Int64
	pinged      atomic.Int64
	failConnect atomic.Bool
	invalid     atomic.Bool

	closeDelay time.Duration
}

func (m *fakeManager) Connect(ctx context.Context) (*fakeConn, error) {
	if m.failConnect.Load() {
		return nil, &ExternalError{Err: errors.New("connection refused")}
	}
	n := m.live.Add(1)
	for {
		cur := m.maxLive.Load()
		if n <= cur || m.maxLive.CompareAndSwap(cur, n) {
			break
		}
	}
	return &fakeConn{id: m.nextID.Add(1)}, nil
}

func (m *fakeManager) IsValid(ctx context.Context, c *fakeConn) error {
	m.pinged.Add(1)
	if m.invalid.Load() {
		return errors.New("ping failed")
	}
	return nil
}

func (m *fakeManager) HasBroken(c *fakeConn) bool { return c.broken.Load() }

func (m *fakeManager) TimedOut() error { return ErrTimedOut }

func (m *fakeManager) Close(c *fakeConn) {
	time.Sleep(m.closeDelay)
	m.live.Add(-1)
	m.destroyed.Add(1)
}

func newTestPool(t *testing.T, m *fakeManager, cfg PoolConfig) *Pool[*fakeConn] {
	t.Helper()
	p, err := NewPool[*fakeConn](m, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func TestNewPoolRejectsBadSizes(t *testing.T) {
	m := &fakeManager{}
	for _, cfg := range []PoolConfig{
		{MinSize: 3, MaxSize: 2},
		{MinSize: -1, MaxSize: 2},
		{MinSize: 0, MaxSize: 0},
		{MaxSize: 1, AcquireTimeout: -time.Second},
		{MaxSize: 1, IdlePing: -time.Second},
	} {
		_, err := NewPool[*fakeConn](m, cfg, nil)
		assert.Error(t, err, "%+v", cfg)
	}
}

func TestPoolNeverExceedsMaxSize(t *testing.T) {
	m := &fakeManager{}
	p := newTestPool(t, m, PoolConfig{MaxSize: 3, AcquireTimeout: 5 * time.Second})

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := p.Acquire(context.Background())
			if !assert.NoError(t, err) {
				return
			}
			time.Sleep(5 * time.Millisecond)
			h.Release()
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, m.maxLive.Load(), int64(3))
	assert.LessOrEqual(t, p.Stat().Total, int32(3))
}

func TestBrokenConnectionIsNotHandedOutAgain(t *testing.T) {
	m := &fakeManager{}
	p := newTestPool(t, m, PoolConfig{MaxSize: 1, AcquireTimeout: time.Second})

	h, err := p.Acquire(context.Background())
	require.NoError(t, err)
	first := h.Conn()
	first.broken.Store(true)
	h.Release()
	h.Release()

	h2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer h2.Release()
	assert.NotEqual(t, first.id, h2.Conn().id)
	assert.Equal(t, int64(1), p.Stat().Discarded)
	// destructors run asynchronously
	assert.Eventually(t, func() bool { return m.destroyed.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestIdleConnectionBrokenWhileParkedIsSkipped(t *testing.T) {
	m := &fakeManager{}
	p := newTestPool(t, m, PoolConfig{MaxSize: 2, AcquireTimeout: time.Second})

	h, err := p.Acquire(context.Background())
	require.NoError(t, err)
	c := h.Conn()
	h.Release()
	// the server went away after release
	c.broken.Store(true)

	h2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer h2.Release()
	assert.NotEqual(t, c.id, h2.Conn().id)
}

func TestAcquireTimesOut(t *testing.T) {
	m := &fakeManager{}
	p := newTestPool(t, m, PoolConfig{MaxSize: 1, AcquireTimeout: 50 * time.Millisecond})

	h, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer h.Release()

	start := time.Now()
	_, err = p.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrTimedOut)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, int64(1), p.Stat().TimedOut)
}

func TestCallerDeadlineCountsAsTimeout(t *testing.T) {
	m := &fakeManager{}
	p := newTestPool(t, m, PoolConfig{MaxSize: 1, AcquireTimeout: 30 * time.Second})

	h, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer h.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, ErrTimedOut)
	assert.Equal(t, int64(1), p.Stat().TimedOut)
}

func TestAcquireHonoursCallerCancellation(t *testing.T) {
	m := &fakeManager{}
	p := newTestPool(t, m, PoolConfig{MaxSize: 1, AcquireTimeout: 5 * time.Second})

	h, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer h.Release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConnectFailureSurfacesExternalError(t *testing.T) {
	m := &fakeManager{}
	m.failConnect.Store(true)
	p := newTestPool(t, m, PoolConfig{MaxSize: 1, AcquireTimeout: time.Second})

	_, err := p.Acquire(context.Background())
	var ext *ExternalError
	require.ErrorAs(t, err, &ext)
	assert.Contains(t, ext.Error(), "connection refused")
}

func TestWaitersAreServedInOrder(t *testing.T) {
	m := &fakeManager{}
	p := newTestPool(t, m, PoolConfig{MaxSize: 1, AcquireTimeout: 5 * time.Second})

	h, err := p.Acquire(context.Background())
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		order []string
		wg    sync.WaitGroup
	)
	wait := func(name string) {
		defer wg.Done()
		hh, err := p.Acquire(context.Background())
		if !assert.NoError(t, err) {
			return
		}
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
		hh.Release()
	}
	wg.Add(2)
	go wait("first")
	time.Sleep(30 * time.Millisecond)
	go wait("second")
	time.Sleep(30 * time.Millisecond)

	h.Release()
	wg.Wait()
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestWarmEstablishesMinSize(t *testing.T) {
	m := &fakeManager{}
	p := newTestPool(t, m, PoolConfig{MinSize: 3, MaxSize: 5, AcquireTimeout: time.Second})

	require.NoError(t, p.Warm(context.Background()))
	st := p.Stat()
	assert.Equal(t, int32(3), st.Total)
	assert.Equal(t, int32(3), st.Idle)
	require.NoError(t, p.Warm(context.Background()))
	assert.Equal(t, int64(3), m.live.Load())
}

func TestWarmReportsConnectFailure(t *testing.T) {
	m := &fakeManager{}
	m.failConnect.Store(true)
	p := newTestPool(t, m, PoolConfig{MinSize: 2, MaxSize: 2, AcquireTimeout: time.Second})

	var ext *ExternalError
	assert.ErrorAs(t, p.Warm(context.Background()), &ext)
}

func TestBrokenReleaseReplenishesToMinSize(t *testing.T) {
	m := &fakeManager{closeDelay: 30 * time.Millisecond}
	p := newTestPool(t, m, PoolConfig{MinSize: 2, MaxSize: 4, AcquireTimeout: time.Second})
	require.NoError(t, p.Warm(context.Background()))

	h, err := p.Acquire(context.Background())
	require.NoError(t, err)
	h.Conn().broken.Store(true)
	h.Release()

	// the broken connection leaves the pool before it has finished closing
	assert.Equal(t, int32(1), p.Stat().Total)
	require.Eventually(t, func() bool {
		return m.destroyed.Load() == 1 && m.live.Load() == 2 && p.Stat().Total == 2
	}, time.Second, 5*time.Millisecond)
	assert.LessOrEqual(t, m.maxLive.Load(), int64(2))
}

func TestStaleIdleConnectionIsPingedAndReplaced(t *testing.T) {
	m := &fakeManager{}
	p := newTestPool(t, m, PoolConfig{MaxSize: 2, AcquireTimeout: time.Second, IdlePing: 10 * time.Millisecond})

	h, err := p.Acquire(context.Background())
	require.NoError(t, err)
	first := h.Conn()
	h.Release()
	time.Sleep(30 * time.Millisecond)
	// the server closed it while idle, which only a round trip reveals
	m.invalid.Store(true)

	h2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer h2.Release()
	assert.NotEqual(t, first.id, h2.Conn().id)
	assert.Equal(t, int64(1), p.Stat().Discarded)
	assert.Equal(t, int64(1), m.pinged.Load())
}

func TestRecentlyUsedConnectionIsNotPinged(t *testing.T) {
	m := &fakeManager{}
	p := newTestPool(t, m, PoolConfig{MaxSize: 1, AcquireTimeout: time.Second})

	for range 3 {
		h, err := p.Acquire(context.Background())
		require.NoError(t, err)
		h.Release()
	}
	assert.Zero(t, m.pinged.Load())
	assert.Equal(t, int64(1), m.nextID.Load())
}

func TestHealthLoopEvictsInvalidIdle(t *testing.T) {
	m := &fakeManager{}
	p := newTestPool(t, m, PoolConfig{MinSize: 1, MaxSize: 2, AcquireTimeout: time.Second, HealthCheckPeriod: 10 * time.Millisecond})
	require.NoError(t, p.Warm(context.Background()))

	m.invalid.Store(true)
	require.Eventually(t, func() bool { return m.destroyed.Load() >= 1 }, time.Second, 5*time.Millisecond)
	m.invalid.Store(false)
	require.Eventually(t, func() bool { return p.Stat().Total == 1 }, time.Second, 5*time.Millisecond)
}

func TestAcquireAfterClose(t *testing.T) {
	m := &fakeManager{}
	p, err := NewPool[*fakeConn](m, PoolConfig{MaxSize: 1}, nil)
	require.NoError(t, err)
	p.Close()
	_, err = p.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestRegisterPoolMetrics(t *testing.T) {
	m := &fakeManager{}
	p := newTestPool(t, m, PoolConfig{MinSize: 1, MaxSize: 2})
	require.NoError(t, p.Warm(context.Background()))

	reg := prometheus.NewRegistry()
	require.NoError(t, RegisterPoolMetrics(reg, p.Stat))
	families, err := reg.Gather()
	require.NoError(t, err)

	got := map[string]float64{}
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			if g := metric.GetGauge(); g != nil {
				got[f.GetName()] = g.GetValue()
			}
		}
	}
	assert.Equal(t, float64(1), got["mordhub_db_pool_connections_total"])
	assert.Equal(t, float64(2), got["mordhub_db_pool_connections_max"])
}
