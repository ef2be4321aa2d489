package xmemcache

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pior/xmemcache/text"
)

// routingTable is an immutable snapshot of the configured servers and the
// placement function computed from them. It is replaced, never mutated.
type routingTable struct {
	servers []*server
	locator locator
}

func newRoutingTable(servers []*server, weighted bool, virtualNodes int) *routingTable {
	list := make([]Server, len(servers))
	for i, s := range servers {
		list[i] = Server{Addr: s.addr, Weight: s.weight}
	}
	return &routingTable{
		servers: servers,
		locator: newLocator(list, weighted, virtualNodes),
	}
}

func (t *routingTable) lookup(key string) (*server, error) {
	if len(t.servers) == 0 {
		return nil, fmt.Errorf("%w: no server configured", ErrNoAvailableSession)
	}
	return t.servers[t.locator.locate(key)], nil
}

func (t *routingTable) find(addr string) (*server, int) {
	for i, s := range t.servers {
		if s.addr == addr {
			return s, i
		}
	}
	return nil, -1
}

// router maps keys to servers. Lookups read the current snapshot without
// locking; membership changes are serialized by mu and publish a new snapshot.
type router struct {
	config  *Config
	factory *text.Factory
	logger  *zap.Logger

	mu    sync.Mutex
	table atomic.Pointer[routingTable]

	stopHealthCheck chan struct{}
	healthCheckDone chan struct{}
}

func newRouter(config *Config, factory *text.Factory) *router {
	r := &router{
		config:          config,
		factory:         factory,
		logger:          config.Logger.Named("router"),
		stopHealthCheck: make(chan struct{}),
		healthCheckDone: make(chan struct{}),
	}
	r.table.Store(newRoutingTable(nil, config.Weighted, config.VirtualNodes))

	if config.HealthCheckInterval > 0 {
		go r.healthCheckLoop()
	} else {
		close(r.healthCheckDone)
	}
	return r
}

// bootstrap adds the initial servers and tries to connect to all of them
// concurrently. Servers that cannot be reached keep retrying in the background.
func (r *router) bootstrap(servers []Server) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	added := make([]*server, 0, len(servers))
	for _, s := range servers {
		if srv, _ := r.table.Load().find(s.Addr); srv != nil || slices.ContainsFunc(added, func(a *server) bool { return a.addr == s.Addr }) {
			return fmt.Errorf("%w: %s", ErrServerExists, s.Addr)
		}
		srv, err := newServer(s, r.config, r.factory)
		if err != nil {
			return err
		}
		added = append(added, srv)
	}

	var g errgroup.Group
	for _, srv := range added {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), r.config.DialTimeout)
			defer cancel()
			if err := srv.connect(ctx); err != nil {
				r.logger.Warn("initial connection failed", zap.String("addr", srv.addr), zap.Error(err))
				srv.markDown(err)
			}
			return nil
		})
	}
	_ = g.Wait()

	r.publish(append(slices.Clone(r.table.Load().servers), added...))
	return nil
}

func (r *router) publish(servers []*server) {
	r.table.Store(newRoutingTable(servers, r.config.Weighted, r.config.VirtualNodes))
}

// route returns the live server owning key.
func (r *router) route(key string) (*server, error) {
	srv, err := r.table.Load().lookup(key)
	if err != nil {
		return nil, err
	}
	if !srv.live.Load() {
		return nil, fmt.Errorf("%w: %s is down", ErrNoAvailableSession, srv.addr)
	}
	return srv, nil
}

// group splits keys by owning server, preserving key order within a group.
func (r *router) group(keys []string) (map[*server][]string, error) {
	t := r.table.Load()
	groups := make(map[*server][]string)
	for _, key := range keys {
		srv, err := t.lookup(key)
		if err != nil {
			return nil, err
		}
		if !srv.live.Load() {
			return nil, fmt.Errorf("%w: %s is down", ErrNoAvailableSession, srv.addr)
		}
		groups[srv] = append(groups[srv], key)
	}
	return groups, nil
}

func (r *router) addServer(s Server) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.table.Load()
	if srv, _ := current.find(s.Addr); srv != nil {
		return fmt.Errorf("%w: %s", ErrServerExists, s.Addr)
	}

	srv, err := newServer(s, r.config, r.factory)
	if err != nil {
		return err
	}
	r.publish(append(slices.Clone(current.servers), srv))
	srv.start()

	r.logger.Info("server added", zap.String("addr", s.Addr), zap.Int("weight", srv.weight))
	return nil
}

func (r *router) removeServer(addr string) error {
	r.mu.Lock()
	current := r.table.Load()
	srv, i := current.find(addr)
	if srv == nil {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrServerNotFound, addr)
	}
	r.publish(slices.Delete(slices.Clone(current.servers), i, i+1))
	r.mu.Unlock()

	srv.close()
	r.logger.Info("server removed", zap.String("addr", addr))
	return nil
}

func (r *router) servers() []*server {
	return r.table.Load().servers
}

func (r *router) healthCheckLoop() {
	defer close(r.healthCheckDone)

	interval := r.config.HealthCheckInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopHealthCheck:
			return
		case <-ticker.C:
			for _, srv := range r.servers() {
				srv.healthCheck(interval, r.config.Timeout)
			}
		}
	}
}

func (r *router) close() {
	r.mu.Lock()
	current := r.table.Load()
	r.publish(nil)
	r.mu.Unlock()

	select {
	case <-r.stopHealthCheck:
	default:
		close(r.stopHealthCheck)
	}
	<-r.healthCheckDone

	for _, srv := range current.servers {
		srv.close()
	}
}
