// Adapted from the teacher's registry package: the same
// Register/Discover/Watch shape that backed RPC service discovery,
// repurposed here as an optional way to keep a Pool's host list in sync
// with broker endpoints recorded in etcd, instead of a hardcoded
// HostSpec slice. The static list from spec.md §6 (`hosts`) remains the
// only required configuration path — this is additive.
package hostpool

import (
	"context"
	"encoding/json"

	clientv3 "go.etcd.io/etcd/client/v3"

	"gostomp/internal/errs"
)

// HostSource discovers and watches HostSpecs under some external
// directory, mirroring the teacher's Registry interface but keyed on
// connection endpoints rather than RPC service instances.
type HostSource interface {
	Discover(name string) ([]HostSpec, error)
	Watch(name string) <-chan []HostSpec
}

// EtcdHostSource implements HostSource against etcd v3, storing each
// host under /stomp-hosts/{name}/{addr} the same way the teacher's
// EtcdRegistry stored RPC service instances under their own
// service-name prefix.
type EtcdHostSource struct {
	client *clientv3.Client
}

// NewEtcdHostSource connects to the given etcd endpoints.
func NewEtcdHostSource(endpoints []string) (*EtcdHostSource, error) {
	c, err := clientv3.New(clientv3.Config{Endpoints: endpoints})
	if err != nil {
		return nil, errs.Wrap(errs.KindTransportError, err)
	}
	return &EtcdHostSource{client: c}, nil
}

// Publish records a host under the given pool name with a TTL lease,
// for a broker-side or ops process to announce an endpoint the way the
// teacher's Register announced an RPC server instance.
func (s *EtcdHostSource) Publish(name string, host HostSpec, ttlSeconds int64) error {
	ctx := context.Background()

	lease, err := s.client.Grant(ctx, ttlSeconds)
	if err != nil {
		return errs.Wrap(errs.KindTransportError, err)
	}

	val, err := json.Marshal(host)
	if err != nil {
		return errs.Wrap(errs.KindTransportError, err)
	}

	key := "/stomp-hosts/" + name + "/" + host.Address()
	if _, err := s.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return errs.Wrap(errs.KindTransportError, err)
	}

	ch, err := s.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return errs.Wrap(errs.KindTransportError, err)
	}
	go func() {
		for range ch {
		}
	}()
	return nil
}

// Discover returns every host currently published under name.
func (s *EtcdHostSource) Discover(name string) ([]HostSpec, error) {
	ctx := context.Background()
	prefix := "/stomp-hosts/" + name + "/"

	resp, err := s.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, errs.Wrap(errs.KindTransportError, err)
	}

	hosts := make([]HostSpec, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var h HostSpec
		if err := json.Unmarshal(kv.Value, &h); err != nil {
			continue
		}
		hosts = append(hosts, h)
	}
	return hosts, nil
}

// Watch emits the full host list under name whenever any key under its
// prefix changes, using etcd's server-push Watch API.
func (s *EtcdHostSource) Watch(name string) <-chan []HostSpec {
	ctx := context.Background()
	out := make(chan []HostSpec, 1)
	prefix := "/stomp-hosts/" + name + "/"

	go func() {
		watchChan := s.client.Watch(ctx, prefix, clientv3.WithPrefix())
		for range watchChan {
			hosts, err := s.Discover(name)
			if err != nil {
				continue
			}
			out <- hosts
		}
	}()

	return out
}

// SyncPool discovers the current host list once and installs it into
// pool, then keeps pool in sync with every subsequent Watch update until
// ctx is canceled.
func SyncPool(ctx context.Context, pool *Pool, source HostSource, name string) error {
	hosts, err := source.Discover(name)
	if err != nil {
		return err
	}
	if len(hosts) > 0 {
		pool.SetHosts(hosts)
	}

	updates := source.Watch(name)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case hosts, ok := <-updates:
				if !ok {
					return
				}
				if len(hosts) > 0 {
					pool.SetHosts(hosts)
				}
			}
		}
	}()
	return nil
}
