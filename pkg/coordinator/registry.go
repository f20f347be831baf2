package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/fleetwatch/fleetwatch/pkg/log"
	"github.com/fleetwatch/fleetwatch/pkg/types"
)

const (
	// InstancePrefix is the coordination-store key prefix for instance records
	InstancePrefix = "/fleetwatch/instances/"

	dialTimeout = 5 * time.Second
)

// GenerateInstanceID builds the default <hostname>-<nanoseconds> instance ID
func GenerateInstanceID() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "unknown"
	}
	hostname = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '-'
		}
	}, hostname)
	return fmt.Sprintf("%s-%d", hostname, time.Now().UnixNano())
}

// Registry keeps this instance's record alive in etcd under a lease and
// exposes a watch over the live instance set
type Registry struct {
	client            *clientv3.Client
	instanceID        string
	hostname          string
	leaseTTL          int64
	heartbeatInterval time.Duration

	leaseID   clientv3.LeaseID
	keepalive <-chan *clientv3.LeaseKeepAliveResponse
	startedAt time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewRegistry connects to the coordination store. A connection failure here
// is a fatal startup error for distributed mode.
func NewRegistry(endpoints []string, instanceID string, leaseTTL int64, heartbeatInterval time.Duration) (*Registry, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	hostname, _ := os.Hostname()

	return &Registry{
		client:            client,
		instanceID:        instanceID,
		hostname:          hostname,
		leaseTTL:          leaseTTL,
		heartbeatInterval: heartbeatInterval,
		stopCh:            make(chan struct{}),
		doneCh:            make(chan struct{}),
	}, nil
}

// InstanceID returns this instance's ID
func (r *Registry) InstanceID() string {
	return r.instanceID
}

// Start registers the instance and begins the heartbeat loop
func (r *Registry) Start(ctx context.Context) error {
	r.startedAt = time.Now()

	if err := r.register(ctx); err != nil {
		return err
	}

	go r.heartbeatLoop(ctx)
	return nil
}

// Stop revokes the lease, which atomically removes the instance record
func (r *Registry) Stop(ctx context.Context) error {
	close(r.stopCh)
	<-r.doneCh

	if r.leaseID != 0 {
		if _, err := r.client.Revoke(ctx, r.leaseID); err != nil {
			log.WithComponent("registry").Warn().Err(err).Msg("failed to revoke lease")
		}
	}
	return r.client.Close()
}

// register grants a lease and writes the instance record under it. The
// grant and put are time-bounded; the keepalive stream binds to ctx itself
// because it must stay open for the lease's whole life.
func (r *Registry) register(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	lease, err := r.client.Grant(opCtx, r.leaseTTL)
	if err != nil {
		return fmt.Errorf("failed to grant lease: %w", err)
	}
	r.leaseID = lease.ID

	if err := r.putRecord(opCtx); err != nil {
		return err
	}

	// Keepalive refreshes the lease for as long as the stream is healthy
	ka, err := r.client.KeepAlive(ctx, r.leaseID)
	if err != nil {
		return fmt.Errorf("failed to start lease keepalive: %w", err)
	}
	r.keepalive = ka

	log.WithComponent("registry").Info().
		Str("instance_id", r.instanceID).
		Int64("lease_ttl", r.leaseTTL).
		Msg("instance registered")
	return nil
}

func (r *Registry) putRecord(ctx context.Context) error {
	record := types.InstanceInfo{
		InstanceID:    r.instanceID,
		Hostname:      r.hostname,
		StartedAt:     r.startedAt,
		LastHeartbeat: time.Now(),
	}
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}

	_, err = r.client.Put(ctx, InstancePrefix+r.instanceID, string(data), clientv3.WithLease(r.leaseID))
	if err != nil {
		return fmt.Errorf("failed to write instance record: %w", err)
	}
	return nil
}

// heartbeatLoop rewrites the record every heartbeat interval and
// re-registers if the keepalive stream dies. It never gives up while the
// context is live; a partitioned instance's record expires on its own after
// the lease TTL.
func (r *Registry) heartbeatLoop(ctx context.Context) {
	defer close(r.doneCh)

	logger := log.WithComponent("registry")
	ticker := time.NewTicker(r.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			hbCtx, cancel := context.WithTimeout(ctx, dialTimeout)
			err := r.putRecord(hbCtx)
			cancel()
			if err != nil {
				logger.Warn().Err(err).Msg("heartbeat write failed")
			}
		case _, ok := <-r.keepalive:
			if ok {
				continue
			}
			// Keepalive stream closed; lease may expire. Grant a fresh
			// lease and re-register until it sticks. The loop's own
			// context keeps the new keepalive stream alive.
			logger.Warn().Msg("lease keepalive lost, re-registering")
			for {
				err := r.register(ctx)
				if err == nil {
					break
				}
				logger.Error().Err(err).Msg("re-registration failed")
				select {
				case <-ctx.Done():
					return
				case <-r.stopCh:
					return
				case <-time.After(r.heartbeatInterval):
				}
			}
		}
	}
}

// WatchInstances emits the current instance ID set, then a fresh set on
// every change under the prefix. The channel closes when ctx ends.
func (r *Registry) WatchInstances(ctx context.Context) (<-chan []string, error) {
	out := make(chan []string, 4)

	initial, err := r.listInstances(ctx)
	if err != nil {
		return nil, err
	}

	watchCh := r.client.Watch(ctx, InstancePrefix, clientv3.WithPrefix())

	go func() {
		defer close(out)

		out <- initial

		for {
			select {
			case <-ctx.Done():
				return
			case resp, ok := <-watchCh:
				if !ok {
					return
				}
				if resp.Err() != nil {
					log.WithComponent("registry").Warn().Err(resp.Err()).Msg("instance watch error")
					continue
				}
				listCtx, cancel := context.WithTimeout(ctx, dialTimeout)
				instances, err := r.listInstances(listCtx)
				cancel()
				if err != nil {
					log.WithComponent("registry").Warn().Err(err).Msg("failed to relist instances")
					continue
				}
				select {
				case out <- instances:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (r *Registry) listInstances(ctx context.Context) ([]string, error) {
	resp, err := r.client.Get(ctx, InstancePrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}

	instances := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		instances = append(instances, strings.TrimPrefix(string(kv.Key), InstancePrefix))
	}
	return instances, nil
}
