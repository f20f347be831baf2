/*
Package coordinator shards monitoring work across control-plane instances.

Two pieces cooperate:

Registry keeps this instance's record alive in etcd under a lease
(/fleetwatch/instances/<id>), heartbeats it, and re-registers whenever the
keepalive stream drops. A killed or partitioned instance's record expires
within the lease TTL, so peers observe its departure without any explicit
deregistration.

Coordinator consumes the registry's watch stream and answers ownership
queries with consistent hashing: FNV-1a(workloadID) mod len(instances) over
the sorted instance set. An empty set owns nothing; a singleton owns
everything. Every membership change drops one token into a single-slot
channel so reconcilers can force an immediate out-of-band pass; consecutive
changes coalesce rather than fan out.

When no etcd endpoints are configured, SingleInstance replaces the
Coordinator and owns all workloads.
*/
package coordinator
