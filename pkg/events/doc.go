/*
Package events carries the monitor's pub/sub surface.

Two topic families exist: trades/<bot_id> and trades/owner/<owner_id> carry
TradeEvent; runners/<runner_id> and runners/owner/<owner_id> carry
RunnerEvent. Every event is published on both its workload topic and its
owner topic.

Publisher has two implementations: RedisPublisher for distributed
deployments, where subscribers live in other processes, and the in-process
Broker for single-instance runs and tests. Delivery is best effort in both;
reconcilers never block on a slow consumer.
*/
package events
