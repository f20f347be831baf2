/*
Package usage turns the append-only resource-sample stream into billable
rollups.

Every aligned hour (plus a 5 minute completeness offset) the Aggregator
writes one hourly rollup per resource: averages for the gauges, max-minus-min
deltas for the cumulative counters. When the 23rd hour of a day closes it
also writes the day's rollup. An optional Deductor receives each closed
hour's rollups for billing; raw samples older than retention are pruned
afterwards either way.
*/
package usage
