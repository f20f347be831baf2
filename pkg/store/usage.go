package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fleetwatch/fleetwatch/pkg/types"
)

// InsertUsageSample appends one point to the usage stream. The primary key
// makes a duplicated sample for the same instant a conflict, which is
// silently kept as the first write.
func (s *Store) InsertUsageSample(ctx context.Context, sample *types.UsageSample) error {
	_, err := s.exec(ctx, `INSERT INTO usage_samples (resource_type, resource_id,
		owner_id, runner_id, cpu_percent, memory_bytes, network_rx_bytes,
		network_tx_bytes, block_read_bytes, block_write_bytes, sampled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (resource_type, resource_id, sampled_at) DO NOTHING`,
		string(sample.ResourceType), sample.ResourceID.String(), sample.OwnerID,
		sample.RunnerID.String(), sample.CPUPercent, sample.MemoryBytes,
		sample.NetworkRxBytes, sample.NetworkTxBytes, sample.BlockReadBytes,
		sample.BlockWriteBytes, timeArg(sample.SampledAt))
	if err != nil {
		return fmt.Errorf("failed to insert usage sample: %w", err)
	}
	return nil
}

// AggregateUsage rolls samples in [bucketStart, bucketEnd) up into one rollup
// row per resource, matching the rollup primary key. Gauges (cpu, memory)
// aggregate as avg and max. Counters (network, block io) are cumulative per
// container, so deltas are computed per runner first and summed, which keeps
// the totals right when a resource moves between runners mid-bucket. The
// rollup carries one representative runner per bucket. Re-running the same
// bucket overwrites it, so aggregation is idempotent.
func (s *Store) AggregateUsage(ctx context.Context, granularity types.Granularity, bucketStart, bucketEnd time.Time) error {
	_, err := s.exec(ctx, `INSERT INTO usage_rollups (resource_type, resource_id,
		owner_id, runner_id, granularity, bucket_start, cpu_avg_percent,
		cpu_max_percent, memory_avg_bytes, memory_max_bytes, network_rx_bytes,
		network_tx_bytes, block_read_bytes, block_write_bytes, sample_count)
		SELECT resource_type, resource_id, MAX(owner_id), MAX(runner_id), ?, ?,
			SUM(cpu_sum) / SUM(n), MAX(cpu_max),
			CAST(SUM(memory_sum) / SUM(n) AS BIGINT), MAX(memory_max),
			SUM(rx_delta), SUM(tx_delta), SUM(br_delta), SUM(bw_delta),
			SUM(n)
		FROM (
			SELECT resource_type, resource_id, owner_id, runner_id,
				SUM(cpu_percent) AS cpu_sum, MAX(cpu_percent) AS cpu_max,
				SUM(memory_bytes) AS memory_sum, MAX(memory_bytes) AS memory_max,
				MAX(network_rx_bytes) - MIN(network_rx_bytes) AS rx_delta,
				MAX(network_tx_bytes) - MIN(network_tx_bytes) AS tx_delta,
				MAX(block_read_bytes) - MIN(block_read_bytes) AS br_delta,
				MAX(block_write_bytes) - MIN(block_write_bytes) AS bw_delta,
				COUNT(*) AS n
			FROM usage_samples
			WHERE sampled_at >= ? AND sampled_at < ?
			GROUP BY resource_type, resource_id, owner_id, runner_id
		) per_runner
		WHERE true
		GROUP BY resource_type, resource_id
		ON CONFLICT (resource_type, resource_id, granularity, bucket_start) DO UPDATE SET
			cpu_avg_percent = excluded.cpu_avg_percent,
			cpu_max_percent = excluded.cpu_max_percent,
			memory_avg_bytes = excluded.memory_avg_bytes,
			memory_max_bytes = excluded.memory_max_bytes,
			network_rx_bytes = excluded.network_rx_bytes,
			network_tx_bytes = excluded.network_tx_bytes,
			block_read_bytes = excluded.block_read_bytes,
			block_write_bytes = excluded.block_write_bytes,
			sample_count = excluded.sample_count`,
		string(granularity), timeArg(bucketStart), timeArg(bucketStart), timeArg(bucketEnd))
	if err != nil {
		return fmt.Errorf("failed to aggregate usage: %w", err)
	}
	return nil
}

// AggregateDaily folds a day's hourly rollups into one daily rollup per
// resource, again matching the rollup primary key so hours spent on
// different runners land in the same row. Averages weight every hour
// equally, which matches how the hourly rows were produced from evenly
// spaced samples.
func (s *Store) AggregateDaily(ctx context.Context, dayStart time.Time) error {
	dayEnd := dayStart.Add(24 * time.Hour)
	_, err := s.exec(ctx, `INSERT INTO usage_rollups (resource_type, resource_id,
		owner_id, runner_id, granularity, bucket_start, cpu_avg_percent,
		cpu_max_percent, memory_avg_bytes, memory_max_bytes, network_rx_bytes,
		network_tx_bytes, block_read_bytes, block_write_bytes, sample_count)
		SELECT resource_type, resource_id, MAX(owner_id), MAX(runner_id), ?, ?,
			AVG(cpu_avg_percent), MAX(cpu_max_percent),
			CAST(AVG(memory_avg_bytes) AS BIGINT), MAX(memory_max_bytes),
			SUM(network_rx_bytes), SUM(network_tx_bytes),
			SUM(block_read_bytes), SUM(block_write_bytes),
			SUM(sample_count)
		FROM usage_rollups
		WHERE granularity = ? AND bucket_start >= ? AND bucket_start < ?
		GROUP BY resource_type, resource_id
		ON CONFLICT (resource_type, resource_id, granularity, bucket_start) DO UPDATE SET
			cpu_avg_percent = excluded.cpu_avg_percent,
			cpu_max_percent = excluded.cpu_max_percent,
			memory_avg_bytes = excluded.memory_avg_bytes,
			memory_max_bytes = excluded.memory_max_bytes,
			network_rx_bytes = excluded.network_rx_bytes,
			network_tx_bytes = excluded.network_tx_bytes,
			block_read_bytes = excluded.block_read_bytes,
			block_write_bytes = excluded.block_write_bytes,
			sample_count = excluded.sample_count`,
		string(types.GranularityDaily), timeArg(dayStart),
		string(types.GranularityHourly), timeArg(dayStart), timeArg(dayEnd))
	if err != nil {
		return fmt.Errorf("failed to aggregate daily usage: %w", err)
	}
	return nil
}

// ListRollups returns the rollups for one bucket, every resource
func (s *Store) ListRollups(ctx context.Context, granularity types.Granularity, bucketStart time.Time) ([]*types.UsageRollup, error) {
	rows, err := s.query(ctx, `SELECT resource_type, resource_id, owner_id,
		runner_id, granularity, bucket_start, cpu_avg_percent, cpu_max_percent,
		memory_avg_bytes, memory_max_bytes, network_rx_bytes, network_tx_bytes,
		block_read_bytes, block_write_bytes, sample_count
		FROM usage_rollups WHERE granularity = ? AND bucket_start = ?
		ORDER BY resource_type, resource_id`,
		string(granularity), timeArg(bucketStart))
	if err != nil {
		return nil, fmt.Errorf("failed to list rollups: %w", err)
	}
	defer rows.Close()

	var rollups []*types.UsageRollup
	for rows.Next() {
		var (
			r                      types.UsageRollup
			resType, resID         string
			runnerID, gran         string
			bucket                 int64
		)
		err := rows.Scan(&resType, &resID, &r.OwnerID, &runnerID, &gran, &bucket,
			&r.CPUAvgPercent, &r.CPUMaxPercent, &r.MemoryAvgBytes, &r.MemoryMaxBytes,
			&r.NetworkRxBytes, &r.NetworkTxBytes, &r.BlockReadBytes,
			&r.BlockWriteBytes, &r.SampleCount)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rollup: %w", err)
		}
		if r.ResourceID, err = uuid.Parse(resID); err != nil {
			return nil, fmt.Errorf("invalid resource id %q: %w", resID, err)
		}
		if r.RunnerID, err = uuid.Parse(runnerID); err != nil {
			return nil, fmt.Errorf("invalid runner id %q: %w", runnerID, err)
		}
		r.ResourceType = types.ResourceType(resType)
		r.Granularity = types.Granularity(gran)
		r.BucketStart = timeVal(bucket)
		rollups = append(rollups, &r)
	}
	return rollups, rows.Err()
}

// PruneUsageSamples deletes samples older than cutoff and reports how many
func (s *Store) PruneUsageSamples(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.exec(ctx, `DELETE FROM usage_samples WHERE sampled_at < ?`, timeArg(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to prune usage samples: %w", err)
	}
	return res.RowsAffected()
}

// CountUsageSamples reports how many samples exist for a resource
func (s *Store) CountUsageSamples(ctx context.Context, resourceID uuid.UUID) (int, error) {
	var n int
	err := s.queryRow(ctx, `SELECT COUNT(*) FROM usage_samples WHERE resource_id = ?`,
		resourceID.String()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count usage samples: %w", err)
	}
	return n, nil
}
