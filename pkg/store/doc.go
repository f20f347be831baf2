/*
Package store persists monitor state relationally.

One Store serves both supported engines: postgres URLs select lib/pq and
anything else opens a sqlite file (":memory:" in tests). Queries are written
once with ?-placeholders and rebound per dialect. Timestamps are unix-second
integers and booleans are 0/1 so rows scan identically on both drivers.

Writes that reconcilers repeat every tick are natural-key upserts, which is
what makes a crashed-and-restarted pass safe. Two guards are enforced here
rather than in callers: backtest terminal states are sticky (Complete/Fail
only transition from running) and BeginRunnerDownload only lets one caller
win the idle-to-downloading transition.
*/
package store
