/*
Package runtime abstracts the container platform hosting bot and backtest
workloads.

The Runtime interface covers exactly what the monitor consumes: bot
inspection keyed by the bot's UUID, an HTTP transport into the bot's API,
backtest status and artifact retrieval, post-terminal cleanup, and one-shot
exchange data downloads. DockerRuntime is the production implementation;
Factory builds one from a runner's type and opaque config. Mock backs
monitor tests with per-test func fields.

Resource stats come from the daemon's stats endpoint. CPU percent handles
both cgroups generations: v1 exposes per-CPU usage slices, v2 reports only
an online-CPU count.
*/
package runtime
