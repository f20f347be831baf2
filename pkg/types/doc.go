/*
Package types defines the domain entities shared across fleetwatch.

Entities mirror the relational schema: Bot, BotMetrics (one-to-one with Bot),
Trade (many-to-one, natural key bot_id + freqtrade_trade_id + open_date),
Backtest, BotRunner, UsageSample, and the ephemeral InstanceInfo held in the
coordination store.

Untyped configuration maps (secure_config, data_download_config) cross into
the monitor exactly once, through the typed parsers in parse.go. Everything
past that boundary works with APICredentials and DataDownloadConfig values.
*/
package types
