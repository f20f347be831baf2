// Package alert defines the grouped notification contract the monitor
// emits on: one alert per bot per sync pass per event class, and one per
// backtest outcome. LogManager is the built-in implementation; Recorder
// captures calls in tests.
package alert
