package freqtrade

// FormatTimeframe maps a timeframe in minutes to the canonical symbolic set,
// choosing the largest bucket not exceeding the value. Zero or negative means
// unknown and maps to the empty string.
func FormatTimeframe(minutes int64) string {
	switch {
	case minutes >= 10080: // 1 week
		return "1w"
	case minutes >= 1440: // 1 day
		return "1d"
	case minutes >= 240:
		return "4h"
	case minutes >= 60:
		return "1h"
	case minutes >= 30:
		return "30m"
	case minutes >= 15:
		return "15m"
	case minutes >= 5:
		return "5m"
	case minutes >= 1:
		return "1m"
	default:
		return ""
	}
}
