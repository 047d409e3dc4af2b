package formulas

import (
	"github.com/markcheno/go-talib"
)

// CalculateRSI calculates the Relative Strength Index over a closing-price
// series and returns the most recent value, or nil when there is not enough
// history for the requested period.
//
// RSI Formula:
//
//	RSI = 100 - (100 / (1 + RS))
//	where RS = Average Gain / Average Loss over N periods
func CalculateRSI(closes []float64, length int) *float64 {
	if len(closes) < length+1 {
		return nil
	}

	rsi := talib.Rsi(closes, length)
	if len(rsi) > 0 && !isNaN(rsi[len(rsi)-1]) {
		result := rsi[len(rsi)-1]
		return &result
	}

	return nil
}

// CalculateEMA calculates the Exponential Moving Average and returns the
// most recent value. Falls back to a simple mean when the series is shorter
// than the requested period.
func CalculateEMA(closes []float64, length int) *float64 {
	if len(closes) == 0 {
		return nil
	}

	if len(closes) < length {
		sma := Mean(closes)
		return &sma
	}

	ema := talib.Ema(closes, length)
	if len(ema) > 0 && !isNaN(ema[len(ema)-1]) {
		result := ema[len(ema)-1]
		return &result
	}

	sma := Mean(closes[len(closes)-length:])
	return &sma
}

// EMAGap returns the fractional distance of the latest close from its EMA:
// (close - ema) / ema. Used as a trend feature in the state vector.
func EMAGap(closes []float64, length int) *float64 {
	ema := CalculateEMA(closes, length)
	if ema == nil || *ema == 0 {
		return nil
	}

	gap := (closes[len(closes)-1] - *ema) / *ema
	return &gap
}

// isNaN checks if a float64 is NaN
func isNaN(f float64) bool {
	return f != f
}
