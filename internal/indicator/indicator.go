// Package indicator annotates bar series with the rolling technical
// indicators the signal generator consumes: SMA, RSI, ATR, and average
// volume. Annotation is a pure transformation over one ticker's
// time-ordered series.
package indicator

import (
	"math"

	"tradesim/internal/domain"
)

// Params holds the rolling-window lengths.
type Params struct {
	SMAPeriod    int
	RSIPeriod    int
	ATRPeriod    int
	VolumePeriod int
}

// DefaultParams returns the standard intraday windows: 50-bar SMA, 14-bar
// RSI and ATR, 20-bar volume average.
func DefaultParams() Params {
	return Params{
		SMAPeriod:    50,
		RSIPeriod:    14,
		ATRPeriod:    14,
		VolumePeriod: 20,
	}
}

// Annotate returns a copy of bars with the indicator fields populated.
// Bars must belong to a single ticker and be ordered by timestamp. SMA,
// ATR, and volume average stay nil until their window has enough history;
// RSI is filled with the neutral value 50 during warm-up so the momentum
// filter neither blocks nor forces early entries.
func Annotate(bars []domain.Bar, params Params) []domain.Bar {
	out := make([]domain.Bar, len(bars))
	copy(out, bars)

	closes := make([]float64, len(bars))
	volumes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
		volumes[i] = float64(b.Volume)
	}

	sma := rollingMean(closes, params.SMAPeriod)
	volMA := rollingMean(volumes, params.VolumePeriod)
	rsi := relativeStrength(closes, params.RSIPeriod)
	atr := averageTrueRange(bars, params.ATRPeriod)

	for i := range out {
		out[i].SMA = sma[i]
		out[i].VolumeMA = volMA[i]
		out[i].RSI = rsi[i]
		out[i].ATR = atr[i]
	}
	return out
}

// rollingMean computes a simple moving average, nil until the window is
// full.
func rollingMean(values []float64, period int) []*float64 {
	out := make([]*float64, len(values))
	if period <= 0 {
		return out
	}

	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			mean := sum / float64(period)
			out[i] = &mean
		}
	}
	return out
}

// relativeStrength computes RSI from rolling means of gains and losses over
// close-to-close changes. Indices without a full window of changes carry the
// neutral 50; a window with no losses reads 100, one with no gains reads 0.
func relativeStrength(closes []float64, period int) []*float64 {
	out := make([]*float64, len(closes))
	neutral := 50.0
	for i := range out {
		v := neutral
		out[i] = &v
	}
	if period <= 0 || len(closes) <= period {
		return out
	}

	gains := make([]float64, len(closes))
	losses := make([]float64, len(closes))
	for i := 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gains[i] = d
		} else {
			losses[i] = -d
		}
	}

	var gainSum, lossSum float64
	for i := 1; i < len(closes); i++ {
		gainSum += gains[i]
		lossSum += losses[i]
		if i > period {
			gainSum -= gains[i-period]
			lossSum -= losses[i-period]
		}
		if i < period {
			continue
		}

		avgGain := gainSum / float64(period)
		avgLoss := lossSum / float64(period)

		var v float64
		if avgLoss == 0 {
			v = 100.0
		} else {
			rs := avgGain / avgLoss
			v = 100.0 - 100.0/(1.0+rs)
		}
		out[i] = &v
	}
	return out
}

// averageTrueRange computes the rolling mean of the true range, nil until
// the window is full. The first bar's true range is its high-low span.
func averageTrueRange(bars []domain.Bar, period int) []*float64 {
	tr := make([]float64, len(bars))
	for i, b := range bars {
		r := b.High - b.Low
		if i > 0 {
			prevClose := bars[i-1].Close
			r = math.Max(r, math.Max(math.Abs(b.High-prevClose), math.Abs(b.Low-prevClose)))
		}
		tr[i] = r
	}
	return rollingMean(tr, period)
}
