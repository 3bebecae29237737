package gpu

import "math"

// Conversions applied at the adapter boundary. Callers never see raw
// microwatts, hertz, millidegrees or PWM duty values.

func MicrowattsToWatts(uw uint64) float64 { return float64(uw) / 1e6 }

func MilliwattsToWatts(mw uint32) float64 { return float64(mw) / 1e3 }

func WattsToMilliwatts(w float64) uint32 { return uint32(math.Round(w * 1e3)) }

func WattsToMicrowatts(w float64) uint64 { return uint64(math.Round(w * 1e6)) }

func HzToMHz(hz uint64) uint32 { return uint32(hz / 1_000_000) }

func KHzToMHz(khz uint64) uint32 { return uint32(khz / 1_000) }

func MillidegreesToCelsius(md int64) float64 { return float64(md) / 1000 }

// PWMToPercent scales a duty value against max (255 when max is zero).
func PWMToPercent(pwm, max uint64) uint32 {
	if max == 0 {
		max = 255
	}
	if pwm >= max {
		return 100
	}
	return uint32(math.Round(float64(pwm) * 100 / float64(max)))
}

// Valid32 drops the all-ones value hardware uses for "not programmed".
func Valid32(v uint32) (uint32, bool) { return v, v != math.MaxUint32 }

func Valid64(v uint64) (uint64, bool) { return v, v != math.MaxUint64 }

// Opt32 returns nil for sentinel values.
func Opt32(v uint32) *uint32 {
	if _, ok := Valid32(v); !ok {
		return nil
	}
	return &v
}

func Opt64(v uint64) *uint64 {
	if _, ok := Valid64(v); !ok {
		return nil
	}
	return &v
}
