package drm

import (
	"errors"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"GpuTelemetry/pkg/gpu"
	"GpuTelemetry/pkg/probing"
)

// Hwmon is a hardware-monitor directory such as device/hwmon/hwmon3.
type Hwmon string

// FindHwmon returns the first hwmon directory below a device.
func FindHwmon(devicePath string) (Hwmon, bool) {
	matches, _ := filepath.Glob(filepath.Join(devicePath, "hwmon", "hwmon*"))
	if len(matches) == 0 {
		return "", false
	}
	sort.Strings(matches)
	return Hwmon(matches[0]), true
}

func (h Hwmon) Path(attr string) string { return filepath.Join(string(h), attr) }

func (h Hwmon) Uint(attr string) (uint64, error) {
	if h == "" {
		return 0, gpu.NotSupported(attr)
	}
	v, err := probing.FileUint(h.Path(attr))
	if err != nil {
		return 0, gpu.QueryFailed(attr, err)
	}
	return v, nil
}

func (h Hwmon) Int(attr string) (int64, error) {
	if h == "" {
		return 0, gpu.NotSupported(attr)
	}
	v, err := probing.FileInt(h.Path(attr))
	if err != nil {
		return 0, gpu.QueryFailed(attr, err)
	}
	return v, nil
}

// Celsius reads a millidegree attribute, nil when absent.
func (h Hwmon) Celsius(attr string) *float64 {
	v, err := h.Int(attr)
	if err != nil {
		return nil
	}
	return gpu.Ptr(gpu.MillidegreesToCelsius(v))
}

// Watts reads a microwatt attribute.
func (h Hwmon) Watts(attr string) (float64, error) {
	v, err := h.Uint(attr)
	if err != nil {
		return 0, err
	}
	return gpu.MicrowattsToWatts(v), nil
}

// TempInput finds the temp*_input whose temp*_label equals label
// (case-insensitive) and falls back to the numbered input.
func (h Hwmon) TempInput(label string, fallback int) string {
	labels, _ := filepath.Glob(h.Path("temp*_label"))
	for _, l := range labels {
		if v, err := probing.String(l); err == nil && strings.EqualFold(v, label) {
			return strings.TrimSuffix(filepath.Base(l), "_label") + "_input"
		}
	}
	if fallback <= 0 {
		return ""
	}
	return "temp" + strconv.Itoa(fallback) + "_input"
}

// Fan reads fan1_input (RPM) and pwm1 scaled by pwm1_max.
func (h Hwmon) Fan() (gpu.FanSpeed, error) {
	var fan gpu.FanSpeed
	if rpm, err := h.Uint("fan1_input"); err == nil {
		fan.RPM = gpu.Opt32(uint32(rpm))
	}
	if pwm, err := h.Uint("pwm1"); err == nil {
		max, _ := h.Uint("pwm1_max")
		fan.Percent = gpu.Ptr(gpu.PWMToPercent(pwm, max))
	}
	if fan.RPM == nil && fan.Percent == nil {
		return fan, gpu.QueryFailed("fan speed", errors.New("no fan sensor"))
	}
	return fan, nil
}
