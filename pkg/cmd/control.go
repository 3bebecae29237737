package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"GpuTelemetry/pkg/gpu"
	"GpuTelemetry/pkg/logging"

	"github.com/spf13/pflag"
)

// controlRequest lists the settings to change; nil fields are left alone.
type controlRequest struct {
	PowerLimitW *float64
	LockClocks  *[2]uint32
	ResetClocks bool
	ComputeMode *gpu.ComputeMode
	Persistence *bool
}

func (r controlRequest) empty() bool {
	return r.PowerLimitW == nil && r.LockClocks == nil && !r.ResetClocks && r.ComputeMode == nil && r.Persistence == nil
}

// Control changes power, clock, compute mode and persistence settings of
// one device. Most operations need root.
func Control(args []string) {
	var index int
	var powerLimit float64
	var clocks, computeMode, persistence string
	var resetClocks bool
	ctx, fs, cleanup := InitCmd("control", args, func(fs *pflag.FlagSet) {
		fs.IntVarP(&index, "gpu", "i", 0, "Device position in the collection")
		fs.Float64Var(&powerLimit, "power-limit", 0, "Power limit in watts")
		fs.StringVar(&clocks, "lock-clocks", "", "Lock graphics clocks to MIN,MAX MHz")
		fs.BoolVar(&resetClocks, "reset-clocks", false, "Reset locked graphics clocks")
		fs.StringVar(&computeMode, "compute-mode", "", "Default, ExclusiveThread, Prohibited or ExclusiveProcess")
		fs.StringVar(&persistence, "persistence", "", "Persistence mode on or off")
	})
	defer cleanup()
	log := logging.WithComponent("cmd")

	var req controlRequest
	var err error
	if fs.Changed("power-limit") {
		req.PowerLimitW = &powerLimit
	}
	if fs.Changed("lock-clocks") {
		var lo, hi uint32
		if lo, hi, err = parseClockRange(clocks); err != nil {
			log.Fatal(err)
		}
		req.LockClocks = &[2]uint32{lo, hi}
	}
	req.ResetClocks = resetClocks
	if fs.Changed("compute-mode") {
		var mode gpu.ComputeMode
		if mode, err = parseComputeMode(computeMode); err != nil {
			log.Fatal(err)
		}
		req.ComputeMode = &mode
	}
	if fs.Changed("persistence") {
		var on bool
		if on, err = parseOnOff(persistence); err != nil {
			log.Fatal(err)
		}
		req.Persistence = &on
	}

	d, ok := ctx.Gpus.Get(index)
	if !ok {
		log.Fatalf("No device at position %d (%d detected)", index, ctx.Gpus.Len())
	}
	if err := applyControl(d, req); err != nil {
		log.Fatal(err)
	}
}

func parseClockRange(s string) (uint32, uint32, error) {
	lo, hi, ok := strings.Cut(s, ",")
	if !ok {
		return 0, 0, gpu.InvalidArgument("lock clocks", fmt.Errorf("want MIN,MAX, got %q", s))
	}
	minMHz, err := strconv.ParseUint(strings.TrimSpace(lo), 10, 32)
	if err != nil {
		return 0, 0, gpu.InvalidArgument("lock clocks", err)
	}
	maxMHz, err := strconv.ParseUint(strings.TrimSpace(hi), 10, 32)
	if err != nil {
		return 0, 0, gpu.InvalidArgument("lock clocks", err)
	}
	if minMHz > maxMHz {
		return 0, 0, gpu.InvalidArgument("lock clocks", fmt.Errorf("min %d above max %d", minMHz, maxMHz))
	}
	return uint32(minMHz), uint32(maxMHz), nil
}

func parseComputeMode(s string) (gpu.ComputeMode, error) {
	for _, m := range []gpu.ComputeMode{
		gpu.ComputeModeDefault,
		gpu.ComputeModeExclusiveThread,
		gpu.ComputeModeProhibited,
		gpu.ComputeModeExclusiveProcess,
	} {
		if strings.EqualFold(s, string(m)) {
			return m, nil
		}
	}
	return "", gpu.InvalidArgument("compute mode", fmt.Errorf("unknown mode %q", s))
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "enabled":
		return true, nil
	case "off", "disabled":
		return false, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, gpu.InvalidArgument("persistence", fmt.Errorf("want on or off, got %q", s))
	}
	return v, nil
}

// applyControl performs every requested change in a fixed order and stops
// at the first failure.
func applyControl(d gpu.Device, req controlRequest) error {
	if req.empty() {
		return gpu.InvalidArgument("control", errors.New("nothing to change"))
	}
	log := logging.WithComponent("cmd").WithField("gpu", d.Index()).WithField("vendor", d.Vendor())

	if req.PowerLimitW != nil {
		if err := d.SetPowerLimit(*req.PowerLimitW); err != nil {
			return err
		}
		log.Infof("power limit set to %.1f W", *req.PowerLimitW)
	}
	if req.ResetClocks {
		if err := d.ResetGPUClocks(); err != nil {
			return err
		}
		log.Info("graphics clocks reset")
	}
	if c := req.LockClocks; c != nil {
		if err := d.LockGPUClocks(c[0], c[1]); err != nil {
			return err
		}
		log.Infof("graphics clocks locked to %d-%d MHz", c[0], c[1])
	}
	if req.ComputeMode != nil {
		if err := d.SetComputeMode(*req.ComputeMode); err != nil {
			return err
		}
		log.Infof("compute mode set to %s", *req.ComputeMode)
	}
	if req.Persistence != nil {
		if err := d.SetPersistenceMode(*req.Persistence); err != nil {
			return err
		}
		log.Infof("persistence mode set to %v", *req.Persistence)
	}
	return nil
}
