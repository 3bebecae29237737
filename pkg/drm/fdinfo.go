package drm

import (
	"strconv"
	"strings"

	"GpuTelemetry/pkg/gpu"
)

// Client is one DRM file description as reported in /proc/<pid>/fdinfo/<fd>.
type Client struct {
	Driver   string
	PDev     string
	ClientID string
	VRAM     uint64
	GTT      uint64
	HasVRAM  bool
	EngineNs map[string]uint64
}

// Memory key families, in order of preference. amdgpu prints the standard
// drm-total-*/drm-resident-* keys and the legacy drm-memory-* aliases for the
// same buffers, so only one family may be counted per client.
const (
	familyTotal = iota
	familyResident
	familyLegacy
	familyCount
)

// regionUsage accumulates one memory region per key family.
type regionUsage struct {
	bytes [familyCount]uint64
	seen  [familyCount]bool
}

func (r *regionUsage) add(family int, b uint64) {
	r.bytes[family] += b
	r.seen[family] = true
}

// pick returns the most preferred family that was reported.
func (r regionUsage) pick() (uint64, bool) {
	for f := 0; f < familyCount; f++ {
		if r.seen[f] {
			return r.bytes[f], true
		}
	}
	return 0, false
}

// memoryKey splits drm-<family>-<region> into its family and region kind.
// Region is "vram" for device-local memory (amdgpu vram, i915/xe local) and
// "gtt" for system memory mapped into the GPU.
func memoryKey(key string) (family int, region string, ok bool) {
	var rest string
	switch {
	case strings.HasPrefix(key, "drm-total-"):
		family, rest = familyTotal, strings.TrimPrefix(key, "drm-total-")
	case strings.HasPrefix(key, "drm-resident-"):
		family, rest = familyResident, strings.TrimPrefix(key, "drm-resident-")
	case strings.HasPrefix(key, "drm-memory-"):
		family, rest = familyLegacy, strings.TrimPrefix(key, "drm-memory-")
	default:
		return 0, "", false
	}
	switch {
	case strings.HasPrefix(rest, "vram"), strings.HasPrefix(rest, "local"):
		return family, "vram", true
	case strings.HasPrefix(rest, "gtt"):
		return family, "gtt", true
	}
	return 0, "", false
}

// ParseFdinfo extracts the drm-* keys of an fdinfo file. ok is false when the
// descriptor does not belong to a DRM driver.
func ParseFdinfo(content string) (Client, bool) {
	var c Client
	var vram, gtt regionUsage
	for _, line := range strings.Split(content, "\n") {
		key, value, found := strings.Cut(line, ":")
		if !found || !strings.HasPrefix(key, "drm-") {
			continue
		}
		value = strings.TrimSpace(value)

		if family, region, ok := memoryKey(key); ok {
			b, ok := parseMemory(value)
			if !ok {
				continue
			}
			if region == "vram" {
				vram.add(family, b)
			} else {
				gtt.add(family, b)
			}
			continue
		}

		switch {
		case key == "drm-driver":
			c.Driver = value
		case key == "drm-pdev":
			c.PDev = value
		case key == "drm-client-id":
			c.ClientID = value
		case strings.HasPrefix(key, "drm-engine-") && !strings.HasPrefix(key, "drm-engine-capacity-"):
			if ns, ok := parseEngineTime(value); ok {
				if c.EngineNs == nil {
					c.EngineNs = make(map[string]uint64)
				}
				c.EngineNs[strings.TrimPrefix(key, "drm-engine-")] += ns
			}
		}
	}
	c.VRAM, c.HasVRAM = vram.pick()
	c.GTT, _ = gtt.pick()
	return c, c.Driver != ""
}

// parseMemory accepts "1234", "1234 KiB", "12 MiB" and "1 GiB".
func parseMemory(value string) (uint64, bool) {
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return 0, false
	}
	n, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return 0, false
	}
	if len(fields) == 1 {
		return n, true
	}
	switch strings.ToUpper(fields[1]) {
	case "KIB", "KB":
		return n << 10, true
	case "MIB", "MB":
		return n << 20, true
	case "GIB", "GB":
		return n << 30, true
	}
	return n, true
}

func parseEngineTime(value string) (uint64, bool) {
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return 0, false
	}
	n, err := strconv.ParseUint(fields[0], 10, 64)
	return n, err == nil
}

// EngineKind maps an engine name to the process type it implies.
func EngineKind(engine string) gpu.ProcessType {
	switch engine {
	case "gfx", "render", "rcs":
		return gpu.ProcessGraphics
	case "compute", "ccs":
		return gpu.ProcessCompute
	}
	return gpu.ProcessUnknown
}

// Active reports whether the client holds memory or has used an engine.
func (c Client) Active() bool {
	if c.VRAM > 0 || c.GTT > 0 {
		return true
	}
	for _, ns := range c.EngineNs {
		if ns > 0 {
			return true
		}
	}
	return false
}

// ProcessType classifies the engines the client has run work on.
func (c Client) ProcessType() gpu.ProcessType {
	typ := gpu.ProcessUnknown
	for engine, ns := range c.EngineNs {
		if ns == 0 {
			continue
		}
		typ = typ.Merge(EngineKind(engine))
	}
	return typ
}
