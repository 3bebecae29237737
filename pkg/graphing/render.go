package graphing

import (
	"bytes"
	"fmt"
	"strings"

	"GpuTelemetry/pkg/exporting"
)

// StaticInfoData is the static record shaped for the report header.
type StaticInfoData struct {
	SessionID     string
	Hostname      string
	NumProcessors int64
	CPUType       string
	CPUCache      string
	KernelInfo    string
	GPUCount      int64
	GPUs          []GPUData
}

type GPUData struct {
	Index             int64
	Vendor            string
	Name              string
	PCIBusID          string
	UUID              string
	DriverVersion     string
	VBIOSVersion      string
	ComputeCapability string
	MemoryVendor      string
	ShaderCores       int64
	L2CacheBytes      int64
	Integrated        bool
}

func parseStaticInfo(sessionID string, info map[string]interface{}) *StaticInfoData {
	if info == nil {
		return nil
	}
	data := &StaticInfoData{
		SessionID:     sessionID,
		Hostname:      getString(info, "hostname"),
		NumProcessors: getInt64(info, "numProcessors"),
		CPUType:       getString(info, "cpuType"),
		CPUCache:      getString(info, "cpuCache"),
		KernelInfo:    getString(info, "kernelInfo"),
		GPUCount:      getInt64(info, "gpuCount"),
	}

	gpus, _ := info["gpus"].([]interface{})
	for _, g := range gpus {
		m, ok := g.(map[string]interface{})
		if !ok {
			continue
		}
		integrated, _ := m["integrated"].(bool)
		data.GPUs = append(data.GPUs, GPUData{
			Index:             getInt64(m, "index"),
			Vendor:            getString(m, "vendor"),
			Name:              getString(m, "name"),
			PCIBusID:          getString(m, "pci_bus_id"),
			UUID:              getString(m, "uuid"),
			DriverVersion:     getString(m, "driver_version"),
			VBIOSVersion:      getString(m, "vbios_version"),
			ComputeCapability: getString(m, "compute_capability"),
			MemoryVendor:      getString(m, "memory_vendor"),
			ShaderCores:       getInt64(m, "shader_cores"),
			L2CacheBytes:      getInt64(m, "l2_cache"),
			Integrated:        integrated,
		})
	}
	return data
}

// injectStaticInfo puts the report styles into the head of the rendered
// chart page and the static info block at the top of its body.
func injectStaticInfo(page, sessionID string, info map[string]interface{}) (string, error) {
	var styles bytes.Buffer
	if err := templates.ExecuteTemplate(&styles, "styles", nil); err != nil {
		return "", fmt.Errorf("failed to render styles: %w", err)
	}
	if err := templates.ExecuteTemplate(&styles, "scripts", nil); err != nil {
		return "", fmt.Errorf("failed to render scripts: %w", err)
	}
	page = strings.Replace(page, "</head>", styles.String()+"</head>", 1)

	data := parseStaticInfo(sessionID, info)
	if data == nil {
		return page, nil
	}
	var header bytes.Buffer
	if err := templates.ExecuteTemplate(&header, "static_info", data); err != nil {
		return "", fmt.Errorf("failed to render static info: %w", err)
	}
	if i := strings.Index(page, "<body>"); i >= 0 {
		i += len("<body>")
		page = page[:i] + header.String() + page[i:]
	}
	return page, nil
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func getInt64(m map[string]interface{}, key string) int64 {
	v, _ := exporting.ToInt64Ok(m[key])
	return v
}
