package graphing

import (
	"fmt"
	"html/template"

	"GpuTelemetry/pkg/exporting"
)

var templates = template.Must(template.New("").Funcs(templateFuncs).Parse(`
{{define "styles"}}
<style>
* {
    font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, Arial, sans-serif;
}
body {
    max-width: 1400px;
    margin: 0 auto;
    padding: 20px;
}
.static-info-container {
    margin-bottom: 20px;
}
.static-info-header {
    border-bottom: 2px solid #333;
    padding-bottom: 10px;
    margin-bottom: 15px;
}
.static-info-header h1 {
    margin: 0;
    font-size: 18px;
}
.session-id {
    font-size: 11px;
    color: #666;
    font-family: monospace;
}
.info-section {
    margin-bottom: 15px;
    padding: 15px;
    background: #f5f5f5;
    border: 1px solid #ddd;
}
.info-section h3 {
    margin: 0 0 10px 0;
    font-size: 13px;
}
.info-table {
    width: 100%;
    border-collapse: collapse;
    font-size: 12px;
}
.info-table td {
    padding: 3px 8px;
    border-bottom: 1px solid #eee;
}
.info-table td:first-child {
    width: 150px;
    color: #666;
}
.info-table td:last-child {
    font-family: monospace;
    font-size: 11px;
    word-break: break-all;
}
.gpu-section {
    background: #fff;
    border: 1px solid #ddd;
    padding: 10px;
    margin-top: 10px;
}
.container {
    display: block !important;
    margin: 0 0 10px 0 !important;
    padding: 15px !important;
    background: #f5f5f5 !important;
    border: 1px solid #ddd !important;
}
</style>
{{end}}

{{define "scripts"}}
<script>
window.addEventListener('resize', function() {
    document.querySelectorAll('[_echarts_instance_]').forEach(function(el) {
        var c = echarts.getInstanceByDom(el);
        if (c) c.resize();
    });
});
</script>
{{end}}

{{define "static_info"}}
<div class="static-info-container">
    <div class="static-info-header">
        <h1>GPU Telemetry Report</h1>
        <div class="session-id">Session: {{.SessionID}}</div>
    </div>
    <div class="info-section">
        <h3>Host</h3>
        <table class="info-table">
            {{template "row" dict "Label" "Hostname" "Value" .Hostname}}
            {{template "row" dict "Label" "Processors" "Value" .NumProcessors}}
            {{template "row" dict "Label" "CPU" "Value" .CPUType}}
            {{template "row" dict "Label" "CPU Cache" "Value" .CPUCache}}
            {{template "row" dict "Label" "Kernel" "Value" .KernelInfo}}
            {{template "row" dict "Label" "GPU Count" "Value" .GPUCount}}
        </table>
    </div>
    {{range .GPUs}}
    <div class="gpu-section">
        <strong>GPU {{.Index}}: {{.Vendor}} {{.Name}}</strong>
        <table class="info-table">
            {{template "row" dict "Label" "UUID" "Value" .UUID}}
            {{template "row" dict "Label" "PCI Bus ID" "Value" .PCIBusID}}
            {{template "row" dict "Label" "Driver Version" "Value" .DriverVersion}}
            {{template "row" dict "Label" "VBIOS Version" "Value" .VBIOSVersion}}
            {{template "row" dict "Label" "Compute Capability" "Value" .ComputeCapability}}
            {{template "row" dict "Label" "Shader Cores" "Value" .ShaderCores}}
            {{if .L2CacheBytes}}<tr><td>L2 Cache</td><td>{{formatBytes .L2CacheBytes}}</td></tr>{{end}}
            {{template "row" dict "Label" "Memory Vendor" "Value" .MemoryVendor}}
            {{if .Integrated}}<tr><td>Type</td><td>Integrated</td></tr>{{end}}
        </table>
    </div>
    {{end}}
</div>
{{end}}

{{define "row"}}
{{if and .Value (ne (printf "%v" .Value) "0")}}
<tr><td>{{.Label}}</td><td>{{.Value}}</td></tr>
{{end}}
{{end}}
`))

var templateFuncs = template.FuncMap{
	"dict":        dictFunc,
	"formatBytes": formatBytesFunc,
}

// dictFunc builds a map from key-value pairs for sub-template arguments.
func dictFunc(values ...interface{}) map[string]interface{} {
	if len(values)%2 != 0 {
		return nil
	}
	dict := make(map[string]interface{}, len(values)/2)
	for i := 0; i < len(values); i += 2 {
		key, ok := values[i].(string)
		if !ok {
			continue
		}
		dict[key] = values[i+1]
	}
	return dict
}

func formatBytesFunc(v interface{}) string {
	bytes := exporting.ToFloat64(v)
	if bytes == 0 {
		return "0 B"
	}
	units := []string{"B", "KiB", "MiB", "GiB", "TiB"}
	i := 0
	for bytes >= 1024 && i < len(units)-1 {
		bytes /= 1024
		i++
	}
	return fmt.Sprintf("%.2f %s", bytes, units[i])
}
