package intel

import (
	"fmt"
	"strings"
)

// deviceNames maps PCI device ids to marketing names.
var deviceNames = map[uint32]string{
	0x9a49: "Intel UHD Graphics (Tiger Lake)",
	0x9a40: "Intel UHD Graphics (Tiger Lake)",
	0x46a6: "Intel UHD Graphics (Alder Lake)",
	0x46a8: "Intel UHD Graphics (Alder Lake)",
	0xa7a0: "Intel UHD Graphics (Raptor Lake)",
	0xa7a1: "Intel UHD Graphics (Raptor Lake)",
	0x7d55: "Intel UHD Graphics (Meteor Lake)",
	0x7d45: "Intel UHD Graphics (Meteor Lake)",
	0x5917: "Intel UHD Graphics 620 (Kaby Lake)",
	0x5912: "Intel UHD Graphics 620 (Kaby Lake)",
	0x3e92: "Intel UHD Graphics 630 (Coffee Lake)",
	0x3e91: "Intel UHD Graphics 630 (Coffee Lake)",
	0x8a52: "Intel UHD Graphics (Ice Lake)",
	0x8a56: "Intel UHD Graphics (Ice Lake)",
	0x5690: "Intel Arc A770",
	0x5691: "Intel Arc A770",
	0x5692: "Intel Arc A770",
	0x5693: "Intel Arc A750",
	0x5694: "Intel Arc A750",
	0x56a0: "Intel Arc A580",
	0x56a1: "Intel Arc A580",
	0x5696: "Intel Arc A380",
	0x5697: "Intel Arc A380",
	0x56a5: "Intel Arc A310",
	0x56a6: "Intel Arc A310",
	0xe20b: "Intel Arc B580",
	0xe20c: "Intel Arc B570",
	0x0bd0: "Intel Data Center GPU Max",
	0x0bd5: "Intel Data Center GPU Max",
	0x0bd6: "Intel Data Center GPU Max",
	0x0bd7: "Intel Data Center GPU Max",
}

// DeviceName returns the marketing name of a device id, or a generic name
// carrying the id and driver.
func DeviceName(deviceID uint32, driver string) string {
	if name, ok := deviceNames[deviceID]; ok {
		return name
	}
	return fmt.Sprintf("Intel Graphics [0x%04x] (%s)", deviceID, driver)
}

// IsIntegrated reports whether a named adapter shares system memory. Arc and
// Data Center parts are discrete.
func IsIntegrated(name string) bool {
	lower := strings.ToLower(name)
	return !strings.Contains(lower, "arc") && !strings.Contains(lower, "data center")
}
