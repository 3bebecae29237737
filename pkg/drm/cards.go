// Package drm discovers GPU adapters under /sys/class/drm and reads the
// per-process DRM client statistics exposed through fdinfo.
package drm

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"GpuTelemetry/pkg/gpu"
	"GpuTelemetry/pkg/logging"
	"GpuTelemetry/pkg/probing"
)

const (
	PCIVendorAMD    = 0x1002
	PCIVendorIntel  = 0x8086
	PCIVendorNvidia = 0x10de

	displayClassPrefix = 0x03
)

var cardPattern = regexp.MustCompile(`^card\d+$`)

// Card is one adapter entry of /sys/class/drm.
type Card struct {
	Name       string
	Path       string
	DevicePath string
	Driver     string
	VendorID   uint32
	DeviceID   uint32
	Class      uint32
	BusID      string
}

// ScanCards lists card entries in directory order. A missing drm class
// directory means no DRM driver is loaded and yields no cards.
func ScanCards(sys probing.Root) ([]Card, error) {
	dir := sys.Path("class", "drm")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, gpu.QueryFailed("scan drm cards", err)
	}

	log := logging.WithComponent("drm")
	var cards []Card
	for _, entry := range entries {
		name := entry.Name()
		if !cardPattern.MatchString(name) {
			continue
		}
		card, err := readCard(filepath.Join(dir, name))
		if err != nil {
			log.WithField("card", name).WithError(err).Debug("skipping malformed drm entry")
			continue
		}
		cards = append(cards, card)
	}
	return cards, nil
}

func readCard(path string) (Card, error) {
	card := Card{Name: filepath.Base(path), Path: path, DevicePath: filepath.Join(path, "device")}
	if !probing.IsDir(card.DevicePath) {
		return Card{}, gpu.QueryFailed("read card", errors.New("no device directory"))
	}

	card.Driver, _ = probing.LinkBase(filepath.Join(card.DevicePath, "driver"))
	if v, err := probing.FileUint(filepath.Join(card.DevicePath, "vendor")); err == nil {
		card.VendorID = uint32(v)
	}
	if v, err := probing.FileUint(filepath.Join(card.DevicePath, "device")); err == nil {
		card.DeviceID = uint32(v)
	}
	if v, err := probing.FileUint(filepath.Join(card.DevicePath, "class")); err == nil {
		card.Class = uint32(v)
	}
	if link, err := os.Readlink(card.DevicePath); err == nil {
		card.BusID = filepath.Base(link)
	} else if slot := ueventValue(card.DevicePath, "PCI_SLOT_NAME"); slot != "" {
		card.BusID = slot
	}

	if card.Driver == "" && card.VendorID == 0 {
		return Card{}, gpu.QueryFailed("read card", errors.New("neither driver nor vendor id readable"))
	}
	return card, nil
}

func ueventValue(devicePath, key string) string {
	kv, err := probing.FileKV(filepath.Join(devicePath, "uevent"), "=")
	if err != nil {
		return ""
	}
	return kv[key]
}

// Classify decides which vendor owns the card, preferring the bound driver
// and falling back to the PCI vendor id.
func Classify(c Card) (gpu.Vendor, bool) {
	switch c.Driver {
	case "amdgpu", "radeon":
		return gpu.VendorAmd, true
	case "i915", "xe":
		return gpu.VendorIntel, true
	case "nvidia", "nouveau":
		return gpu.VendorNvidia, true
	}

	switch c.VendorID {
	case PCIVendorAMD:
		return gpu.VendorAmd, true
	case PCIVendorIntel:
		// Intel also ships non-display PCI functions; only display-class
		// devices are GPUs.
		if c.Class != 0 && c.Class>>16 != displayClassPrefix {
			return 0, false
		}
		return gpu.VendorIntel, true
	case PCIVendorNvidia:
		return gpu.VendorNvidia, true
	}
	return 0, false
}

// CardsFor returns the cards owned by vendor, in scan order.
func CardsFor(sys probing.Root, vendor gpu.Vendor) ([]Card, error) {
	cards, err := ScanCards(sys)
	if err != nil {
		return nil, err
	}
	var owned []Card
	for _, c := range cards {
		if v, ok := Classify(c); ok && v == vendor {
			owned = append(owned, c)
		}
	}
	return owned, nil
}

// PCIInfo parses the card's bus id and attaches the current link state.
func (c Card) PCIInfo() (gpu.PCIInfo, error) {
	if c.BusID == "" {
		return gpu.PCIInfo{}, gpu.QueryFailed("pci info", errors.New("bus id unknown"))
	}
	info, err := gpu.ParseBusID(c.BusID)
	if err != nil {
		return gpu.PCIInfo{}, gpu.QueryFailed("pci info", err)
	}
	if w, err := probing.FileUint(filepath.Join(c.DevicePath, "current_link_width")); err == nil {
		info.PCIeLinkWidth = gpu.Ptr(uint32(w))
	}
	if s, err := probing.String(filepath.Join(c.DevicePath, "current_link_speed")); err == nil {
		if gen, ok := LinkGeneration(s); ok {
			info.PCIeGeneration = gpu.Ptr(gen)
		}
	}
	return info, nil
}

// LinkGeneration maps a sysfs link speed such as "16.0 GT/s PCIe" to a
// PCIe generation.
func LinkGeneration(speed string) (uint32, bool) {
	fields := strings.Fields(speed)
	if len(fields) == 0 {
		return 0, false
	}
	gts, err := probing.ParseFloat64(fields[0])
	if err != nil {
		return 0, false
	}
	switch {
	case gts >= 64:
		return 6, true
	case gts >= 32:
		return 5, true
	case gts >= 16:
		return 4, true
	case gts >= 8:
		return 3, true
	case gts >= 5:
		return 2, true
	case gts >= 2.5:
		return 1, true
	}
	return 0, false
}

// PCIeLink reads the negotiated and maximum link of the card.
func (c Card) PCIeLink() (gpu.PCIeInfo, error) {
	var link gpu.PCIeInfo
	read := func(attr string) (uint32, float64, bool) {
		s, err := probing.String(filepath.Join(c.DevicePath, attr))
		if err != nil {
			return 0, 0, false
		}
		gen, ok := LinkGeneration(s)
		if !ok {
			return 0, 0, false
		}
		gts, _ := probing.ParseFloat64(strings.Fields(s)[0])
		return gen, gts, true
	}
	if gen, gts, ok := read("current_link_speed"); ok {
		link.CurrentGen = gpu.Ptr(gen)
		link.CurrentSpeedGTs = gpu.Ptr(gts)
	}
	if gen, _, ok := read("max_link_speed"); ok {
		link.MaxGen = gpu.Ptr(gen)
	}
	if w, err := probing.FileUint(filepath.Join(c.DevicePath, "current_link_width")); err == nil {
		link.CurrentWidth = gpu.Ptr(uint32(w))
	}
	if w, err := probing.FileUint(filepath.Join(c.DevicePath, "max_link_width")); err == nil {
		link.MaxWidth = gpu.Ptr(uint32(w))
	}
	if link.CurrentGen == nil && link.CurrentWidth == nil {
		return link, gpu.NotSupported("pcie link")
	}
	return link, nil
}
