// Package probing reads the small text files exposed by sysfs and procfs.
package probing

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Root is a filesystem prefix such as "/sys" or "/proc". Tests point it at
// a temporary tree.
type Root string

// Path joins elem under the root.
func (r Root) Path(elem ...string) string {
	return filepath.Join(append([]string{string(r)}, elem...)...)
}

// File reads a file verbatim.
func File(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// String reads a single-value attribute and trims surrounding whitespace.
func String(path string) (string, error) {
	v, err := File(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(v), nil
}

// FileInt reads a file and parses it as int64
func FileInt(path string) (int64, error) {
	v, err := String(path)
	if err != nil {
		return 0, err
	}
	return ParseInt64(v)
}

// FileUint reads a file and parses it as uint64. Hex values with a 0x
// prefix are accepted.
func FileUint(path string) (uint64, error) {
	v, err := String(path)
	if err != nil {
		return 0, err
	}
	return ParseUint64(v)
}

// FileLines reads a file into lines, dropping the trailing empty line.
func FileLines(path string) ([]string, error) {
	v, err := File(path)
	if err != nil {
		return nil, err
	}
	return strings.Split(strings.TrimRight(v, "\n"), "\n"), nil
}

// FileKV reads a key-value file like /proc/meminfo
func FileKV(path, sep string) (map[string]string, error) {
	lines, err := FileLines(path)
	if err != nil {
		return nil, err
	}
	return ParseKV(lines, sep), nil
}

// ParseKV splits each line at the first sep.
func ParseKV(lines []string, sep string) map[string]string {
	kv := make(map[string]string, len(lines))
	for _, line := range lines {
		idx := strings.Index(line, sep)
		if idx != -1 {
			key := strings.TrimSpace(line[:idx])
			val := strings.TrimSpace(line[idx+len(sep):])
			kv[key] = val
		}
	}
	return kv
}

// WriteString writes value to a sysfs attribute.
func WriteString(path, value string) error {
	return os.WriteFile(path, []byte(value), 0o644)
}

// LinkBase resolves a symlink and returns the last element of its target.
func LinkBase(path string) (string, error) {
	target, err := os.Readlink(path)
	if err != nil {
		return "", err
	}
	return filepath.Base(target), nil
}

// ParseInt64 parses a decimal integer.
func ParseInt64(s string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse int %q: %w", s, err)
	}
	return v, nil
}

// ParseUint64 parses a decimal or 0x-prefixed hex integer.
func ParseUint64(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s, base = s[2:], 16
	}
	v, err := strconv.ParseUint(s, base, 64)
	if err != nil {
		return 0, fmt.Errorf("parse uint %q: %w", s, err)
	}
	return v, nil
}

// ParseFloat64 parses a float.
func ParseFloat64(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("parse float %q: %w", s, err)
	}
	return v, nil
}

// Exists checks if a path exists
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// IsDir checks if a path is a directory
func IsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
