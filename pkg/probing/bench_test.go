package probing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t testing.TB, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestReaders(t *testing.T) {
	root := Root(t.TempDir())
	writeFile(t, root.Path("class", "drm", "card0", "device", "vendor"), "0x1002\n")
	writeFile(t, root.Path("temp1_input"), "54000\n")
	writeFile(t, root.Path("meminfo"), "MemTotal:       16314884 kB\nMemFree:         1234 kB\n")

	v, err := FileUint(root.Path("class", "drm", "card0", "device", "vendor"))
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1002), v)

	n, err := FileInt(root.Path("temp1_input"))
	require.NoError(t, err)
	assert.Equal(t, int64(54000), n)

	kv, err := FileKV(root.Path("meminfo"), ":")
	require.NoError(t, err)
	assert.Equal(t, "16314884 kB", kv["MemTotal"])

	lines, err := FileLines(root.Path("meminfo"))
	require.NoError(t, err)
	assert.Len(t, lines, 2)

	_, err = FileInt(root.Path("missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	writeFile(t, root.Path("bad"), "n/a")
	_, err = FileInt(root.Path("bad"))
	assert.Error(t, err)
}

func TestLinkBase(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Symlink("../../../bus/pci/drivers/amdgpu", filepath.Join(dir, "driver")))
	base, err := LinkBase(filepath.Join(dir, "driver"))
	require.NoError(t, err)
	assert.Equal(t, "amdgpu", base)
}

func BenchmarkFile(b *testing.B) {
	for i := 0; i < b.N; i++ {
		File("/proc/stat")
	}
}

func BenchmarkFileLines(b *testing.B) {
	for i := 0; i < b.N; i++ {
		FileLines("/proc/stat")
	}
}

func BenchmarkFileKV(b *testing.B) {
	for i := 0; i < b.N; i++ {
		FileKV("/proc/meminfo", ":")
	}
}

func BenchmarkFileInt(b *testing.B) {
	for i := 0; i < b.N; i++ {
		FileInt("/proc/sys/kernel/pid_max")
	}
}

func BenchmarkParseInt64(b *testing.B) {
	s := "123456789"
	for i := 0; i < b.N; i++ {
		ParseInt64(s)
	}
}

func BenchmarkParseFloat64(b *testing.B) {
	s := "123.456789"
	for i := 0; i < b.N; i++ {
		ParseFloat64(s)
	}
}
