package process

import (
	"strconv"
	"strings"

	"GpuTelemetry/pkg/probing"
)

type userTable map[uint32]string

// loadUsers parses a passwd file. A missing file yields an empty table.
func loadUsers(path string) userTable {
	users := make(userTable)
	lines, err := probing.FileLines(path)
	if err != nil {
		return users
	}
	for _, line := range lines {
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) < 3 {
			continue
		}
		uid, err := strconv.ParseUint(fields[2], 10, 32)
		if err != nil {
			continue
		}
		if _, dup := users[uint32(uid)]; !dup {
			users[uint32(uid)] = fields[0]
		}
	}
	return users
}

// name falls back to the numeric uid.
func (u userTable) name(uid uint32) string {
	if n, ok := u[uid]; ok {
		return n
	}
	return strconv.FormatUint(uint64(uid), 10)
}
