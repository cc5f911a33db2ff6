package daemon

import (
	"bytes"
	"os"
	"strconv"
	"strings"
)

// hasChildProcesses reports whether any process lists pid as its parent.
// Deletion UIs use this to warn before killing a shell with work in flight.
// Best effort: any read failure reports false.
func hasChildProcesses(pid int) bool {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return false
	}
	for _, e := range entries {
		child, err := strconv.Atoi(e.Name())
		if err != nil || child == pid {
			continue
		}
		if parentPID(child) == pid {
			return true
		}
	}
	return false
}

// parentPID reads the PPID from /proc/<pid>/stat (field 4, after the
// parenthesized comm which may itself contain spaces).
func parentPID(pid int) int {
	data, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return -1
	}
	// Skip past "pid (comm)": comm can contain anything but ')', so find
	// the last closing paren.
	i := bytes.LastIndexByte(data, ')')
	if i < 0 || i+2 >= len(data) {
		return -1
	}
	fields := strings.Fields(string(data[i+2:]))
	if len(fields) < 2 {
		return -1
	}
	ppid, err := strconv.Atoi(fields[1])
	if err != nil {
		return -1
	}
	return ppid
}
