package worker

import (
	"bufio"
	"os"
	"strings"
)

// UnknownWorkerID is reported when neither a hardware serial nor a hostname is available
const UnknownWorkerID = "unknown"

// DefaultCPUInfoPath is where Raspberry Pi boards expose their serial number
const DefaultCPUInfoPath = "/proc/cpuinfo"

// Identity returns a stable identifier for this machine: the CPU serial
// from cpuinfoPath, then the hostname, then UnknownWorkerID.
func Identity(cpuinfoPath string, hostname func() (string, error)) string {
	if serial := cpuSerial(cpuinfoPath); serial != "" {
		return serial
	}

	if hostname != nil {
		if name, err := hostname(); err == nil && strings.TrimSpace(name) != "" {
			return strings.TrimSpace(name)
		}
	}

	return UnknownWorkerID
}

// DefaultIdentity is Identity with the host's cpuinfo and hostname
func DefaultIdentity() string {
	return Identity(DefaultCPUInfoPath, os.Hostname)
}

func cpuSerial(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "Serial") {
			continue
		}
		if _, value, ok := strings.Cut(line, ":"); ok {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
