package report

import (
	"context"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/sirupsen/logrus"
)

// HostInfo is the machine snapshot embedded in the run config artifact.
type HostInfo struct {
	Hostname        string `json:"hostname"`
	OS              string `json:"os"`
	Platform        string `json:"platform"`
	PlatformVersion string `json:"platformVersion"`
	KernelVersion   string `json:"kernelVersion"`
	CPUModel        string `json:"cpuModel"`
	CPUCores        int    `json:"cpuCores"`
	MemoryTotal     uint64 `json:"memoryTotal"`
}

// collectHostInfo gathers a best-effort host snapshot. Individual probe
// failures are logged and leave their fields zeroed; a run must never fail
// because host introspection did.
func collectHostInfo(ctx context.Context, log logrus.FieldLogger) *HostInfo {
	info := &HostInfo{}

	if hi, err := host.InfoWithContext(ctx); err != nil {
		log.WithError(err).Warn("Failed to read host info")
	} else {
		info.Hostname = hi.Hostname
		info.OS = hi.OS
		info.Platform = hi.Platform
		info.PlatformVersion = hi.PlatformVersion
		info.KernelVersion = hi.KernelVersion
	}

	if cpus, err := cpu.InfoWithContext(ctx); err != nil {
		log.WithError(err).Warn("Failed to read CPU info")
	} else if len(cpus) > 0 {
		info.CPUModel = cpus[0].ModelName
	}

	if cores, err := cpu.CountsWithContext(ctx, true); err != nil {
		log.WithError(err).Warn("Failed to count CPU cores")
	} else {
		info.CPUCores = cores
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		log.WithError(err).Warn("Failed to read memory info")
	} else {
		info.MemoryTotal = vm.Total
	}

	return info
}
