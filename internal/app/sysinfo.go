package app

import (
	"context"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/tphakala/pairwatch/internal/logger"
)

// HostSummary describes the machine in the startup log. The hostname is
// left out on purpose.
type HostSummary struct {
	OS              string
	Platform        string
	PlatformVersion string
	KernelArch      string
	TotalMemoryMB   uint64
}

// DescribeHost collects the HostSummary. Fields that cannot be read are
// left empty.
func DescribeHost(ctx context.Context) (HostSummary, error) {
	var summary HostSummary
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return summary, err
	}
	summary.OS = info.OS
	summary.Platform = info.Platform
	summary.PlatformVersion = info.PlatformVersion
	summary.KernelArch = info.KernelArch

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		summary.TotalMemoryMB = vm.Total / 1024 / 1024
	}
	return summary, nil
}

// LogHost writes the host summary and build metadata at info level.
func (a *App) LogHost(ctx context.Context) {
	summary, err := DescribeHost(ctx)
	if err != nil {
		a.log.Debug("host details unavailable", logger.Error(err))
		return
	}
	a.log.Info("system details",
		logger.String("version", a.Build.GetVersion()),
		logger.String("os", summary.OS),
		logger.String("platform", summary.Platform),
		logger.String("platform_version", summary.PlatformVersion),
		logger.String("arch", summary.KernelArch),
		logger.Uint64("memory_mb", summary.TotalMemoryMB))
}
