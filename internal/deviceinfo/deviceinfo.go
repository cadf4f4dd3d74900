// Package deviceinfo probes device and OS metadata for the device-level
// attribute layer.
package deviceinfo

import (
	"runtime"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/host"
)

// Collect returns the device attributes for this process. The runtime
// subset (platform, arch, go_version) is always present; OS details come
// from a host probe and are omitted when the probe fails. Collect never
// returns an error: metadata is decoration, not a startup dependency.
func Collect(logger zerolog.Logger) map[string]string {
	attrs := map[string]string{
		"platform":   runtime.GOOS,
		"arch":       runtime.GOARCH,
		"go_version": runtime.Version(),
	}

	info, err := host.Info()
	if err != nil {
		logger.Warn().Err(err).Msg("Host probe failed, reporting runtime attributes only")
		return attrs
	}

	setIfPresent(attrs, "os_name", info.Platform)
	setIfPresent(attrs, "os_version", info.PlatformVersion)
	setIfPresent(attrs, "kernel_version", info.KernelVersion)
	setIfPresent(attrs, "hostname", info.Hostname)
	return attrs
}

func setIfPresent(attrs map[string]string, key, value string) {
	if value != "" {
		attrs[key] = value
	}
}
