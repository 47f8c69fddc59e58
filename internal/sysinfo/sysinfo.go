// Package sysinfo collects host information for the health endpoint and
// startup checks.
package sysinfo

import (
	"fmt"
	"net"
	"net/netip"
	"os"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
	"time"
)

var (
	// Version is the icmpforge version, set at build time via ldflags.
	// Example: go build -ldflags="-X github.com/postalsys/icmpforge/internal/sysinfo.Version=1.0.0"
	Version = "dev"

	// startTime is when the process started.
	startTime     time.Time
	startTimeOnce sync.Once
)

// echoIgnorePath is the sysctl controlling kernel Echo Replies.
var echoIgnorePath = "/proc/sys/net/ipv4/icmp_echo_ignore_all"

func init() {
	startTimeOnce.Do(func() {
		startTime = time.Now()
	})
}

// Info describes the host the responder runs on.
type Info struct {
	Hostname    string   `json:"hostname"`
	OS          string   `json:"os"`
	Arch        string   `json:"arch"`
	GoVersion   string   `json:"go_version"`
	Version     string   `json:"version"`
	StartTime   int64    `json:"start_time"`
	IPAddresses []string `json:"ip_addresses"`
}

// Collect gathers local system information.
func Collect() Info {
	hostname, _ := os.Hostname()

	ips := make([]string, 0)
	for _, ip := range LocalIPv4() {
		ips = append(ips, ip.String())
	}

	return Info{
		Hostname:    hostname,
		OS:          runtime.GOOS,
		Arch:        runtime.GOARCH,
		GoVersion:   runtime.Version(),
		Version:     FullVersion(),
		StartTime:   startTime.Unix(),
		IPAddresses: ips,
	}
}

// LocalIPv4 returns the host's IPv4 addresses, loopback included.
func LocalIPv4() []netip.Addr {
	var ips []netip.Addr

	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ips
	}

	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		if ip, ok := netip.AddrFromSlice(ipNet.IP.To4()); ok {
			ips = append(ips, ip)
		}
	}

	// Limit to first 10 IPs to keep health responses small
	if len(ips) > 10 {
		ips = ips[:10]
	}

	return ips
}

// IsLocal reports whether addr is assigned to one of the host's interfaces.
func IsLocal(addr netip.Addr) bool {
	addr = addr.Unmap()
	if addr.IsLoopback() {
		return true
	}
	for _, ip := range LocalIPv4() {
		if ip == addr {
			return true
		}
	}
	return false
}

// KernelEchoEnabled reports whether the kernel answers Echo Requests
// itself. Those replies race the fabricated ones. Returns an error where
// the setting cannot be read (non-Linux hosts, restricted /proc).
func KernelEchoEnabled() (bool, error) {
	b, err := os.ReadFile(echoIgnorePath)
	if err != nil {
		return false, err
	}
	switch v := strings.TrimSpace(string(b)); v {
	case "0":
		return true, nil
	case "1":
		return false, nil
	default:
		return false, fmt.Errorf("unexpected %s value %q", echoIgnorePath, v)
	}
}

// FullVersion returns Version, with the VCS revision appended for
// development builds ("dev-abc1234", "dev-abc1234-dirty").
func FullVersion() string {
	if Version != "dev" {
		return Version
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return Version
	}
	return devVersion(info.Settings)
}

func devVersion(settings []debug.BuildSetting) string {
	var rev string
	var dirty bool
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if rev == "" {
		return "dev"
	}
	if len(rev) > 7 {
		rev = rev[:7]
	}
	v := "dev-" + rev
	if dirty {
		v += "-dirty"
	}
	return v
}

// StartTime returns the process start time.
func StartTime() time.Time {
	return startTime
}

// Uptime returns the process uptime as a duration.
func Uptime() time.Duration {
	return time.Since(startTime)
}
