// Package hostinfo collects a one-shot fingerprint of the host process and
// machine. The snapshot is taken once at session creation and rides along
// with every delivery so server-side records can be segmented by
// environment.
package hostinfo

import (
	"fmt"
	"hash/fnv"
	"os"
	"runtime"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/x/term"
)

// Context is the environment fingerprint attached to a session.
type Context struct {
	Runtime        string   `json:"runtime"`        // "go"
	RuntimeVersion string   `json:"runtimeVersion"` // e.g. "go1.25.0"
	OS             string   `json:"os"`
	Arch           string   `json:"arch"`
	Hostname       string   `json:"hostname,omitempty"`
	DeviceType     string   `json:"deviceType"` // desktop | server | container
	Locale         string   `json:"locale,omitempty"`
	Timezone       string   `json:"timezone,omitempty"`
	Viewport       string   `json:"viewport,omitempty"` // terminal columns x rows
	NumCPU         int      `json:"numCpu"`
	Modules        []string `json:"modules,omitempty"` // linked dependency list
	EnvHash        string   `json:"envHash,omitempty"` // hash of environment variable names
	UserAgent      string   `json:"userAgent"`
	Invoker        string   `json:"invoker,omitempty"` // argv[0], referrer analog
}

// Collect takes a fresh snapshot. It never fails; fields that cannot be
// determined are left at their zero values.
func Collect() Context {
	c := Context{
		Runtime:        "go",
		RuntimeVersion: runtime.Version(),
		OS:             runtime.GOOS,
		Arch:           runtime.GOARCH,
		DeviceType:     deviceType(),
		Locale:         locale(),
		NumCPU:         runtime.NumCPU(),
		Modules:        modules(),
		EnvHash:        envHash(),
	}
	if host, err := os.Hostname(); err == nil {
		c.Hostname = host
	}
	if zone, _ := time.Now().Zone(); zone != "" {
		c.Timezone = zone
	}
	if w, h, err := term.GetSize(os.Stdout.Fd()); err == nil && w > 0 {
		c.Viewport = fmt.Sprintf("%dx%d", w, h)
	}
	if len(os.Args) > 0 {
		c.Invoker = os.Args[0]
	}
	c.UserAgent = fmt.Sprintf("bugrelay (%s; %s/%s)", c.RuntimeVersion, c.OS, c.Arch)
	return c
}

func deviceType() string {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return "container"
	}
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "container"
	}
	if term.IsTerminal(os.Stdout.Fd()) {
		return "desktop"
	}
	return "server"
}

func locale() string {
	for _, key := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		if v := os.Getenv(key); v != "" {
			// Strip the charset suffix: en_US.UTF-8 -> en_US.
			if i := strings.IndexByte(v, '.'); i > 0 {
				v = v[:i]
			}
			return v
		}
	}
	return ""
}

// modules lists the main module and its direct build-time dependencies, the
// closest analog to a plugin inventory.
func modules() []string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return nil
	}
	out := make([]string, 0, len(info.Deps)+1)
	if info.Main.Path != "" {
		out = append(out, info.Main.Path)
	}
	for _, dep := range info.Deps {
		out = append(out, dep.Path+"@"+dep.Version)
	}
	return out
}

// envHash hashes the sorted environment variable names (never values) into a
// short stable token, the privacy-preserving counterpart of a cookie hash.
func envHash() string {
	names := make([]string, 0, 64)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			names = append(names, kv[:i])
		}
	}
	sort.Strings(names)
	h := fnv.New64a()
	for _, n := range names {
		h.Write([]byte(n))
		h.Write([]byte{0})
	}
	return strconv.FormatUint(h.Sum64(), 36)
}
