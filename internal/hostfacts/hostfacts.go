// Package hostfacts gathers a snapshot of live host facts used during plan
// assembly and probing. Facts are collected fresh for every run and never
// cached across runs, since the host may drift out-of-band between
// invocations.
package hostfacts

import (
	"bufio"
	"context"
	"os"
	"os/exec"
	"strings"
)

// Facts describes the target host as observed at the start of a run.
type Facts struct {
	Hostname       string
	OS             string
	OSVersion      string
	PackageManager string
	HasSystemd     bool
}

// Gather collects host facts from the running system.
func Gather(ctx context.Context) (*Facts, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	facts := &Facts{}

	if hostname, err := os.Hostname(); err == nil {
		facts.Hostname = hostname
	}

	id, version := readOSRelease("/etc/os-release")
	facts.OS = id
	facts.OSVersion = version

	facts.PackageManager = detectPackageManager()
	facts.HasSystemd = systemdPresent()

	return facts, nil
}

// Supports reports whether the host carries the named capability. Probes use
// it to decide whether a query is even possible before shelling out.
func (f *Facts) Supports(capability string) bool {
	if f == nil {
		return false
	}
	switch capability {
	case "apt":
		return f.PackageManager == "apt"
	case "systemd":
		return f.HasSystemd
	default:
		return false
	}
}

func readOSRelease(path string) (id, version string) {
	file, err := os.Open(path)
	if err != nil {
		return "", ""
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		value = strings.Trim(value, `"`)
		switch key {
		case "ID":
			id = value
		case "VERSION_ID":
			version = value
		}
	}
	return id, version
}

func detectPackageManager() string {
	for _, candidate := range []string{"apt-get", "dnf", "yum", "apk"} {
		if _, err := exec.LookPath(candidate); err == nil {
			if candidate == "apt-get" {
				return "apt"
			}
			return candidate
		}
	}
	return ""
}

func systemdPresent() bool {
	info, err := os.Stat("/run/systemd/system")
	return err == nil && info.IsDir()
}
