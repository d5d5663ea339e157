// Package cgroup discovers and manipulates the cgroup v1/v2 hierarchies a
// test runs under (§4.7): which controllers are mounted where, the test's
// own cgroup path within each, and read/write access to individual control
// files, aggregated across the (possibly several, for v1) mount roots that
// back a single logical cgroup.
package cgroup

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/ltp/testlib/internal/result"
)

// Version distinguishes the unified (v2) hierarchy from the legacy,
// per-controller (v1) ones.
type Version int

const (
	V1 Version = iota
	V2
)

// Root describes one mounted cgroup hierarchy: its filesystem mountpoint,
// version, and (for v1) the set of controllers it multiplexes.
type Root struct {
	Mountpoint  string
	Version     Version
	Controllers []string
}

// Model is the discovered set of cgroup mounts on this host, parsed from
// /proc/self/mountinfo.
type Model struct {
	Roots []Root
}

// Discover scans /proc/self/mountinfo for cgroup and cgroup2 mounts. It
// terminates the process via TBROK if mountinfo can't be read — a test
// that needs cgroups but can't even inspect the mount table cannot
// meaningfully continue.
func Discover() *Model {
	f, err := os.Open("/proc/self/mountinfo")
	if err != nil {
		result.Brk("cgroup: open /proc/self/mountinfo: %v", err)
	}
	defer f.Close()
	return parseMountinfo(f)
}

func parseMountinfo(r io.Reader) *Model {
	m := &Model{}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		// mountinfo fields are separated by " - " into a pre- and
		// post-separator half; the filesystem type and options we need
		// live in the second half.
		parts := strings.SplitN(line, " - ", 2)
		if len(parts) != 2 {
			continue
		}
		pre := strings.Fields(parts[0])
		post := strings.Fields(parts[1])
		if len(pre) < 5 || len(post) < 3 {
			continue
		}
		mountpoint := pre[4]
		fstype := post[0]
		superOpts := post[2]

		switch fstype {
		case "cgroup2":
			m.Roots = append(m.Roots, Root{Mountpoint: mountpoint, Version: V2})
		case "cgroup":
			var controllers []string
			for _, opt := range strings.Split(superOpts, ",") {
				if isKnownController(opt) {
					controllers = append(controllers, opt)
				}
			}
			if len(controllers) == 0 {
				continue
			}
			m.Roots = append(m.Roots, Root{Mountpoint: mountpoint, Version: V1, Controllers: controllers})
		}
	}
	if err := sc.Err(); err != nil {
		result.Brk("cgroup: scan /proc/self/mountinfo: %v", err)
	}
	return m
}

var knownControllers = map[string]bool{
	"cpu": true, "cpuacct": true, "cpuset": true, "memory": true,
	"devices": true, "freezer": true, "net_cls": true, "net_prio": true,
	"blkio": true, "perf_event": true, "hugetlb": true, "pids": true,
	"rdma": true, "misc": true,
}

func isKnownController(opt string) bool { return knownControllers[opt] }

// RootFor returns the mount root backing controller, or nil if it is not
// mounted (on v2, RootFor("") returns the unified root if present).
func (m *Model) RootFor(controller string) *Root {
	for i := range m.Roots {
		r := &m.Roots[i]
		if r.Version == V2 && controller == "" {
			return r
		}
		for _, c := range r.Controllers {
			if c == controller {
				return r
			}
		}
	}
	return nil
}

// Unified reports the v2 unified root, if mounted.
func (m *Model) Unified() *Root {
	return m.RootFor("")
}
