package cgroup

import (
	"fmt"
	"log/slog"

	"golang.org/x/sys/unix"

	"github.com/ltp/testlib/internal/result"
	"github.com/ltp/testlib/internal/safefile"
)

// Cgroup is a single logical cgroup for the running test, aggregated
// across however many mount roots back it: one directory on v2, or one
// directory per requested v1 controller. Every controller's directory is
// addressed through an open directory fd rather than a recomputed path,
// the same dirfd-relative discipline internal/safefile generalizes from
// lib/tst_safe_file_at.c.
type Cgroup struct {
	model   *Model
	name    string
	version Version
	rootFds map[string]int // controller ("" for v2) -> dirfd of the mount root
	dirFds  map[string]int // controller -> dirfd of this cgroup's own directory
}

// Require creates (if necessary) a test-owned cgroup directory named name
// under each of the given v1 controllers, or under the v2 unified
// hierarchy if controllers is empty and a v2 root is mounted. Mixed v1/v2
// requests for the same Cgroup are rejected: a test that needs both must
// open two Cgroups.
func Require(model *Model, name string, controllers ...string) *Cgroup {
	cg := &Cgroup{
		model:   model,
		name:    name,
		rootFds: make(map[string]int),
		dirFds:  make(map[string]int),
	}

	if len(controllers) == 0 {
		root := model.Unified()
		if root == nil {
			result.Tconf("cgroup: no cgroup v2 unified hierarchy mounted")
		}
		cg.version = V2
		cg.mount("", root)
		return cg
	}

	cg.version = V1
	mountOf := make(map[string]string) // controller -> mountpoint it resolved to
	for _, c := range controllers {
		root := model.RootFor(c)
		if root == nil {
			result.Tconf("cgroup: controller %q not mounted", c)
		}
		cg.mount(c, root)

		// Two requested controllers that the kernel actually co-mounts at
		// the same root (e.g. "cpu,cpuacct") must resolve to the very same
		// mountpoint; if the discovery model says otherwise it has
		// misparsed mountinfo and the whole run is suspect, so this is
		// TBROK rather than a per-controller TCONF.
		for _, sibling := range root.Controllers {
			if seenBy, ok := mountOf[sibling]; ok && seenBy != root.Mountpoint {
				result.Brk("cgroup: controller %q reported at both %q and %q", sibling, seenBy, root.Mountpoint)
			}
		}
		mountOf[c] = root.Mountpoint
	}
	return cg
}

func (cg *Cgroup) mount(controller string, root *Root) {
	rootFd := safefile.Openat(unix.AT_FDCWD, root.Mountpoint, unix.O_RDONLY|unix.O_DIRECTORY, 0)
	safefile.Mkdirat(rootFd, cg.name, 0755)
	dirFd := safefile.Openat(rootFd, cg.name, unix.O_RDONLY|unix.O_DIRECTORY, 0)
	cg.rootFds[controller] = rootFd
	cg.dirFds[controller] = dirFd
}

func (cg *Cgroup) dirFd(controller string) int {
	fd, ok := cg.dirFds[controller]
	if !ok {
		result.Brk("cgroup: controller %q not part of this cgroup", controller)
	}
	return fd
}

// Dir returns a human-readable path for controller's directory, resolved
// via /proc/self/fd — useful for diagnostics, not for further path-based
// I/O (use ReadFile/WriteFile for that).
func (cg *Cgroup) Dir(controller string) string {
	return safefile.DecodeFd(cg.dirFd(controller))
}

// ReadFile reads a knob (e.g. "memory.max") from the given controller's
// directory.
func (cg *Cgroup) ReadFile(controller, knob string) string {
	return string(safefile.ReadAt(cg.dirFd(controller), knob))
}

// WriteFile writes a knob in the given controller's directory.
func (cg *Cgroup) WriteFile(controller, knob, value string) {
	safefile.WriteAt(cg.dirFd(controller), knob, []byte(value), 0644)
}

// AddProcess writes pid into cgroup.procs for every controller backing
// this Cgroup.
func (cg *Cgroup) AddProcess(pid int) {
	for controller := range cg.dirFds {
		cg.WriteFile(controller, "cgroup.procs", fmt.Sprintf("%d\n", pid))
	}
}

// Cleanup removes the cgroup directories and closes their dirfds.
// Per-directory rmdir failures (commonly EBUSY while a process is still
// exiting) are logged but not fatal — cgroup teardown racing process
// death is expected, not a defect.
func (cg *Cgroup) Cleanup() {
	for controller, dirFd := range cg.dirFds {
		unix.Close(dirFd)
		rootFd := cg.rootFds[controller]
		if err := unix.Unlinkat(rootFd, cg.name, unix.AT_REMOVEDIR); err != nil {
			slog.Warn("cgroup: rmdir failed", "controller", controller, "name", cg.name, "error", err)
		}
		unix.Close(rootFd)
	}
}
