package cgroup

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleMountinfoV1 = `25 30 0:22 / /sys/cgroup/cpu,cpuacct rw,nosuid - cgroup cgroup rw,cpu,cpuacct
26 30 0:23 / /sys/cgroup/memory rw,nosuid - cgroup cgroup rw,memory
27 30 0:24 / /sys/cgroup/pids rw,nosuid - cgroup cgroup rw,pids
`

const sampleMountinfoV2 = `28 30 0:25 / /sys/fs/cgroup rw,nosuid - cgroup2 cgroup2 rw
`

func TestParseMountinfoDiscoversV1Controllers(t *testing.T) {
	m := parseMountinfo(strings.NewReader(sampleMountinfoV1))
	require.Len(t, m.Roots, 3)

	cpuRoot := m.RootFor("cpu")
	require.NotNil(t, cpuRoot)
	require.Equal(t, "/sys/cgroup/cpu,cpuacct", cpuRoot.Mountpoint)
	require.Contains(t, cpuRoot.Controllers, "cpuacct")

	require.Nil(t, m.Unified())
}

func TestParseMountinfoDiscoversV2Unified(t *testing.T) {
	m := parseMountinfo(strings.NewReader(sampleMountinfoV2))
	require.NotNil(t, m.Unified())
	require.Equal(t, "/sys/fs/cgroup", m.Unified().Mountpoint)
	require.Nil(t, m.RootFor("cpu"))
}

func TestParseMountinfoIgnoresUnknownOptions(t *testing.T) {
	m := parseMountinfo(strings.NewReader("29 30 0:26 / /sys/cgroup/systemd rw - cgroup cgroup rw,name=systemd\n"))
	require.Len(t, m.Roots, 0)
}
