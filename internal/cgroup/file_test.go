package cgroup

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeModel builds a Model whose roots point at real temp directories so
// Require's dirfd-based mount() can run against an actual filesystem
// without needing real cgroup mounts.
func fakeModel(t *testing.T, v1Dirs map[string][]string, v2Dir string) *Model {
	t.Helper()
	m := &Model{}
	for mountpoint, controllers := range v1Dirs {
		m.Roots = append(m.Roots, Root{Mountpoint: mountpoint, Version: V1, Controllers: controllers})
	}
	if v2Dir != "" {
		m.Roots = append(m.Roots, Root{Mountpoint: v2Dir, Version: V2})
	}
	return m
}

func TestRequireV2CreatesAndCleansUpDirectory(t *testing.T) {
	root := t.TempDir()
	m := fakeModel(t, nil, root)

	cg := Require(m, "ltp-test-cgroup")
	cg.WriteFile("", "memory.max", "1048576")
	require.Equal(t, "1048576", cg.ReadFile("", "memory.max"))

	cg.Cleanup()
}

func TestRequireV1AggregatesMultipleControllers(t *testing.T) {
	memRoot := t.TempDir()
	pidsRoot := t.TempDir()
	m := fakeModel(t, map[string][]string{
		memRoot:  {"memory"},
		pidsRoot: {"pids"},
	}, "")

	cg := Require(m, "ltp-test-cgroup", "memory", "pids")
	cg.WriteFile("memory", "memory.max", "2097152")
	cg.WriteFile("pids", "pids.max", "100")
	require.Equal(t, "2097152", cg.ReadFile("memory", "memory.max"))
	require.Equal(t, "100", cg.ReadFile("pids", "pids.max"))

	cg.Cleanup()
}
