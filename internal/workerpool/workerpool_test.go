package workerpool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReexecArgsCarrySentinelAndName(t *testing.T) {
	args := reexecArgs("echo-worker")
	require.Equal(t, []string{reexecSentinel, "echo-worker"}, args)
}

func TestRegisterPanicsOnDuplicateName(t *testing.T) {
	Register("dup-test-worker", func(r, w int) {})
	require.Panics(t, func() {
		Register("dup-test-worker", func(r, w int) {})
	})
}

func TestInitReturnsImmediatelyWithoutSentinelArgs(t *testing.T) {
	// os.Args in a `go test` run never carries the reexec sentinel, so Init
	// must return rather than attempting to run an entry point.
	Init()
}
