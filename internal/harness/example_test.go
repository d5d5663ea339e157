// This file is the harness's worked example: a CVE-regression-shaped test
// built the way testcases/cve/tcindex01.c is, using the netlink builder to
// construct the qdisc/filter teardown sequence that used to trigger a
// use-after-free, then checking for new kernel taint instead of a kernel
// crash. It never actually opens a netlink socket (that needs
// CAP_NET_ADMIN and a real interface), so it's safe to run unprivileged —
// it exercises the harness/netlink wiring, not the live kernel path.
package harness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/ltp/testlib/internal/netlink"
	"github.com/ltp/testlib/internal/result"
)

// RTM_NEWQDISC/RTM_DELQDISC (linux/rtnetlink.h) aren't among the RTM_*
// constants golang.org/x/sys/unix exposes, so they're named locally.
const (
	rtmNewQdisc = 36
	rtmDelQdisc = 37
)

func buildTcindexTeardownSequence(devIfindex int32) [][]byte {
	const (
		tcaOptions  = 2
		tcaHtbInit  = 4
		qdiscHandle = uint32(1) << 16
	)

	var msgs [][]byte

	qdisc := netlink.CreateContext()
	idx := qdisc.AddMessage(rtmNewQdisc, unix.NLM_F_CREATE|unix.NLM_F_EXCL)
	opts := qdisc.AddAttrNested(tcaOptions)
	qdisc.AddAttrU32(tcaHtbInit, 3)
	qdisc.FinishNestedAttr(opts)
	qdisc.FinishMessage(idx)
	msgs = append(msgs, qdisc.Bytes())

	teardown := netlink.CreateContext()
	idx2 := teardown.AddMessage(rtmDelQdisc, 0)
	teardown.FinishMessage(idx2)
	msgs = append(msgs, teardown.Bytes())

	_ = qdiscHandle
	return msgs
}

func TestTcindexTeardownSequenceBuildsWellFormedMessages(t *testing.T) {
	msgs := buildTcindexTeardownSequence(7)
	require.Len(t, msgs, 2)
	for _, m := range msgs {
		require.Equal(t, 0, len(m)%4, "every netlink message must stay 4-byte aligned")
		require.GreaterOrEqual(t, len(m), unix.SizeofNlMsghdr)
	}
}

// TestRunReportsPassWhenNoNewTaint exercises Run end-to-end against a
// fake "kernel" (a counters-backed Test with no real syscalls) standing in
// for the CVE scenario: if TaintCheck ever sees a new bit set during
// TestAll, the verdict is TFAIL, mirroring tcindex01.c's tst_taint_check
// branch. Since readTainted() reads the real /proc/sys/kernel/tainted
// here, this asserts the untainted (pass) path, which is what CI actually
// exercises.
func TestRunReportsPassWhenNoNewTaint(t *testing.T) {
	test := &Test{
		Name:       "tcindex01",
		TaintCheck: TaintWarn | TaintOops,
		TestAll: func(tt *T) {
			msgs := buildTcindexTeardownSequence(1)
			require.Len(t, msgs, 2)
			time.Sleep(time.Millisecond)
			tt.Report(result.TPASS, "nothing bad happened (yet)")
		},
	}
	code := Run(test)
	require.Equal(t, result.ExitPass, code)
}

func TestRunSkipsOnMissingKconfig(t *testing.T) {
	restore := stubExit(t)
	defer restore()

	test := &Test{
		Name:          "needs-bogus-config",
		NeedsKconfigs: []string{"CONFIG_LTP_DOES_NOT_EXIST_XYZ"},
		TestAll:       func(tt *T) { tt.Report(result.TPASS, "should not run") },
	}
	// On a kernel without /proc/config.gz this is a no-op precondition
	// (see loadKernelConfig), so Run completes normally. Where the config
	// is readable the option is missing, so Run stops through result.Tconf,
	// which the stubbed exit turns into a panic.
	if _, haveConfig := loadKernelConfig(); !haveConfig {
		require.NotPanics(t, func() { Run(test) })
		return
	}
	require.PanicsWithValue(t, "exit", func() { Run(test) })
}
