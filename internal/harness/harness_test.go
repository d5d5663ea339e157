package harness

import (
	"testing"

	"github.com/ltp/testlib/internal/result"
)

// stubExit makes result.Brk/Tconf panic instead of calling os.Exit, so
// fatal harness paths can be asserted without killing the test binary.
func stubExit(t *testing.T) func() {
	t.Helper()
	restore := result.SetExitFuncForTest(func(code int) {
		panic("exit")
	})
	t.Cleanup(restore)
	return restore
}
