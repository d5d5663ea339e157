// Package harness provides the outer Test declaration and run loop (§4.9):
// the struct a test author fills in (setup/test/cleanup, kernel-config and
// taint preconditions, save/restore of /proc or /sys knobs), and the glue
// that turns running it into a TPASS/TFAIL/TCONF/TBROK verdict and process
// exit code — the idiomatic-Go shape of tst_test_macros.h's struct
// tst_test plus main()'s driver loop.
package harness

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/ltp/testlib/internal/result"
	"github.com/ltp/testlib/internal/resultlog"
)

// TaintMask turns on the taint check for a test (TST_TAINT_W/TST_TAINT_D's
// Go equivalent). Run only tests whether the mask is non-zero: any kernel
// taint bit set anew during the run is a failure, whichever bits the mask
// names.
type TaintMask uint32

const (
	TaintWarn TaintMask = 1 << iota
	TaintBadPage
	TaintOops
	TaintPanic
)

// PathVal is one /proc or /sys knob to save before the test and restore
// (or, if SkipOnMissing is set, silently skip) after it, regardless of the
// verdict.
type PathVal struct {
	Path          string
	Value         string
	SkipOnMissing bool
}

// T is the per-run context passed to Setup/Run/Cleanup: where to report
// results and a private, already-created scratch directory.
type T struct {
	log     *resultlog.Logger
	TempDir string
	RunID   string
}

// Report records one result line (§7's taxonomy).
func (t *T) Report(k result.Kind, format string, args ...any) {
	t.log.Report(k, 0, format, args...)
}

// Test is the declaration a test author fills in, mirroring struct
// tst_test: exactly one of TestAll or Test+TestCount should be set.
type Test struct {
	Name string

	Setup    func(*T)
	TestAll  func(*T)
	Test     func(*T, int)
	TestCount int
	Cleanup  func(*T)

	NeedsKconfigs []string
	SaveRestore   []PathVal
	TaintCheck    TaintMask
}

// DefaultPublisher, when set by a cmd/ entrypoint before calling Run, is
// attached to every run's Logger so results also reach a result server or
// sink without each Test needing to know about either.
var DefaultPublisher resultlog.Publisher

// Run executes one Test to completion and returns the process exit code
// that should be passed to os.Exit (§7's Counters.ExitCode). Setup/test
// panics are not recovered: a primitive hitting result.Brk/Tconf calls
// os.Exit directly, by design, so control never returns here on a fatal
// path.
func Run(test *Test) int {
	counters := &result.Counters{}
	log := resultlog.New(test.Name, uuid.NewString(), counters)
	if DefaultPublisher != nil {
		log.SetPublisher(DefaultPublisher)
	}

	if missing := missingKconfigs(test.NeedsKconfigs); len(missing) > 0 {
		result.Tconf("missing kernel config: %v", missing)
	}

	tmpdir, err := os.MkdirTemp("", "ltp-"+test.Name+"-")
	if err != nil {
		result.Brk("harness: create tmpdir: %v", err)
	}
	defer os.RemoveAll(tmpdir)

	t := &T{log: log, TempDir: tmpdir, RunID: log.RunID()}

	saved := saveKnobs(test.SaveRestore)
	defer restoreKnobs(saved)

	var beforeTaint uint64
	if test.TaintCheck != 0 {
		beforeTaint = readTainted()
	}

	if test.Setup != nil {
		test.Setup(t)
	}
	if test.Cleanup != nil {
		defer test.Cleanup(t)
	}

	switch {
	case test.TestAll != nil:
		test.TestAll(t)
	case test.Test != nil:
		for i := 0; i < test.TestCount; i++ {
			test.Test(t, i)
		}
	default:
		result.Brk("harness: test %q declares neither TestAll nor Test", test.Name)
	}

	if test.TaintCheck != 0 {
		after := readTainted()
		if newTaint := after &^ beforeTaint; newTaint != 0 {
			t.Report(result.TFAIL, "new kernel taint bits set: %#x", newTaint)
		}
	}

	return counters.ExitCode()
}

func missingKconfigs(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	config, ok := loadKernelConfig()
	if !ok {
		// No /proc/config.gz on this kernel: the precondition can't be
		// checked at all, so it does not gate the run (TCONF-by-missing-
		// evidence would make every test fail identically on a kernel
		// built without CONFIG_IKCONFIG_PROC).
		return nil
	}
	var missing []string
	for _, want := range names {
		key, wantVal, hasVal := splitKconfig(want)
		got, present := config[key]
		if !present || got == "is not set" {
			missing = append(missing, want)
			continue
		}
		if hasVal && got != wantVal {
			missing = append(missing, want)
		}
	}
	return missing
}

func splitKconfig(want string) (key, val string, hasVal bool) {
	for i := 0; i < len(want); i++ {
		if want[i] == '=' {
			return want[:i], want[i+1:], true
		}
	}
	return want, "", false
}

// loadKernelConfig parses /proc/config.gz (CONFIG_IKCONFIG_PROC) into a
// CONFIG_FOO -> value map. ok is false if that file doesn't exist, which
// callers must treat as "unknown" rather than "nothing is enabled".
func loadKernelConfig() (map[string]string, bool) {
	f, err := os.Open("/proc/config.gz")
	if err != nil {
		return nil, false
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, false
	}
	defer gz.Close()

	out := make(map[string]string)
	sc := bufio.NewScanner(gz)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") && !strings.Contains(line, "is not set") {
			continue
		}
		if strings.Contains(line, "is not set") {
			key := strings.TrimSpace(strings.TrimPrefix(line, "#"))
			key = strings.TrimSuffix(key, "is not set")
			key = strings.TrimSpace(key)
			out[key] = "is not set"
			continue
		}
		eq := strings.IndexByte(line, '=')
		if eq < 0 {
			continue
		}
		out[line[:eq]] = line[eq+1:]
	}
	return out, true
}

func saveKnobs(knobs []PathVal) map[string]string {
	saved := make(map[string]string)
	for _, k := range knobs {
		data, err := os.ReadFile(k.Path)
		if err != nil {
			if k.SkipOnMissing {
				continue
			}
			result.Tconf("harness: required path %s unreadable: %v", k.Path, err)
		}
		saved[k.Path] = string(data)
		if err := os.WriteFile(k.Path, []byte(k.Value), 0644); err != nil {
			result.Brk("harness: write %s=%q: %v", k.Path, k.Value, err)
		}
	}
	return saved
}

func restoreKnobs(saved map[string]string) {
	for path, value := range saved {
		if err := os.WriteFile(path, []byte(value), 0644); err != nil {
			fmt.Fprintf(os.Stderr, "harness: restore %s: %v\n", path, err)
		}
	}
}

func readTainted() uint64 {
	data, err := os.ReadFile("/proc/sys/kernel/tainted")
	if err != nil {
		return 0
	}
	var v uint64
	fmt.Sscanf(string(data), "%d", &v)
	return v
}
