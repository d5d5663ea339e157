// Package resultlog renders test results in the conventional LTP
// "TAG  TNNN  message" line format on stdout while also emitting a
// structured slog record for machine consumption — the split the teacher
// draws between human-facing Printf-ish logs and structured diagnostics.
package resultlog

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ltp/testlib/internal/metrics"
	"github.com/ltp/testlib/internal/result"
)

// Publisher receives a copy of every reported result, e.g. an
// internal/resultserver.Server feeding WebSocket subscribers. Kept as a
// narrow interface here so resultlog never imports net/http.
type Publisher interface {
	Publish(evt ResultEvent)
}

// ResultEvent mirrors internal/resultserver.ResultEvent's JSON shape so a
// Logger can feed a Publisher without importing resultserver.
type ResultEvent struct {
	RunID     string
	Test      string
	Case      int
	Kind      string
	Message   string
	Timestamp time.Time
}

// Logger records test-body assertions (the soft tst_exp_* family) against a
// named test case, in contrast to result.Brk/Tconf which terminate the
// process outright for harness-side failures.
type Logger struct {
	testName  string
	runID     string
	counters  *result.Counters
	out       *os.File
	publisher Publisher
}

func New(testName, runID string, counters *result.Counters) *Logger {
	return &Logger{testName: testName, runID: runID, counters: counters, out: os.Stdout}
}

// SetPublisher attaches an optional live-feed sink; nil disables it.
func (l *Logger) SetPublisher(p Publisher) { l.publisher = p }

// RunID returns the correlation ID this logger stamps onto every record.
func (l *Logger) RunID() string { return l.runID }

// Report records one assertion outcome, case index starting at 1.
func (l *Logger) Report(k result.Kind, caseNum int, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	l.counters.Add(k)
	metrics.TestResults.WithLabelValues(k.String()).Inc()
	fmt.Fprintf(l.out, "%-6s %s%02d  %s\n", k.String(), l.testName, caseNum, msg)
	slog.Info("test result",
		"run_id", l.runID,
		"test", l.testName,
		"case", caseNum,
		"kind", k.String(),
		"message", msg,
	)
	if l.publisher != nil {
		l.publisher.Publish(ResultEvent{
			RunID:     l.runID,
			Test:      l.testName,
			Case:      caseNum,
			Kind:      k.String(),
			Message:   msg,
			Timestamp: time.Now(),
		})
	}
}

// Info emits a non-scoring TINFO diagnostic.
func (l *Logger) Info(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(l.out, "%-6s %s   %s\n", result.TINFO.String(), l.testName, msg)
	slog.Info(msg, "run_id", l.runID, "test", l.testName)
}

// Warn emits a non-scoring TWARN diagnostic.
func (l *Logger) Warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	l.counters.Add(result.TWARN)
	fmt.Fprintf(l.out, "%-6s %s   %s\n", result.TWARN.String(), l.testName, msg)
	slog.Warn(msg, "run_id", l.runID, "test", l.testName)
}
