package resultsink

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ltp/testlib/internal/resultlog"
)

type fakePublisher struct {
	got []resultlog.ResultEvent
}

func (f *fakePublisher) Publish(evt resultlog.ResultEvent) { f.got = append(f.got, evt) }

func TestFanOutDeliversToEveryPublisher(t *testing.T) {
	a, b := &fakePublisher{}, &fakePublisher{}
	fan := FanOut{a, b}

	evt := resultlog.ResultEvent{RunID: "run-1", Test: "tcindex01", Case: 1, Kind: "TPASS", Timestamp: time.Now()}
	fan.Publish(evt)

	require.Len(t, a.got, 1)
	require.Len(t, b.got, 1)
	require.Equal(t, "run-1", a.got[0].RunID)
	require.Equal(t, "run-1", b.got[0].RunID)
}

func TestDialRejectsMalformedURL(t *testing.T) {
	_, err := Dial("not-a-redis-url", "ltp:results", "host-1")
	require.Error(t, err)
}
