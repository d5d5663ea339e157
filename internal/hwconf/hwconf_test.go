package hwconf

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ltp/testlib/internal/result"
)

func stubExit(t *testing.T) {
	t.Helper()
	restore := result.SetExitFuncForTest(func(code int) {
		panic("brk")
	})
	t.Cleanup(restore)
}

func TestParseDocumentWithReconfigureAndEntries(t *testing.T) {
	doc := Parse([]byte(`{
		"reconfigure": "reload",
		"hwconfs": [
			{"uid": "eth0", "driver": "e1000"},
			{"uid": "eth1", "driver": "virtio_net", "mtu": 1500}
		]
	}`))

	require.Equal(t, "reload", doc.Reconfigure)
	require.Len(t, doc.Entries, 2)
	require.Equal(t, "eth0", doc.Entries[0].UID)
	require.Equal(t, "e1000", doc.Entries[0].Fields["driver"])
	require.Equal(t, "eth1", doc.Entries[1].UID)
	require.Equal(t, "virtio_net", doc.Entries[1].Fields["driver"])
	_, hasMTU := doc.Entries[1].Fields["mtu"]
	require.False(t, hasMTU, "non-string fields are skipped, not coerced")
}

func TestParseDocumentWithoutReconfigureIsOptional(t *testing.T) {
	doc := Parse([]byte(`{"hwconfs": [{"uid": "lo"}]}`))
	require.Equal(t, "", doc.Reconfigure)
	require.Len(t, doc.Entries, 1)
	require.Equal(t, "lo", doc.Entries[0].UID)
}

func TestParseEmptyHwconfsYieldsNoEntries(t *testing.T) {
	doc := Parse([]byte(`{"hwconfs": []}`))
	require.Empty(t, doc.Entries)
}

func TestParseMissingHwconfsIsFatal(t *testing.T) {
	stubExit(t)
	require.Panics(t, func() {
		Parse([]byte(`{"reconfigure": "reload"}`))
	})
}

func TestParseEntryMissingUIDIsFatal(t *testing.T) {
	stubExit(t)
	require.Panics(t, func() {
		Parse([]byte(`{"hwconfs": [{"driver": "e1000"}]}`))
	})
}
