package readall

import (
	"fmt"
	"io"
	"os"

	"github.com/ltp/testlib/internal/pipechannel"
)

// readerEntry is the workerpool.EntryFunc run in each re-exec'd reader
// child: it receives file paths over the Channel, opens and drains each
// one (the point is to provoke a kernel bug on a bad read, not to inspect
// the contents), and reports "OK" or "FAIL:<reason>" back per path.
func readerEntry(readFd, writeFd int) {
	ch, err := pipechannel.Open(readFd, writeFd, nil)
	if err != nil {
		os.Exit(3)
	}
	defer ch.Close()

	buf := make([]byte, 4096)
	for {
		n, err := ch.Recv(buf)
		if err != nil {
			return
		}
		path := string(buf[:n])
		if path == "__quit__" {
			return
		}

		report := readOneFile(path)
		if sendErr := ch.Send([]byte(report)); sendErr != nil {
			return
		}
	}
}

func readOneFile(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Sprintf("FAIL:open %s: %v", path, err)
	}
	defer f.Close()

	if _, err := io.Copy(io.Discard, f); err != nil {
		return fmt.Sprintf("FAIL:read %s: %v", path, err)
	}
	return "OK"
}
