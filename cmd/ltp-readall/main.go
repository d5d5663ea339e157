// Command ltp-readall drives the recursive read-everything stress engine
// (internal/readall) as a standalone binary, the Go counterpart of the
// read_all LTP test program.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/ltp/testlib/internal/ltpconfig"
	"github.com/ltp/testlib/internal/readall"
	"github.com/ltp/testlib/internal/result"
	"github.com/ltp/testlib/internal/resultlog"
	"github.com/ltp/testlib/internal/resultserver"
	"github.com/ltp/testlib/internal/resultsink"
	"github.com/ltp/testlib/internal/workerpool"
)

func main() {
	workerpool.Init()

	cfg := ltpconfig.Get()

	root := flag.String("root", cfg.ReadAll.Root, "directory tree to read")
	readers := flag.Int("readers", cfg.ReadAll.Readers, "reader worker count (0 = auto)")
	timeout := flag.Duration("timeout", time.Duration(cfg.ReadAll.TimeoutSeconds)*time.Second, "per-worker staleness timeout")
	quiet := flag.Bool("quiet", cfg.ReadAll.Quiet, "suppress per-file logging")
	flag.Parse()

	publisher, shutdown := startResultSurfaces(cfg)
	defer shutdown()

	counters := &result.Counters{}
	runID := uuid.NewString()
	log := resultlog.New("read_all", runID, counters)
	if publisher != nil {
		log.SetPublisher(publisher)
	}

	eng := readall.New(readall.Options{
		Root:      *root,
		Blacklist: cfg.ReadAll.BlacklistGlobs,
		Quiet:     *quiet,
		Timeout:   *timeout,
		Readers:   *readers,
	}, log)

	if err := eng.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "ltp-readall: %v\n", err)
		os.Exit(2)
	}

	slog.Info("read_all finished", "run_id", runID, "pass", counters.Pass(), "fail", counters.Fail(), "conf", counters.Conf(), "brok", counters.Brok())
	os.Exit(counters.ExitCode())
}

func startResultSurfaces(cfg *ltpconfig.Config) (resultlog.Publisher, func()) {
	var publishers resultsink.FanOut
	var server *resultserver.Server
	var sink *resultsink.Sink

	if cfg.ResultServer.Enabled {
		server = resultserver.New(cfg.ResultServer.Addr)
		go func() {
			if err := server.Run(); err != nil {
				slog.Error("result server stopped", "err", err)
			}
		}()
		publishers = append(publishers, server)
	}

	if cfg.ResultSink.Enabled {
		host, _ := os.Hostname()
		s, err := resultsink.Dial(cfg.ResultSink.RedisURL, cfg.ResultSink.Channel, host)
		if err != nil {
			slog.Warn("result sink unavailable, continuing without it", "err", err)
		} else {
			sink = s
			publishers = append(publishers, sink)
		}
	}

	var pub resultlog.Publisher
	if len(publishers) > 0 {
		pub = publishers
	}

	return pub, func() {
		if server != nil {
			server.Shutdown()
		}
		if sink != nil {
			sink.Close()
		}
	}
}
