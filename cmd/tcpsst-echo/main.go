// Command tcpsst-echo is a minimal listen/dial demo of the sst
// package: every stream the listener receives echoes back whatever
// bytes it's sent, and the dialer prints whatever comes back.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ericruth/tcpsst/reactor"
	"github.com/ericruth/tcpsst/sst"
	"github.com/ericruth/tcpsst/sstlog"
	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
)

// VERSION is injected by buildflags
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	myApp := cli.NewApp()
	myApp.Name = "tcpsst-echo"
	myApp.Usage = "multiplexed-stream echo demo (listen and dial modes)"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "listen,l",
			Value: "",
			Usage: "run as listener on this address, eg: :7000",
		},
		cli.StringFlag{
			Name:  "dial,d",
			Value: "",
			Usage: "run as dialer against this address, eg: 127.0.0.1:7000",
		},
		cli.IntFlag{
			Name:  "width",
			Value: 3,
			Usage: "multiplex width, number of TCP sub-connections per session",
		},
		cli.BoolFlag{
			Name:  "quiet",
			Usage: "suppress per-stream open/close logging",
		},
	}
	myApp.Action = func(c *cli.Context) error {
		cfg := sst.DefaultConfig()
		cfg.MultiplexWidth = c.Int("width")
		if err := sst.VerifyConfig(cfg); err != nil {
			return errors.Wrap(err, "tcpsst-echo")
		}

		quiet := c.Bool("quiet")
		logln := func(v ...any) {
			if !quiet {
				log.Println(v...)
			}
		}

		rx := reactor.New(1024)
		go rx.Run()

		lg := sstlog.Logger(sstlog.Std{})
		if quiet {
			lg = sstlog.Discard{}
		}

		ctx, cancel := context.WithCancel(context.Background())
		go waitForShutdown(cancel)

		switch {
		case c.String("listen") != "":
			return runListener(ctx, c.String("listen"), cfg, rx, lg, logln)
		case c.String("dial") != "":
			return runDialer(ctx, c.String("dial"), cfg, rx, lg, logln)
		default:
			cli.ShowAppHelp(c)
			return nil
		}
	}
	if err := myApp.Run(os.Args); err != nil {
		color.Red("%+v", err)
		os.Exit(1)
	}
}

func runListener(ctx context.Context, addr string, cfg *sst.Config, rx reactor.Reactor, lg sstlog.Logger, logln func(...any)) error {
	ln, err := sst.Listen(addr, cfg, rx, lg)
	if err != nil {
		return errors.Wrap(err, "listen")
	}
	defer ln.Close()
	logln("listening on:", ln.Addr())

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		session, err := ln.Accept()
		if err != nil {
			return errors.Wrap(err, "accept")
		}
		serveEchoSession(session, logln)
	}
}

// serveEchoSession wires every stream the peer opens to echo back
// whatever it receives, matching handleClient's pipe-and-log shape in
// spirit without needing a second transport leg to pipe against.
func serveEchoSession(session *sst.Session, logln func(...any)) {
	session.OnNewStream(func(stream *sst.Stream) {
		logln("stream opened:", stream.ID())
		stream.SetCallbacks(sst.CallbackSet{
			OnBytesReceived: func(payload []byte) {
				if err := stream.Send(payload); err != nil {
					logln("echo send:", err)
				}
			},
			OnDisconnected: func(reason error) {
				logln("stream closed:", stream.ID(), reason)
			},
		})
	})
}

func runDialer(ctx context.Context, addr string, cfg *sst.Config, rx reactor.Reactor, lg sstlog.Logger, logln func(...any)) error {
	session, err := sst.Connect(ctx, addr, cfg, rx, lg)
	if err != nil {
		return errors.Wrap(err, "connect")
	}
	defer session.Disconnect()

	done := make(chan struct{})
	stream, err := session.OpenStream(sst.Reliable, sst.Ordered, sst.CallbackSet{
		OnBytesReceived: func(payload []byte) {
			logln("echo:", string(payload))
		},
		OnDisconnected: func(reason error) {
			logln("stream closed:", reason)
			close(done)
		},
	})
	if err != nil {
		return errors.Wrap(err, "open stream")
	}

	if err := stream.Send([]byte(fmt.Sprintf("hello from tcpsst-echo, stream %d", stream.ID()))); err != nil {
		return errors.Wrap(err, "send")
	}

	select {
	case <-done:
	case <-ctx.Done():
		stream.Close()
	}
	return nil
}

func waitForShutdown(cancel context.CancelFunc) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch
	cancel()
}
