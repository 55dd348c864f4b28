package main

import (
	"context"
	"net/netip"
	"os"
	"os/signal"
	"syscall"

	"github.com/sagernet/sing-reactor/common/eventset"
	"github.com/sagernet/sing-reactor/common/log"
	"github.com/sagernet/sing-reactor/reactor"
	"github.com/sagernet/sing-reactor/socket"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type flags struct {
	Listen   string
	Encoding string
	Verbose  bool
}

func main() {
	f := new(flags)

	command := &cobra.Command{
		Use:   "echo-server",
		Short: "single-threaded readiness-driven echo server",
		Run: func(cmd *cobra.Command, args []string) {
			run(f)
		},
	}

	command.Flags().StringVarP(&f.Listen, "listen", "l", "127.0.0.1:9000", "Set the listen address.")
	command.Flags().StringVarP(&f.Encoding, "encoding", "e", socket.DefaultEncoding, "Set the payload text codec.")
	command.Flags().BoolVarP(&f.Verbose, "verbose", "v", false, "Enable debug logging.")

	if err := command.Execute(); err != nil {
		logrus.Fatal(err)
	}
}

func run(f *flags) {
	if f.Verbose {
		log.SetVerbose()
	}

	bind, err := netip.ParseAddrPort(f.Listen)
	if err != nil {
		logrus.Fatal("parse listen address: ", err)
	}

	r, err := reactor.New("echo")
	if err != nil {
		logrus.Fatal(err)
	}

	listener := socket.NewListener(bind, "echo-server", socket.WithEncoding(f.Encoding))
	listener.Connected().Subscribe(eventset.Func(func(event socket.Socket) {
		conn, isConn := event.(*socket.Conn)
		if !isConn {
			logrus.Info("listening on ", listener.BoundAddr())
			return
		}
		logrus.Info("connected: ", conn.RemoteAddr())
		conn.Data().Subscribe(eventset.Func(func(payload socket.Payload) {
			if payload.Err != nil {
				logrus.Warn("payload from ", conn.RemoteAddr(), ": ", payload.Err)
				return
			}
			if sendErr := conn.Send(payload.Text); sendErr != nil {
				logrus.Warn("echo to ", conn.RemoteAddr(), ": ", sendErr)
			}
		}))
		conn.Disconnected().Subscribe(eventset.Func(func(event socket.Socket) {
			logrus.Info("disconnected: ", conn.RemoteAddr())
		}))
	}))

	if err = listener.Open(); err != nil {
		logrus.Fatal(err)
	}
	if err = r.RegisterSocket(listener); err != nil {
		logrus.Fatal(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err = r.Run(ctx); err != nil && ctx.Err() == nil {
		logrus.Fatal(err)
	}
	r.Shutdown()
}
