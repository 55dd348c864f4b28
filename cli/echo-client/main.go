package main

import (
	"bufio"
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
	Server   string
	Encoding string
	Verbose  bool
}

func main() {
	f := new(flags)

	command := &cobra.Command{
		Use:   "echo-client",
		Short: "line-oriented client for the echo server",
		Run: func(cmd *cobra.Command, args []string) {
			run(f)
		},
	}

	command.Flags().StringVarP(&f.Server, "server", "s", "127.0.0.1:9000", "Set the server address.")
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

	server, err := netip.ParseAddrPort(f.Server)
	if err != nil {
		logrus.Fatal("parse server address: ", err)
	}

	r, err := reactor.New("echo")
	if err != nil {
		logrus.Fatal(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	outbound := socket.NewOutbound(server, netip.AddrPort{}, "echo-client", socket.WithEncoding(f.Encoding))
	outbound.Data().Subscribe(eventset.Func(func(payload socket.Payload) {
		if payload.Err != nil {
			logrus.Warn("payload from ", server, ": ", payload.Err)
			return
		}
		os.Stdout.WriteString(payload.Text)
	}))
	outbound.Disconnected().Subscribe(eventset.Func(func(event socket.Socket) {
		logrus.Info("disconnected from ", server)
		cancel()
	}))

	if err = outbound.Open(); err != nil {
		logrus.Fatal(err)
	}
	if err = r.RegisterSocket(outbound); err != nil {
		logrus.Fatal(err)
	}
	logrus.Info("connected to ", server)

	// Stdin is read off the reactor goroutine; sends are handed back to it
	// through Submit.
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := scanner.Text() + "\n"
			r.Submit(func() {
				if sendErr := outbound.Send(line); sendErr != nil {
					logrus.Warn("send: ", sendErr)
				}
			})
		}
		cancel()
	}()

	if err = r.Run(ctx); err != nil && ctx.Err() == nil {
		logrus.Fatal(err)
	}
	r.Shutdown()
}
