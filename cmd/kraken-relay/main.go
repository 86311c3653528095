package main

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"

	"github.com/pterm/pterm"

	"github.com/wpk-/kraken/signaling"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <listen-addr>\n", os.Args[0])
		os.Exit(1)
	}
	addr := os.Args[1]

	handler := pterm.NewSlogHandler(&pterm.DefaultLogger)
	logger := slog.New(handler)

	l, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Error("failed to listen on address", "address", addr, "err", err.Error())
		panic(err)
	}
	pterm.Info.Println("Relay listening on " + l.Addr().String())

	hub := signaling.NewHub()
	if err := http.Serve(l, hub); err != nil {
		logger.Error("relay stopped", "err", err.Error())
		panic(err)
	}
}
