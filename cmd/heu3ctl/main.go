// Command heu3ctl talks to an Oregon Physics Heat Exchange Unit v3 over a
// serial port. It either sends a single raw command and prints the reply, or
// runs the telemetry poller, emitting one JSON snapshot per line and
// optionally serving the debug HTTP endpoints.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/oregon-physics/heu3/internal/heu3"
	"github.com/oregon-physics/heu3/internal/transport"
)

var (
	port       = flag.String("port", "/dev/ttyUSB0", "Serial port the unit is attached to")
	baud       = flag.Int("baud", transport.DefaultBaudRate, "Baud rate")
	backend    = flag.String("backend", string(transport.BackendInstrument), "Serial backend: instrument or raw")
	terminator = flag.String("terminator", "lf", "Protocol line terminator: lf or cr")
	timeout    = flag.Duration("timeout", transport.DefaultReadTimeout, "Deadline per write and per read")
	interval   = flag.Duration("interval", 2*time.Second, "Telemetry poll interval")
	listen     = flag.String("listen", "", "Address for the debug HTTP server (empty disables)")
	command    = flag.String("command", "", "Send a single raw command and exit")
)

func main() {
	flag.Parse()

	term, err := parseTerminator(*terminator)
	if err != nil {
		log.Fatal(err)
	}

	driver, err := heu3.New(heu3.Config{
		Address: *port,
		Options: transport.Options{
			Backend:     transport.Backend(*backend),
			BaudRate:    *baud,
			ReadTimeout: *timeout,
		},
		Terminator: term,
	})
	if err != nil {
		log.Fatalf("configure driver: %v", err)
	}

	if err := driver.Open(); err != nil {
		log.Fatalf("open %s: %v", *port, err)
	}
	defer driver.Close()

	if err := driver.Handshake(); err != nil {
		log.Fatalf("handshake with unit on %s: %v", *port, err)
	}

	if *command != "" {
		resp, err := driver.SendQuery(*command)
		if err != nil {
			log.Fatalf("%s: %v", *command, err)
		}
		fmt.Println(resp)
		return
	}

	poller := heu3.NewPoller(driver, *interval)
	defer poller.Close()

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run the poll loop against the unit
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := poller.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("poller stopped: %v", err)
		}
		// take the other goroutines down with the poll loop
		stop()
	}()

	// subscribe to snapshots and print them as JSON lines
	wg.Add(1)
	go func() {
		defer wg.Done()
		id, snapshots := poller.Subscribe()
		defer poller.Unsubscribe(id)
		enc := json.NewEncoder(os.Stdout)
		for {
			select {
			case snap, ok := <-snapshots:
				if !ok {
					return
				}
				if err := enc.Encode(snap); err != nil {
					log.Printf("encode snapshot: %v", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	// debug HTTP server, if requested
	if *listen != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveDebug(ctx, poller, *listen, stop)
		}()
	}

	wg.Wait()
}

// serveDebug runs the debug HTTP server until ctx is cancelled. A server
// failure cancels the rest of the process through stop rather than exiting
// outright, so deferred cleanup still runs.
func serveDebug(ctx context.Context, poller *heu3.Poller, addr string, stop context.CancelFunc) {
	mux := http.NewServeMux()
	poller.AttachAdminRoutes(mux)

	server := &http.Server{Addr: addr, Handler: mux}
	errc := make(chan error, 1)
	go func() { errc <- server.ListenAndServe() }()

	select {
	case err := <-errc:
		if err != nil && err != http.ErrServerClosed {
			log.Printf("debug server: %v", err)
		}
		stop()
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			server.Close()
		}
	}
}
