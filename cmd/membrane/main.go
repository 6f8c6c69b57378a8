// Membrane CLI - builds a compartment runtime from a manifest and serves
// or queries its inspection service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/chazu/membrane/manifest"
	"github.com/chazu/membrane/server"
)

func main() {
	verbose := flag.Bool("v", false, "Verbose output")
	configDir := flag.String("config", "", "Directory containing membrane.toml (default: search upward from cwd)")
	serveMode := flag.Bool("serve", false, "Start the inspection server (gRPC + Connect HTTP/JSON)")
	servePort := flag.Int("port", 0, "Inspection server port (default from manifest)")
	inspectAddr := flag.String("inspect", "", "List compartments of a running server at host:port")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: membrane [options]\n\n")
		fmt.Fprintf(os.Stderr, "Builds compartments from membrane.toml and serves their inspection service.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  membrane                          # Validate manifest, print compartments\n")
		fmt.Fprintf(os.Stderr, "  membrane -config ./conf -serve    # Serve on the manifest's port\n")
		fmt.Fprintf(os.Stderr, "  membrane -serve -port 8080        # Serve on :8080\n")
		fmt.Fprintf(os.Stderr, "  membrane -inspect localhost:4810  # Query a running server\n")
	}
	flag.Parse()

	verbosity := 0
	if *verbose {
		verbosity = 2
	}
	commonlog.Configure(verbosity, nil)

	if *inspectAddr != "" {
		if err := inspect(*inspectAddr); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	m, err := loadManifest(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	rt, err := m.Build(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if !*serveMode {
		for _, c := range rt.Compartments() {
			st := c.Stats()
			fmt.Printf("%-4d %-20s %s system=%t policy=%T\n", st.ID, st.Name, st.Key, st.System, c.Policy())
		}
		return
	}

	interval, _ := m.SweepInterval()
	port := m.Server.Port
	if *servePort != 0 {
		port = *servePort
	}
	opts := []server.ServerOption{server.WithSweepInterval(interval)}
	if path := m.AuditPath(); path != "" {
		audit, err := server.OpenAuditLog(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		opts = append(opts, server.WithAuditLog(audit))
	}
	srv := server.New(rt, opts...)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		srv.Stop()
	}()
	if err := srv.ListenAndServe(fmt.Sprintf(":%d", port)); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}

// loadManifest reads dir/membrane.toml, or searches upward from the working
// directory when dir is empty.
func loadManifest(dir string) (*manifest.Manifest, error) {
	if dir != "" {
		return manifest.Load(dir)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	m, err := manifest.FindAndLoad(cwd)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("no %s found in %s or any parent", manifest.FileName, cwd)
	}
	return m, nil
}

// inspect lists the compartments of the server at addr over gRPC.
func inspect(addr string) error {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp := &structpb.Struct{}
	if err := conn.Invoke(ctx, server.ListCompartmentsProcedure, &emptypb.Empty{}, resp); err != nil {
		return fmt.Errorf("ListCompartments: %w", err)
	}
	for _, v := range resp.GetFields()["compartments"].GetListValue().GetValues() {
		f := v.GetStructValue().GetFields()
		fmt.Printf("%-4.0f %-20s %s system=%t wrappers=%.0f strings=%.0f bigints=%.0f atoms=%.0f nuked=%t/%t\n",
			f["id"].GetNumberValue(),
			f["name"].GetStringValue(),
			f["key"].GetStringValue(),
			f["system"].GetBoolValue(),
			f["wrappers"].GetNumberValue(),
			f["strings"].GetNumberValue(),
			f["bigints"].GetNumberValue(),
			f["atoms"].GetNumberValue(),
			f["nuked_incoming"].GetBoolValue(),
			f["nuked_outgoing"].GetBoolValue(),
		)
	}
	fmt.Printf("live heap things: %.0f\n", resp.GetFields()["live"].GetNumberValue())
	return nil
}
