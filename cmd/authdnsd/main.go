package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dnsscience/authdnsd/internal/admin"
	"github.com/dnsscience/authdnsd/internal/server"
	"github.com/dnsscience/authdnsd/internal/util"
	"github.com/dnsscience/authdnsd/internal/zone"
)

var (
	configFile    = flag.String("config", "", "YAML config file (optional)")
	listenAddr    = flag.String("listen", ":5353", "UDP listen address")
	adminAddr     = flag.String("admin-listen", "127.0.0.1:9911", "Admin control-channel listen address")
	metricsAddr   = flag.String("metrics-listen", "127.0.0.1:9912", "Prometheus /metrics listen address")
	numCores      = flag.Int("cores", runtime.NumCPU(), "Number of query-handling goroutines (also sizes per-zone rotation tables)")
	zoneFilesRoot = flag.String("zone-files-root", "", "Root directory CONFIG ZONEFILE SET resolves relative paths against")
	minimizeResp  = flag.Bool("minimize", false, "Omit the apex-NS authority and additional glue from answers")
	statsInterval = flag.Duration("stats-interval", 5*time.Second, "Interval for periodic stats logging (0 disables)")
	debugHooks    = flag.Bool("allow-debug-hooks", false, "Enable the admin DEBUG command's diagnostic subcommands")
	version       = flag.String("version-string", "authdnsd-dev", "Version string returned by the admin VERSION command")
)

func main() {
	flag.Parse()

	fmt.Println("authdnsd - authoritative DNS server core")
	fmt.Println()

	var cf *ConfigFile
	if *configFile != "" {
		var err error
		cf, err = LoadConfig(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
	}

	// Flags override file values, file overrides built-in defaults —
	// cmd/dnsscience-grpc/main.go's precedence chain.
	listen, adminListen, metricsListen, zoneRoot := *listenAddr, *adminAddr, *metricsAddr, *zoneFilesRoot
	var zoneConfigs []ZoneConfig
	if cf != nil {
		if cf.Listen != "" && !isFlagSet("listen") {
			listen = cf.Listen
		}
		if cf.AdminListen != "" && !isFlagSet("admin-listen") {
			adminListen = cf.AdminListen
		}
		if cf.MetricsListen != "" && !isFlagSet("metrics-listen") {
			metricsListen = cf.MetricsListen
		}
		if cf.ZoneFilesRoot != "" && !isFlagSet("zone-files-root") {
			zoneRoot = cf.ZoneFilesRoot
		}
		zoneConfigs = cf.Zones
	}

	fmt.Printf("Configuration:\n")
	fmt.Printf("  Listen:          %s\n", listen)
	fmt.Printf("  Admin listen:    %s\n", adminListen)
	fmt.Printf("  Metrics listen:  %s\n", metricsListen)
	fmt.Printf("  Cores:           %d\n", *numCores)
	fmt.Printf("  Zone files root: %s\n", zoneRoot)
	fmt.Println()

	tree := zone.NewTree()
	snap := &zone.Snapshot{Zones: make(map[string]*zone.Zone, len(zoneConfigs))}
	for _, zc := range zoneConfigs {
		z, err := loadZoneConfig(zc)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading zone %s: %v\n", zc.Origin, err)
			os.Exit(1)
		}
		snap.Zones[z.Origin] = z
		fmt.Printf("Loaded zone %s (%d records)\n", z.Origin, len(zc.Records))
	}
	tree.Publish(snap)

	srvCfg := server.DefaultConfig()
	srvCfg.NumCores = *numCores
	srvCfg.MinimizeResp = *minimizeResp
	srv := server.New(srvCfg, tree)

	adminCfg := admin.DefaultConfig()
	adminCfg.ListenAddr = adminListen
	adminCfg.Version = *version
	adminCfg.ZoneFilesRoot = zoneRoot
	adminCfg.AllowDebugHooks = *debugHooks
	adminSrv := admin.New(adminCfg, tree, fixtureZoneLoader{})
	adminSrv.SetStats(srv)

	go func() {
		if err := adminSrv.ListenAndServe(); err != nil {
			log.Printf("admin: %v", err)
		}
	}()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: metricsListen, Handler: metricsMux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics: %v", err)
		}
	}()

	conn, err := net.ListenPacket("udp", listen)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listening on %s: %v\n", listen, err)
		os.Exit(1)
	}

	var wg sync.WaitGroup
	for core := 0; core < *numCores; core++ {
		wg.Add(1)
		go serveUDP(conn, srv, core, &wg)
	}

	fmt.Println("authdnsd started successfully!")
	fmt.Println()

	if *statsInterval > 0 {
		go printStats(srv, *statsInterval)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	fmt.Println()

	conn.Close()
	wg.Wait()
	adminSrv.Close()
	metricsServer.Close()
}

// serveUDP is the per-core packet-receive loop cmd/authdnsd brings: the
// packet I/O framework itself stays minimal on purpose (DMA rings and
// NUMA placement are out of scope for a plain net.PacketConn), just
// enough to hand each datagram to Server.HandleQuery with a stable
// core index.
func serveUDP(conn net.PacketConn, srv *server.Server, core int, wg *sync.WaitGroup) {
	defer wg.Done()
	buf := make([]byte, 65535)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			return
		}
		resp, drop := srv.HandleQuery(buf[:n], core)
		if drop {
			continue
		}
		if _, err := conn.WriteTo(resp, addr); err != nil {
			log.Printf("core %d: write to %s: %v", core, addr, err)
		}
	}
}

func loadZoneConfig(zc ZoneConfig) (*zone.Zone, error) {
	if zc.File != "" {
		return fixtureZoneLoader{}.LoadZone(zc.Origin, zc.File)
	}
	return recordsToZone(zc.Origin, zc.Records)
}

func isFlagSet(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

func printStats(srv *server.Server, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		stats := srv.StatsSnapshot()
		qps, droppedQPS := srv.QPS()
		log.Printf("queries=%s (%.0f qps) answers=%s errors=%s nxdomain=%s dropped=%s (%.0f qps)",
			util.NumberToHuman(stats.Queries), qps,
			util.NumberToHuman(stats.Answers),
			util.NumberToHuman(stats.Errors),
			util.NumberToHuman(stats.NXDomain),
			util.NumberToHuman(stats.Dropped), droppedQPS)
	}
}
