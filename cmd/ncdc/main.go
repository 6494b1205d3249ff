// Command ncdc connects to configured Direct Connect hubs, advertises
// a local share, and answers ADCGET file/tthl requests from peers.
// There is no terminal UI here — that layer is out of scope; this is
// the wiring that a UI (or a script) would sit on top of.
package main

import (
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/amrav/ncdc/internal/cc"
	"github.com/amrav/ncdc/internal/config"
	"github.com/amrav/ncdc/internal/hub"
	"github.com/amrav/ncdc/internal/identity"
	"github.com/amrav/ncdc/internal/logging"
	"github.com/amrav/ncdc/internal/metrics"
	"github.com/amrav/ncdc/internal/runtime"
	"github.com/amrav/ncdc/internal/sharetree"
	"github.com/amrav/ncdc/internal/slot"
	"github.com/amrav/ncdc/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// app holds the process-wide collaborators, mirroring the hub/C↔C
// session shapes these services wrap rather than owning any wire
// state itself.
type app struct {
	cfg      *config.File
	id       identity.Identity
	rt       *runtime.Runtime
	tree     *sharetree.Tree
	st       store.Store
	sink     logging.Sink
	met      *metrics.Metrics
	hubs     *runtime.Registry[*hub.Session]
	ccs      *runtime.Registry[*cc.Session]
	logger   *log.Logger
	dataDir  string
	fileList string
}

func main() {
	configPath := flag.String("config", "", "path to a TOML config file (defaults built in if empty)")
	dataDir := flag.String("data-dir", defaultDataDir(), "directory for identity and hash-store files")
	debug := flag.Bool("debug", false, "enable debug logging")
	metricsAddr := flag.String("metrics-addr", "", "if set, serve Prometheus metrics on this address")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("ncdc: %v", err)
	}

	id, err := identity.LoadOrCreate(filepath.Join(*dataDir, "identity.json"))
	if err != nil {
		log.Fatalf("ncdc: identity: %v", err)
	}

	st, err := store.Open(filepath.Join(*dataDir, "store.json"))
	if err != nil {
		log.Fatalf("ncdc: store: %v", err)
	}

	zlog, err := logging.New(*debug)
	if err != nil {
		log.Fatalf("ncdc: logging: %v", err)
	}
	sink := logging.NewRing(zlog, 2000)

	a := &app{
		cfg:     cfg,
		id:      id,
		rt:      runtime.New(),
		tree:    sharetree.New(""),
		st:      st,
		sink:    sink,
		met:     metrics.New(prometheus.DefaultRegisterer),
		hubs:    runtime.NewRegistry[*hub.Session](),
		ccs:     runtime.NewRegistry[*cc.Session](),
		logger:  log.New(os.Stderr, "ncdc: ", log.LstdFlags),
		dataDir: *dataDir,
	}

	a.fileList = filepath.Join(*dataDir, "files.xml.bz2")
	if err := sharetree.Save(a.fileList, a.tree.Root, id.CIDString(), "/", sharetree.CompressBzip2); err != nil {
		log.Fatalf("ncdc: writing file list: %v", err)
	}

	go a.rt.Run()
	defer a.rt.Stop()

	if *metricsAddr != "" {
		go a.serveMetrics(*metricsAddr)
	}
	a.rt.TickFunc(10*time.Second, a.sampleMetrics)

	if err := a.listen(); err != nil {
		log.Fatalf("ncdc: listen: %v", err)
	}

	for name, h := range cfg.Hub {
		if !h.AutoConnect {
			continue
		}
		if err := a.connectHub(name, h); err != nil {
			a.logger.Printf("hub %s: %v", name, err)
		}
	}

	waitForSignal()
}

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".ncdc")
	}
	return ".ncdc"
}

func loadConfig(path string) (*config.File, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func waitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
}

// listen opens the process's single incoming C↔C port. Every accepted
// connection is wrapped with a zero hub back-reference, so its
// $MyNick is rejected; incoming connections are not matched against
// earlier $RevConnectToMe requests.
func (a *app) listen() error {
	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(a.cfg.Global.ListenPort)))
	if err != nil {
		return err
	}
	a.rt.Listener(ln, func(raw net.Conn) {
		cc.Wrap(raw, a.ccConfig(runtime.ID{}), a.tree, a.st, a.sink, a.rt, a.ccs, a.hubs)
	})
	return nil
}

func (a *app) ccConfig(hubID runtime.ID) cc.Config {
	return cc.Config{
		Nick:         a.cfg.Global.Nick,
		CID:          a.id.CID,
		PID:          a.id.PID,
		ClientName:   "ncdc",
		ClientVer:    "1.0",
		Slots:        a.cfg.Global.Slots,
		FileListPath: a.fileList,
		Hub:          hubID,
		OnBytesServed: func(n int64) {
			a.met.BytesServed.Add(float64(n))
		},
	}
}

// connectHub dials one configured hub and registers it under an
// opaque id so cc sessions opened on its behalf can resolve the
// roster back-reference spec.md §4.6 requires.
func (a *app) connectHub(name string, h config.Hub) error {
	dialect := hub.Legacy
	if h.Protocol == "modern" {
		dialect = hub.Modern
	}
	hubID := runtime.NewID()
	cfg := hub.Config{
		Nick:        valueOr(h.Nick, a.cfg.Global.Nick),
		Password:    h.Password,
		Description: h.Description,
		Connection:  h.Connection,
		Email:       h.Email,
		Encoding:    h.Encoding,
		Slots:       a.cfg.Global.Slots,
		Active:      a.cfg.Global.ListenPort > 0,
		ListenAddr:  net.JoinHostPort("", strconv.Itoa(a.cfg.Global.ListenPort)),
		HubName:     name,
		CID:         a.id.CID,
		PID:         a.id.PID,
		ClientName:  "ncdc",
		ClientVer:   "1.0",
		SlotsInUse: func() int {
			return slot.InUse(a.ccs)
		},
	}
	hooks := hub.Hooks{
		ConnectToMe: func(remoteAddr, expectedNick string) {
			if _, err := cc.Dial(remoteAddr, a.ccConfig(hubID), a.tree, a.st, a.sink, a.rt, a.ccs, a.hubs); err != nil {
				a.logger.Printf("cc dial %s (expecting %s): %v", remoteAddr, expectedNick, err)
			}
		},
		RevConnectToMeUnreachable: func(peerNick string) {
			a.logger.Printf("hub %s: cannot reverse-connect to %s, no reachable listen address", name, peerNick)
		},
		ForceMove: func(addr string) {
			a.logger.Printf("hub %s: forced move to %s", name, addr)
		},
		Chat: func(from, msg string) {
			a.sink.Post(logging.PriorityMedium, from+": "+msg)
		},
		PrivateMessage: func(from, msg string) {
			a.sink.Post(logging.PriorityHigh, "PM from "+from+": "+msg)
		},
		OnSearchReply: func() {
			a.met.SearchReplies.Inc()
		},
		OnReconnect: func() {
			a.met.HubReconnects.Inc()
		},
	}
	s, err := hub.New(dialect, h.Address, cfg, a.tree, a.sink, a.rt, hooks, nil)
	if err != nil {
		return err
	}
	a.hubs.Put(hubID, s)
	return nil
}

func (a *app) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		a.logger.Printf("metrics server: %v", err)
	}
}

// sampleMetrics refreshes the gauges that have no natural event to
// hang an increment off, since slot/session counts are derived by
// re-scanning the registry rather than tracked incrementally.
func (a *app) sampleMetrics() {
	a.met.SlotsInUse.Set(float64(slot.InUse(a.ccs)))
	a.met.CCSessionsActive.Set(float64(a.ccs.Len()))
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

