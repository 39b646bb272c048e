// Command wsmesh-server runs a standalone wsmesh messaging server with an
// optional ops endpoint (/healthz, /metrics) and a pluggable distributed
// adapter. Configuration comes from WSMESH_* environment variables with
// flag overrides; on startup a single ready JSON line goes to stdout.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shuliangfu/wsmesh/adapter"
	"github.com/shuliangfu/wsmesh/adapter/mongoadapter"
	"github.com/shuliangfu/wsmesh/adapter/redisadapter"
	"github.com/shuliangfu/wsmesh/crypto/msgcrypt"
	"github.com/shuliangfu/wsmesh/internal/cmdutil"
	"github.com/shuliangfu/wsmesh/internal/version"
	"github.com/shuliangfu/wsmesh/observability"
	"github.com/shuliangfu/wsmesh/observability/prom"
	"github.com/shuliangfu/wsmesh/server"
)

// Injected via -ldflags at release time.
var (
	buildVersion = "dev"
	buildCommit  = "unknown"
	buildDate    = "unknown"
)

const (
	adapterMemory = "memory"
	adapterRedis  = "redis"
	adapterMongo  = "mongo"

	shutdownTimeout = 5 * time.Second
)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string { return strings.Join(*s, ",") }

func (s *stringSliceFlag) Set(v string) error {
	*s = append(*s, v)
	return nil
}

type ready struct {
	Version    string `json:"version"`
	ServerID   string `json:"server_id"`
	Listen     string `json:"listen"`
	Path       string `json:"path"`
	WSURL      string `json:"ws_url"`
	Adapter    string `json:"adapter"`
	HealthzURL string `json:"healthz_url,omitempty"`
	MetricsURL string `json:"metrics_url,omitempty"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr, nil, nil))
}

// run is main minus os.Exit. started, when non-nil, receives the ready line
// once the server is accepting connections; closing stop requests shutdown
// without a signal. Both are test hooks.
func run(args []string, stdout, stderr io.Writer, started chan<- ready, stop <-chan struct{}) int {
	cfg := server.DefaultConfig()

	host := cmdutil.EnvString("WSMESH_HOST", "")
	port, err := cmdutil.EnvInt("WSMESH_PORT", 0)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	path := cmdutil.EnvString("WSMESH_PATH", cfg.Path)
	pingInterval, err := cmdutil.EnvDuration("WSMESH_PING_INTERVAL", cfg.PingInterval)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	pingTimeout, err := cmdutil.EnvDuration("WSMESH_PING_TIMEOUT", cfg.PingTimeout)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	maxConns, err := cmdutil.EnvInt("WSMESH_MAX_CONNS", 0)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	batchHeartbeat, err := cmdutil.EnvBool("WSMESH_BATCH_HEARTBEAT", false)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	useQueue, err := cmdutil.EnvBool("WSMESH_USE_QUEUE", false)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	keyText := cmdutil.EnvString("WSMESH_KEY", "")
	algorithm := cmdutil.EnvString("WSMESH_ALGORITHM", "")
	adapterName := cmdutil.EnvString("WSMESH_ADAPTER", adapterMemory)
	adapterPrefix := cmdutil.EnvString("WSMESH_ADAPTER_PREFIX", "")
	redisAddr := cmdutil.EnvString("WSMESH_REDIS_ADDR", "127.0.0.1:6379")
	redisPassword := cmdutil.EnvString("WSMESH_REDIS_PASSWORD", "")
	redisDB, err := cmdutil.EnvInt("WSMESH_REDIS_DB", 0)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	mongoURI := cmdutil.EnvString("WSMESH_MONGO_URI", "mongodb://127.0.0.1:27017")
	mongoDB := cmdutil.EnvString("WSMESH_MONGO_DB", "")
	opsListen := cmdutil.EnvString("WSMESH_OPS_LISTEN", "")
	logLevel := cmdutil.EnvString("WSMESH_LOG_LEVEL", "info")
	var allowedOrigins stringSliceFlag
	if raw := cmdutil.EnvString("WSMESH_ALLOW_ORIGIN", ""); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			if v := strings.TrimSpace(part); v != "" {
				allowedOrigins = append(allowedOrigins, v)
			}
		}
	}

	fs := flag.NewFlagSet("wsmesh-server", flag.ContinueOnError)
	fs.SetOutput(stderr)
	showVersion := false
	fs.BoolVar(&showVersion, "version", false, "print version and exit")
	fs.StringVar(&host, "host", host, "bind host; empty binds all interfaces (env: WSMESH_HOST)")
	fs.IntVar(&port, "port", port, "bind port; 0 asks the OS for a free port (env: WSMESH_PORT)")
	fs.StringVar(&path, "path", path, "base websocket path (env: WSMESH_PATH)")
	fs.DurationVar(&pingInterval, "ping-interval", pingInterval, "heartbeat ping cadence (env: WSMESH_PING_INTERVAL)")
	fs.DurationVar(&pingTimeout, "ping-timeout", pingTimeout, "missing-pong budget before disconnect (env: WSMESH_PING_TIMEOUT)")
	fs.IntVar(&maxConns, "max-conns", maxConns, "max concurrent peers; 0 = unlimited (env: WSMESH_MAX_CONNS)")
	fs.Var(&allowedOrigins, "allow-origin", "allowed Origin value (repeatable; empty allows all) (env: WSMESH_ALLOW_ORIGIN as CSV)")
	fs.BoolVar(&batchHeartbeat, "batch-heartbeat", batchHeartbeat, "one shared heartbeat sweep instead of per-peer timers (env: WSMESH_BATCH_HEARTBEAT)")
	fs.BoolVar(&useQueue, "use-queue", useQueue, "route broadcasts through the bounded message queue (env: WSMESH_USE_QUEUE)")
	fs.StringVar(&keyText, "key", keyText, "payload encryption key: base64, hex, or raw 16/32 bytes (env: WSMESH_KEY)")
	fs.StringVar(&algorithm, "algorithm", algorithm, "encryption algorithm; empty infers from key length (env: WSMESH_ALGORITHM)")
	fs.StringVar(&adapterName, "adapter", adapterName, "distributed adapter: memory, redis, or mongo (env: WSMESH_ADAPTER)")
	fs.StringVar(&adapterPrefix, "adapter-prefix", adapterPrefix, "key/collection prefix for redis/mongo adapters (env: WSMESH_ADAPTER_PREFIX)")
	fs.StringVar(&redisAddr, "redis-addr", redisAddr, "redis host:port (env: WSMESH_REDIS_ADDR)")
	fs.StringVar(&redisPassword, "redis-password", redisPassword, "redis password (env: WSMESH_REDIS_PASSWORD)")
	fs.IntVar(&redisDB, "redis-db", redisDB, "redis database index (env: WSMESH_REDIS_DB)")
	fs.StringVar(&mongoURI, "mongo-uri", mongoURI, "mongodb connection string (env: WSMESH_MONGO_URI)")
	fs.StringVar(&mongoDB, "mongo-db", mongoDB, "mongodb database name (env: WSMESH_MONGO_DB)")
	fs.StringVar(&opsListen, "ops-listen", opsListen, "listen address for /healthz and /metrics; empty disables (env: WSMESH_OPS_LISTEN)")
	fs.StringVar(&logLevel, "log-level", logLevel, "logrus level: debug, info, warn, error (env: WSMESH_LOG_LEVEL)")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if showVersion {
		fmt.Fprintln(stdout, version.Info{Version: buildVersion, Commit: buildCommit, Date: buildDate}.String())
		return 0
	}

	usageErr := func(msg string) int {
		fmt.Fprintln(stderr, msg)
		fs.Usage()
		return 2
	}

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return usageErr(fmt.Sprintf("invalid --log-level %q", logLevel))
	}
	logrus.SetLevel(level)
	logrus.SetOutput(stderr)

	key, err := cmdutil.ParseKey(keyText)
	if err != nil {
		return usageErr(err.Error())
	}

	var ad adapter.Adapter
	switch adapterName {
	case adapterMemory:
		ad = adapter.NewMemory()
	case adapterRedis:
		ad = redisadapter.New(redisadapter.Config{
			Addr:      redisAddr,
			Password:  redisPassword,
			DB:        redisDB,
			KeyPrefix: adapterPrefix,
			Heartbeat: pingInterval,
		})
	case adapterMongo:
		ad = mongoadapter.New(mongoadapter.Config{
			URI:              mongoURI,
			Database:         mongoDB,
			CollectionPrefix: adapterPrefix,
			Heartbeat:        pingInterval,
		})
	default:
		return usageErr(fmt.Sprintf("unknown --adapter %q (want memory, redis, or mongo)", adapterName))
	}

	observer := observability.NewAtomicServerObserver()
	cfg.Host = host
	cfg.Port = port
	cfg.Path = path
	cfg.PingInterval = pingInterval
	cfg.PingTimeout = pingTimeout
	cfg.MaxConnections = maxConns
	cfg.AllowedOrigins = allowedOrigins
	cfg.Encryption = msgcrypt.Config{Key: key, Algorithm: msgcrypt.Algorithm(algorithm)}
	cfg.UseBatchHeartbeat = batchHeartbeat
	cfg.UseMessageQueue = useQueue
	cfg.Adapter = ad
	cfg.Observer = observer

	s, err := server.New(cfg)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if err := s.Listen(context.Background()); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer s.Close()

	out := ready{
		Version:  version.Info{Version: buildVersion, Commit: buildCommit, Date: buildDate}.String(),
		ServerID: s.ID(),
		Listen:   net.JoinHostPort(host, fmt.Sprint(s.Port())),
		Path:     path,
		WSURL:    s.URL(),
		Adapter:  adapterName,
	}

	var opsSrv *http.Server
	if opsListen != "" {
		reg := prom.NewRegistry()
		observer.Set(prom.NewServerObserver(reg))

		mux := http.NewServeMux()
		mux.Handle("/metrics", prom.Handler(reg))
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			st := s.Stats()
			_ = cmdutil.WriteJSON(w, map[string]interface{}{
				"status": "ok",
				"server": st.ServerID,
				"peers":  st.Peers,
				"rooms":  st.Rooms,
			}, false)
		})
		ln, err := net.Listen("tcp", opsListen)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		opsSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := opsSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logrus.WithError(err).Error("ops server ended")
			}
		}()
		opsAddr := ln.Addr().String()
		out.HealthzURL = "http://" + opsAddr + "/healthz"
		out.MetricsURL = "http://" + opsAddr + "/metrics"
	}

	_ = cmdutil.WriteJSON(stdout, out, false)
	if started != nil {
		started <- out
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)
	select {
	case <-sig:
	case <-stop:
	}

	if opsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		_ = opsSrv.Shutdown(ctx)
		cancel()
	}
	return 0
}
