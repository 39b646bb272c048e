// Command wsmesh-loadgen measures wsmesh request/response latency: it
// connects N clients to a server (self-hosting an echo server unless --url
// points at one) and drives M callback round-trips per client, reporting
// latency percentiles and error counts as JSON.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shuliangfu/wsmesh/client"
	"github.com/shuliangfu/wsmesh/internal/cmdutil"
	"github.com/shuliangfu/wsmesh/internal/version"
	"github.com/shuliangfu/wsmesh/server"
)

var (
	buildVersion = "dev"
	buildCommit  = "unknown"
	buildDate    = "unknown"
)

type loadConfig struct {
	url      string
	clients  int
	messages int
	payload  int
	timeout  time.Duration
	key      []byte
}

type latencyStats struct {
	Count  int     `json:"count"`
	MinMs  float64 `json:"min_ms"`
	MaxMs  float64 `json:"max_ms"`
	MeanMs float64 `json:"mean_ms"`
	P50Ms  float64 `json:"p50_ms"`
	P95Ms  float64 `json:"p95_ms"`
	P99Ms  float64 `json:"p99_ms"`
}

type output struct {
	URL        string       `json:"url"`
	Clients    int          `json:"clients"`
	Messages   int          `json:"messages_per_client"`
	Payload    int          `json:"payload_bytes"`
	DurationMs float64      `json:"duration_ms"`
	Sent       int          `json:"sent"`
	Succeeded  int          `json:"succeeded"`
	Failed     int          `json:"failed"`
	Throughput float64      `json:"round_trips_per_sec"`
	Latency    latencyStats `json:"latency"`
	SelfHosted bool         `json:"self_hosted"`
}

type collector struct {
	mu      sync.Mutex
	samples []int64
	failed  int
}

func (c *collector) ok(d time.Duration) {
	c.mu.Lock()
	c.samples = append(c.samples, int64(d))
	c.mu.Unlock()
}

func (c *collector) fail() {
	c.mu.Lock()
	c.failed++
	c.mu.Unlock()
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	cfg := loadConfig{}
	keyText := cmdutil.EnvString("WSMESH_KEY", "")

	fs := flag.NewFlagSet("wsmesh-loadgen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	showVersion := false
	fs.BoolVar(&showVersion, "version", false, "print version and exit")
	fs.StringVar(&cfg.url, "url", "", "target ws:// URL; empty self-hosts an echo server")
	fs.IntVar(&cfg.clients, "clients", 10, "concurrent client connections")
	fs.IntVar(&cfg.messages, "messages", 100, "callback round-trips per client")
	fs.IntVar(&cfg.payload, "payload", 64, "payload size in bytes")
	fs.DurationVar(&cfg.timeout, "timeout", 10*time.Second, "per-round-trip timeout")
	fs.StringVar(&keyText, "key", keyText, "encryption key: base64, hex, or raw 16/32 bytes (env: WSMESH_KEY)")
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
	if cfg.clients <= 0 || cfg.messages <= 0 || cfg.payload <= 0 {
		fmt.Fprintln(stderr, "--clients, --messages, and --payload must be > 0")
		fs.Usage()
		return 2
	}
	key, err := cmdutil.ParseKey(keyText)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	cfg.key = key
	logrus.SetOutput(stderr)

	out, err := execute(cfg)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	_ = cmdutil.WriteJSON(stdout, out, true)
	return 0
}

func execute(cfg loadConfig) (output, error) {
	selfHosted := cfg.url == ""
	if selfHosted {
		srvCfg := server.DefaultConfig()
		srvCfg.Host = "127.0.0.1"
		srvCfg.Encryption.Key = cfg.key
		s, err := server.New(srvCfg)
		if err != nil {
			return output{}, err
		}
		s.OnConnection(func(p *server.Peer) {
			p.On("echo", func(_ *server.Peer, data json.RawMessage, reply server.ReplyFunc) {
				if reply != nil {
					_ = reply(data)
				}
			})
		})
		if err := s.Listen(context.Background()); err != nil {
			return output{}, err
		}
		defer s.Close()
		cfg.url = s.URL()
	}

	payload := map[string]string{"data": string(makePayload(cfg.payload))}
	col := &collector{}
	startedAt := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < cfg.clients; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			opts := []client.Option{}
			if len(cfg.key) > 0 {
				opts = append(opts, client.WithEncryptionKey(cfg.key))
			}
			ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
			c, err := client.Connect(ctx, cfg.url, opts...)
			cancel()
			if err != nil {
				for m := 0; m < cfg.messages; m++ {
					col.fail()
				}
				return
			}
			defer c.Close()
			for m := 0; m < cfg.messages; m++ {
				ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
				start := time.Now()
				_, err := c.EmitWithCallback(ctx, "echo", payload)
				cancel()
				if err != nil {
					col.fail()
					continue
				}
				col.ok(time.Since(start))
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(startedAt)

	col.mu.Lock()
	samples := col.samples
	failed := col.failed
	col.mu.Unlock()

	out := output{
		URL:        cfg.url,
		Clients:    cfg.clients,
		Messages:   cfg.messages,
		Payload:    cfg.payload,
		DurationMs: float64(elapsed) / float64(time.Millisecond),
		Sent:       cfg.clients * cfg.messages,
		Succeeded:  len(samples),
		Failed:     failed,
		Latency:    computeLatency(samples),
		SelfHosted: selfHosted,
	}
	if secs := elapsed.Seconds(); secs > 0 {
		out.Throughput = float64(len(samples)) / secs
	}
	return out, nil
}

func makePayload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = 'a' + byte(i%26)
	}
	return b
}

func computeLatency(samples []int64) latencyStats {
	if len(samples) == 0 {
		return latencyStats{}
	}
	sorted := append([]int64(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	var sum int64
	for _, s := range sorted {
		sum += s
	}
	return latencyStats{
		Count:  len(sorted),
		MinMs:  nsToMs(sorted[0]),
		MaxMs:  nsToMs(sorted[len(sorted)-1]),
		MeanMs: nsToMs(sum / int64(len(sorted))),
		P50Ms:  nsToMs(percentile(sorted, 0.50)),
		P95Ms:  nsToMs(percentile(sorted, 0.95)),
		P99Ms:  nsToMs(percentile(sorted, 0.99)),
	}
}

// percentile expects sorted samples.
func percentile(sorted []int64, p float64) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

func nsToMs(ns int64) float64 {
	return float64(ns) / float64(time.Millisecond)
}
