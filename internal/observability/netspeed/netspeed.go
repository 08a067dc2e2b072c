package netspeed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/showwin/speedtest-go/speedtest"

	logx "campd/pkg/logx"
)

// Package netspeed measures network throughput toward the public internet.
// The remote system is bandwidth-sensitive (large page payloads), so the
// health report includes the last measured speeds as a diagnostic.

var ErrBusy = errors.New("netspeed probe already running")

// Result is one completed probe.
type Result struct {
	DownloadMbps float64   `json:"download_mbps"`
	UploadMbps   float64   `json:"upload_mbps"`
	PingMs       float64   `json:"ping_ms"`
	ServerName   string    `json:"server_name,omitempty"`
	MeasuredAt   time.Time `json:"measured_at"`
	TookMS       int64     `json:"took_ms"`
}

type Config struct {
	// Timeout bounds a whole probe run (default 60s).
	Timeout time.Duration
}

// Service runs at most one probe at a time and caches the latest result.
type Service struct {
	cfg Config
	log logx.Logger

	mu      sync.Mutex
	running bool
	last    *Result
	lastErr string
}

func New(cfg Config, log logx.Logger) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, log: log}
}

// Last returns the cached result (nil if no probe has completed) and the
// error string of the most recent failed run.
func (s *Service) Last() (*Result, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil, s.lastErr
	}
	cp := *s.last
	return &cp, s.lastErr
}

// Running reports whether a probe is in flight.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Run performs one probe. Concurrent calls beyond the first get ErrBusy.
func (s *Service) Run(ctx context.Context) (*Result, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	s.running = true
	s.mu.Unlock()

	res, err := s.probe(ctx)

	s.mu.Lock()
	s.running = false
	if err != nil {
		s.lastErr = err.Error()
	} else {
		s.last = res
		s.lastErr = ""
	}
	s.mu.Unlock()

	return res, err
}

// Sample is the cron entrypoint: run and log, never fail the scheduler.
func (s *Service) Sample(ctx context.Context) {
	res, err := s.Run(ctx)
	if err != nil {
		if !errors.Is(err, ErrBusy) {
			s.log.Warn("netspeed probe failed", logx.Err(err))
		}
		return
	}
	s.log.Info("netspeed probe completed",
		logx.Float64("download_mbps", res.DownloadMbps),
		logx.Float64("upload_mbps", res.UploadMbps),
		logx.Float64("ping_ms", res.PingMs),
	)
}

func (s *Service) probe(ctx context.Context) (*Result, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	servers, err := speedtest.FetchServerListContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch servers: %w", err)
	}
	targets, err := servers.FindServer(nil)
	if err != nil || len(targets) == 0 {
		return nil, fmt.Errorf("no speedtest servers found")
	}
	srv := targets[0]

	if err := srv.PingTestContext(ctx, nil); err != nil {
		return nil, fmt.Errorf("ping test: %w", err)
	}
	if err := srv.DownloadTestContext(ctx); err != nil {
		return nil, fmt.Errorf("download test: %w", err)
	}
	if err := srv.UploadTestContext(ctx); err != nil {
		return nil, fmt.Errorf("upload test: %w", err)
	}

	return &Result{
		DownloadMbps: srv.DLSpeed.Mbps(),
		UploadMbps:   srv.ULSpeed.Mbps(),
		PingMs:       float64(srv.Latency.Milliseconds()),
		ServerName:   srv.Sponsor,
		MeasuredAt:   time.Now(),
		TookMS:       time.Since(start).Milliseconds(),
	}, nil
}
