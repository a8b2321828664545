package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/23skdu/longbow-eagle/internal/engine"
	"github.com/23skdu/longbow-eagle/internal/flight"
	"github.com/23skdu/longbow-eagle/internal/logger"
	"github.com/23skdu/longbow-eagle/internal/monitoring"
)

func serveCmd() *cli.Command {
	var (
		metricsAddr   string
		flightAddr    string
		flushInterval time.Duration
		keepAlive     bool
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve health and metrics endpoints and generate for prompts read from stdin",
		Flags: append(decodingFlags(),
			&cli.StringFlag{
				Name:        "metrics-addr",
				Usage:       "listen address for /health, /status and /metrics",
				Value:       ":9090",
				Destination: &metricsAddr,
			},
			&cli.StringFlag{
				Name:        "flight-addr",
				Usage:       "Arrow Flight collector for step records (empty disables export)",
				Destination: &flightAddr,
			},
			&cli.DurationFlag{
				Name:        "flush-interval",
				Usage:       "step record export interval",
				Value:       5 * time.Second,
				Destination: &flushInterval,
			},
			&cli.BoolFlag{
				Name:        "keep-alive",
				Usage:       "keep serving after stdin is exhausted until interrupted",
				Destination: &keepAlive,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			if cmd.IsSet("metrics-addr") {
				cfg.MetricsAddr = metricsAddr
			}
			if cmd.IsSet("flight-addr") {
				cfg.FlightAddr = flightAddr
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			tok, err := loadTokenizer()
			if err != nil {
				return err
			}

			monitor := monitoring.NewHealthMonitor(cfg.AcceptanceAlertThreshold, monitoring.WithVersion(version))
			opts := []engine.Option{engine.WithObserver(monitor)}

			if cfg.FlightAddr != "" {
				client := flight.NewClient(cfg.FlightAddr)
				if err := client.Connect(ctx); err != nil {
					return err
				}
				defer client.Close()

				// Runs before client.Close so the final flush still has a connection.
				var wg sync.WaitGroup
				exportCtx, stopExport := context.WithCancel(context.Background())
				defer func() {
					stopExport()
					wg.Wait()
				}()

				recorder := flight.NewRecorder(client)
				opts = append(opts, engine.WithObserver(recorder))
				wg.Add(1)
				go func() {
					defer wg.Done()
					recorder.Run(exportCtx, flushInterval)
				}()
				logger.Log.Info("Exporting step records", "addr", cfg.FlightAddr, "interval", flushInterval.String())
			}

			e, err := buildEngine(cfg, tok, opts...)
			if err != nil {
				return err
			}
			defer e.Close()
			monitoring.WithEngine(e)(monitor)

			go func() {
				if err := monitor.Start(cfg.MetricsAddr); err != nil {
					logger.Log.Error("Health monitor stopped", "error", err)
				}
			}()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = monitor.Stop(shutdownCtx)
			}()

			if err := servePrompts(ctx, e, os.Stdin, os.Stdout, engine.Params{IgnoreEOS: ignoreEOS}); err != nil {
				return err
			}
			if keepAlive {
				<-ctx.Done()
			}
			return nil
		},
	}
}

// servePrompts generates for every non-empty line of r, writing one JSON
// result per line to w in input order.
func servePrompts(ctx context.Context, e *engine.Engine, r io.Reader, w io.Writer, params engine.Params) error {
	var streams []*engine.Stream

	scanner := bufio.NewScanner(r)
	for scanner.Scan() && ctx.Err() == nil {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		s, err := e.Generate(ctx, line, params)
		if err != nil {
			logger.Log.Warn("Rejected prompt", "prompt", line, "error", err)
			continue
		}
		streams = append(streams, s)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read prompts: %w", err)
	}

	enc := json.NewEncoder(w)
	for _, s := range streams {
		out, _ := s.Wait()
		if err := enc.Encode(toResult(out)); err != nil {
			return err
		}
	}
	return nil
}
