package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/23skdu/longbow-eagle/internal/engine"
	"github.com/23skdu/longbow-eagle/internal/speculative"
)

type generateResult struct {
	RequestID      string  `json:"request_id"`
	Prompt         string  `json:"prompt"`
	Text           string  `json:"text"`
	Tokens         int     `json:"tokens"`
	Reason         string  `json:"reason"`
	Steps          int     `json:"steps"`
	Drafted        int     `json:"drafted"`
	Accepted       int     `json:"accepted"`
	AcceptanceRate float64 `json:"acceptance_rate"`
	DurationMs     int64   `json:"duration_ms"`
	Error          string  `json:"error,omitempty"`
}

func toResult(out engine.Output) generateResult {
	r := generateResult{
		RequestID:      out.RequestID,
		Prompt:         out.Prompt,
		Text:           out.Text,
		Tokens:         len(out.TokenIDs),
		Reason:         string(out.Reason),
		Steps:          out.Steps,
		Drafted:        out.Drafted,
		Accepted:       out.Accepted,
		AcceptanceRate: out.AcceptanceRate(),
		DurationMs:     out.Duration.Milliseconds(),
	}
	if out.Err != nil {
		r.Error = out.Err.Error()
	}
	return r
}

func generateCmd() *cli.Command {
	var (
		prompt   string
		jsonMode bool
	)

	return &cli.Command{
		Name:      "generate",
		Usage:     "Generate a continuation and report draft acceptance",
		ArgsUsage: "[prompt]",
		Flags: append(decodingFlags(),
			&cli.StringFlag{
				Name:        "prompt",
				Aliases:     []string{"p"},
				Usage:       "prompt text",
				Value:       "The future of AI is",
				Destination: &prompt,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print the result as JSON instead of streaming text",
				Destination: &jsonMode,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			if cmd.Args().Len() > 0 {
				prompt = strings.Join(cmd.Args().Slice(), " ")
			}

			tok, err := loadTokenizer()
			if err != nil {
				return err
			}
			e, err := buildEngine(cfg, tok)
			if err != nil {
				return err
			}
			defer e.Close()

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := e.Generate(ctx, prompt, engine.Params{IgnoreEOS: ignoreEOS})
			if err != nil {
				return err
			}

			if !jsonMode {
				fmt.Print(prompt)
			}
			for ev := range s.Events() {
				if !jsonMode && ev.Text != "" {
					fmt.Print(" " + ev.Text)
				}
			}
			out, err := s.Wait()

			if jsonMode {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(toResult(out)); encErr != nil {
					return encErr
				}
			} else {
				fmt.Println()
				fmt.Fprintf(os.Stderr, "mode=%s tokens=%d steps=%d drafted=%d accepted=%d acceptance=%.3f reason=%s duration=%s\n",
					e.Mode(), len(out.TokenIDs), out.Steps, out.Drafted, out.Accepted, out.AcceptanceRate(), out.Reason, out.Duration)
			}

			if errors.Is(err, speculative.ErrRequestCancelled) {
				return nil
			}
			return err
		},
	}
}
