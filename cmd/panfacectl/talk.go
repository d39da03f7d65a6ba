package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/matthew-salter/panny-panface/internal/agents"
	"github.com/matthew-salter/panny-panface/internal/realtime"
	"github.com/matthew-salter/panny-panface/internal/session"
	"github.com/matthew-salter/panny-panface/internal/transcript"
)

func talkCmd(opts *rootOptions) *cobra.Command {
	var (
		agentsFile string
		setKey     string
		model      string
		baseURL    string
		timeout    time.Duration
		pcmPath    string
	)

	cmd := &cobra.Command{
		Use:   "talk",
		Short: "Hold a text conversation with the realtime agent",
		Long: `Opens a realtime session using a credential minted by the server and sends
each line read from stdin as a user message. Commands: /pause toggles pause,
/cancel interrupts the assistant, /end saves the transcript and exits,
/quit exits without an explicit save. With --pcm, raw pcm16 mono 24kHz audio
from the file (or a fifo fed by a recorder) streams into the session.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sets, err := agents.Load(agentsFile)
			if err != nil {
				return err
			}
			agent, err := sets.Primary(setKey)
			if err != nil {
				return err
			}

			api := opts.client()
			transport := realtime.NewTransport(api, realtime.TransportConfig{BaseURL: baseURL, Model: model})

			cfg := session.DefaultConfig()
			cfg.Agent = agent
			if timeout > 0 {
				cfg.Timeout = timeout
			}

			printer := newEntryPrinter(cmd.OutOrStdout())
			var ctrl *session.Controller
			ctrl = session.New(transport, api, cfg, session.WithNotify(func() {
				printer.update(ctrl)
			}))
			var saved bool
			defer func() {
				// A saved session needs no beacon.
				if !saved {
					ctrl.Close()
				}
				api.Flush()
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := ctrl.Connect(ctx); err != nil {
				return err
			}

			if pcmPath != "" {
				f, err := os.Open(pcmPath)
				if err != nil {
					return err
				}
				defer f.Close()
				go func() {
					if err := streamPCM(ctx, ctrl.WriteAudio, f, pcmChunkBytes, pcmChunkEvery); err != nil && !errors.Is(err, os.ErrClosed) {
						fmt.Fprintln(cmd.ErrOrStderr(), "audio:", err)
					}
				}()
			}
			saved = runTalk(ctx, ctrl, cmd.InOrStdin(), cmd.ErrOrStderr())
			return nil
		},
	}

	cmd.Flags().StringVar(&agentsFile, "agents", "", "Agent definitions file (default: built-in set)")
	cmd.Flags().StringVar(&setKey, "set", agents.DefaultSetKey, "Agent set to run")
	cmd.Flags().StringVar(&model, "model", realtime.DefaultModel, "Realtime model")
	cmd.Flags().StringVar(&baseURL, "realtime-url", realtime.DefaultBaseURL, "Realtime API base URL")
	cmd.Flags().DurationVar(&timeout, "session-timeout", 0, "Override the session hard timeout")
	cmd.Flags().StringVar(&pcmPath, "pcm", "", "Raw pcm16 mono 24kHz audio source to stream")
	return cmd
}

// 100ms of pcm16 mono at 24kHz.
const (
	pcmChunkBytes = 4800
	pcmChunkEvery = 100 * time.Millisecond
)

// streamPCM reads r in chunks of size bytes and writes one chunk per tick
// until EOF or ctx ends. Chunks written while no session is open are
// dropped.
func streamPCM(ctx context.Context, write func([]byte) (int, error), r io.Reader, size int, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	buf := make([]byte, size)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if _, werr := write(buf[:n]); werr != nil && !errors.Is(werr, session.ErrNotConnected) {
				return werr
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// runTalk feeds stdin lines to the controller until input ends, the context
// is cancelled or the user quits. It reports whether /end saved the session.
func runTalk(ctx context.Context, ctrl *session.Controller, in io.Reader, errOut io.Writer) bool {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return false
		case line, ok := <-lines:
			if !ok {
				return false
			}
			line = strings.TrimSpace(line)
			done, err := handleLine(ctx, ctrl, line)
			if err != nil {
				fmt.Fprintln(errOut, err)
			}
			if done {
				return line == "/end"
			}
		}
	}
}

func handleLine(ctx context.Context, ctrl *session.Controller, line string) (bool, error) {
	switch line {
	case "":
		return false, nil
	case "/pause":
		ctrl.TogglePause()
		return false, nil
	case "/cancel":
		ctrl.CancelAssistantSpeech()
		return false, nil
	case "/quit":
		return true, nil
	case "/end":
		if ctrl.State().Paused {
			return false, errors.New("paused, use /pause to resume before ending")
		}
		err := ctrl.EndConversation(ctx)
		return err == nil, err
	case "/connect":
		return false, ctrl.Connect(ctx)
	}

	err := ctrl.SendText(line)
	if errors.Is(err, session.ErrNotConnected) {
		return false, errors.New("not connected, use /connect")
	}
	return false, err
}

// entryPrinter writes each finished transcript entry once and reports
// connection status changes.
type entryPrinter struct {
	mu      sync.Mutex
	out     io.Writer
	printed map[string]bool
	status  session.Status
}

func newEntryPrinter(out io.Writer) *entryPrinter {
	if out == nil {
		out = os.Stdout
	}
	return &entryPrinter{out: out, printed: make(map[string]bool)}
}

func (p *entryPrinter) update(ctrl *session.Controller) {
	if ctrl == nil {
		return
	}
	st := ctrl.State()
	entries := ctrl.Log().Entries()

	p.mu.Lock()
	if st.Status != p.status {
		p.status = st.Status
		fmt.Fprintf(p.out, "-- %s\n", strings.ToLower(string(st.Status)))
	}
	p.mu.Unlock()

	p.print(entries)
}

func (p *entryPrinter) print(entries []transcript.Entry) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, e := range entries {
		if p.printed[e.ID] || e.Status != transcript.StatusDone {
			continue
		}
		p.printed[e.ID] = true
		switch e.Role {
		case transcript.RoleBreadcrumb:
			fmt.Fprintf(p.out, "   [%s]\n", e.Text)
		default:
			fmt.Fprintf(p.out, "%s: %s\n", e.Role, e.Text)
		}
	}
}
