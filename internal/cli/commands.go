// Package cli implements the interactive command-line interface: live
// bridge status, the button history and shutdown.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/casetalink/casetalink/internal/connector"
	"github.com/casetalink/casetalink/internal/db"
	"github.com/casetalink/casetalink/internal/events"
)

const prompt = "casetalink> "

// StatusSource reports the live bridge connection.
type StatusSource interface {
	Status() connector.BridgeStatus
}

// History serves journaled button events.
type History interface {
	Recent(limit int, remote int) ([]db.Entry, error)
	Remotes() ([]db.RemoteSummary, error)
}

// CLI provides an interactive command-line interface.
type CLI struct {
	eventBus *events.EventBus
	bridge   StatusSource
	history  History // nil when the journal is disabled

	in  io.Reader
	out io.Writer
}

// NewCLI creates a CLI reading commands from in and writing to out.
// history may be nil.
func NewCLI(eventBus *events.EventBus, bridge StatusSource, history History, in io.Reader, out io.Writer) *CLI {
	return &CLI{
		eventBus: eventBus,
		bridge:   bridge,
		history:  history,
		in:       in,
		out:      out,
	}
}

// Start runs the command loop until ctx is cancelled, input ends, or the
// user quits.
func (c *CLI) Start(ctx context.Context) {
	fmt.Fprintln(c.out, "\ncasetalink CLI ready. Type 'help' for available commands.")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			log.Warn().Err(err).Str("component", "cli").Msg("CLI input failed")
		}
	}()

	for {
		fmt.Fprint(c.out, prompt)

		var line string
		select {
		case <-ctx.Done():
			return
		case l, ok := <-lines:
			if !ok {
				return
			}
			line = strings.TrimSpace(l)
		}
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])

		quit, err := c.execute(ctx, cmd, parts[1:])
		if err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
		}
		if quit {
			return
		}
	}
}

// execute processes a single CLI command and reports whether the loop
// should stop.
func (c *CLI) execute(ctx context.Context, cmd string, args []string) (bool, error) {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "history", "events":
		return false, c.printHistory(args)
	case "remotes":
		return false, c.printRemotes()
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Shutting down casetalink...")
		c.eventBus.Emit(ctx, events.Event{
			Type:   events.EventShutdown,
			Source: "cli",
		})
		return true, nil
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return false, nil
}

func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, "\nCommands:")
	fmt.Fprintln(c.out, "  status                 Show the bridge connection")
	fmt.Fprintln(c.out, "  history [n] [remote]   Show the last n button events")
	fmt.Fprintln(c.out, "  remotes                Summarize activity per remote")
	fmt.Fprintln(c.out, "  quit                   Shut down casetalink")
	fmt.Fprintln(c.out, "  help                   Show this help message")
	fmt.Fprintln(c.out)
}

func (c *CLI) printStatus() {
	st := c.bridge.Status()

	fmt.Fprintf(c.out, "\n  Bridge:       %s\n", st.Host)
	fmt.Fprintf(c.out, "  State:        %s\n", st.State)
	if !st.ConnectedAt.IsZero() {
		fmt.Fprintf(c.out, "  Connected:    %s\n", st.ConnectedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(c.out, "  Buttons:      %d\n", st.Buttons)
	fmt.Fprintf(c.out, "  Skipped:      %d\n", st.Skipped)
	if st.LastEvent != nil {
		fmt.Fprintf(c.out, "  Last event:   remote %d %s %s\n",
			st.LastEvent.RemoteID, st.LastEvent.Button, st.LastEvent.Action)
	}
	if st.LastError != "" {
		fmt.Fprintf(c.out, "  Last error:   %s\n", st.LastError)
	}
	fmt.Fprintln(c.out)
}

func (c *CLI) printHistory(args []string) error {
	if c.history == nil {
		return fmt.Errorf("event journal is disabled")
	}

	limit := 20
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 || n > db.MaxRecentLimit {
			return fmt.Errorf("invalid count: %s", args[0])
		}
		limit = n
	}
	remote := db.AllRemotes
	if len(args) > 1 {
		n, err := strconv.ParseUint(args[1], 10, 8)
		if err != nil {
			return fmt.Errorf("invalid remote id: %s", args[1])
		}
		remote = int(n)
	}

	entries, err := c.history.Recent(limit, remote)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(c.out, "No button events recorded")
		return nil
	}

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"Time", "Remote", "Button", "Action"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, e := range entries {
		tw.Append([]string{
			e.ReceivedAt.Local().Format("2006-01-02 15:04:05"),
			strconv.Itoa(int(e.RemoteID)),
			e.Button.String(),
			e.Action.String(),
		})
	}

	tw.Render()
	return nil
}

func (c *CLI) printRemotes() error {
	if c.history == nil {
		return fmt.Errorf("event journal is disabled")
	}

	remotes, err := c.history.Remotes()
	if err != nil {
		return err
	}
	if len(remotes) == 0 {
		fmt.Fprintln(c.out, "No remotes seen yet")
		return nil
	}

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"Remote", "Presses", "Events", "Last Button", "Last Seen"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, r := range remotes {
		tw.Append([]string{
			strconv.Itoa(int(r.RemoteID)),
			strconv.Itoa(r.Presses),
			strconv.Itoa(r.Events),
			r.LastButton.String(),
			r.LastSeen.Local().Format("2006-01-02 15:04:05"),
		})
	}

	tw.Render()
	return nil
}
