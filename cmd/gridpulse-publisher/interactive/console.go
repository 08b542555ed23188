// Package interactive provides the operator console of gridpulse-publisher.
package interactive

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/google/uuid"

	"github.com/gridpulse/gridpulse-go/pkg/publisher"
)

// Publisher is the part of publisher.Publisher the console drives.
type Publisher interface {
	Connections() []*publisher.Connection
	Disconnect(clientID uuid.UUID, reason string) error
	RotateAllCipherKeys() error
}

// Source reports generator progress.
type Source interface {
	Status() string
	Frames() uint64
	Backlog() int
	DroppedTicks() uint64
}

// Console is a readline command loop.
type Console struct {
	rl *readline.Instance
}

// New creates the console. Log output should go through Stderr.
func New() (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "publisher> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Console{rl: rl}, nil
}

// Stderr returns a writer that coordinates with the prompt.
func (c *Console) Stderr() io.Writer {
	return c.rl.Stderr()
}

// Run reads commands until quit, EOF or ctx is done.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc, pub Publisher, src Source) {
	defer c.rl.Close()

	out := c.rl.Stdout()
	printHelp(out)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err != nil || !Execute(out, line, pub, src) {
			fmt.Fprintln(out, "Exiting...")
			cancel()
			return
		}
	}
}

// Execute runs one command line. It returns false when the console should
// exit.
func Execute(w io.Writer, line string, pub Publisher, src Source) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return true
	}
	args := parts[1:]

	switch strings.ToLower(parts[0]) {
	case "help", "?":
		printHelp(w)
	case "list", "ls":
		cmdList(w, pub)
	case "kick":
		cmdKick(w, pub, args)
	case "rotate":
		if err := pub.RotateAllCipherKeys(); err != nil {
			fmt.Fprintf(w, "Rotation failed: %v\n", err)
		} else {
			fmt.Fprintln(w, "Cipher keys rotated")
		}
	case "status":
		cmdStatus(w, pub, src)
	case "quit", "exit", "q":
		return false
	default:
		fmt.Fprintf(w, "Unknown command: %s (type 'help' for commands)\n", parts[0])
	}
	return true
}

func printHelp(w io.Writer) {
	fmt.Fprintln(w, `
Publisher Commands:
  list               - List subscriber connections
  kick <client-id>   - Disconnect a subscriber (ID prefix is enough)
  rotate             - Rotate cipher keys of every encrypted subscription
  status             - Show source and connection totals
  quit               - Exit`)
}

func cmdList(w io.Writer, pub Publisher) {
	conns := pub.Connections()
	if len(conns) == 0 {
		fmt.Fprintln(w, "No subscribers connected")
		return
	}
	for _, conn := range conns {
		fmt.Fprintf(w, "  %s  %s\n", conn.ClientID(), conn.Status())
	}
}

func cmdKick(w io.Writer, pub Publisher, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(w, "Usage: kick <client-id>")
		return
	}

	var match []uuid.UUID
	for _, conn := range pub.Connections() {
		if strings.HasPrefix(conn.ClientID().String(), strings.ToLower(args[0])) {
			match = append(match, conn.ClientID())
		}
	}
	switch len(match) {
	case 0:
		fmt.Fprintf(w, "No connection matches %s\n", args[0])
	case 1:
		if err := pub.Disconnect(match[0], "operator request"); err != nil {
			fmt.Fprintf(w, "Disconnect failed: %v\n", err)
			return
		}
		fmt.Fprintf(w, "Disconnected %s\n", match[0])
	default:
		fmt.Fprintf(w, "%s is ambiguous (%d connections)\n", args[0], len(match))
	}
}

func cmdStatus(w io.Writer, pub Publisher, src Source) {
	subscribed := 0
	conns := pub.Connections()
	for _, conn := range conns {
		if conn.IsSubscribed() {
			subscribed++
		}
	}
	fmt.Fprintf(w, "Connections: %d (%d subscribed)\n", len(conns), subscribed)
	fmt.Fprintf(w, "Source: %s\n", src.Status())
	fmt.Fprintf(w, "Frames: %d  Backlog: %d  Dropped ticks: %d\n", src.Frames(), src.Backlog(), src.DroppedTicks())
}
