// Package interactive provides the command console of gridpulse-subscriber.
package interactive

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/gridpulse/gridpulse-go/pkg/subscriber"
	"github.com/gridpulse/gridpulse-go/pkg/wire"
)

// commandTimeout bounds each console command.
const commandTimeout = 5 * time.Second

// Client is the part of subscriber.Client the console drives.
type Client interface {
	Subscribe(ctx context.Context, opts subscriber.SubscribeOptions) (*subscriber.Response, error)
	Unsubscribe(ctx context.Context) (*subscriber.Response, error)
	RotateCipherKeys(ctx context.Context) (*subscriber.Response, error)
	DefineOperationalModes(modes wire.OperationalModes) error
	Status() string
}

// Console is a readline command loop.
type Console struct {
	rl *readline.Instance
}

// New creates the console.
func New() (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "subscriber> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Console{rl: rl}, nil
}

// Stdout returns a writer that coordinates with the prompt.
func (c *Console) Stdout() io.Writer { return c.rl.Stdout() }

// Stderr returns a writer that coordinates with the prompt.
func (c *Console) Stderr() io.Writer { return c.rl.Stderr() }

// Run reads commands until quit, EOF or ctx is done.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc, client Client) {
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
		if err != nil || !Execute(ctx, out, line, client) {
			fmt.Fprintln(out, "Exiting...")
			cancel()
			return
		}
	}
}

// Execute runs one command line. It returns false when the console should
// exit.
func Execute(ctx context.Context, w io.Writer, line string, client Client) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return true
	}
	args := parts[1:]

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	switch strings.ToLower(parts[0]) {
	case "help", "?":
		printHelp(w)
	case "subscribe", "sub":
		cmdSubscribe(ctx, w, client, args)
	case "unsubscribe", "unsub":
		report(w)(client.Unsubscribe(ctx))
	case "rotate":
		report(w)(client.RotateCipherKeys(ctx))
	case "encoding":
		cmdEncoding(w, client, args)
	case "status":
		fmt.Fprintln(w, client.Status())
	case "quit", "exit", "q":
		return false
	default:
		fmt.Fprintf(w, "Unknown command: %s (type 'help' for commands)\n", parts[0])
	}
	return true
}

func printHelp(w io.Writer) {
	fmt.Fprintln(w, `
Subscriber Commands:
  subscribe [-e] [-udp addr] <keys...> - Subscribe (-e encrypts, keys like PPA:1 or *)
  unsubscribe                          - Stop data delivery
  rotate                               - Request new cipher keys
  encoding <utf8|utf16|utf16be|ansi>   - Change response text encoding
  status                               - Show connection status
  quit                                 - Exit`)
}

func report(w io.Writer) func(*subscriber.Response, error) {
	return func(resp *subscriber.Response, err error) {
		if err != nil {
			fmt.Fprintf(w, "Error: %v\n", err)
			return
		}
		fmt.Fprintln(w, resp.Message)
	}
}

func cmdSubscribe(ctx context.Context, w io.Writer, client Client, args []string) {
	var opts subscriber.SubscribeOptions
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-e":
			opts.Encrypt = true
		case "-udp":
			if i+1 >= len(args) {
				fmt.Fprintln(w, "Usage: subscribe [-e] [-udp addr] <keys...>")
				return
			}
			i++
			opts.UDPAddress = args[i]
		default:
			opts.Signals = append(opts.Signals, args[i])
		}
	}
	if len(opts.Signals) == 0 {
		opts.Signals = []string{"*"}
	}
	report(w)(client.Subscribe(ctx, opts))
}

var encodings = map[string]wire.OperationalEncoding{
	"utf8":    wire.EncodingUTF8,
	"utf16":   wire.EncodingUnicode,
	"utf16be": wire.EncodingBigEndianUnicode,
	"ansi":    wire.EncodingANSI,
}

func cmdEncoding(w io.Writer, client Client, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(w, "Usage: encoding <utf8|utf16|utf16be|ansi>")
		return
	}
	enc, ok := encodings[strings.ToLower(args[0])]
	if !ok {
		fmt.Fprintf(w, "Unknown encoding: %s\n", args[0])
		return
	}
	if err := client.DefineOperationalModes(wire.DefaultOperationalModes.WithEncoding(enc)); err != nil {
		fmt.Fprintf(w, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(w, "Encoding set to %s\n", enc)
}
