package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/matheus3301/wppgw/internal/chat"
	"github.com/matheus3301/wppgw/internal/config"
	"github.com/matheus3301/wppgw/internal/daemon"
	"github.com/matheus3301/wppgw/internal/lock"
	"github.com/matheus3301/wppgw/internal/session"
	"github.com/matheus3301/wppgw/internal/sync"
	"github.com/matheus3301/wppgw/internal/vendor"
)

// errUsage marks errors that should be followed by the usage text.
var errUsage = errors.New("usage")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type cli struct {
	session    string
	configPath string
	cfg        *config.Config
	jsonOut    bool
	timeout    time.Duration
	stdout     io.Writer
	stderr     io.Writer
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("wppctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { printUsage(stderr) }
	sessionFlag := fs.String("session", "", "session name (overrides config default)")
	configFlag := fs.String("config", "", "config file (default ~/.wppgw/config.toml)")
	gatewayFlag := fs.String("gateway", "", "gateway base URL (overrides client.gateway_url)")
	jsonFlag := fs.Bool("json", false, "output in JSON format")
	timeoutFlag := fs.Duration("timeout", 0, "request timeout (default client.request_timeout)")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	rest := fs.Args()
	if len(rest) == 0 {
		printUsage(stderr)
		return 2
	}

	c := &cli{
		configPath: *configFlag,
		jsonOut:    *jsonFlag,
		stdout:     stdout,
		stderr:     stderr,
	}
	if c.configPath == "" {
		c.configPath = session.ConfigPath()
	}
	name, err := session.Resolve(*sessionFlag, c.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	c.session = name

	// config init must work before a valid config exists.
	if rest[0] != "config" {
		cfg, err := config.LoadOrDefault(c.configPath)
		if err != nil {
			fmt.Fprintf(stderr, "error: load config: %v\n", err)
			return 1
		}
		if *gatewayFlag != "" {
			cfg.Client.GatewayURL = *gatewayFlag
		}
		c.cfg = cfg
		c.timeout = cfg.Client.RequestTimeout.Std()
	}
	if *timeoutFlag > 0 {
		c.timeout = *timeoutFlag
	}

	err = c.dispatch(rest[0], rest[1:])
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage):
		fmt.Fprintf(stderr, "error: %v\n", err)
		printUsage(stderr)
		return 2
	default:
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
}

func (c *cli) dispatch(name string, args []string) error {
	switch name {
	case "status":
		return c.cmdStatus()
	case "qr":
		return c.cmdQR(args)
	case "disconnect", "logout":
		return c.cmdDisconnect()
	case "conversations", "chats":
		return c.cmdConversations()
	case "messages":
		return c.cmdMessages(args)
	case "send":
		return c.cmdSend(args)
	case "health":
		return c.cmdHealth()
	case "events":
		return c.cmdEvents(args)
	case "sessions":
		return c.cmdSessions()
	case "config":
		return c.cmdConfig(args)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, name)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: wppctl [--session <name>] [--gateway <url>] [--json] <command>")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "commands:")
	fmt.Fprintln(w, "  status                      Show the instance connection status")
	fmt.Fprintln(w, "  qr [--out file.png]         Request a pairing code, optionally saving the PNG")
	fmt.Fprintln(w, "  disconnect                  Log the instance out")
	fmt.Fprintln(w, "  conversations               List conversations")
	fmt.Fprintln(w, "  messages <id> [--limit N]   Show the messages of a conversation")
	fmt.Fprintln(w, "  send <id> <text>            Send a text message")
	fmt.Fprintln(w, "  health                      Check the gateway health socket and HTTP endpoint")
	fmt.Fprintln(w, "  events [--transport sse|ws] Tail the gateway event stream")
	fmt.Fprintln(w, "  sessions                    List known sessions")
	fmt.Fprintln(w, "  config init [--force]       Write a default config file")
	fmt.Fprintln(w, "  config show                 Print the effective config")
}

func (c *cli) client(transport string) *sync.Client {
	if transport == "" {
		transport = c.cfg.Client.Transport
	}
	return sync.NewClient(c.cfg.Client.GatewayURL, transport, c.timeout, nil)
}

func (c *cli) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.timeout)
}

func (c *cli) cmdStatus() error {
	ctx, cancel := c.requestContext()
	defer cancel()
	status, err := c.client("").Status(ctx)
	if err != nil {
		return err
	}
	if c.jsonOut {
		return c.outputJSON(chat.StatusPayload{Status: status})
	}
	fmt.Fprintf(c.stdout, "Session: %s\n", c.session)
	fmt.Fprintf(c.stdout, "Gateway: %s\n", c.cfg.Client.GatewayURL)
	fmt.Fprintf(c.stdout, "Status:  %s\n", status)
	return nil
}

func (c *cli) cmdQR(args []string) error {
	fs := flag.NewFlagSet("qr", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	out := fs.String("out", "", "write the QR code PNG to this file")
	if _, err := parseInterspersed(fs, args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	ctx, cancel := c.requestContext()
	defer cancel()
	qr, err := c.client("").RequestQR(ctx)
	if err != nil {
		return err
	}

	if *out != "" && qr.QRCodeImageURL != nil {
		data, err := vendor.DecodeQRImage(*qr.QRCodeImageURL)
		if err != nil {
			return err
		}
		if err := os.WriteFile(*out, data, 0o600); err != nil {
			return fmt.Errorf("write qr: %w", err)
		}
	}

	if c.jsonOut {
		return c.outputJSON(qr)
	}
	switch {
	case qr.QRCodeImageURL == nil:
		fmt.Fprintf(c.stdout, "No QR code available (status: %s).\n", qr.Status)
	case *out != "":
		fmt.Fprintf(c.stdout, "QR code saved to %s. Scan it with WhatsApp.\n", *out)
	default:
		fmt.Fprintln(c.stdout, "QR code available. Use --out file.png to save it, or scan it in wpptui.")
	}
	return nil
}

func (c *cli) cmdDisconnect() error {
	ctx, cancel := c.requestContext()
	defer cancel()
	if err := c.client("").Disconnect(ctx); err != nil {
		return err
	}
	if c.jsonOut {
		return c.outputJSON(chat.StatusPayload{Status: chat.Disconnected})
	}
	fmt.Fprintln(c.stdout, "Instance disconnected.")
	return nil
}

func (c *cli) cmdConversations() error {
	ctx, cancel := c.requestContext()
	defer cancel()
	convs, err := c.client("").Conversations(ctx)
	if err != nil {
		return err
	}
	if c.jsonOut {
		return c.outputJSON(convs)
	}
	if len(convs) == 0 {
		fmt.Fprintln(c.stdout, "No conversations found.")
		return nil
	}
	for _, conv := range convs {
		last := ""
		if conv.LastMessageAt != nil {
			last = conv.LastMessageAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(c.stdout, "%-32s %-24s %3d  %-16s %s\n",
			conv.ID, oneLine(conv.Title, 24), conv.Unread(), last, oneLine(conv.LastMessagePreview, 40))
	}
	return nil
}

func (c *cli) cmdMessages(args []string) error {
	fs := flag.NewFlagSet("messages", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	limit := fs.Int("limit", 0, "maximum number of messages (gateway default when 0)")
	pos, err := parseInterspersed(fs, args)
	if err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if len(pos) != 1 {
		return fmt.Errorf("%w: messages <id> [--limit N]", errUsage)
	}
	if *limit < 0 {
		return fmt.Errorf("%w: --limit must not be negative", errUsage)
	}

	ctx, cancel := c.requestContext()
	defer cancel()
	msgs, err := c.client("").Messages(ctx, pos[0], *limit)
	if err != nil {
		return err
	}
	if c.jsonOut {
		return c.outputJSON(msgs)
	}
	if len(msgs) == 0 {
		fmt.Fprintln(c.stdout, "No messages.")
		return nil
	}
	for _, m := range msgs {
		fmt.Fprintln(c.stdout, formatMessage(m))
	}
	return nil
}

func formatMessage(m chat.Message) string {
	who := "Customer"
	if m.Author == chat.AuthorAgent {
		who = "You"
		if m.AgentName != "" {
			who = m.AgentName
		}
	}
	line := fmt.Sprintf("%s  %s: %s", m.CreatedAt.Local().Format("2006-01-02 15:04"), who, m.Text)
	if m.Author == chat.AuthorAgent && m.Status != chat.StatusUnknown {
		line += " (" + string(m.Status) + ")"
	}
	return line
}

func (c *cli) cmdSend(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("%w: send <id> <text>", errUsage)
	}
	id, text := args[0], strings.Join(args[1:], " ")
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: message text is empty", errUsage)
	}

	ctx, cancel := c.requestContext()
	defer cancel()
	if err := c.client("").SendText(ctx, id, text); err != nil {
		return err
	}
	if c.jsonOut {
		return c.outputJSON(map[string]string{"conversationId": id, "status": "sent"})
	}
	fmt.Fprintf(c.stdout, "Sent to %s.\n", id)
	return nil
}

type healthReport struct {
	Socket  string            `json:"socket"`
	Process string            `json:"process"`
	Vendor  string            `json:"vendor"`
	HTTP    map[string]string `json:"http,omitempty"`
	Errors  []string          `json:"errors,omitempty"`
}

func (c *cli) cmdHealth() error {
	socketPath := c.cfg.Gateway.HealthSocket
	if socketPath == "" {
		socketPath = session.HealthSocketPath(c.session)
	}
	report := healthReport{Socket: socketPath, Process: "unreachable", Vendor: "unreachable"}

	ctx, cancel := c.requestContext()
	defer cancel()
	if s, err := daemon.Probe(ctx, socketPath, ""); err != nil {
		report.Errors = append(report.Errors, err.Error())
	} else {
		report.Process = daemon.StatusName(s)
	}
	if s, err := daemon.Probe(ctx, socketPath, daemon.VendorService); err != nil {
		report.Errors = append(report.Errors, err.Error())
	} else {
		report.Vendor = daemon.StatusName(s)
	}
	if h, err := c.client("").Health(ctx); err != nil {
		report.Errors = append(report.Errors, err.Error())
	} else {
		report.HTTP = h
	}

	if c.jsonOut {
		if err := c.outputJSON(report); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(c.stdout, "Socket:  %s\n", report.Socket)
		fmt.Fprintf(c.stdout, "Process: %s\n", report.Process)
		fmt.Fprintf(c.stdout, "Vendor:  %s\n", report.Vendor)
		if report.HTTP != nil {
			fmt.Fprintf(c.stdout, "HTTP:    %s\n", report.HTTP["status"])
		} else {
			fmt.Fprintln(c.stdout, "HTTP:    unreachable")
		}
		for _, e := range report.Errors {
			fmt.Fprintf(c.stderr, "warning: %s\n", e)
		}
	}
	if report.Process != "serving" && report.HTTP == nil {
		return errors.New("gateway is not running")
	}
	return nil
}

func (c *cli) cmdEvents(args []string) error {
	fs := flag.NewFlagSet("events", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	transport := fs.String("transport", "", "stream transport: sse or ws (default client.transport)")
	if _, err := parseInterspersed(fs, args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	switch *transport {
	case "", config.TransportSSE, config.TransportWS:
	default:
		return fmt.Errorf("%w: --transport %q: want sse or ws", errUsage, *transport)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := c.client(*transport)
	onOpen := func() {
		fmt.Fprintf(c.stderr, "streaming events from %s (Ctrl-C to stop)\n", client.BaseURL())
	}
	onData := func(data []byte) {
		if c.jsonOut {
			fmt.Fprintln(c.stdout, string(data))
			return
		}
		ev, err := chat.DecodeEvent(data)
		if err != nil {
			fmt.Fprintf(c.stderr, "warning: %v\n", err)
			return
		}
		fmt.Fprintf(c.stdout, "%s %s\n", time.Now().Format("15:04:05"), describeEvent(ev))
	}

	err := client.Stream(ctx, onOpen, onData)
	switch {
	case ctx.Err() != nil:
		return nil
	case errors.Is(err, sync.ErrStreamClosed):
		fmt.Fprintln(c.stderr, "stream closed by gateway")
		return nil
	}
	return err
}

// describeEvent is the one-line text form of a stream event.
func describeEvent(ev chat.Event) string {
	switch ev.Type {
	case chat.EventConnectionStatus:
		s := fmt.Sprintf("%s %s", ev.Type, ev.Status)
		if ev.QRCodeImageURL != nil {
			s += " (qr code available)"
		}
		return s
	case chat.EventConversationsSnapshot:
		return fmt.Sprintf("%s %d conversations", ev.Type, len(ev.Conversations))
	case chat.EventConversationUpsert:
		return fmt.Sprintf("%s %s %q unread=%d", ev.Type, ev.Conversation.ID, ev.Conversation.Title, ev.Conversation.Unread())
	case chat.EventMessagesSnapshot:
		return fmt.Sprintf("%s %s %d messages", ev.Type, ev.ConversationID, len(ev.Messages))
	case chat.EventMessageNew:
		return fmt.Sprintf("%s %s %s: %s", ev.Type, ev.ConversationID, ev.Message.Author, oneLine(ev.Message.Text, 60))
	case chat.EventMessageStatus:
		return fmt.Sprintf("%s %s %s -> %s", ev.Type, ev.ConversationID, ev.MessageID, ev.MessageStatus)
	}
	return string(ev.Type)
}

type sessionInfo struct {
	Name    string     `json:"name"`
	Path    string     `json:"path"`
	Running bool       `json:"running"`
	PID     int        `json:"pid,omitempty"`
	Since   *time.Time `json:"since,omitempty"`
}

func (c *cli) cmdSessions() error {
	names, err := session.List()
	if err != nil {
		return err
	}

	sessions := []sessionInfo{}
	for _, name := range names {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_, probeErr := daemon.Probe(ctx, session.HealthSocketPath(name), "")
		cancel()
		info := sessionInfo{
			Name:    name,
			Path:    session.Dir(name),
			Running: probeErr == nil,
		}
		// Only the embedded provider holds the data dir lock.
		if held, err := lock.Read(info.Path); err == nil && held.PID > 0 {
			info.PID = held.PID
			if !held.Since.IsZero() {
				info.Since = &held.Since
			}
		}
		sessions = append(sessions, info)
	}

	if c.jsonOut {
		return c.outputJSON(sessions)
	}
	if len(sessions) == 0 {
		fmt.Fprintln(c.stdout, "No sessions found.")
		return nil
	}
	for _, s := range sessions {
		state := "stopped"
		if s.Running {
			state = "running"
		}
		if s.PID > 0 {
			state += fmt.Sprintf(", pid %d", s.PID)
		}
		fmt.Fprintf(c.stdout, "%-20s %s (%s)\n", s.Name, s.Path, state)
	}
	return nil
}

func (c *cli) cmdConfig(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: config <init|show>", errUsage)
	}
	switch args[0] {
	case "init":
		fs := flag.NewFlagSet("config init", flag.ContinueOnError)
		fs.SetOutput(c.stderr)
		force := fs.Bool("force", false, "overwrite an existing config file")
		if _, err := parseInterspersed(fs, args[1:]); err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		if _, err := os.Stat(c.configPath); err == nil && !*force {
			return fmt.Errorf("%s already exists (use --force to overwrite)", c.configPath)
		}
		if err := config.Save(c.configPath, config.Default()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(c.stdout, "Wrote %s\n", c.configPath)
		return nil

	case "show":
		cfg, err := config.LoadOrDefault(c.configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if cfg.Vendor.APIKey != "" {
			cfg.Vendor.APIKey = "********"
		}
		if c.jsonOut {
			return c.outputJSON(cfg)
		}
		return toml.NewEncoder(c.stdout).Encode(cfg)

	default:
		return fmt.Errorf("%w: unknown config subcommand %q", errUsage, args[0])
	}
}

// parseInterspersed parses flags that may appear before, between or after
// positional arguments, returning the positionals in order.
func parseInterspersed(fs *flag.FlagSet, args []string) ([]string, error) {
	var pos []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		args = fs.Args()
		if len(args) == 0 {
			return pos, nil
		}
		pos = append(pos, args[0])
		args = args[1:]
	}
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return s
}

func (c *cli) outputJSON(v any) error {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("json encode: %w", err)
	}
	return nil
}
