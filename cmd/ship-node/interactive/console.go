// Package interactive provides the interactive console of ship-node.
package interactive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/shipproto/ship-go/pkg/cert"
	"github.com/shipproto/ship-go/pkg/discovery"
	"github.com/shipproto/ship-go/pkg/node"
	"github.com/shipproto/ship-go/pkg/trust"
)

// ErrAmbiguous is returned when a connection ID prefix matches more than
// one connection.
var ErrAmbiguous = errors.New("ambiguous connection id")

// Console handles interactive mode for ship-node.
type Console struct {
	rl    *readline.Instance
	node  *node.Node
	store *trust.Store
}

// New creates the console. Create it before the node so its Stdout can be
// handed to the loggers.
func New() (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "ship> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Console{rl: rl}, nil
}

// Stdout returns a writer that properly coordinates with the readline input.
func (c *Console) Stdout() io.Writer {
	return c.rl.Stdout()
}

// Bind attaches the console to a node. store is nil when every peer is
// trusted automatically.
func (c *Console) Bind(n *node.Node, store *trust.Store) {
	c.node = n
	c.store = store

	n.OnEvent(c.handleEvent)
	if store != nil {
		store.OnPending(func(p trust.Peer) {
			fmt.Fprintf(c.Stdout(), "\nPeer %s (%s) awaits a trust decision: trust %s | reject %s\n",
				cert.FormatSKI(p.ID), p.Addr, p.ID, p.ID)
			c.rl.Refresh()
		})
	}
}

// Run starts the interactive command loop.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.Stdout(), "Exiting...")
			cancel()
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		parts := strings.Fields(input)
		if quit := c.execute(ctx, strings.ToLower(parts[0]), parts[1:], input); quit {
			cancel()
			return
		}
	}
}

// execute runs one command and reports whether the console should exit.
func (c *Console) execute(ctx context.Context, cmd string, args []string, line string) bool {
	var err error
	switch cmd {
	case "help", "?":
		c.printHelp()
	case "list", "ls":
		c.cmdList()
	case "peers":
		err = c.cmdPeers()
	case "pending":
		err = c.cmdPending()
	case "trust", "approve":
		err = c.cmdDecide(args, true)
	case "reject":
		err = c.cmdDecide(args, false)
	case "forget":
		err = c.withStore(args, 1, func(id string) error { return c.store.Forget(id) })
	case "name":
		err = c.cmdName(args)
	case "connect":
		err = c.cmdConnect(ctx, args)
	case "find":
		err = c.cmdFind(ctx, args)
	case "discover":
		err = c.cmdDiscover(ctx, args)
	case "send":
		err = c.cmdSend(args, line)
	case "close":
		err = c.onConnection(args, c.node.CloseConnection)
	case "abort":
		err = c.onConnection(args, c.node.Abort)
	case "quit", "exit", "q":
		return true
	default:
		err = fmt.Errorf("unknown command: %s (type 'help')", cmd)
	}
	if err != nil {
		fmt.Fprintf(c.Stdout(), "Error: %v\n", err)
	}
	return false
}

func (c *Console) printHelp() {
	fmt.Fprint(c.Stdout(), `Commands:
  list                       Running connections
  peers                      Stored trust decisions
  pending                    Peers waiting for a trust decision
  trust <ski>                Trust a peer
  reject <ski>               Reject a peer
  forget <ski>               Drop a stored decision
  name <ski> <name>          Attach a display name to a peer
  connect <addr> [ski]       Connect to a node, optionally pinning its SKI
  find <ski>                 Resolve a node via mDNS and connect
  discover [seconds]         Browse for nodes via mDNS
  send <conn> <text>         Send a payload in the data phase
  close <conn>               Close a connection gracefully
  abort <conn>               Abort a connection
  quit                       Exit
`)
}

func (c *Console) handleEvent(ev node.Event) {
	out := c.Stdout()
	id := shortID(ev.ConnID)
	switch ev.Type {
	case node.EventConnected:
		fmt.Fprintf(out, "[%s] connected %s as %s (peer %s)\n", id, ev.RemoteAddr, ev.Role, cert.FormatSKI(ev.PeerID))
	case node.EventReady:
		fmt.Fprintf(out, "[%s] ready\n", id)
	case node.EventData:
		fmt.Fprintf(out, "[%s] data: %q\n", id, ev.Data)
	case node.EventClosed:
		if ev.Err != nil {
			fmt.Fprintf(out, "[%s] closed: %v\n", id, ev.Err)
		} else {
			fmt.Fprintf(out, "[%s] closed\n", id)
		}
	}
	c.rl.Refresh()
}

func (c *Console) cmdList() {
	conns := c.node.Connections()
	if len(conns) == 0 {
		fmt.Fprintln(c.Stdout(), "No connections")
		return
	}
	for _, info := range conns {
		fmt.Fprintf(c.Stdout(), "  %s  %-9s %-9s %-21s %s  up %s\n",
			shortID(info.ID), info.Role, info.Phase, info.RemoteAddr,
			cert.FormatSKI(info.PeerID), time.Since(info.Since).Round(time.Second))
	}
}

func (c *Console) requireStore() error {
	if c.store == nil {
		return errors.New("trust decisions are disabled (-accept-all)")
	}
	return nil
}

func (c *Console) cmdPeers() error {
	if err := c.requireStore(); err != nil {
		return err
	}
	decisions := c.store.Decisions()
	if len(decisions) == 0 {
		fmt.Fprintln(c.Stdout(), "No stored decisions")
		return nil
	}
	ids := make([]string, 0, len(decisions))
	for id := range decisions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(c.Stdout(), "  %s  %s\n", id, decisions[id])
	}
	return nil
}

func (c *Console) cmdPending() error {
	if err := c.requireStore(); err != nil {
		return err
	}
	pending := c.store.Pending()
	if len(pending) == 0 {
		fmt.Fprintln(c.Stdout(), "No pending peers")
		return nil
	}
	for _, p := range pending {
		fmt.Fprintf(c.Stdout(), "  %s  %s\n", p.ID, p.Addr)
	}
	return nil
}

func (c *Console) withStore(args []string, n int, fn func(id string) error) error {
	if err := c.requireStore(); err != nil {
		return err
	}
	if len(args) < n {
		return errors.New("peer SKI required")
	}
	return fn(args[0])
}

func (c *Console) cmdDecide(args []string, approve bool) error {
	return c.withStore(args, 1, func(id string) error {
		if approve {
			return c.store.Approve(id)
		}
		return c.store.Reject(id)
	})
}

func (c *Console) cmdName(args []string) error {
	if len(args) < 2 {
		return errors.New("usage: name <ski> <name>")
	}
	return c.withStore(args, 1, func(id string) error {
		return c.store.Name(id, strings.Join(args[1:], " "))
	})
}

func (c *Console) cmdConnect(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: connect <addr> [ski]")
	}
	var ski string
	if len(args) > 1 {
		ski = args[1]
	}
	return c.connect(ctx, args[0], ski)
}

func (c *Console) connect(ctx context.Context, address, ski string) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, err := c.node.Connect(dialCtx, address, ski)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.Stdout(), "Connecting as %s [%s]\n", conn.Role(), shortID(conn.ID()))
	return nil
}

func (c *Console) cmdFind(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: find <ski>")
	}
	browser, err := discovery.NewMDNSBrowser(discovery.DefaultBrowserConfig())
	if err != nil {
		return err
	}
	defer browser.Stop()

	fmt.Fprintln(c.Stdout(), "Resolving...")
	svc, err := browser.FindBySKI(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(c.Stdout(), "Found %s at %s\n", svc.InstanceName, svc.Address())
	return c.connect(ctx, svc.Address(), svc.SKI)
}

func (c *Console) cmdDiscover(ctx context.Context, args []string) error {
	timeout := 3 * time.Second
	if len(args) > 0 {
		secs, err := strconv.Atoi(args[0])
		if err != nil || secs <= 0 {
			return fmt.Errorf("invalid duration %q", args[0])
		}
		timeout = time.Duration(secs) * time.Second
	}

	browser, err := discovery.NewMDNSBrowser(discovery.DefaultBrowserConfig())
	if err != nil {
		return err
	}
	defer browser.Stop()

	browseCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	events, err := browser.Browse(browseCtx)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.Stdout(), "Browsing for %s...\n", timeout)
	found := 0
	for ev := range events {
		svc := ev.Service
		if ev.Kind == discovery.ServiceAdded {
			found++
		}
		fmt.Fprintf(c.Stdout(), "  %-7s %-24s %-21s ski=%s", ev.Kind, svc.InstanceName, svc.Address(), svc.SKI)
		if svc.Brand != "" || svc.Model != "" {
			fmt.Fprintf(c.Stdout(), " (%s %s)", svc.Brand, svc.Model)
		}
		fmt.Fprintln(c.Stdout())
	}
	fmt.Fprintf(c.Stdout(), "%d node(s) found\n", found)
	return nil
}

func (c *Console) cmdSend(args []string, line string) error {
	if len(args) < 2 {
		return errors.New("usage: send <conn> <text>")
	}
	id, err := c.resolve(args[0])
	if err != nil {
		return err
	}
	// Keep the payload's inner spacing.
	rest := strings.TrimSpace(line)
	rest = strings.TrimSpace(rest[len(strings.Fields(rest)[0]):])
	text := strings.TrimSpace(rest[len(args[0]):])
	return c.node.Send(id, []byte(text))
}

func (c *Console) onConnection(args []string, fn func(id string) error) error {
	if len(args) < 1 {
		return errors.New("connection id required")
	}
	id, err := c.resolve(args[0])
	if err != nil {
		return err
	}
	return fn(id)
}

// resolve expands a connection ID prefix as shown by list.
func (c *Console) resolve(prefix string) (string, error) {
	return resolveID(c.node.Connections(), prefix)
}

func resolveID(conns []node.ConnectionInfo, prefix string) (string, error) {
	match := ""
	for _, info := range conns {
		if info.ID == prefix {
			return info.ID, nil
		}
		if strings.HasPrefix(info.ID, prefix) {
			if match != "" {
				return "", fmt.Errorf("%w: %s", ErrAmbiguous, prefix)
			}
			match = info.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("%w: %s", node.ErrUnknownConnection, prefix)
	}
	return match, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
