// Package console is a line-oriented terminal view over the session
// controller. It prints controller events and turns typed commands into
// controller calls.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"dishly/internal/session"

	"github.com/jonboulle/clockwork"
)

// Controller is the part of session.Controller the view uses.
type Controller interface {
	State() session.Snapshot
	Events() <-chan session.Event
	Login(ctx context.Context, username, password string) error
	Refresh(ctx context.Context) error
	Logout(ctx context.Context) error
	RespondToConnectionRequest(ctx context.Context, id string, d session.Decision) error
	DismissWarning()
	AcknowledgeForcedLogout()
}

// Options configures a Console.
type Options struct {
	Clock  clockwork.Clock
	Logger *slog.Logger
}

// Console renders the session for a terminal.
type Console struct {
	ctrl     Controller
	in       io.Reader
	out      io.Writer
	clock    clockwork.Clock
	logger   *slog.Logger
	lastUser string
}

func New(ctrl Controller, in io.Reader, out io.Writer, opts Options) *Console {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Console{
		ctrl:   ctrl,
		in:     in,
		out:    out,
		clock:  opts.Clock,
		logger: opts.Logger.With("component", "console"),
	}
}

var errQuit = errors.New("quit")

// Run processes events and commands until ctx is cancelled, the input ends,
// the user quits or the event stream is closed.
func (c *Console) Run(ctx context.Context) error {
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
			c.logger.Warn("Input closed with error", "error", err)
		}
	}()

	c.printHome()
	c.prompt()

	events := c.ctrl.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			c.handleEvent(e)
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := c.handleCommand(ctx, line); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				return err
			}
			c.prompt()
		}
	}
}

func (c *Console) handleEvent(e session.Event) {
	switch e.Type {
	case session.EventExpiryWarning:
		c.printExpiryWarning()
	case session.EventForcedLogout:
		c.printf("\nYour session has ended. Please sign in again. Type 'ok' to dismiss.\n")
	case session.EventNavigate:
		if e.Route == session.RouteHome {
			c.lastUser = ""
			c.printHome()
		}
	case session.EventNotice:
		if e.Notice != nil {
			c.printf("! %s\n", e.Notice.Message)
		}
	case session.EventUserUpdated:
		s := c.ctrl.State()
		if s.User != nil && s.User.Username != c.lastUser {
			c.lastUser = s.User.Username
			c.printf("Signed in as %s (%d pending requests)\n", s.User.Username, len(s.PendingRequests))
		}
	default:
		c.logger.Debug("Ignoring event", "type", e.Type)
	}
}

func (c *Console) handleCommand(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	cmd, args := strings.ToLower(fields[0]), fields[1:]
	switch cmd {
	case "quit", "exit":
		return errQuit
	case "help":
		c.printHelp()
	case "status":
		c.printStatus()
	case "login":
		if len(args) != 2 {
			c.printf("usage: login <username> <password>\n")
			return nil
		}
		if err := c.ctrl.Login(ctx, args[0], args[1]); err != nil {
			c.printf("Login failed: %v\n", err)
			return nil
		}
		c.printf("Signed in.\n")
	case "stay":
		if err := c.ctrl.Refresh(ctx); err != nil {
			c.printf("Could not extend the session: %v\n", err)
			return nil
		}
		c.printf("Session extended until %s.\n", c.ctrl.State().ExpiresAt.Format(time.Kitchen))
	case "logout":
		if err := c.ctrl.Logout(ctx); err != nil {
			c.printf("Logout failed: %v\n", err)
		}
	case "requests":
		c.printRequests()
	case "accept", "reject":
		if len(args) != 1 {
			c.printf("usage: %s <connection-id>\n", cmd)
			return nil
		}
		d := session.Accept
		if cmd == "reject" {
			d = session.Reject
		}
		// Failures are reported through a notice event.
		if err := c.ctrl.RespondToConnectionRequest(ctx, args[0], d); err == nil {
			c.printf("Request %s: done.\n", args[0])
		} else if errors.Is(err, session.ErrNoSession) {
			c.printf("Sign in first.\n")
		}
	case "ok":
		s := c.ctrl.State()
		switch {
		case s.ForcedLogout:
			c.ctrl.AcknowledgeForcedLogout()
		case s.PendingWarning:
			c.ctrl.DismissWarning()
		}
	default:
		c.printf("Unknown command %q. Type 'help'.\n", cmd)
	}
	return nil
}

func (c *Console) printExpiryWarning() {
	s := c.ctrl.State()
	left := s.ExpiresAt.Sub(c.clock.Now()).Truncate(time.Second)
	if s.ExpiresAt.IsZero() || left <= 0 {
		c.printf("\nYour session has expired.")
	} else {
		c.printf("\nYour session expires in %s.", left)
	}
	c.printf(" Type 'stay' to remain signed in or 'logout' to sign out.\n")
}

func (c *Console) printStatus() {
	s := c.ctrl.State()
	if !s.Authenticated {
		c.printf("Not signed in.\n")
		if s.ForcedLogout {
			c.printf("Your last session was ended by the server.\n")
		}
		return
	}

	name := "(loading)"
	if s.User != nil {
		name = s.User.Username
	}
	c.printf("Signed in as %s\n", name)
	if !s.ExpiresAt.IsZero() {
		c.printf("Session expires at %s (in %s)\n",
			s.ExpiresAt.Format(time.RFC3339),
			s.ExpiresAt.Sub(c.clock.Now()).Truncate(time.Second))
	}
	if s.PendingWarning {
		c.printf("Expiry warning pending. Type 'stay' or 'logout'.\n")
	}
	c.printf("Pending connection requests: %d\n", len(s.PendingRequests))
}

func (c *Console) printRequests() {
	s := c.ctrl.State()
	if len(s.PendingRequests) == 0 {
		c.printf("No pending connection requests.\n")
		return
	}
	for _, r := range s.PendingRequests {
		c.printf("  %s  from %s\n", r.ID, r.RequesterUsername)
	}
}

func (c *Console) printHome() {
	c.printf("== dishly ==\n")
	if s := c.ctrl.State(); !s.Authenticated {
		c.printf("Not signed in. Type 'login <username> <password>' or 'help'.\n")
	}
}

func (c *Console) printHelp() {
	c.printf(`Commands:
  login <user> <pass>  sign in
  status               show the session
  stay                 extend the session
  logout               sign out
  requests             list pending connection requests
  accept <id>          accept a request
  reject <id>          reject a request
  ok                   dismiss the current dialog
  quit                 leave
`)
}

func (c *Console) prompt() {
	c.printf("> ")
}

func (c *Console) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}
