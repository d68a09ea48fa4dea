package ftp

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/RomanRII/NetExec/internal/module"
	"github.com/RomanRII/NetExec/internal/protocol"
	sharedErrors "github.com/RomanRII/NetExec/internal/shared/errors"
)

// client is a minimal control connection.
type client struct {
	nc      net.Conn
	text    *textproto.Conn
	timeout time.Duration
	host    string
}

func connect(ctx context.Context, addr string, timeout time.Duration) (*client, string, error) {
	d := net.Dialer{Timeout: timeout}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, "", err
	}
	host, _, _ := net.SplitHostPort(addr)
	c := &client{nc: nc, text: textproto.NewConn(nc), timeout: timeout, host: host}

	c.deadline()
	_, msg, err := c.text.ReadResponse(220)
	if err != nil {
		c.Close()
		return nil, "", err
	}
	return c, msg, nil
}

func (c *client) deadline() {
	if c.timeout > 0 {
		_ = c.nc.SetDeadline(time.Now().Add(c.timeout))
	}
}

func (c *client) Close() error {
	return c.text.Close()
}

func (c *client) cmd(expect int, format string, args ...any) (int, string, error) {
	c.deadline()
	id, err := c.text.Cmd(format, args...)
	if err != nil {
		return 0, "", err
	}
	c.text.StartResponse(id)
	defer c.text.EndResponse(id)
	return c.text.ReadResponse(expect)
}

func (c *client) login(user, pass string) error {
	code, msg, err := c.cmd(0, "USER %s", user)
	if err != nil {
		return err
	}
	switch code {
	case 230:
		return nil
	case 331, 332:
	default:
		return fmt.Errorf("%w: %d %s", sharedErrors.ErrAuthFailed, code, msg)
	}

	code, msg, err = c.cmd(0, "PASS %s", pass)
	if err != nil {
		return err
	}
	if code != 230 && code != 202 {
		return fmt.Errorf("%w: %d %s", sharedErrors.ErrAuthFailed, code, msg)
	}
	return nil
}

func (c *client) quit() {
	_, _, _ = c.cmd(221, "QUIT")
	c.Close()
}

// pasv opens the data connection announced by a 227 reply.
func (c *client) pasv(ctx context.Context) (net.Conn, error) {
	_, msg, err := c.cmd(227, "PASV")
	if err != nil {
		return nil, err
	}
	port, err := parsePasv(msg)
	if err != nil {
		return nil, err
	}
	// The announced address is ignored; NATed servers report private ones.
	d := net.Dialer{Timeout: c.timeout}
	return d.DialContext(ctx, "tcp", net.JoinHostPort(c.host, strconv.Itoa(port)))
}

func parsePasv(msg string) (int, error) {
	start := strings.Index(msg, "(")
	end := strings.LastIndex(msg, ")")
	if start < 0 || end <= start {
		return 0, fmt.Errorf("malformed PASV reply: %q", msg)
	}
	parts := strings.Split(msg[start+1:end], ",")
	if len(parts) != 6 {
		return 0, fmt.Errorf("malformed PASV reply: %q", msg)
	}
	hi, err1 := strconv.Atoi(strings.TrimSpace(parts[4]))
	lo, err2 := strconv.Atoi(strings.TrimSpace(parts[5]))
	if err1 != nil || err2 != nil || hi < 0 || hi > 255 || lo < 0 || lo > 255 {
		return 0, fmt.Errorf("malformed PASV reply: %q", msg)
	}
	return hi<<8 | lo, nil
}

func (c *client) list(ctx context.Context, dir string) ([]module.Entry, error) {
	data, err := c.pasv(ctx)
	if err != nil {
		return nil, err
	}
	defer data.Close()

	code, msg, err := c.cmd(0, "LIST %s", dir)
	if err != nil {
		return nil, err
	}
	if code != 125 && code != 150 {
		return nil, fmt.Errorf("LIST %s: %d %s", dir, code, msg)
	}

	if c.timeout > 0 {
		_ = data.SetDeadline(time.Now().Add(c.timeout))
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return nil, err
	}
	data.Close()

	c.deadline()
	if _, _, err := c.text.ReadResponse(226); err != nil {
		return nil, err
	}
	return ParseList(string(raw)), nil
}

// ParseList parses unix style LIST output.
func ParseList(raw string) []module.Entry {
	var out []module.Entry
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimRight(line, "\r")
		fields := strings.Fields(line)
		if len(fields) < 9 || strings.HasPrefix(line, "total") {
			continue
		}
		size, _ := strconv.ParseInt(fields[4], 10, 64)
		name := strings.Join(fields[8:], " ")
		if i := strings.Index(name, " -> "); i >= 0 && line[0] == 'l' {
			name = name[:i]
		}
		out = append(out, module.Entry{Name: name, Dir: line[0] == 'd', Size: size})
	}
	return out
}

// Session is a logged-in ftp control connection handed to modules.
type Session struct {
	*protocol.BaseSession
	conn *client
}

func (s *Session) List(ctx context.Context, dir string) ([]module.Entry, error) {
	return s.conn.list(ctx, dir)
}

// Exec is not available over ftp.
func (s *Session) Exec(context.Context, string) (string, error) {
	return "", fmt.Errorf("%w: command execution over ftp", sharedErrors.ErrUnsupportedAction)
}
