package mailsentry

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	mailio "github.com/synqronlabs/mailsentry/io"
)

var (
	ErrClientClosed       = errors.New("smtp: client closed")
	ErrNoConnection       = errors.New("smtp: no connection established")
	ErrUnexpectedResponse = errors.New("smtp: unexpected server response")
)

// ClientConfig holds configuration for the probing SMTP client.
type ClientConfig struct {
	LocalName      string        // Hostname for EHLO/HELO (default: "localhost")
	ConnectTimeout time.Duration // Default: 30 seconds
	ReadTimeout    time.Duration // Per reply. Default: 30 seconds
	WriteTimeout   time.Duration // Per command. Default: 30 seconds
	MaxLineLength  int           // Default: 1000, RFC 5321 section 4.5.3.1.5 plus slack for broken servers
	MaxReplyLines  int           // Default: 100

	// Dial opens the connection. Default: a net.Dialer.
	Dial func(ctx context.Context, network, address string) (net.Conn, error)
}

// DefaultClientConfig returns a ClientConfig with sensible defaults.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		LocalName:      "localhost",
		ConnectTimeout: 30 * time.Second,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxLineLength:  1000,
		MaxReplyLines:  100,
	}
}

// Client is a minimal SMTP client that reads the greeting of a server and
// optionally its EHLO reply. A Client is not safe for concurrent use.
type Client struct {
	config     *ClientConfig
	conn       net.Conn
	reader     *bufio.Reader
	writer     *bufio.Writer
	greeting   *Reply
	extensions []string
	isESMTP    bool
	closed     bool
	ctx        context.Context
	stop       func() bool // Unregisters the context cancellation hook.
}

// Reply is a parsed SMTP server reply. Lines hold the text after the reply
// code, decoded into printable text.
type Reply struct {
	Code  int
	Lines []string
	Lossy bool // Some bytes were not valid UTF-8 or were control characters.
}

// Text returns the reply lines joined by a space.
func (r *Reply) Text() string {
	return strings.Join(r.Lines, " ")
}

// IsSuccess returns true if the reply indicates success (2xx).
func (r *Reply) IsSuccess() bool {
	return r.Code >= 200 && r.Code < 300
}

// Error returns the reply as an error if it indicates failure.
func (r *Reply) Error() error {
	if r.Code >= 200 && r.Code < 400 {
		return nil
	}
	return &SMTPError{Code: r.Code, Message: r.Text()}
}

// SMTPError is an error reply from the server.
type SMTPError struct {
	Code    int
	Message string
}

func (e *SMTPError) Error() string {
	return fmt.Sprintf("SMTP %d: %s", e.Code, e.Message)
}

// NewClient creates a new client. Zero fields of config get the defaults of
// DefaultClientConfig.
func NewClient(config *ClientConfig) *Client {
	def := DefaultClientConfig()
	if config == nil {
		config = def
	} else {
		c := *config
		config = &c
	}
	if config.LocalName == "" {
		config.LocalName = def.LocalName
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = def.ConnectTimeout
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = def.ReadTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = def.WriteTimeout
	}
	if config.MaxLineLength <= 0 {
		config.MaxLineLength = def.MaxLineLength
	}
	if config.MaxReplyLines <= 0 {
		config.MaxReplyLines = def.MaxReplyLines
	}
	if config.Dial == nil {
		config.Dial = (&net.Dialer{}).DialContext
	}
	return &Client{config: config}
}

// DialContext connects to the server (e.g., "192.0.2.1:25") and reads the
// greeting. If the server greets with an error code, the connection is closed
// and an *SMTPError returned, the greeting is still available through
// Greeting.
//
// Canceling ctx aborts a pending read or write until Close.
func (c *Client) DialContext(ctx context.Context, address string) error {
	if c.closed {
		return ErrClientClosed
	}

	dctx, cancel := context.WithTimeout(ctx, c.config.ConnectTimeout)
	defer cancel()
	conn, err := c.config.Dial(dctx, "tcp", address)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	c.ctx = ctx
	c.conn = conn
	c.reader = bufio.NewReader(conn)
	c.writer = bufio.NewWriter(conn)
	c.stop = context.AfterFunc(ctx, func() {
		// Unblocks reads and writes, they fail with os.ErrDeadlineExceeded.
		conn.SetDeadline(time.Now())
	})

	resp, err := c.readReply()
	if err != nil {
		c.close()
		return fmt.Errorf("failed to read greeting: %w", err)
	}
	c.greeting = resp

	if !resp.IsSuccess() {
		c.close()
		return resp.Error()
	}
	return nil
}

// Hello sends EHLO, falling back to HELO for servers that reject it.
func (c *Client) Hello() error {
	if c.conn == nil {
		return ErrNoConnection
	}

	if err := c.writeCommand("EHLO %s", c.config.LocalName); err != nil {
		return err
	}
	resp, err := c.readReply()
	if err != nil {
		return err
	}
	if resp.IsSuccess() {
		c.isESMTP = true
		c.extensions = parseExtensions(resp.Lines)
		return nil
	}

	if err := c.writeCommand("HELO %s", c.config.LocalName); err != nil {
		return err
	}
	resp, err = c.readReply()
	if err != nil {
		return err
	}
	return resp.Error()
}

// Greeting returns the server greeting, nil if none was read.
func (c *Client) Greeting() *Reply {
	return c.greeting
}

// Extensions returns the extensions from the EHLO reply, keyword upper-cased,
// followed by parameters if any.
func (c *Client) Extensions() []string {
	return c.extensions
}

// RemoteAddr returns the address of the server, nil when not connected.
func (c *Client) RemoteAddr() net.Addr {
	if c.conn == nil {
		return nil
	}
	return c.conn.RemoteAddr()
}

// IsESMTP returns whether the server accepted EHLO.
func (c *Client) IsESMTP() bool {
	return c.isESMTP
}

// Quit sends QUIT and closes the connection. The reply is read but not
// required.
func (c *Client) Quit() error {
	if c.conn == nil {
		return ErrNoConnection
	}
	if err := c.writeCommand("QUIT"); err != nil {
		c.close()
		return err
	}
	c.readReply()
	return c.close()
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.close()
}

func (c *Client) close() error {
	c.closed = true
	if c.conn == nil {
		return nil
	}
	if c.stop != nil {
		c.stop()
	}
	err := c.conn.Close()
	c.conn = nil
	c.reader = nil
	c.writer = nil
	return err
}

// deadline returns the deadline for an operation with timeout, the context
// deadline if that is earlier.
func (c *Client) deadline(timeout time.Duration) time.Time {
	t := time.Now().Add(timeout)
	if d, ok := c.ctx.Deadline(); ok && d.Before(t) {
		return d
	}
	return t
}

// parseExtensions parses the EHLO reply lines. The first line is the server
// greeting.
func parseExtensions(lines []string) []string {
	var exts []string
	for _, line := range lines[1:] {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		keyword, params, _ := strings.Cut(line, " ")
		ext := strings.ToUpper(keyword)
		if params = strings.TrimSpace(params); params != "" {
			ext += " " + params
		}
		exts = append(exts, ext)
	}
	return exts
}

// writeCommand sends a command to the server.
func (c *Client) writeCommand(format string, args ...any) error {
	if err := c.ctx.Err(); err != nil {
		return err
	}
	c.conn.SetWriteDeadline(c.deadline(c.config.WriteTimeout))
	if _, err := fmt.Fprintf(c.writer, format+"\r\n", args...); err != nil {
		return err
	}
	return c.writer.Flush()
}

// readReply reads a possibly multi-line reply. Lines are "ddd text" or
// "ddd-text" for all but the last line; a bare "ddd" is accepted as well.
func (c *Client) readReply() (*Reply, error) {
	if err := c.ctx.Err(); err != nil {
		return nil, err
	}
	c.conn.SetReadDeadline(c.deadline(c.config.ReadTimeout))

	resp := &Reply{}
	for n := 0; ; n++ {
		if n >= c.config.MaxReplyLines {
			return nil, fmt.Errorf("%w: more than %d lines", ErrUnexpectedResponse, c.config.MaxReplyLines)
		}
		line, err := mailio.ReadLine(c.reader, c.config.MaxLineLength)
		if err != nil {
			return nil, err
		}

		code, sep, text, err := parseReplyLine(line)
		if err != nil {
			return nil, err
		}
		if resp.Code == 0 {
			resp.Code = code
		} else if code != resp.Code {
			return nil, fmt.Errorf("%w: inconsistent codes %d and %d", ErrUnexpectedResponse, resp.Code, code)
		}

		s, lossy := mailio.Text(text)
		resp.Lines = append(resp.Lines, s)
		resp.Lossy = resp.Lossy || lossy

		if sep != '-' {
			return resp, nil
		}
	}
}

// parseReplyLine splits a reply line into its code, the separator (0 for a
// bare code) and the text.
func parseReplyLine(line []byte) (code int, sep byte, text []byte, err error) {
	if len(line) < 3 {
		return 0, 0, nil, fmt.Errorf("%w: line too short: %q", ErrUnexpectedResponse, line)
	}
	for _, d := range line[:3] {
		if d < '0' || d > '9' {
			return 0, 0, nil, fmt.Errorf("%w: invalid code: %q", ErrUnexpectedResponse, line)
		}
		code = code*10 + int(d-'0')
	}
	if code < 200 || code > 599 {
		return 0, 0, nil, fmt.Errorf("%w: code out of range: %d", ErrUnexpectedResponse, code)
	}
	if len(line) == 3 {
		return code, 0, nil, nil
	}
	sep = line[3]
	if sep != ' ' && sep != '-' {
		return 0, 0, nil, fmt.Errorf("%w: invalid separator: %q", ErrUnexpectedResponse, line)
	}
	return code, sep, line[4:], nil
}
