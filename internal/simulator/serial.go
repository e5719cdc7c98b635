package simulator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"menu-remote/internal/utils"
)

// ServeSerial serves one remote at a time on a serial line. A session
// that ends because the remote left or went silent is followed by a new
// one on the same port until ctx ends or the device closes.
func (d *Device) ServeSerial(ctx context.Context, sp utils.SerialParams) error {
	port, err := utils.OpenSerial(sp)
	if err != nil {
		return fmt.Errorf("open %s: %w", sp.Address, err)
	}
	conn := newPortConn(sp.Address, port)
	defer conn.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-d.quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	for ctx.Err() == nil {
		d.Serve(ctx, conn.session())
		if err := conn.err(); err != nil {
			return err
		}
	}
	return nil
}

type serialAddr string

func (a serialAddr) Network() string { return "serial" }
func (a serialAddr) String() string  { return string(a) }

// portConn adapts a serial port to net.Conn. Read deadlines are honoured by
// polling the port's own read timeout.
type portConn struct {
	addr serialAddr
	port io.ReadWriteCloser

	mu       sync.Mutex
	deadline time.Time
	closed   bool
	failed   error
}

func newPortConn(address string, port io.ReadWriteCloser) *portConn {
	return &portConn{addr: serialAddr(address), port: port}
}

func (c *portConn) Read(p []byte) (int, error) { return c.read(p, nil) }

// read polls the port until data arrives, the deadline passes or stop is set.
func (c *portConn) read(p []byte, stop *atomic.Bool) (int, error) {
	for {
		n, err := c.port.Read(p)
		if n > 0 || err == nil {
			return n, nil
		}
		if !isPortTimeout(err) {
			c.mu.Lock()
			if !c.closed {
				c.failed = err
			}
			c.mu.Unlock()
			return 0, err
		}
		c.mu.Lock()
		dl, closed := c.deadline, c.closed
		c.mu.Unlock()
		if closed || (stop != nil && stop.Load()) {
			return 0, net.ErrClosed
		}
		if !dl.IsZero() && time.Now().After(dl) {
			return 0, os.ErrDeadlineExceeded
		}
	}
}

// err is the non-timeout read error that broke the port, if any.
func (c *portConn) err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failed
}

func (c *portConn) Write(p []byte) (int, error) { return c.port.Write(p) }

func (c *portConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.port.Close()
}

func (c *portConn) LocalAddr() net.Addr  { return c.addr }
func (c *portConn) RemoteAddr() net.Addr { return c.addr }

func (c *portConn) SetDeadline(t time.Time) error { return c.SetReadDeadline(t) }

func (c *portConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.deadline = t
	c.mu.Unlock()
	return nil
}

func (c *portConn) SetWriteDeadline(time.Time) error { return nil }

// session hands Serve a view of the port whose Close ends the session
// without closing the port.
func (c *portConn) session() net.Conn { return &sessionConn{portConn: c} }

type sessionConn struct {
	*portConn
	done atomic.Bool
}

func (s *sessionConn) Read(p []byte) (int, error) {
	if s.done.Load() {
		return 0, net.ErrClosed
	}
	return s.portConn.read(p, &s.done)
}

func (s *sessionConn) Write(p []byte) (int, error) {
	if s.done.Load() {
		return 0, net.ErrClosed
	}
	return s.portConn.Write(p)
}

func (s *sessionConn) Close() error {
	s.done.Store(true)
	return nil
}

func isPortTimeout(err error) bool {
	var te interface{ Timeout() bool }
	if errors.As(err, &te) {
		return te.Timeout()
	}
	return strings.Contains(err.Error(), "timeout")
}
