package protocol

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// Conn exchanges framed messages over a byte stream connection.
// Send and Receive may be used from different goroutines; neither is reentrant.
type Conn struct {
	conn         net.Conn
	reader       *bufio.Reader
	writeTimeout time.Duration
	writeMu      sync.Mutex
}

// NewConn wraps c. A zero writeTimeout disables write deadlines.
func NewConn(c net.Conn, writeTimeout time.Duration) *Conn {
	return &Conn{
		conn:         c,
		reader:       bufio.NewReader(c),
		writeTimeout: writeTimeout,
	}
}

// Send encodes and writes one message
func (c *Conn) Send(msg Message) error {
	payload, err := Encode(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return fmt.Errorf("failed to set write deadline: %w", err)
		}
	}
	if err := WriteFrame(c.conn, payload); err != nil {
		return fmt.Errorf("failed to send %T: %w", msg, err)
	}
	return nil
}

// Receive blocks for the next message
func (c *Conn) Receive() (Message, error) {
	payload, err := ReadFrame(c.reader)
	if err != nil {
		return nil, err
	}
	return Decode(payload)
}

// ReceiveWithin is Receive bounded by a read deadline; zero waits forever
func (c *Conn) ReceiveWithin(timeout time.Duration) (Message, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("failed to set read deadline: %w", err)
	}
	return c.Receive()
}

// ReceiveContext is ReceiveWithin that also returns as soon as ctx is done.
// The stream is unusable after an interrupted receive.
func (c *Conn) ReceiveContext(ctx context.Context, timeout time.Duration) (Message, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("failed to set read deadline: %w", err)
	}

	stop := context.AfterFunc(ctx, c.Interrupt)
	defer stop()

	msg, err := c.Receive()
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return msg, err
}

// Interrupt makes a pending Receive return immediately with a timeout error
func (c *Conn) Interrupt() {
	_ = c.conn.SetReadDeadline(time.Now())
}

// RemoteAddr returns the peer address
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// Close closes the underlying connection
func (c *Conn) Close() error {
	return c.conn.Close()
}
