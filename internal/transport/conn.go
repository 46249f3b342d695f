package transport

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
)

// maxReadMessage is larger than any message pion accepts, so a detached read
// never fails with io.ErrShortBuffer.
const maxReadMessage = 256 * 1024

// dataChannelConn turns a detached, message-oriented data channel into a
// byte stream. Writes are split into messages of at most maxMessage bytes and
// wait while the SCTP send buffer is above maxBuffered.
type dataChannelConn struct {
	dc   *webrtc.DataChannel
	raw  io.ReadWriteCloser
	pc   *webrtc.PeerConnection
	peer string

	maxMessage  int
	maxBuffered uint64
	bufferLow   chan struct{}

	readMu  sync.Mutex
	readBuf []byte
	pending []byte

	writeMu   sync.Mutex
	closed    chan struct{}
	closeOnce sync.Once
}

func newDataChannelConn(dc *webrtc.DataChannel, raw io.ReadWriteCloser, pc *webrtc.PeerConnection, peer string, maxMessage int, lowThreshold, maxBuffered uint64) *dataChannelConn {
	c := &dataChannelConn{
		dc:          dc,
		raw:         raw,
		pc:          pc,
		peer:        peer,
		maxMessage:  maxMessage,
		maxBuffered: maxBuffered,
		bufferLow:   make(chan struct{}, 1),
		readBuf:     make([]byte, maxReadMessage),
		closed:      make(chan struct{}),
	}

	dc.SetBufferedAmountLowThreshold(lowThreshold)
	dc.OnBufferedAmountLow(func() {
		select {
		case c.bufferLow <- struct{}{}:
		default:
		}
	})
	return c
}

func (c *dataChannelConn) Peer() string { return c.peer }

func (c *dataChannelConn) Read(p []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if len(c.pending) == 0 {
		n, err := c.raw.Read(c.readBuf)
		if err != nil {
			return 0, err
		}
		c.pending = c.readBuf[:n]
	}
	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

func (c *dataChannelConn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	written := 0
	for written < len(p) {
		if err := c.waitForBuffer(); err != nil {
			return written, err
		}
		end := min(written+c.maxMessage, len(p))
		n, err := c.raw.Write(p[written:end])
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// waitForBuffer blocks while too much data is queued in the SCTP association
func (c *dataChannelConn) waitForBuffer() error {
	for c.dc.BufferedAmount() > c.maxBuffered {
		select {
		case <-c.bufferLow:
		case <-c.closed:
			return fmt.Errorf("data channel closed")
		case <-time.After(100 * time.Millisecond):
		}
	}
	return nil
}

func (c *dataChannelConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.raw.Close()
		if c.pc != nil {
			if cerr := c.pc.Close(); err == nil {
				err = cerr
			}
		}
	})
	return err
}
