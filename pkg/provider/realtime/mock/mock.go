// Package mock provides test doubles for the realtime package interfaces.
//
// Use Provider to verify Connect calls and hand out scripted channels. Use
// Channel to push events into the session under test and to inspect the
// audio frames it sent.
//
// Example:
//
//	p := &mock.Provider{}
//	ch, _ := p.Connect(ctx, cfg, handler)
//	p.Last().Emit(realtime.OutputTranscript{Text: "Hello"})
//	p.Last().Disconnect(errors.New("socket reset"))
package mock

import (
	"context"
	"sync"

	"github.com/voicedeck/voicedeck/pkg/provider/realtime"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg realtime.SessionConfig
}

// Provider is a mock implementation of realtime.Provider.
type Provider struct {
	mu sync.Mutex

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// Block, when non-nil, makes Connect wait until the channel is closed or
	// the context is done.
	Block chan struct{}

	// VoiceList is returned by Voices.
	VoiceList []realtime.Voice

	// BlockSend makes SendAudio on new channels hang until the channel is
	// closed, like a write on a stalled socket.
	BlockSend bool

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall

	channels []*Channel
}

// Connect records the call and returns a new Channel bound to h, or
// ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg realtime.SessionConfig, h realtime.Handler) (realtime.Channel, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	block := p.Block
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	ch := &Channel{handler: h, blockSend: p.BlockSend, done: make(chan struct{})}
	p.channels = append(p.channels, ch)
	return ch, nil
}

// Voices returns VoiceList.
func (p *Provider) Voices() []realtime.Voice {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]realtime.Voice(nil), p.VoiceList...)
}

// Calls returns a copy of the recorded Connect calls.
func (p *Provider) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ConnectCall(nil), p.ConnectCalls...)
}

// Last returns the most recently opened channel, or nil.
func (p *Provider) Last() *Channel {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.channels) == 0 {
		return nil
	}
	return p.channels[len(p.channels)-1]
}

// Channel is a mock implementation of realtime.Channel.
type Channel struct {
	handler realtime.Handler

	blockSend bool
	done      chan struct{} // closed when the channel finishes

	mu       sync.Mutex
	sent     []string
	closes   int
	finished bool
	blocked  int

	// SendErr, if non-nil, is returned by SendAudio while open.
	SendErr error
}

// SendAudio records payload. It is a no-op after the channel finished.
func (c *Channel) SendAudio(payload string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished {
		return nil
	}
	if c.blockSend {
		c.blocked++
		c.mu.Unlock()
		<-c.done
		c.mu.Lock()
		c.blocked--
		return nil
	}
	if c.SendErr != nil {
		return c.SendErr
	}
	c.sent = append(c.sent, payload)
	return nil
}

// Close records the call and, on first close, fires OnClose(nil).
func (c *Channel) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	c.finish(nil)
	return nil
}

// Emit delivers ev to the handler as the service would.
func (c *Channel) Emit(ev realtime.Event) {
	c.mu.Lock()
	done := c.finished
	c.mu.Unlock()
	if done || c.handler.OnEvent == nil {
		return
	}
	c.handler.OnEvent(ev)
}

// Disconnect simulates the service ending the session. A nil err models an
// orderly remote close.
func (c *Channel) Disconnect(err error) {
	c.finish(err)
}

func (c *Channel) finish(err error) {
	c.mu.Lock()
	if c.finished {
		c.mu.Unlock()
		return
	}
	c.finished = true
	if c.done != nil {
		close(c.done)
	}
	c.mu.Unlock()
	if c.handler.OnClose != nil {
		c.handler.OnClose(err)
	}
}

// Sent returns a copy of every payload passed to SendAudio.
func (c *Channel) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

// BlockedSends returns how many SendAudio calls are currently hanging.
func (c *Channel) BlockedSends() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blocked
}

// Closes returns how many times Close was called.
func (c *Channel) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

// Finished reports whether the channel has ended.
func (c *Channel) Finished() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finished
}
