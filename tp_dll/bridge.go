package main

import (
	"errors"
	"math"
	"sync/atomic"

	"github.com/LoveWonYoung/asebacan/tp"
)

// Return codes of GoCanInit and GoCanSend.
const (
	codeOK             = 0
	codeNotInitialised = -1
	codeTooLarge       = -2
	codePoolExhausted  = -3
	codeInvalid        = -4
)

var transport atomic.Pointer[tp.Transport]

// initTransport creates the transport on first use and re-initialises it
// afterwards. Any queued or partial message is discarded.
func initTransport(id tp.NodeID, d tp.Driver) int {
	if t := transport.Load(); t != nil {
		t.Init(id, d)
		return codeOK
	}
	cfg := tp.DefaultConfig()
	cfg.ErrorChanSize = 0
	t, err := tp.New(id, d, cfg)
	if err != nil {
		return codeInvalid
	}
	transport.Store(t)
	return codeOK
}

func send(data []byte) int {
	t := transport.Load()
	if t == nil {
		return codeNotInitialised
	}
	err := t.Send(data)
	if err == nil {
		return codeOK
	}

	var (
		tooLarge  tp.MessageTooLargeError
		exhausted tp.PoolExhaustedError
	)
	switch {
	case errors.As(err, &tooLarge):
		return codeTooLarge
	case errors.As(err, &exhausted):
		return codePoolExhausted
	default:
		return codeInvalid
	}
}

func recv(buf []byte) (int, tp.NodeID) {
	t := transport.Load()
	if t == nil {
		return 0, 0
	}
	return t.Recv(buf)
}

// frameFromC builds the frame handed over by the receive interrupt. length
// is the length the caller declared; payload holds the bytes actually read.
// Anything that is not a valid 11-bit frame becomes a frame the transport
// drops as invalid, so it is still counted.
func frameFromC(id uint16, length int, payload []byte) tp.Frame {
	if length == len(payload) {
		if f, err := tp.NewFrame(id, payload); err == nil {
			return f
		}
	}
	return tp.Frame{ID: id, Len: math.MaxUint8}
}

func frameReceived(f tp.Frame) {
	if t := transport.Load(); t != nil {
		t.FrameReceived(f)
	}
}
