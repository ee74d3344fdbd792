package main

/*
#include <stdint.h>
#include <stdbool.h>
#include <stdlib.h>

// Hooks supplied by the host application.
// send_frame: hand one frame to the CAN controller; call GoCanFrameSent when it has left.
// room_available: whether the controller can accept a frame now. Must not call back into Go.
typedef void (*SendFrameFn)(uint16_t id, uint8_t* data, uint8_t len);
typedef bool (*RoomAvailableFn)(void);
typedef void (*DropFn)(void);

static void call_send_frame(SendFrameFn cb, uint16_t id, uint8_t* data, uint8_t len) {
    if (cb != NULL) {
        cb(id, data, len);
    }
}

static bool call_room_available(RoomAvailableFn cb) {
    return cb == NULL ? true : cb();
}

static void call_drop(DropFn cb) {
    if (cb != NULL) {
        cb();
    }
}
*/
import "C"
import (
	"unsafe"

	"github.com/LoveWonYoung/asebacan/tp"
)

// cDriver forwards the transport's driver calls to C function pointers.
type cDriver struct {
	send   C.SendFrameFn
	room   C.RoomAvailableFn
	rxDrop C.DropFn
	txDrop C.DropFn
}

func (d *cDriver) SendFrame(f tp.Frame) {
	data := f.Data
	C.call_send_frame(d.send, C.uint16_t(f.ID), (*C.uint8_t)(unsafe.Pointer(&data[0])), C.uint8_t(f.Len))
}

func (d *cDriver) RoomAvailable() bool {
	return bool(C.call_room_available(d.room))
}

func (d *cDriver) OnReceiveDrop() { C.call_drop(d.rxDrop) }
func (d *cDriver) OnSendDrop()    { C.call_drop(d.txDrop) }

// GoCanInit creates (or re-initialises) the transport with the default
// budget. Any queued or partial message is discarded.
//
//export GoCanInit
func GoCanInit(localID uint8, sendFrame C.SendFrameFn, room C.RoomAvailableFn, rxDrop, txDrop C.DropFn) int {
	return initTransport(tp.NodeID(localID), &cDriver{send: sendFrame, room: room, rxDrop: rxDrop, txDrop: txDrop})
}

// GoCanSend queues a message. It returns 0 or a negative error code; a
// rejected message is not queued at all.
//
//export GoCanSend
func GoCanSend(data *C.uint8_t, length C.int) int {
	var buf []byte
	if length > 0 && data != nil {
		buf = C.GoBytes(unsafe.Pointer(data), length)
	}
	return send(buf)
}

// GoCanRecv copies the oldest complete message into buffer, truncated to
// capacity, and stores its sender in source. It returns 0 when nothing is
// pending.
//
//export GoCanRecv
func GoCanRecv(buffer *C.uint8_t, capacity C.int, source *C.uint8_t) int {
	if buffer == nil || capacity <= 0 {
		return 0
	}
	n, src := recv(unsafe.Slice((*byte)(unsafe.Pointer(buffer)), int(capacity)))
	if n > 0 && source != nil {
		*source = C.uint8_t(src)
	}
	return n
}

// GoCanFrameReceived is called from the receive interrupt with a standard
// 11-bit frame.
//
//export GoCanFrameReceived
func GoCanFrameReceived(id C.uint16_t, data *C.uint8_t, length C.uint8_t) {
	var payload []byte
	if length > 0 && data != nil {
		payload = C.GoBytes(unsafe.Pointer(data), C.int(length))
	}
	frameReceived(frameFromC(uint16(id), int(length), payload))
}

// GoCanFrameSent is called from the transmit-complete interrupt.
//
//export GoCanFrameSent
func GoCanFrameSent() {
	if t := transport.Load(); t != nil {
		t.FrameSent()
	}
}

//export GoCanPending
func GoCanPending() int {
	if t := transport.Load(); t != nil {
		return t.Pending()
	}
	return 0
}

func main() {
	// Need a main function for buildmode=c-shared
}
