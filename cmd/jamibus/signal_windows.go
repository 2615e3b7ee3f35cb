// Windows signal handling. Only os.Interrupt exists; the runtime maps
// CTRL_BREAK_EVENT and console-close events to it.

//go:build windows

package main

import (
	"os"
	"os/signal"
)

// ///////////////////////////////////////////////
// Signal Handling
// ///////////////////////////////////////////////

// signalChannel returns a channel that receives os.Interrupt.
func signalChannel() <-chan os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt)
	return ch
}

// resizeChannel returns nil: Windows consoles have no resize signal, and a
// nil channel never fires.
func resizeChannel() <-chan os.Signal { return nil }
