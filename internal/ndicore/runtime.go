// Package ndicore holds the process-global NDI SDK init/shutdown shared by
// internal/ndisend and internal/ndirecv, so a send and a receive instance
// living in the same process never double-initialize or tear the runtime
// down out from under each other.
package ndicore

/*
#cgo linux LDFLAGS: -L/usr/lib -lndi
#cgo darwin LDFLAGS: -L/Library/NDI\ SDK\ for\ Apple/lib/macOS -lndi
#cgo windows LDFLAGS: -L"C:/Program Files/NDI/NDI 5 SDK/Lib/x64" -lProcessing.NDI.Lib.x64

#include <stdbool.h>

extern bool NDIlib_initialize(void);
extern void NDIlib_destroy(void);
*/
import "C"

import (
	"fmt"
	"sync"
)

var (
	mu    sync.Mutex
	count int
)

// Acquire initializes the NDI runtime on the first caller and increments
// the reference count on every subsequent one, generalizing the teacher's
// gst_pipeline.go sync.Once init into a counted init/shutdown pair since
// senders and receivers are created and destroyed independently.
func Acquire() error {
	mu.Lock()
	defer mu.Unlock()
	if count == 0 {
		if !bool(C.NDIlib_initialize()) {
			return fmt.Errorf("ndicore: NDIlib_initialize failed, is the NDI runtime installed?")
		}
	}
	count++
	return nil
}

// Release decrements the reference count, tearing the runtime down when it
// reaches zero.
func Release() {
	mu.Lock()
	defer mu.Unlock()
	if count == 0 {
		return
	}
	count--
	if count == 0 {
		C.NDIlib_destroy()
	}
}
