// Command libuploadengine builds a cgo C-ABI shared library exposing the
// engine Facade, for embedding in foreign runtimes that load this module
// as a dynamic library. No part of this codebase's lineage shows a cgo
// export shim; this file is shaped directly off the external-interface
// table instead (see DESIGN.md) and kept intentionally thin — every
// exported function only marshals C types at the boundary and immediately
// calls into engine.Engine.
package main

/*
#include <stdlib.h>
*/
import "C"

import (
	"sync"
	"unsafe"

	"uploadengine/codec"
	"uploadengine/confirmsink"
	"uploadengine/config"
	"uploadengine/credsource"
	"uploadengine/engine"
	"uploadengine/tracker"
)

var (
	once sync.Once
	eng  *engine.Engine
)

// ensureEngine lazily builds the process-wide Engine singleton the bridge
// functions share. A real deployment would configure the confirmation
// sink's URL from the clinical backend's own configuration; this shim
// wires a localhost default so the library remains independently loadable
// before any caller-specific wiring runs.
func ensureEngine() *engine.Engine {
	once.Do(func() {
		cfg := config.New()
		source := credsource.StaticSource{ValidFor: cfg.RefreshMargin * 2}
		sink := confirmsink.NewHTTPSink("http://localhost/confirm", nil)
		eng = engine.New(cfg, source, sink, nil)
	})
	return eng
}

func goString(s *C.char) string {
	if s == nil {
		return ""
	}
	return C.GoString(s)
}

// envelopeToC allocates C-owned memory for the marshaled envelope. Per the
// ABI contract the returned pointer remains valid until the next call into
// the same function; callers are not expected to free it.
func envelopeToC(e codec.Envelope) *C.char {
	body, err := e.Marshal()
	if err != nil {
		return C.CString(`{"code":3,"message":"failed to encode envelope"}`)
	}
	return C.CString(string(body))
}

//export SetCredential
func SetCredential(apiEndpoint, username, password *C.char) *C.char {
	env := ensureEngine().Initialize(goString(apiEndpoint), goString(username), goString(password))
	return envelopeToC(env)
}

//export UploadFileAsync
func UploadFileAsync(region, bucket, key, localPath, dataID, tenantID *C.char, opMode C.int) *C.char {
	mode := tracker.BatchCreate
	if opMode == 1 {
		mode = tracker.RealTimeAppend
	}
	env := ensureEngine().SubmitUpload(
		goString(region), goString(bucket), goString(key),
		goString(localPath), goString(dataID), goString(tenantID), mode)
	return envelopeToC(env)
}

//export GetAsyncUploadStatusBytes
func GetAsyncUploadStatusBytes(dataID *C.char, buffer unsafe.Pointer, bufferSize C.int) C.int {
	if buffer == nil || bufferSize <= 0 {
		return 0
	}
	goBuf := unsafe.Slice((*byte)(buffer), int(bufferSize))
	n := ensureEngine().QueryStatusByDataId(goString(dataID), goBuf, int(bufferSize))
	return C.int(n)
}

//export ShutdownUploadWorker
func ShutdownUploadWorker() {
	ensureEngine().Shutdown()
}

//export GetUploadQueueSize
func GetUploadQueueSize() C.int {
	return C.int(ensureEngine().QueueSize())
}

//export FileExists
func FileExists(path *C.char) C.int {
	if engine.FileExists(goString(path)) {
		return 1
	}
	return 0
}

//export GetS3FileSize
func GetS3FileSize(path *C.char) C.longlong {
	return C.longlong(engine.GetS3FileSize(goString(path)))
}

func main() {}
