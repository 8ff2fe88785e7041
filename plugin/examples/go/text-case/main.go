//go:build wasip1

// Command text-case is an example brickflow plugin.
//
// Build with:
//
//	GOOS=wasip1 GOARCH=wasm go build -buildmode=c-shared -o plugin.wasm .
package main

import (
	"encoding/json"
	"strings"
	"unsafe"
)

type request struct {
	Brick string          `json:"brick"`
	Args  json.RawMessage `json:"args"`
}

type response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Output  any    `json:"output,omitempty"`
}

type convertArgs struct {
	Text string `json:"text"`
	Case string `json:"case"`
}

// buffers keeps host-visible allocations reachable until freed.
var buffers = map[uint32][]byte{}

//go:wasmexport __brickflow_alloc
func alloc(size uint32) uint32 {
	buf := make([]byte, size)
	ptr := uint32(uintptr(unsafe.Pointer(unsafe.SliceData(buf))))
	buffers[ptr] = buf
	return ptr
}

//go:wasmexport __brickflow_free
func free(ptr, _ uint32) {
	delete(buffers, ptr)
}

//go:wasmexport __brickflow_run
func run(ptr, size uint32) uint64 {
	resp := handle(buffers[ptr][:size])
	out, err := json.Marshal(resp)
	if err != nil {
		out = []byte(`{"success":false,"error":"encode response"}`)
	}
	outPtr := alloc(uint32(len(out)))
	copy(buffers[outPtr], out)
	return uint64(outPtr)<<32 | uint64(len(out))
}

func handle(input []byte) response {
	var req request
	if err := json.Unmarshal(input, &req); err != nil {
		return response{Error: "invalid request: " + err.Error()}
	}
	if req.Brick != "@text-case/convert" {
		return response{Error: "unknown brick " + req.Brick}
	}

	var args convertArgs
	if err := json.Unmarshal(req.Args, &args); err != nil {
		return response{Error: "invalid args: " + err.Error()}
	}
	switch args.Case {
	case "upper":
		return response{Success: true, Output: strings.ToUpper(args.Text)}
	case "lower":
		return response{Success: true, Output: strings.ToLower(args.Text)}
	case "title":
		words := strings.Fields(args.Text)
		for i, w := range words {
			words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
		}
		return response{Success: true, Output: strings.Join(words, " ")}
	default:
		return response{Error: "unsupported case " + args.Case}
	}
}

func main() {}
