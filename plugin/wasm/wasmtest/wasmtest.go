// Package wasmtest assembles tiny WebAssembly plugin modules for tests.
package wasmtest

// Offset at which the module's allocator places host input.
const inputOffset = 32768

// Module returns a plugin module whose run function ignores its input and
// returns response. It also exports "boom", which traps, and "spin", which
// never returns.
func Module(response []byte) []byte {
	const (
		i32 = 0x7f
		i64 = 0x7e
	)

	types := vec(2,
		[]byte{0x60, 1, i32, 1, i32},
		[]byte{0x60, 2, i32, i32, 1, i64},
	)
	funcs := vec(4, []byte{0}, []byte{1}, []byte{1}, []byte{1})
	memory := vec(1, []byte{0x00, 1})
	exports := vec(5,
		export("memory", 0x02, 0),
		export("__brickflow_alloc", 0x00, 0),
		export("__brickflow_run", 0x00, 1),
		export("__brickflow_boom", 0x00, 2),
		export("__brickflow_spin", 0x00, 3),
	)

	alloc := append(append([]byte{0x00, 0x41}, sleb(inputOffset)...), 0x0b)
	run := append(append([]byte{0x00, 0x42}, sleb(int64(len(response)))...), 0x0b)
	boom := []byte{0x00, 0x00, 0x0b}
	spin := []byte{0x00, 0x03, 0x40, 0x0c, 0x00, 0x0b, 0x00, 0x0b}
	code := vec(4, sized(alloc), sized(run), sized(boom), sized(spin))

	segment := append([]byte{0x00, 0x41, 0x00, 0x0b}, sized(response)...)
	data := vec(1, segment)

	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	out = append(out, section(1, types)...)
	out = append(out, section(3, funcs)...)
	out = append(out, section(5, memory)...)
	out = append(out, section(7, exports)...)
	out = append(out, section(10, code)...)
	out = append(out, section(11, data)...)
	return out
}

func section(id byte, content []byte) []byte {
	return append([]byte{id}, sized(content)...)
}

func sized(b []byte) []byte {
	return append(uleb(uint64(len(b))), b...)
}

func vec(n int, items ...[]byte) []byte {
	out := uleb(uint64(n))
	for _, it := range items {
		out = append(out, it...)
	}
	return out
}

func export(name string, kind byte, index byte) []byte {
	return append(sized([]byte(name)), kind, index)
}

func uleb(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func sleb(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}
