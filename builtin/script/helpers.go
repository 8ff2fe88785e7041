package script

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/Shopify/go-lua"

	"github.com/agentstation/brickflow"
)

// setupSandbox creates a safe Lua environment: no file, process or module
// loading access.
func setupSandbox(l *lua.State) {
	lua.Require(l, "_G", lua.BaseOpen, true)
	l.Pop(1)
	lua.Require(l, "string", lua.StringOpen, true)
	l.Pop(1)
	lua.Require(l, "table", lua.TableOpen, true)
	l.Pop(1)
	lua.Require(l, "math", lua.MathOpen, true)
	l.Pop(1)

	lua.Require(l, "os", lua.OSOpen, true)
	l.Pop(1)
	l.Global("os")
	l.PushNil()
	l.SetField(-2, "execute")
	l.PushNil()
	l.SetField(-2, "exit")
	l.PushNil()
	l.SetField(-2, "getenv")
	l.PushNil()
	l.SetField(-2, "remove")
	l.PushNil()
	l.SetField(-2, "rename")
	l.PushNil()
	l.SetField(-2, "setlocale")
	l.PushNil()
	l.SetField(-2, "tmpname")
	l.Pop(1)

	l.PushNil()
	l.SetGlobal("dofile")
	l.PushNil()
	l.SetGlobal("loadfile")
	l.PushNil()
	l.SetGlobal("load")
	l.PushNil()
	l.SetGlobal("loadstring")
	l.PushNil()
	l.SetGlobal("require")

	l.Register("json_encode", jsonEncode)
	l.Register("json_decode", jsonDecode)
	l.Register("str_trim", strTrim)
	l.Register("str_split", strSplit)
	l.Register("str_contains", strContains)
	l.Register("str_replace", strReplace)
	l.Register("type_of", typeOf)
}

// registerLogger exposes log(msg [, level]) writing to the step logger.
func registerLogger(ctx context.Context, l *lua.State, logger brickflow.Logger) {
	l.Register("log", func(l *lua.State) int {
		msg := lua.CheckString(l, 1)
		level := "info"
		if l.Top() >= 2 {
			level = lua.CheckString(l, 2)
		}
		switch level {
		case "debug":
			logger.Debug(ctx, msg, "source", "lua")
		case "warn":
			logger.Warn(ctx, msg, "source", "lua")
		case "error":
			logger.Error(ctx, msg, "source", "lua")
		default:
			logger.Info(ctx, msg, "source", "lua")
		}
		return 0
	})
}

// pushValue converts a Go value to Lua. Map keys are pushed in sorted order
// so table construction is deterministic.
func pushValue(l *lua.State, v any) {
	switch val := v.(type) {
	case nil:
		l.PushNil()
	case bool:
		l.PushBoolean(val)
	case int:
		l.PushInteger(val)
	case int64:
		l.PushInteger(int(val))
	case float64:
		l.PushNumber(val)
	case string:
		l.PushString(val)
	case []any:
		l.NewTable()
		for i, item := range val {
			l.PushInteger(i + 1)
			pushValue(l, item)
			l.SetTable(-3)
		}
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		l.NewTable()
		for _, k := range keys {
			l.PushString(k)
			pushValue(l, val[k])
			l.SetTable(-3)
		}
	default:
		// Other values, including deferred expressions, reach scripts in
		// their JSON form.
		data, err := json.Marshal(val)
		if err != nil {
			l.PushNil()
			return
		}
		var decoded any
		if err := json.Unmarshal(data, &decoded); err != nil {
			l.PushString(fmt.Sprint(val))
			return
		}
		pushValue(l, decoded)
	}
}

// pullValue converts a Lua value to Go.
func pullValue(l *lua.State, idx int) any {
	switch l.TypeOf(idx) {
	case lua.TypeNil:
		return nil
	case lua.TypeBoolean:
		return l.ToBoolean(idx)
	case lua.TypeNumber:
		n, _ := l.ToNumber(idx)
		if n == float64(int64(n)) {
			return int64(n)
		}
		return n
	case lua.TypeString:
		s, _ := l.ToString(idx)
		return s
	case lua.TypeTable:
		l.PushValue(idx)

		isArray := true
		maxIndex := 0

		l.PushNil()
		for l.Next(-2) {
			if l.TypeOf(-2) != lua.TypeNumber {
				isArray = false
				l.Pop(2)
				break
			}
			n, _ := l.ToNumber(-2)
			i := int(n)
			if i > maxIndex {
				maxIndex = i
			}
			l.Pop(1)
		}

		if isArray && maxIndex > 0 {
			arr := make([]any, maxIndex)
			for i := 1; i <= maxIndex; i++ {
				l.PushInteger(i)
				l.Table(-2)
				arr[i-1] = pullValue(l, -1)
				l.Pop(1)
			}
			l.Pop(1)
			return arr
		}

		obj := make(map[string]any)
		l.PushNil()
		for l.Next(-2) {
			key, _ := l.ToString(-2)
			value := pullValue(l, -1)
			obj[key] = value
			l.Pop(1)
		}
		l.Pop(1)
		return obj
	default:
		return nil
	}
}

func jsonEncode(l *lua.State) int {
	value := pullValue(l, 1)
	data, err := json.Marshal(value)
	if err != nil {
		l.PushNil()
		l.PushString(err.Error())
		return 2
	}
	l.PushString(string(data))
	return 1
}

func jsonDecode(l *lua.State) int {
	str := lua.CheckString(l, 1)
	var value any
	if err := json.Unmarshal([]byte(str), &value); err != nil {
		l.PushNil()
		l.PushString(err.Error())
		return 2
	}
	pushValue(l, value)
	return 1
}

func strTrim(l *lua.State) int {
	str := lua.CheckString(l, 1)
	l.PushString(strings.TrimSpace(str))
	return 1
}

func strSplit(l *lua.State) int {
	str := lua.CheckString(l, 1)
	sep := lua.CheckString(l, 2)
	parts := strings.Split(str, sep)

	l.NewTable()
	for i, part := range parts {
		l.PushInteger(i + 1)
		l.PushString(part)
		l.SetTable(-3)
	}
	return 1
}

func strContains(l *lua.State) int {
	str := lua.CheckString(l, 1)
	substr := lua.CheckString(l, 2)
	l.PushBoolean(strings.Contains(str, substr))
	return 1
}

func strReplace(l *lua.State) int {
	str := lua.CheckString(l, 1)
	old := lua.CheckString(l, 2)
	newStr := lua.CheckString(l, 3)

	count := -1
	if l.Top() >= 4 {
		count = lua.CheckInteger(l, 4)
	}

	l.PushString(strings.Replace(str, old, newStr, count))
	return 1
}

func typeOf(l *lua.State) int {
	t := l.TypeOf(1)
	switch t {
	case lua.TypeNil:
		l.PushString("nil")
	case lua.TypeBoolean:
		l.PushString("boolean")
	case lua.TypeNumber:
		l.PushString("number")
	case lua.TypeString:
		l.PushString("string")
	case lua.TypeTable:
		l.PushString("table")
	case lua.TypeFunction:
		l.PushString("function")
	default:
		l.PushString("unknown")
	}
	return 1
}
