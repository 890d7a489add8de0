//go:build !no_automation

package automation

import (
	"time"

	"zigbeeween/internal/gateway"
	"zigbeeween/internal/status"

	lua "github.com/yuin/gopher-lua"
)

// registerWeenModule registers the `ween` global table in a Lua state.
func registerWeenModule(L *lua.LState, vm *scriptVM, e *Engine) {
	mod := L.NewTable()

	mod.RawSetString("on", L.NewFunction(func(L *lua.LState) int {
		return weenOn(L, vm)
	}))

	mod.RawSetString("trigger", L.NewFunction(func(L *lua.LState) int {
		return weenTrigger(L, e)
	}))

	mod.RawSetString("status", L.NewFunction(func(L *lua.LState) int {
		return weenStatus(L, e)
	}))

	mod.RawSetString("motion", L.NewFunction(func(L *lua.LState) int {
		return weenMotion(L, e)
	}))

	mod.RawSetString("events", L.NewFunction(func(L *lua.LState) int {
		return weenEvents(L, e)
	}))

	mod.RawSetString("after", L.NewFunction(func(L *lua.LState) int {
		return weenAfter(L, vm, e)
	}))

	mod.RawSetString("log", L.NewFunction(func(L *lua.LState) int {
		return weenLog(L, e)
	}))

	L.SetGlobal("ween", mod)
}

const maxHandlersPerScript = 100

// ween.on(type, filter, callback)
func weenOn(L *lua.LState, vm *scriptVM) int {
	eventType := L.CheckString(1)
	filterTable := L.CheckTable(2)
	fn := L.CheckFunction(3)

	h := luaEventHandler{
		eventType: eventType,
		fn:        fn,
	}

	if v := filterTable.RawGetString("device"); v != lua.LNil {
		h.device = v.String()
	}

	vm.mu.Lock()
	if len(vm.handlers) >= maxHandlersPerScript {
		vm.mu.Unlock()
		L.RaiseError("too many handlers (max %d)", maxHandlersPerScript)
		return 0
	}
	vm.handlers = append(vm.handlers, h)
	vm.mu.Unlock()

	return 0
}

// ween.trigger("tombstone"|"scarecrow"|"both")
func weenTrigger(L *lua.LState, e *Engine) int {
	name := L.CheckString(1)

	target, err := gateway.ParseTarget(name)
	if err != nil {
		L.ArgError(1, err.Error())
		return 0
	}

	if err := e.gw.Trigger(target); err != nil {
		e.logger.Error("script trigger", "target", name, "err", err)
	}
	return 0
}

// ween.status("tombstone"|"scarecrow") — returns a status table or nil
func weenStatus(L *lua.LState, e *Engine) int {
	name := L.CheckString(1)

	var id status.DeviceID
	switch name {
	case "tombstone":
		id = status.Tombstone
	case "scarecrow":
		id = status.Scarecrow
	default:
		L.Push(lua.LNil)
		return 1
	}

	L.Push(statusToLua(L, e.gw.Registry().Get(id)))
	return 1
}

// ween.motion() — current PIR state
func weenMotion(L *lua.LState, e *Engine) int {
	L.Push(lua.LBool(e.gw.Snapshot().PIRMotion))
	return 1
}

// ween.events(n) — the n most recent event log entries, newest first
func weenEvents(L *lua.LState, e *Engine) int {
	n := L.OptInt(1, 10)

	entries := e.gw.Snapshot().Events
	if n < len(entries) {
		entries = entries[:n]
	}

	tbl := L.NewTable()
	for i, entry := range entries {
		t := L.NewTable()
		t.RawSetString("type", lua.LString(string(entry.Type)))
		t.RawSetString("timestamp", lua.LNumber(entry.Time.Unix()))
		if entry.Device != "" {
			t.RawSetString("device", lua.LString(entry.Device))
		}
		tbl.RawSetInt(i+1, t)
	}

	L.Push(tbl)
	return 1
}

// ween.after(seconds, callback) — delayed execution
func weenAfter(L *lua.LState, vm *scriptVM, e *Engine) int {
	seconds := L.CheckNumber(1)
	fn := L.CheckFunction(2)

	go func() {
		timer := time.NewTimer(time.Duration(float64(seconds) * float64(time.Second)))
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-vm.ctx.Done():
			return
		}

		select {
		case vm.commands <- func(L *lua.LState) {
			if err := L.CallByParam(lua.P{
				Fn:      fn,
				NRet:    0,
				Protect: true,
			}); err != nil {
				e.logger.Error("after callback error", "err", err)
			}
		}:
		default:
			e.logger.Warn("after: command channel full")
		}
	}()

	return 0
}

// ween.log(msg)
func weenLog(L *lua.LState, e *Engine) int {
	msg := L.CheckString(1)
	e.logger.Info("script log", "msg", msg)
	return 0
}
