//go:build !no_automation

package automation

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// SystemConfig limits what scripts may do on the host. The intended
// exec use is cueing a sound effect to a prop trigger, so commands are
// allowlist-only, absolute paths, and output is never captured.
type SystemConfig struct {
	ExecAllowlist []string
	ExecTimeout   time.Duration
}

// TelegramConfig lets scripts push scare notifications to a phone.
type TelegramConfig struct {
	BotToken string
	ChatIDs  []string
}

const defaultExecTimeout = 10 * time.Second

func registerSystemModule(L *lua.LState, e *Engine) {
	mod := L.NewTable()
	mod.RawSetString("datetime", L.NewFunction(systemDatetime))
	mod.RawSetString("time_between", L.NewFunction(systemTimeBetween))
	mod.RawSetString("log", L.NewFunction(func(L *lua.LState) int {
		return systemLog(L, e)
	}))
	mod.RawSetString("exec", L.NewFunction(func(L *lua.LState) int {
		return systemExec(L, e)
	}))
	L.SetGlobal("system", mod)
}

func registerTelegramModule(L *lua.LState, e *Engine) {
	mod := L.NewTable()
	mod.RawSetString("send", L.NewFunction(func(L *lua.LState) int {
		return telegramSend(L, e)
	}))
	L.SetGlobal("telegram", mod)
}

// system.datetime(part) — the clock parts a haunt schedule cares about.
func systemDatetime(L *lua.LState) int {
	now := time.Now()
	switch part := L.CheckString(1); part {
	case "hour":
		L.Push(lua.LNumber(now.Hour()))
	case "minute":
		L.Push(lua.LNumber(now.Minute()))
	case "weekday":
		L.Push(lua.LNumber(now.Weekday()))
	case "timestamp":
		L.Push(lua.LNumber(now.Unix()))
	case "time_str":
		L.Push(lua.LString(now.Format("15:04:05")))
	default:
		L.ArgError(1, "unknown part: "+part)
		return 0
	}
	return 1
}

// system.time_between(from, to) — true when the current hour is inside
// [from, to). A from greater than to wraps midnight, so (22, 6) covers
// the late-night stretch.
func systemTimeBetween(L *lua.LState) int {
	from, to := L.CheckInt(1), L.CheckInt(2)
	hour := time.Now().Hour()
	in := hour >= from && hour < to
	if from > to {
		in = hour >= from || hour < to
	}
	L.Push(lua.LBool(in))
	return 1
}

// system.log(level, msg)
func systemLog(L *lua.LState, e *Engine) int {
	level, msg := L.CheckString(1), L.CheckString(2)
	log := e.logger.Info
	switch level {
	case "debug":
		log = e.logger.Debug
	case "warn":
		log = e.logger.Warn
	case "error":
		log = e.logger.Error
	}
	log("script log", "msg", msg)
	return 0
}

// system.exec(cmd) — run an allowlisted host command, returning whether
// it ran cleanly. A blocked or failed command is logged and returns
// false; scripts never see the reason.
func systemExec(L *lua.LState, e *Engine) int {
	parts := strings.Fields(L.CheckString(1))
	if len(parts) == 0 {
		L.ArgError(1, "empty command")
		return 0
	}
	bin := parts[0]
	if !filepath.IsAbs(bin) || !slices.Contains(e.systemCfg.ExecAllowlist, bin) {
		e.logger.Warn("exec blocked", "cmd", bin)
		L.Push(lua.LFalse)
		return 1
	}

	timeout := e.systemCfg.ExecTimeout
	if timeout == 0 {
		timeout = defaultExecTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := exec.CommandContext(ctx, bin, parts[1:]...).Run(); err != nil {
		e.logger.Warn("exec failed", "cmd", bin, "err", err)
		L.Push(lua.LFalse)
		return 1
	}
	L.Push(lua.LTrue)
	return 1
}

var telegramClient = &http.Client{Timeout: 10 * time.Second}

// telegram.send(msg) — fan the message out to every configured chat,
// fire-and-forget.
func telegramSend(L *lua.LState, e *Engine) int {
	msg := L.CheckString(1)
	cfg := e.telegramCfg
	if cfg.BotToken == "" || len(cfg.ChatIDs) == 0 {
		e.logger.Warn("telegram.send with no bot configured")
		return 0
	}

	endpoint := "https://api.telegram.org/bot" + cfg.BotToken + "/sendMessage"
	for _, chatID := range cfg.ChatIDs {
		go notifyTelegram(e.logger, endpoint, chatID, msg)
	}
	return 0
}

func notifyTelegram(logger *slog.Logger, endpoint, chatID, msg string) {
	form := url.Values{"chat_id": {chatID}, "text": {msg}}
	resp, err := telegramClient.PostForm(endpoint, form)
	if err != nil {
		logger.Error("telegram send", "chat_id", chatID, "err", err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		logger.Warn("telegram send rejected", "chat_id", chatID, "status", resp.StatusCode)
	}
}
