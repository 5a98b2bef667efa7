package debug

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Debug levels
const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Important info (session results, failures)
	LevelLive    = 2 // Live info (state transitions, device acquire/release)
	LevelVerbose = 3 // Verbose (geometry, profiles, decode misses summary)
	LevelTrace   = 4 // Trace (per-frame, GPIO, very low level)
)

var (
	level  atomic.Int32
	logger atomic.Pointer[zerolog.Logger]
)

// Init initializes the debug system with a level (0-4).
// 0 = no output
// 1 = important info (results, failures)
// 2 = live info (transitions, device lifecycle)
// 3 = verbose (geometry, profiles)
// 4 = trace (frames, GPIO)
func Init(debugLevel int) {
	level.Store(int32(debugLevel))
	// filtering happens on our own levels; let every zerolog level through
	zerolog.SetGlobalLevel(zerolog.TraceLevel)
	SetOutput(os.Stdout)
}

// SetOutput redirects log output, e.g. to tee it into the web status stream.
func SetOutput(w io.Writer) {
	out := zerolog.ConsoleWriter{Out: w, NoColor: w != os.Stdout, TimeFormat: time.TimeOnly}
	l := zerolog.New(out).With().Timestamp().Str("app", "capscan").Logger()
	logger.Store(&l)
}

// Level returns the current debug level.
func Level() int {
	return int(level.Load())
}

// IsEnabled returns true if debug level is >= the requested level.
func IsEnabled(minLevel int) bool {
	return Level() >= minLevel
}

// Event returns a zerolog event when minLevel is enabled, nil otherwise.
// zerolog treats a nil *Event as a no-op, so callers can chain freely:
//
//	debug.Event(debug.LevelLive).Str("handle", id).Msg("device released")
func Event(minLevel int) *zerolog.Event {
	l := logger.Load()
	if l == nil || !IsEnabled(minLevel) {
		return nil
	}
	switch minLevel {
	case LevelInfo:
		return l.Info()
	case LevelLive:
		return l.Info().Str("lvl", "live")
	case LevelVerbose:
		return l.Debug()
	default:
		return l.Trace()
	}
}

// --- Level 1 functions (Info): important info ---

// Info prints a level 1 message (important info).
func Info(format string, args ...interface{}) {
	Event(LevelInfo).Msgf(format, args...)
}

// Summary prints an important summary (level 1).
func Summary(title string) {
	Event(LevelInfo).Msg("== " + title + " ==")
}

// --- Level 2 functions (Live): real-time info ---

// Live prints a level 2 message (live info).
func Live(format string, args ...interface{}) {
	Event(LevelLive).Msgf(format, args...)
}

// Transition prints a session state change (level 2).
func Transition(attempt, from, to string) {
	Event(LevelLive).Str("attempt", attempt).Str("from", from).Str("to", to).Msg("session transition")
}

// Device prints a device lifecycle operation (level 2).
func Device(op, handleID string) {
	Event(LevelLive).Str("op", op).Str("handle", handleID).Msg("device")
}

// --- Level 3 functions (Verbose): everything ---

// Verbose prints a level 3 message (verbose).
func Verbose(format string, args ...interface{}) {
	Event(LevelVerbose).Msgf(format, args...)
}

// Printf is an alias for Verbose.
func Printf(format string, args ...interface{}) {
	Verbose(format, args...)
}

// PrintStruct prints a struct in formatted form (level 3).
func PrintStruct(name string, v interface{}) {
	Event(LevelVerbose).Msgf("%s: %+v", name, v)
}

// Section prints a section separator (level 3).
func Section(name string) {
	Event(LevelVerbose).Msg("-- " + name + " --")
}

// Step prints a numbered step (level 3).
func Step(num int, description string) {
	Event(LevelVerbose).Int("step", num).Msg(description)
}

// Value prints a named value (level 1).
func Value(name string, value interface{}) {
	Event(LevelInfo).Interface(name, value).Send()
}

// --- Level 4 functions (Trace): very low level ---

// Trace prints a level 4 message.
func Trace(format string, args ...interface{}) {
	Event(LevelTrace).Msgf(format, args...)
}

// GPIO prints a GPIO operation (level 4).
func GPIO(operation string, pin int, value interface{}) {
	Event(LevelTrace).Str("gpio", operation).Int("pin", pin).Interface("value", value).Send()
}

// --- General functions ---

// Error prints an error (level 1+).
func Error(err error) {
	l := logger.Load()
	if l == nil || !IsEnabled(LevelInfo) {
		return
	}
	l.Error().Err(err).Send()
}

// Fmt returns a formatted string only if debug is enabled
// (to avoid unnecessary allocations).
func Fmt(format string, args ...interface{}) string {
	if Level() > 0 {
		return fmt.Sprintf(format, args...)
	}
	return ""
}
