package logger

import (
	"reflect"
	"testing"
)

type entry struct {
	level   string
	message string
	keyvals []any
}

type recorder struct {
	entries []entry
}

func (r *recorder) add(level, message string, keyvals []any) {
	r.entries = append(r.entries, entry{level: level, message: message, keyvals: keyvals})
}

func (r *recorder) Log(message string, keyvals ...any)   { r.add("log", message, keyvals) }
func (r *recorder) Debug(message string, keyvals ...any) { r.add("debug", message, keyvals) }
func (r *recorder) Info(message string, keyvals ...any)  { r.add("info", message, keyvals) }
func (r *recorder) Warn(message string, keyvals ...any)  { r.add("warn", message, keyvals) }
func (r *recorder) Error(message string, keyvals ...any) { r.add("error", message, keyvals) }
func (r *recorder) Fatal(message string, keyvals ...any) { r.add("fatal", message, keyvals) }

func TestLogger_DispatchesToAllInstances(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	Init(a, b)
	t.Cleanup(func() { singleton = nil })

	Info("[Run] started", "cases", 12)
	Log("[Run] plain", "graph_id", "g1")

	want := []entry{
		{level: "info", message: "[Run] started", keyvals: []any{"cases", 12}},
		{level: "log", message: "[Run] plain", keyvals: []any{"graph_id", "g1"}},
	}
	for _, r := range []*recorder{a, b} {
		if !reflect.DeepEqual(r.entries, want) {
			t.Fatalf("expected %+v, got %+v", want, r.entries)
		}
	}
}

func TestLogger_NoopBeforeInit(t *testing.T) {
	singleton = nil
	Warn("dropped")
	Error("dropped")
}
