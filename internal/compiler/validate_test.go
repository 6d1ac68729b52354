package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/aosim/internal/ir"
)

func codes(errs []ValidationError) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Code
	}
	return out
}

func TestValidateModuleSpec(t *testing.T) {
	tests := []struct {
		name string
		spec ir.ModuleSpec
		want []string
	}{
		{"native", ir.ModuleSpec{Format: "native/echo", Builtin: "echo"}, []string{}},
		{"wasm", ir.ModuleSpec{Format: "wasm32-unknown-emscripten", Source: "a.wasm"}, []string{}},
		{"unknown host", ir.ModuleSpec{Format: "jvm"}, []string{ErrModuleFormat}},
		{"empty native", ir.ModuleSpec{Format: "native/"}, []string{ErrModuleFormat}},
		{"wasm without source", ir.ModuleSpec{Format: "wasm64-x"}, []string{ErrModuleSource}},
		{"builtin mismatch", ir.ModuleSpec{Format: "native/echo", Builtin: "counter"}, []string{ErrModuleBuiltin}},
		{"availability", ir.ModuleSpec{Format: "native/echo", Availability: "Telepathy"}, []string{ErrModuleAvailability}},
		{"limits", ir.ModuleSpec{Format: "native/echo", MemoryLimit: "1gb", ComputeLimit: "-1"}, []string{ErrModuleLimit, ErrModuleLimit}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, codes(Validate(&tt.spec)))
		})
	}
}

func TestValidateProcessSpec(t *testing.T) {
	tests := []struct {
		name string
		spec ir.ProcessSpec
		want []string
	}{
		{"minimal", ir.ProcessSpec{Module: "echo"}, []string{}},
		{"cron", ir.ProcessSpec{Module: "echo", CronInterval: "10-Seconds", CronTags: ir.T("Action", "Tick")}, []string{}},
		{"no module", ir.ProcessSpec{}, []string{ErrProcessModule}},
		{"bad cron", ir.ProcessSpec{Module: "echo", CronInterval: "3-fortnights"}, []string{ErrCronInterval}},
		{"cron tags alone", ir.ProcessSpec{Module: "echo", CronTags: ir.T("Action", "Tick")}, []string{ErrCronTagsNoTimer}},
		{"reserved tag", ir.ProcessSpec{Module: "echo", Tags: ir.T("Name", "x", "Scheduler", "me")}, []string{ErrReservedTag}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, codes(Validate(tt.spec)))
		})
	}
}

func TestValidateUnsupportedType(t *testing.T) {
	errs := Validate("nope")
	require.Len(t, errs, 1)
	assert.Equal(t, ErrUnsupportedIRType, errs[0].Code)
}

func TestValidateSet(t *testing.T) {
	modules := []ir.ModuleSpec{
		{Name: "echo", Format: "native/echo"},
		{Name: "echo", Format: "native/echo"},
	}
	processes := []ir.ProcessSpec{
		{Name: "a", Module: "echo"},
		{Name: "b", Module: "missing"},
		{Name: "a", Module: "echo"},
	}

	errs := ValidateSet(modules, processes)
	assert.Equal(t, []string{ErrDuplicateName, ErrUnknownModule, ErrDuplicateName}, codes(errs))
	assert.Equal(t, "process.b.module", errs[1].Field)
}

func TestValidationErrorFormat(t *testing.T) {
	e := ValidationError{Field: "format", Message: "bad", Code: ErrModuleFormat}
	assert.Equal(t, "[E101] format: bad", e.Error())

	e.Line = 4
	assert.Equal(t, "[E101] line 4: format: bad", e.Error())
}
