package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextSetFieldAppendsHistory(t *testing.T) {
	c := NewContext()

	c.SetField("status", "pending")
	c.SetField("status", "running")
	c.SetField("status", "done")

	current, ok := c.GetField("status")
	require.True(t, ok)
	assert.Equal(t, "done", current)

	hist := c.GetAccumulated("status")
	assert.Equal(t, []interface{}{"pending", "running", "done"}, hist)
}

func TestContextGetFieldUnsetReturnsFalse(t *testing.T) {
	c := NewContext()
	v, ok := c.GetField("nope")
	assert.False(t, ok)
	assert.Nil(t, v)
}

func TestContextGetAccumulatedUnwrapsSingleFanOut(t *testing.T) {
	c := NewContext()
	// a fan-out of exactly one child collapses one nesting level
	c.SetField("results", []interface{}{"a", "b", "c"})

	assert.Equal(t, []interface{}{"a", "b", "c"}, c.GetAccumulated("results"))
}

func TestContextGetAccumulatedDoesNotUnwrapMultipleWrites(t *testing.T) {
	c := NewContext()
	c.SetField("results", []interface{}{"a"})
	c.SetField("results", []interface{}{"b"})

	got := c.GetAccumulated("results")
	require.Len(t, got, 2)
	assert.Equal(t, []interface{}{"a"}, got[0])
	assert.Equal(t, []interface{}{"b"}, got[1])
}

func TestOperationalRecordSignalsIsAppendOnly(t *testing.T) {
	c := NewContext()
	op := c.Operational()

	op.RecordSignals(Signals{"start"})
	op.RecordSignals(Signals{"start", "retry"})

	assert.Equal(t, []string{"start", "start", "retry"}, op.Signals)
}

func TestOperationalRecordNodeExecutionCounts(t *testing.T) {
	c := NewContext()
	op := c.Operational()

	op.RecordNodeExecution("router_1")
	op.RecordNodeExecution("router_1")
	op.RecordNodeExecution("tool_1")

	assert.Equal(t, 2, op.NodeExecutions["router_1"])
	assert.Equal(t, 1, op.NodeExecutions["tool_1"])
}

func TestNewContextSeedsOperationalBlock(t *testing.T) {
	c := NewContext()
	op := c.Operational()
	require.NotNil(t, op)
	assert.Empty(t, op.Signals)
	assert.NotNil(t, op.NodeExecutions)
}

func TestSignalEmissionLanguageDefaultsToJinja(t *testing.T) {
	e := SignalEmission{Signals: Signals{"done"}}
	assert.Equal(t, ConditionLanguageJinja, e.Language())

	e.ConditionLanguage = ConditionLanguageCEL
	assert.Equal(t, ConditionLanguageCEL, e.Language())
}
