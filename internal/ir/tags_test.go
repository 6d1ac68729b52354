package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTags_GetReturnsFirstMatch(t *testing.T) {
	tags := T("Action", "Add", "Plus", "3", "Action", "Get")

	v, ok := tags.Get("Action")
	require.True(t, ok)
	assert.Equal(t, "Add", v)
	assert.Equal(t, []string{"Add", "Get"}, tags.Values("Action"))

	_, ok = tags.Get("Missing")
	assert.False(t, ok)
	assert.Equal(t, "", tags.Value("Missing"))
}

func TestTags_T_IgnoresDanglingName(t *testing.T) {
	tags := T("A", "1", "B")
	assert.Len(t, tags, 1)
}

func TestTags_HasAndContains(t *testing.T) {
	tags := T("Type", "Message", "Attestor", "x", "Attestor", "y")
	assert.True(t, tags.Has("Attestor", "y"))
	assert.False(t, tags.Has("Attestor", "z"))
	assert.True(t, tags.Contains("Type"))
	assert.False(t, tags.Contains("type"))
}

func TestTags_WithDefaults(t *testing.T) {
	defaults := T("Data-Protocol", "ao", "Type", "Process", "SDK", "aosim")
	caller := T("App", "x", "Type", "Custom", "Type", "Second")

	merged := caller.WithDefaults(defaults)

	assert.Equal(t, T(
		"Data-Protocol", "ao",
		"Type", "Custom",
		"Type", "Second",
		"SDK", "aosim",
		"App", "x",
	), merged)
	// inputs untouched
	assert.Len(t, caller, 3)
	assert.Len(t, defaults, 3)
}

func TestTags_AppendDoesNotAlias(t *testing.T) {
	base := make(Tags, 1, 4)
	base[0] = Tag{Name: "a", Value: "1"}

	x := base.Append("b", "2")
	y := base.Append("c", "3")

	assert.Equal(t, "2", x.Value("b"))
	assert.Equal(t, "3", y.Value("c"))
	assert.False(t, x.Contains("c"))
}

func TestTags_Without(t *testing.T) {
	tags := T("a", "1", "b", "2", "a", "3", "c", "4")

	assert.Equal(t, T("b", "2", "c", "4"), tags.Without("a"))
	assert.Equal(t, T("b", "2"), tags.Without("a", "c"))
	assert.Equal(t, tags, tags.Without("z"))
	assert.Equal(t, "1", tags.Value("a"), "receiver is unchanged")
	assert.Empty(t, Tags(nil).Without("a"))
}

func TestTags_JSONShape(t *testing.T) {
	data, err := json.Marshal(T("Name", "Value"))
	require.NoError(t, err)
	assert.JSONEq(t, `[{"name":"Name","value":"Value"}]`, string(data))
}

func TestTags_Map(t *testing.T) {
	m := T("k", "first", "k", "second", "j", "1").Map()
	assert.Equal(t, map[string]string{"k": "first", "j": "1"}, m)
}
