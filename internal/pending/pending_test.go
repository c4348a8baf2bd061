package pending

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	id   string
	body string
}

func itemID(i item) string { return i.id }

func TestNewTempID(t *testing.T) {
	a, b := NewTempID(), NewTempID()
	assert.True(t, IsTemp(a))
	assert.NotEqual(t, a, b)
	assert.False(t, IsTemp("msg_1"))
}

func TestTrackerLifecycle(t *testing.T) {
	tr := NewTracker[item]()

	id := tr.Begin(item{body: "hello"})
	assert.True(t, IsTemp(id))
	assert.True(t, tr.Pending(id))
	assert.Equal(t, 1, tr.Len())

	got, ok := tr.Finish(id)
	require.True(t, ok)
	assert.Equal(t, "hello", got.body)
	assert.False(t, tr.Pending(id))

	_, ok = tr.Finish(id)
	assert.False(t, ok)
	assert.Zero(t, tr.Len())
}

func TestReplaceKeepsPosition(t *testing.T) {
	items := []item{{"a", "1"}, {"temp-x", "2"}, {"c", "3"}}

	out, ok := Replace(items, "temp-x", itemID, item{"b", "2!"})
	require.True(t, ok)
	assert.Equal(t, []item{{"a", "1"}, {"b", "2!"}, {"c", "3"}}, out)
	assert.Equal(t, "temp-x", items[1].id, "input is not mutated")

	same, ok := Replace(items, "missing", itemID, item{})
	assert.False(t, ok)
	assert.Equal(t, items, same)
}

func TestRemove(t *testing.T) {
	items := []item{{"a", "1"}, {"b", "2"}, {"c", "3"}}

	out, ok := Remove(items, "b", itemID)
	require.True(t, ok)
	assert.Equal(t, []item{{"a", "1"}, {"c", "3"}}, out)
	assert.Len(t, items, 3)

	_, ok = Remove(out, "b", itemID)
	assert.False(t, ok)
	assert.Equal(t, -1, IndexOf(out, "b", itemID))
}
