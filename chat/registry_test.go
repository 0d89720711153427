package chat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry()
	_, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, r.Register(Registration{StreamID: "s1", ChatID: "c1", ModelID: "m"}, cancel))
	assert.ErrorIs(t, r.Register(Registration{StreamID: "s1", ChatID: "c2"}, cancel), ErrDuplicateStream)
	assert.ErrorIs(t, r.Register(Registration{StreamID: "s2", ChatID: "c1"}, cancel), ErrChatBusy)
	assert.Equal(t, 1, r.Len())

	reg, ok := r.Get("s1")
	require.True(t, ok)
	assert.Equal(t, "c1", reg.ChatID)
	assert.Equal(t, "m", reg.ModelID)
	assert.False(t, reg.StartedAt.IsZero())

	id, ok := r.StreamForChat("c1")
	require.True(t, ok)
	assert.Equal(t, "s1", id)

	r.Remove("s1")
	r.Remove("s1")
	assert.Equal(t, 0, r.Len())
	_, ok = r.StreamForChat("c1")
	assert.False(t, ok)

	require.NoError(t, r.Register(Registration{StreamID: "s2", ChatID: "c1"}, cancel), "chat is free again")
}

func TestRegistryCancel(t *testing.T) {
	r := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, r.Register(Registration{StreamID: "s1", ChatID: "c1"}, cancel))

	assert.False(t, r.Cancel("unknown"))
	assert.True(t, r.Cancel("s1"))
	assert.ErrorIs(t, ctx.Err(), context.Canceled)

	_, ok := r.Get("s1")
	assert.True(t, ok, "entry stays until its owner removes it")
}

func TestRegistryCancelAll(t *testing.T) {
	r := NewRegistry()
	ctx1, cancel1 := context.WithCancel(context.Background())
	ctx2, cancel2 := context.WithCancel(context.Background())
	require.NoError(t, r.Register(Registration{StreamID: "s1", ChatID: "c1"}, cancel1))
	require.NoError(t, r.Register(Registration{StreamID: "s2", ChatID: "c2"}, cancel2))

	assert.Len(t, r.List(), 2)
	r.CancelAll()
	assert.Error(t, ctx1.Err())
	assert.Error(t, ctx2.Err())
}
