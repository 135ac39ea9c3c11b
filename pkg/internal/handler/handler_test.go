package handler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/tenant-jobs/pkg/core"
)

type testArgs struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

func jsonDecoder(t *testing.T, v any) DecodeFunc {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return func(out any) error { return json.Unmarshal(data, out) }
}

func TestNew_RejectsNil(t *testing.T) {
	_, err := New[testArgs]("task", 0, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil")
}

func TestNew_RejectsNegativeTimeout(t *testing.T) {
	_, err := New("task", -time.Second, func(context.Context, testArgs) (core.ResultRef, error) { return "", nil })
	require.Error(t, err)
}

func TestExecute_DecodesTypedArgs(t *testing.T) {
	var got testArgs
	h, err := New("task", 0, func(_ context.Context, args testArgs) (core.ResultRef, error) {
		got = args
		return "blob://result/1", nil
	})
	require.NoError(t, err)

	ref, err := h.Execute(context.Background(), jsonDecoder(t, testArgs{Name: "n", Value: 7}))
	require.NoError(t, err)
	assert.Equal(t, core.ResultRef("blob://result/1"), ref)
	assert.Equal(t, testArgs{Name: "n", Value: 7}, got)
}

func TestExecute_DecodeFailureIsPermanent(t *testing.T) {
	called := false
	h, err := New("task", 0, func(context.Context, testArgs) (core.ResultRef, error) {
		called = true
		return "", nil
	})
	require.NoError(t, err)

	_, err = h.Execute(context.Background(), func(any) error { return core.ErrCodecNotFound })
	require.Error(t, err)
	assert.True(t, core.IsPermanent(err))
	assert.ErrorIs(t, err, core.ErrCodecNotFound)
	assert.False(t, called)
}

func TestExecute_PropagatesHandlerError(t *testing.T) {
	boom := errors.New("boom")
	h, err := New("task", 0, func(context.Context, testArgs) (core.ResultRef, error) {
		return "", boom
	})
	require.NoError(t, err)

	_, err = h.Execute(context.Background(), jsonDecoder(t, testArgs{}))
	assert.ErrorIs(t, err, boom)
}

func TestExecute_RecoversPanic(t *testing.T) {
	h, err := New("task", 0, func(context.Context, testArgs) (core.ResultRef, error) {
		panic("kaboom")
	})
	require.NoError(t, err)

	_, err = h.Execute(context.Background(), jsonDecoder(t, testArgs{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic: kaboom")
	assert.False(t, core.IsPermanent(err))
}

func TestExecute_TimeoutBoundsContext(t *testing.T) {
	h, err := New("slow", 20*time.Millisecond, func(ctx context.Context, _ testArgs) (core.ResultRef, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	require.NoError(t, err)

	start := time.Now()
	_, err = h.Execute(context.Background(), jsonDecoder(t, testArgs{}))
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Contains(t, err.Error(), "timed out")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExecute_NilHandler(t *testing.T) {
	var h *Handler
	_, err := h.Execute(context.Background(), nil)
	assert.ErrorIs(t, err, core.ErrInternal)
}
