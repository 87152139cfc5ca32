package mqttclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultCompletesOnce(t *testing.T) {
	r := newResult(OpSubscribe, true)
	assert.True(t, r.Async())
	assert.False(t, r.IsDone())

	var calls []string
	r.onComplete(func(*Result) { calls = append(calls, "first") })

	assert.True(t, r.complete(func(r *Result) {
		r.reasonCodes = []ReasonCode{ReasonGrantedQoS1}
		r.reasonString = "ok"
	}))
	assert.False(t, r.fail(errors.New("late")))

	assert.True(t, r.IsDone())
	require.NoError(t, r.Err())
	assert.Equal(t, []ReasonCode{ReasonGrantedQoS1}, r.ReasonCodes())
	assert.Equal(t, "ok", r.ReasonString())

	r.onComplete(func(*Result) { calls = append(calls, "after") })
	assert.Equal(t, []string{"first", "after"}, calls)
}

func TestResultWait(t *testing.T) {
	r := newResult(OpPublish, false)
	assert.ErrorIs(t, r.Wait(10*time.Millisecond), ErrTimeout)
	assert.False(t, r.IsDone(), "wait timeout leaves the result pending")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, r.WaitContext(ctx), context.Canceled)

	go r.fail(ErrDisconnected)
	assert.ErrorIs(t, r.Wait(0), ErrDisconnected)
	assert.ErrorIs(t, r.WaitContext(context.Background()), ErrDisconnected)
}

func TestResultFailed(t *testing.T) {
	r := newResult(OpPublish, false)
	r.fail(ErrNotConnected)
	assert.True(t, r.IsDone())
	assert.ErrorIs(t, r.Err(), ErrNotConnected)
	assert.Equal(t, OpPublish, r.Kind())
	assert.Contains(t, r.String(), "publish")
}

func TestResultAckProperties(t *testing.T) {
	r := newResult(OpPublish, false)

	var props Properties
	props.Add(PropReasonString, "quota")
	props.Add(PropUserProperty, StringPair{Key: "k", Value: "v"})
	require.NoError(t, props.Visit(r))
	assert.Equal(t, "quota", r.ReasonString())
	assert.Equal(t, []StringPair{{Key: "k", Value: "v"}}, r.UserProperties())

	var bad Properties
	bad.Add(PropContentType, "x")
	assert.ErrorIs(t, bad.Visit(r), ErrPropertyNotAllowed)
}

func TestOpKindString(t *testing.T) {
	assert.Equal(t, "connect", OpConnect.String())
	assert.Equal(t, "auth", OpAuth.String())
	assert.Equal(t, "op(42)", OpKind(42).String())
}
