package anthropicdrv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yamakatsunamamugi/autoai/internal/driver"
	"github.com/yamakatsunamamugi/autoai/internal/model"
)

func newTestDriver() *Driver {
	return New(Config{
		APIKey: "test-key",
		Models: map[string]string{
			"opus":   "claude-opus-4-6",
			"sonnet": "claude-sonnet-4-5-20250929",
		},
		Functions: map[string]string{
			"research": "You are a thorough researcher.",
		},
	})
}

func bindSession(t *testing.T) *Session {
	t.Helper()
	sess, err := Binder{}.Bind(context.Background(), model.BackendClaude, 0)
	require.NoError(t, err)
	return sess.(*Session)
}

func TestBinder_RejectsForeignBackend(t *testing.T) {
	_, err := Binder{}.Bind(context.Background(), model.BackendGemini, 0)
	assert.Error(t, err)
}

func TestBinder_UnbindAlwaysSafe(t *testing.T) {
	sess := bindSession(t)
	require.NoError(t, Binder{}.Unbind(context.Background(), sess))
	require.NoError(t, Binder{}.Unbind(context.Background(), sess))
}

func TestPrepareInput(t *testing.T) {
	d := newTestDriver()
	sess := bindSession(t)

	res := d.PrepareInput(context.Background(), sess, "summarize this")
	require.True(t, res.OK)
	assert.Equal(t, "summarize this", sess.prompt)

	res = d.PrepareInput(context.Background(), sess, "   ")
	assert.False(t, res.OK)
}

func TestSelectParam_Model(t *testing.T) {
	d := newTestDriver()
	sess := bindSession(t)

	res := d.SelectParam(context.Background(), sess, driver.ParamModel, "opus")
	require.True(t, res.OK)
	assert.Equal(t, "claude-opus-4-6", res.Displayed)
	assert.Equal(t, "claude-opus-4-6", sess.modelID)

	res = d.SelectParam(context.Background(), sess, driver.ParamModel, "nano")
	assert.False(t, res.OK)
	assert.Error(t, res.Err)
}

func TestSelectParam_Function(t *testing.T) {
	d := newTestDriver()
	sess := bindSession(t)

	res := d.SelectParam(context.Background(), sess, driver.ParamFunction, "research")
	require.True(t, res.OK)
	assert.Equal(t, "research", res.Displayed)
	assert.Equal(t, "You are a thorough researcher.", sess.system)

	res = d.SelectParam(context.Background(), sess, driver.ParamFunction, "paint")
	assert.False(t, res.OK)
}

func TestSubmitAndCollect_RequiresSetup(t *testing.T) {
	d := newTestDriver()
	sess := bindSession(t)

	res := d.SubmitAndCollect(context.Background(), sess)
	assert.False(t, res.OK, "submit without prepared prompt must fail")

	require.True(t, d.PrepareInput(context.Background(), sess, "hi").OK)
	res = d.SubmitAndCollect(context.Background(), sess)
	assert.False(t, res.OK, "submit without selected model must fail")
}

func TestPhases_RejectForeignSession(t *testing.T) {
	d := newTestDriver()

	res := d.PrepareInput(context.Background(), foreignSession{}, "x")
	assert.Error(t, res.Err)
	res = d.SelectParam(context.Background(), foreignSession{}, driver.ParamModel, "opus")
	assert.Error(t, res.Err)
}

type foreignSession struct{}

func (foreignSession) ID() string             { return "foreign" }
func (foreignSession) Backend() model.Backend { return model.BackendClaude }
