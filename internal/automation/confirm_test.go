package automation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/consoledeploy/internal/testing/fakepage"
)

func newConfirm(t *testing.T, tuning Tuning) *ConfirmationResolver {
	return NewConfirmationResolver(DefaultProfile(), tuning, NewClicker(testLogger(t)), testLogger(t))
}

func TestConfirm_DialogButton(t *testing.T) {
	p := fakepage.New("dialog")
	cancelBtn := fakepage.El("button", "Cancel")
	sure := fakepage.El("button", " Sure ")
	p.Append(fakepage.El("div", "确认更新吗?", cancelBtn, sure).WithClass("el-message-box"))

	require.True(t, newConfirm(t, fastTuning()).Resolve(context.Background(), p))

	script, _ := p.Clicks(sure)
	assert.Equal(t, 1, script)
	script, _ = p.Clicks(cancelBtn)
	assert.Zero(t, script)
}

func TestConfirm_RoleDialog(t *testing.T) {
	p := fakepage.New("role")
	yes := fakepage.El("button", "YES")
	p.Append(fakepage.El("section", "Please confirm", yes).WithAttr("role", "dialog"))

	require.True(t, newConfirm(t, fastTuning()).Resolve(context.Background(), p))
	script, _ := p.Clicks(yes)
	assert.Equal(t, 1, script)
}

func TestConfirm_FallbackSelector(t *testing.T) {
	p := fakepage.New("fallback")
	primary := fakepage.El("button", "Apply").WithClass("el-button", "el-button--primary")
	p.Append(primary)

	require.True(t, newConfirm(t, fastTuning()).Resolve(context.Background(), p))
	script, _ := p.Clicks(primary)
	assert.Equal(t, 1, script)
}

func TestConfirm_FallbackSkipsUnclickable(t *testing.T) {
	p := fakepage.New("fallback")
	disabled := fakepage.El("button", "Sure")
	disabled.Disabled = true
	primary := fakepage.El("button", "Apply").WithClass("btn-primary")
	p.Append(disabled, primary)

	require.True(t, newConfirm(t, fastTuning()).Resolve(context.Background(), p))
	script, _ := p.Clicks(disabled)
	assert.Zero(t, script)
	script, _ = p.Clicks(primary)
	assert.Equal(t, 1, script)
}

func TestConfirm_IgnoresDialogsWithoutConfirmWording(t *testing.T) {
	p := fakepage.New("notice")
	ok := fakepage.El("button", "ok")
	p.Append(fakepage.El("div", "Notice", ok).WithClass("el-dialog"))

	assert.False(t, newConfirm(t, fastTuning()).Resolve(context.Background(), p))
	script, _ := p.Clicks(ok)
	assert.Zero(t, script)
}

func TestConfirm_HiddenDialogExhaustsAttempts(t *testing.T) {
	p := fakepage.New("hidden")
	sure := fakepage.El("button", "Sure")
	dialog := fakepage.El("div", "确认", sure).WithClass("el-message-box")
	dialog.Hidden = true
	p.Append(dialog)

	tuning := fastTuning()
	tuning.ConfirmBackoff = 10 * time.Millisecond

	start := time.Now()
	assert.False(t, newConfirm(t, tuning).Resolve(context.Background(), p))
	// Three attempts means two backoffs.
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	script, native := p.Clicks(sure)
	assert.Zero(t, script+native)
}

func TestConfirm_DialogAppearsOnLaterAttempt(t *testing.T) {
	p := fakepage.New("late")
	sure := fakepage.El("button", "Sure")
	dialog := fakepage.El("div", "确认更新", sure).WithClass("el-message-box")
	dialog.Hidden = true
	p.Append(dialog)

	timer := time.AfterFunc(5*time.Millisecond, func() { p.SetHidden(dialog, false) })
	defer timer.Stop()

	tuning := fastTuning()
	tuning.ConfirmBackoff = 30 * time.Millisecond
	require.True(t, newConfirm(t, tuning).Resolve(context.Background(), p))
	script, _ := p.Clicks(sure)
	assert.Equal(t, 1, script)
}

func TestConfirm_Cancelled(t *testing.T) {
	p := fakepage.New("cancel")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, newConfirm(t, fastTuning()).Resolve(ctx, p))
}

func TestContainsAny(t *testing.T) {
	assert.True(t, containsAny("确认更新吗?", []string{"确认"}))
	assert.False(t, containsAny("anything", []string{""}))
	assert.False(t, containsAny("abc", nil))
}
