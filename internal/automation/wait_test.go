package automation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/consoledeploy/api/schemas"
	"github.com/xkilldash9x/consoledeploy/internal/testing/fakepage"
)

func TestXPathLiteral(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"更新公共样式", "'更新公共样式'"},
		{"", "''"},
		{"it's", `"it's"`},
		{`say "hi"`, `'say "hi"'`},
		{`it's "x"`, `concat('it', "'", 's "x"')`},
		{`'a'`, `"'a'"`},
		{`"'"`, `concat('"', "'", '"')`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, XPathLiteral(tt.in), "input %q", tt.in)
	}
}

func TestContainsXPath(t *testing.T) {
	assert.Equal(t, "//button[contains(., '更新')]", ContainsXPath("button", "更新"))
	assert.Equal(t, "//*[contains(., 'x')]", ContainsXPath("", "x"))
}

// Labels with both quote kinds must still resolve through the concat() form.
func TestContainsXPath_MixedQuotesResolve(t *testing.T) {
	label := `Publish "Bob's" page`
	p := fakepage.New("quotes")
	p.Append(fakepage.El("button", label))

	els, err := p.FindAll(context.Background(), schemas.ByXPath, ContainsXPath("button", label))
	require.NoError(t, err)
	assert.Len(t, els, 1)
}

func TestSleep(t *testing.T) {
	t.Run("elapses", func(t *testing.T) {
		start := time.Now()
		require.NoError(t, Sleep(context.Background(), 10*time.Millisecond))
		assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	})

	t.Run("non-positive reports context state", func(t *testing.T) {
		assert.NoError(t, Sleep(context.Background(), 0))
	})
}

func TestWaitForElement(t *testing.T) {
	logger := zap.NewNop()

	t.Run("element appears while polling", func(t *testing.T) {
		p := fakepage.New("late")
		timer := time.AfterFunc(20*time.Millisecond, func() {
			p.Append(fakepage.El("button", "Go").WithClass("go"))
		})
		defer timer.Stop()

		el, err := waitForElement(context.Background(), logger, p, ".go", time.Second, 5*time.Millisecond, visible)
		require.NoError(t, err)
		require.NotNil(t, el)
	})

	t.Run("timeout is not-found", func(t *testing.T) {
		p := fakepage.New("empty")
		start := time.Now()
		el, err := waitForElement(context.Background(), logger, p, ".go", 30*time.Millisecond, 5*time.Millisecond, visible)
		assert.Nil(t, el)
		assert.ErrorIs(t, err, schemas.ErrElementNotFound)
		assert.True(t, isNotFound(err))
		assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
	})

	t.Run("hidden element does not satisfy visible", func(t *testing.T) {
		p := fakepage.New("hidden")
		n := fakepage.El("button", "Go").WithClass("go")
		n.Hidden = true
		p.Append(n)

		_, err := waitForElement(context.Background(), logger, p, ".go", 20*time.Millisecond, 5*time.Millisecond, visible)
		assert.ErrorIs(t, err, schemas.ErrElementNotFound)

		el, err := waitForElement(context.Background(), logger, p, ".go", 20*time.Millisecond, 5*time.Millisecond, present)
		require.NoError(t, err)
		assert.NotNil(t, el)
	})

	t.Run("zero timeout probes once", func(t *testing.T) {
		p := fakepage.New("once")
		_, err := waitForElement(context.Background(), logger, p, ".go", 0, 0, present)
		assert.ErrorIs(t, err, schemas.ErrElementNotFound)
	})

	t.Run("parent cancellation wins over not-found", func(t *testing.T) {
		p := fakepage.New("cancel")
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := waitForElement(ctx, logger, p, ".go", time.Second, 5*time.Millisecond, present)
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, isNotFound(err))
	})
}

func TestFirstMatching_SkipsProbeErrors(t *testing.T) {
	p := fakepage.New("probe")
	broken := fakepage.El("button", "A").WithClass("b")
	broken.ProbeErr = assert.AnError
	good := fakepage.El("button", "B").WithClass("b")
	p.Append(broken, good)

	el, err := firstMatching(context.Background(), p, ".b", clickable)
	require.NoError(t, err)
	require.NotNil(t, el)
	text, _ := el.Text(context.Background())
	assert.Equal(t, "B", text)
}
