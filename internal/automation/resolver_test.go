package automation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/consoledeploy/api/schemas"
	"github.com/xkilldash9x/consoledeploy/internal/testing/fakepage"
)

type panicStrategy struct{}

func (panicStrategy) Name() string { return "panics" }

func (panicStrategy) Find(context.Context, schemas.Page, string, string) (schemas.Element, error) {
	panic("boom")
}

type countingStrategy struct {
	calls *int
}

func (countingStrategy) Name() string { return "counting" }

func (s countingStrategy) Find(context.Context, schemas.Page, string, string) (schemas.Element, error) {
	*s.calls++
	return nil, nil
}

func TestResolver_Strategies(t *testing.T) {
	calls := 0
	r := NewResolver(fastTuning(), zap.NewNop(), countingStrategy{calls: &calls})
	assert.Equal(t, []string{"structural-query", "text-scan", "counting"}, r.Strategies())
}

func TestResolver_Resolve(t *testing.T) {
	ctx := context.Background()

	t.Run("structural query finds clickable button", func(t *testing.T) {
		p := fakepage.New("s")
		btn := fakepage.El("button", "更新公共样式")
		p.Append(fakepage.El("div", "toolbar", btn))

		r := NewResolver(fastTuning(), testLogger(t))
		el, ok := r.Resolve(ctx, p, "更新公共样式", "button")
		require.True(t, ok)
		require.NoError(t, el.ScriptClick(ctx))
		script, _ := p.Clicks(btn)
		assert.Equal(t, 1, script)
	})

	t.Run("text scan catches what the structural query rejects", func(t *testing.T) {
		p := fakepage.New("scan")
		btn := fakepage.El("button", "更新博客")
		btn.Disabled = true
		p.Append(btn)

		r := NewResolver(fastTuning(), testLogger(t))
		el, ok := r.Resolve(ctx, p, "更新博客", "")
		require.True(t, ok)
		text, err := el.Text(ctx)
		require.NoError(t, err)
		assert.Equal(t, "更新博客", text)
	})

	t.Run("hidden and missing labels are not found", func(t *testing.T) {
		p := fakepage.New("none")
		hidden := fakepage.El("button", "更新FAQ")
		hidden.Hidden = true
		p.Append(hidden, fakepage.El("a", "更新首页"))

		calls := 0
		r := NewResolver(fastTuning(), testLogger(t), countingStrategy{calls: &calls})
		for _, label := range []string{"更新FAQ", "更新首页", "does not exist"} {
			el, ok := r.Resolve(ctx, p, label, "button")
			assert.False(t, ok, label)
			assert.Nil(t, el, label)
		}
		assert.Equal(t, 3, calls, "extra strategies run after the built-in ones miss")
	})

	t.Run("panicking strategy is skipped", func(t *testing.T) {
		p := fakepage.New("panic")
		p.Append(fakepage.El("button", "Publish"))

		r := NewResolverWithStrategies(testLogger(t), panicStrategy{}, scanStrategy{})
		_, ok := r.Resolve(ctx, p, "Publish", "button")
		assert.True(t, ok)
	})

	t.Run("lookup errors are treated as misses", func(t *testing.T) {
		p := fakepage.New("err")
		p.Append(fakepage.El("button", "Publish"))
		p.FindErr = errors.New("target closed")

		r := NewResolver(fastTuning(), testLogger(t))
		_, ok := r.Resolve(ctx, p, "Publish", "button")
		assert.False(t, ok)
	})

	t.Run("cancellation stops the strategy chain", func(t *testing.T) {
		p := fakepage.New("cancel")
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		calls := 0
		r := NewResolver(fastTuning(), testLogger(t), countingStrategy{calls: &calls})
		start := time.Now()
		_, ok := r.Resolve(cctx, p, "Publish", "button")
		assert.False(t, ok)
		assert.Zero(t, calls)
		assert.Less(t, time.Since(start), 50*time.Millisecond)
	})
}

// panicElement panics on every method through its nil embedded interface.
type panicElement struct {
	schemas.Element
}

func TestClicker_Click(t *testing.T) {
	ctx := context.Background()
	c := NewClicker(testLogger(t))

	t.Run("script click", func(t *testing.T) {
		p := fakepage.New("c")
		btn := fakepage.El("button", "Go")
		p.Append(btn)
		el := findOne(t, p, "//button")

		assert.True(t, c.Click(ctx, el))
		script, native := p.Clicks(btn)
		assert.Equal(t, 1, script)
		assert.Zero(t, native)
	})

	t.Run("native fallback", func(t *testing.T) {
		p := fakepage.New("c")
		btn := fakepage.El("button", "Go")
		btn.ScriptClickErr = errors.New("not interactable")
		p.Append(btn)
		el := findOne(t, p, "//button")

		assert.True(t, c.Click(ctx, el))
		script, native := p.Clicks(btn)
		assert.Zero(t, script)
		assert.Equal(t, 1, native)
	})

	t.Run("both variants fail", func(t *testing.T) {
		p := fakepage.New("c")
		btn := fakepage.El("button", "Go")
		btn.ScriptClickErr = errors.New("script")
		btn.NativeClickErr = errors.New("native")
		clicked := false
		btn.OnClick = func() { clicked = true }
		p.Append(btn)

		assert.False(t, c.Click(ctx, findOne(t, p, "//button")))
		assert.False(t, clicked)
	})

	t.Run("nil and panicking elements", func(t *testing.T) {
		assert.False(t, c.Click(ctx, nil))
		assert.NotPanics(t, func() {
			assert.False(t, c.Click(ctx, panicElement{}))
		})
	})
}

func findOne(t *testing.T, p *fakepage.Page, selector string) schemas.Element {
	t.Helper()
	els, err := p.FindAll(context.Background(), schemas.KindOf(selector), selector)
	require.NoError(t, err)
	require.Len(t, els, 1)
	return els[0]
}
