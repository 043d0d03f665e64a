package tracing

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStart_FormsTree(t *testing.T) {
	ctx, root := Start(context.Background(), "index.build")
	require.Len(t, root.TraceID(), 32)
	assert.Same(t, root, FromContext(ctx))

	childCtx, child := Start(ctx, "index.build.all")
	child.Set("docs", 3)
	child.Set("docs", 4)
	_, grandchild := Start(childCtx, "pack")
	grandchild.End()
	child.End()
	root.End()

	children := root.Children()
	require.Len(t, children, 1)
	assert.Equal(t, "index.build.all", children[0].Name())
	assert.Equal(t, root.TraceID(), children[0].TraceID())
	assert.Equal(t, root.TraceID(), grandchild.TraceID())

	v, ok := children[0].Attr("docs")
	require.True(t, ok)
	assert.Equal(t, 4, v)
	_, ok = children[0].Attr("bytes")
	assert.False(t, ok)
	assert.GreaterOrEqual(t, root.Duration(), child.Duration())
}

func TestSpan_EndIsIdempotentAndRecordsErrors(t *testing.T) {
	_, s := Start(context.Background(), "index.persist")
	s.Fail(nil)
	assert.NoError(t, s.Err())
	s.Fail(errors.New("disk full"))
	s.End()
	d := s.Duration()
	s.End()
	assert.Equal(t, d, s.Duration())
	assert.EqualError(t, s.Err(), "disk full")
}

func TestStart_ConcurrentChildren(t *testing.T) {
	ctx, root := Start(context.Background(), "index.build")
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, s := Start(ctx, "section")
			s.Set("docs", 1)
			s.End()
		}()
	}
	wg.Wait()
	root.End()
	assert.Len(t, root.Children(), 8)
}
