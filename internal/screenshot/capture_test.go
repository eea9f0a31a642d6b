package screenshot

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/siteforge/internal/objstore"
)

type rejectAll struct{ calls int }

func (r *rejectAll) Validate(_ context.Context, _ string) (*url.URL, error) {
	r.calls++
	return nil, errors.New("reserved address")
}

func TestCapture_RejectedTargetNeverStartsBrowser(t *testing.T) {
	validator := &rejectAll{}
	store := objstore.NewMemory()
	c := New(validator, store, 0)

	refs, err := c.Capture(context.Background(), "audit-1", "http://169.254.169.254/")
	require.Error(t, err)
	assert.Nil(t, refs)
	assert.Contains(t, err.Error(), "screenshot target rejected")
	assert.Equal(t, 1, validator.calls)
	assert.Empty(t, store.Keys())
}

func TestNew_Defaults(t *testing.T) {
	c := New(&rejectAll{}, objstore.NewMemory(), 0)
	assert.Equal(t, DefaultTimeout, c.timeout)
	require.Len(t, c.viewports, 2)
	assert.True(t, c.viewports[1].Mobile)
}
