package nodestate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flwr-go/flower-node/client/nodestate"
)

func TestRegisterIsIdempotent(t *testing.T) {
	s := nodestate.New(func() any { return new(int) })
	s.RegisterContext(1)
	first := s.RetrieveContext(1)
	s.RegisterContext(1) // idempotent
	assert.Same(t, first, s.RetrieveContext(1))
}

func TestUpdateThenRetrieveSameReference(t *testing.T) {
	type ctx struct{ Round int }
	s := nodestate.New(func() any { return &ctx{} })
	s.RegisterContext(5)

	updated := &ctx{Round: 3}
	s.UpdateContext(5, updated)
	assert.Same(t, updated, s.RetrieveContext(5))
}

func TestNoCrossRunSharing(t *testing.T) {
	s := nodestate.New(func() any { return new(int) })
	s.RegisterContext(1)
	s.RegisterContext(2)
	assert.NotSame(t, s.RetrieveContext(1), s.RetrieveContext(2))
}

func TestRetrieveBeforeRegisterPanics(t *testing.T) {
	s := nodestate.New(nil)
	require.Panics(t, func() { s.RetrieveContext(9) })
}
