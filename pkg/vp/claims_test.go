package vp_test

import (
	"testing"

	"github.com/capiscio/vp-verifier/pkg/vp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjector(t *testing.T) {
	claims := map[string]any{"given_name": "Mario", "family_name": "Rossi", "iss": "https://issuer.example.org"}

	t.Run("empty list is pass-through", func(t *testing.T) {
		assert.Equal(t, claims, vp.NewProjector(nil).Project(claims))
		assert.Equal(t, claims, vp.NewProjector([]string{}).Project(claims))
	})

	t.Run("intersection", func(t *testing.T) {
		got := vp.NewProjector([]string{"given_name"}).Project(claims)
		assert.Equal(t, map[string]any{"given_name": "Mario"}, got)
	})

	t.Run("unknown names dropped", func(t *testing.T) {
		got := vp.NewProjector([]string{"nickname"}).Project(claims)
		assert.Empty(t, got)
	})

	t.Run("input untouched", func(t *testing.T) {
		vp.NewProjector([]string{"given_name"}).Project(claims)
		assert.Len(t, claims, 3)
	})
}

func TestDefaultAcceptedClaims(t *testing.T) {
	a := vp.DefaultAcceptedClaims()
	require.Len(t, a, 5)
	a[0] = "changed"

	assert.Equal(t, "given_name", vp.DefaultAcceptedClaims()[0])
}

func TestMergeClaims_SkipsUnverified(t *testing.T) {
	merged := vp.MergeClaims(nil, &vp.Result{Claims: map[string]any{"given_name": "Eve"}})
	assert.Empty(t, merged)
}
