package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunIDs_Sequential(t *testing.T) {
	gen := NewRunIDs("sys")

	assert.Equal(t, "sys-0001", gen.Generate())
	assert.Equal(t, "sys-0002", gen.Generate())
}

func TestRunIDs_EmptyPrefixDefault(t *testing.T) {
	gen := NewRunIDs("")
	assert.Equal(t, "run-0001", gen.Generate())
}
