package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPGVector(t *testing.T) {
	tests := []struct {
		in   []float32
		want string
	}{
		{nil, "[]"},
		{[]float32{0.1, 0.2, 0.3}, "[0.1,0.2,0.3]"},
		{[]float32{-1, 0, 1.5}, "[-1,0,1.5]"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, pgVector(tt.in))
	}
}
