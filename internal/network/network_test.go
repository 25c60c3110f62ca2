package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrustList(t *testing.T) {
	tl, err := NewTrustList([]string{"10.0.0.0/8", "192.168.1.7", "2001:db8::/32"})
	require.NoError(t, err)

	tests := []struct {
		ip   string
		want bool
	}{
		{"10.20.30.40", true},
		{"::ffff:10.1.1.1", true},
		{"192.168.1.7", true},
		{"192.168.1.8", false},
		{"2001:db8::1", true},
		{"8.8.8.8", false},
		{"not-an-ip", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tl.Trusted(tt.ip), tt.ip)
	}
}

func TestTrustListInvalid(t *testing.T) {
	_, err := NewTrustList([]string{"10.0.0.0/33"})
	assert.Error(t, err)
}

func TestNilTrustList(t *testing.T) {
	var tl *TrustList
	assert.False(t, tl.Trusted("10.0.0.1"))
}
