package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIPAllowlist_Contains(t *testing.T) {
	a := NewIPAllowlist([]string{"3.18.12.63", " 13.235.14.237 "})

	assert.True(t, a.Contains("3.18.12.63"))
	assert.True(t, a.Contains("13.235.14.237"))
	assert.True(t, a.Contains("3.18.12.63:54321"), "port should be stripped")
	assert.False(t, a.Contains("8.8.8.8"))
	assert.False(t, a.Contains("not-an-ip"))
}

func TestIPAllowlist_EmptyAllowsAll(t *testing.T) {
	a := NewIPAllowlist(nil)
	assert.True(t, a.Empty())
	assert.True(t, a.Contains("8.8.8.8"))
}

func TestIPAllowlist_DropsInvalidEntries(t *testing.T) {
	a := NewIPAllowlist([]string{"garbage", "1.2.3.4"})
	assert.True(t, a.Contains("1.2.3.4"))
	assert.False(t, a.Contains("garbage"))
}

func TestValidateRedirectURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"valid https", "https://stubmarket.example.com/onboarding/return", false},
		{"bad scheme", "ftp://example.com", true},
		{"no host", "https://", true},
		{"localhost", "http://localhost:8080/cb", true},
		{"loopback literal", "http://127.0.0.1/cb", true},
		{"private literal", "http://10.0.0.5/cb", true},
		{"link local", "http://169.254.169.254/latest/meta-data", true},
		{"metadata host", "http://metadata.google.internal/x", true},
		{"unparseable", "http://%zz", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRedirectURL(tt.url)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
