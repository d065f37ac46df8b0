package server

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateSecret(t *testing.T) {
	secret := GenerateSecret(32)
	assert.Len(t, secret, 32)
	for _, c := range secret {
		assert.True(t, strings.ContainsRune(secretAlphabet, c), "char %q", c)
	}
	assert.NotEqual(t, secret, GenerateSecret(32))
}

func TestBuildConnectURL(t *testing.T) {
	assert.Equal(t, "http://203.0.113.7:8080", BuildConnectURL("203.0.113.7", 8080))
	assert.Equal(t, "https://code.example.com", BuildConnectURL("code.example.com", 8080))

	// No override falls back to a detected local address.
	url := BuildConnectURL("", 8080)
	assert.True(t, strings.HasPrefix(url, "http://"), url)
	assert.True(t, strings.HasSuffix(url, ":8080"), url)
}

func TestDeepLink(t *testing.T) {
	link := DeepLink("http://192.168.1.5:8080", "s3cret&more")
	assert.Equal(t, "nomadflowcode://add-server?url=http%3A%2F%2F192.168.1.5%3A8080&secret=s3cret%26more", link)

	link = DeepLink("https://code.example.com", "")
	assert.Equal(t, "nomadflowcode://add-server?url=https%3A%2F%2Fcode.example.com", link)
	assert.NotContains(t, link, "secret=")
}
