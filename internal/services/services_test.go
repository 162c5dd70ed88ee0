package services

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/asktoai/internal/cdpcontrol"
)

func TestDefaultTableOrder(t *testing.T) {
	tbl := Default()
	assert.Equal(t, []string{
		"chatgpt", "claude", "deepseek", "copilot", "gemini",
		"grok", "meta", "mistral", "google", "perplexity",
	}, tbl.AllOrder())
}

func TestLookup(t *testing.T) {
	tbl := Default()

	s, err := tbl.Lookup("claude")
	require.NoError(t, err)
	assert.Equal(t, "https://claude.ai", s.URL)

	_, err = tbl.Lookup("claud")
	require.Error(t, err)
	var coded *cdpcontrol.CodedError
	require.True(t, errors.As(err, &coded))
	assert.Equal(t, cdpcontrol.CodeUnknownService, coded.Code)
	assert.Contains(t, coded.Message, "did you mean claude?")

	_, err = tbl.Lookup("zzzzzzzzzzzz")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "did you mean")

	_, err = tbl.Lookup(KeyAll)
	require.Error(t, err)
}

func TestValid(t *testing.T) {
	tbl := Default()
	assert.True(t, tbl.Valid("gemini"))
	assert.True(t, tbl.Valid(KeyAll))
	assert.False(t, tbl.Valid("bard"))
	assert.False(t, tbl.Valid(""))
}

func TestIsSlow(t *testing.T) {
	tbl := Default()
	tests := []struct {
		url  string
		want bool
	}{
		{"https://claude.ai/new", true},
		{"https://chat.openai.com/", true},
		{"https://github.com/features/copilot", true},
		{"https://github.com/golang/go", false},
		{"https://www.google.com/search?q=x", false},
		{"https://example.org", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tbl.IsSlow(tt.url), tt.url)
	}
}

func TestMatches(t *testing.T) {
	tbl := Default()
	tests := []struct {
		current string
		key     string
		want    bool
	}{
		{"https://chat.openai.com/c/123", "chatgpt", true},
		{"https://claude.ai/chat/abc", "claude", true},
		{"https://www.perplexity.ai/search", "perplexity", true},
		{"https://claude.ai/chat/abc", "gemini", false},
		{"chrome://newtab", "claude", false},
		{"anything at all", KeyGoogle, true},
		{"", "claude", false},
		{"https://claude.ai", "unknown", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tbl.Matches(tt.current, tt.key), "%s vs %s", tt.current, tt.key)
	}
}

func TestNewTableRejectsBadEntries(t *testing.T) {
	_, err := NewTable([]Service{{Key: "", URL: "https://a.example"}}, nil)
	assert.Error(t, err)

	_, err = NewTable([]Service{{Key: "a", URL: "not a url"}}, nil)
	assert.Error(t, err)

	_, err = NewTable([]Service{
		{Key: "a", URL: "https://a.example"},
		{Key: "a", URL: "https://b.example"},
	}, nil)
	assert.Error(t, err)

	_, err = NewTable([]Service{{Key: KeyAll, URL: "https://a.example"}}, nil)
	assert.Error(t, err)
}

func TestListIsCopy(t *testing.T) {
	tbl := Default()
	list := tbl.List()
	list[0].URL = "https://evil.example"
	s, err := tbl.Lookup(list[0].Key)
	require.NoError(t, err)
	assert.NotEqual(t, "https://evil.example", s.URL)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "services.yaml")
	body := `services:
  - key: chatgpt
    name: ChatGPT
    url: https://chatgpt.com
  - key: local
    url: http://127.0.0.1:3000
slow_hosts:
  - chatgpt.com
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	tbl, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"chatgpt", "local"}, tbl.AllOrder())
	assert.True(t, tbl.IsSlow("https://chatgpt.com/"))
	assert.False(t, tbl.IsSlow("https://claude.ai"))

	s, err := tbl.Lookup("local")
	require.NoError(t, err)
	assert.Equal(t, "local", s.Name)
}

func TestLoadFileDefaults(t *testing.T) {
	tbl, err := LoadFile("")
	require.NoError(t, err)
	assert.Len(t, tbl.List(), 10)

	tbl, err = Parse([]byte("slow_hosts: []\n"))
	require.NoError(t, err)
	assert.Len(t, tbl.List(), 10)
	assert.False(t, tbl.IsSlow("https://claude.ai"))

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
