package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parley/provider"
	"parley/storage"
)

func TestMatchChatPrefix(t *testing.T) {
	chats := []storage.ChatSummary{
		{Chat: storage.Chat{ID: "abc123"}},
		{Chat: storage.Chat{ID: "abd456"}},
	}

	id, err := matchChatPrefix(chats, "abc")
	require.NoError(t, err)
	assert.Equal(t, "abc123", id)

	_, err = matchChatPrefix(chats, "ab")
	assert.ErrorContains(t, err, "ambiguous")

	_, err = matchChatPrefix(chats, "zz")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSelectConfigs(t *testing.T) {
	cfgs := []provider.Config{{ID: "openai"}, {ID: "ollama"}, {ID: "gemini"}}

	assert.Equal(t, cfgs, selectConfigs(cfgs, nil))

	got := selectConfigs(cfgs, []string{"gemini", "openai"})
	require.Len(t, got, 2)
	assert.Equal(t, "openai", got[0].ID)
	assert.Equal(t, "gemini", got[1].ID)

	assert.Empty(t, selectConfigs(cfgs, []string{"missing"}))
}

func TestCompletionFlags(t *testing.T) {
	parse := func(args ...string) *completionFlags {
		var cf completionFlags
		fs := flag.NewFlagSet("test", flag.ContinueOnError)
		cf.register(fs)
		require.NoError(t, fs.Parse(args))
		return &cf
	}

	assert.Nil(t, parse().options(), "no flags leaves provider defaults")

	opts := parse("-temperature", "0", "-max-tokens", "256").options()
	require.NotNil(t, opts)
	require.NotNil(t, opts.Temperature)
	assert.Equal(t, 0.0, *opts.Temperature)
	require.NotNil(t, opts.MaxTokens)
	assert.Equal(t, int64(256), *opts.MaxTokens)
	assert.Nil(t, opts.TopP)
}

func TestMessageTextJoinsArgs(t *testing.T) {
	got, err := messageText([]string{"hello", "there"})
	require.NoError(t, err)
	assert.Equal(t, "hello there", got)
}

func TestLoadImages(t *testing.T) {
	dir := t.TempDir()
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	pngPath := filepath.Join(dir, "pixel.png")
	require.NoError(t, os.WriteFile(pngPath, png, 0600))

	got, err := loadImages([]string{pngPath})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "image/png", got[0].MimeType)
	assert.Equal(t, base64.StdEncoding.EncodeToString(png), got[0].Data)

	txtPath := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(txtPath, []byte("plain text"), 0600))
	_, err = loadImages([]string{txtPath})
	assert.ErrorContains(t, err, "is not an image")
}

func TestRunUsageAndUnknownCommand(t *testing.T) {
	var out, errw bytes.Buffer

	require.NoError(t, run(context.Background(), nil, &out, &errw))
	assert.Contains(t, out.String(), "send")
	assert.Contains(t, out.String(), "search")

	out.Reset()
	require.NoError(t, run(context.Background(), []string{"version"}, &out, &errw))
	assert.Contains(t, out.String(), Version)

	err := run(context.Background(), []string{"frobnicate"}, &out, &errw)
	assert.ErrorContains(t, err, `unknown command "frobnicate"`)
}
