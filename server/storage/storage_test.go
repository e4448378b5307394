package storage

import (
	"errors"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func TestStorageFS(t *testing.T) {
	root := t.TempDir()
	fs, err := NewStorageFS(logs.NewTestingLog(t), root)
	require.NoError(t, err)

	require.NoError(t, WriteBytes(fs, "analyses/abc/mask.png", []byte("hello")))
	b, err := ReadFile(fs, "analyses/abc/mask.png")
	require.NoError(t, err)
	require.Equal(t, "hello", string(b))

	f, err := fs.ReadFile("analyses/abc/mask.png")
	require.NoError(t, err)
	require.Equal(t, int64(5), f.Size)
	f.Reader.Close()

	_, err = fs.ReadFile("../etc/passwd")
	require.Error(t, err)
	_, err = fs.WriteFile("")
	require.Error(t, err)

	_, err = fs.URL("analyses/abc/mask.png")
	require.ErrorIs(t, err, ErrNoPublicUrl)

	require.NoError(t, fs.DeleteFile("analyses/abc/mask.png"))
	_, err = ReadFile(fs, "analyses/abc/mask.png")
	require.True(t, errors.Is(err, ErrNotFound))
	require.ErrorIs(t, fs.DeleteFile("analyses/abc/mask.png"), ErrNotFound)
}

func TestReadFirst(t *testing.T) {
	fs, err := NewStorageFS(logs.NewTestingLog(t), t.TempDir())
	require.NoError(t, err)
	require.NoError(t, WriteBytes(fs, "scenes/demo/before.jpg", []byte("jpg")))

	b, name, err := ReadFirst(fs, []string{"scenes/demo/before.png", "scenes/demo/before.jpg"})
	require.NoError(t, err)
	require.Equal(t, "jpg", string(b))
	require.Equal(t, "scenes/demo/before.jpg", name)

	_, _, err = ReadFirst(fs, []string{"scenes/x/before.png"})
	require.Error(t, err)
}
