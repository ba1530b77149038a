package storagesvc

import (
	"context"
	"io/ioutil"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/lingua/core"
)

func newTestStorage(t *testing.T) *LocalStorage {
	t.Helper()
	conf := core.NewTestConfig()
	conf.Storage.MediaDir = t.TempDir()
	conf.Storage.MediaURL = "http://localhost:8000/media/"
	return NewLocalStorage(conf)
}

func TestLocalStorage_PutDelete(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	key := "materials/B1/abc.pdf"

	require.NoError(t, s.Put(ctx, key, "application/pdf", strings.NewReader("%PDF-1.4")))
	p, err := s.Path(key)
	require.NoError(t, err)
	data, err := ioutil.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(data))

	require.NoError(t, s.Delete(ctx, key))
	_, err = os.Stat(p)
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, s.Delete(ctx, key), "deleting a missing file is not an error")
}

func TestLocalStorage_Path(t *testing.T) {
	s := newTestStorage(t)

	tests := []struct {
		key     string
		wantErr bool
	}{
		{key: "materials/A1/x.pdf"},
		{key: "", wantErr: true},
		{key: "../etc/passwd", wantErr: true},
		{key: "materials/../../x", wantErr: true},
		{key: "materials//x", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			p, err := s.Path(tt.key)
			if tt.wantErr {
				assert.Equal(t, ErrInvalidKey, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(s.root, "materials", "A1", "x.pdf"), p)
		})
	}
}

func TestLocalStorage_SignedURL(t *testing.T) {
	s := newTestStorage(t)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	origNow := nowFunc
	nowFunc = func() time.Time { return now }
	defer func() { nowFunc = origNow }()

	raw, err := s.SignedURL(context.Background(), "materials/B2/a.mp3", 15*time.Minute)
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/media/materials/B2/a.mp3", u.Path)

	expires, sig := u.Query().Get("expires"), u.Query().Get("signature")
	assert.NoError(t, s.Verify("materials/B2/a.mp3", expires, sig))
	assert.Equal(t, ErrInvalidSignature, s.Verify("materials/B2/b.mp3", expires, sig))
	assert.Equal(t, ErrInvalidSignature, s.Verify("materials/B2/a.mp3", "1", sig))
	assert.Equal(t, ErrInvalidSignature, s.Verify("materials/B2/a.mp3", "x", sig))

	now = now.Add(15 * time.Minute)
	assert.Equal(t, ErrURLExpired, s.Verify("materials/B2/a.mp3", expires, sig))
}
