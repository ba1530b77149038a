package storagesvc

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/lingua/core"
	"github.com/trezcool/lingua/core/material"
)

var (
	nowFunc = time.Now // mockable

	// errors
	ErrInvalidKey       = errors.New("invalid object key")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrURLExpired       = errors.New("url expired")
)

// LocalStorage keeps objects under the media directory and signs download URLs with the app secret.
// The API serves them back under the media URL after Verify.
type LocalStorage struct {
	root      string
	mediaURL  string
	secretKey []byte
}

var _ material.FileStorage = (*LocalStorage)(nil)

func NewLocalStorage(conf *core.Config) *LocalStorage {
	root := conf.Storage.MediaDir
	if root == "" {
		root = "media"
	}
	if !filepath.IsAbs(root) && conf.WorkDir != "" {
		root = filepath.Join(conf.WorkDir, root)
	}
	return &LocalStorage{
		root:      root,
		mediaURL:  strings.TrimRight(conf.Storage.MediaURL, "/"),
		secretKey: []byte(conf.SecretKey),
	}
}

// Path returns the file path of a key, refusing keys that escape the media directory.
func (s *LocalStorage) Path(key string) (string, error) {
	clean := path.Clean("/" + key)
	if key == "" || clean == "/" || clean[1:] != strings.TrimPrefix(key, "/") {
		return "", ErrInvalidKey
	}
	return filepath.Join(s.root, filepath.FromSlash(clean[1:])), nil
}

func (s *LocalStorage) Put(_ context.Context, key, _ string, body io.Reader) error {
	p, err := s.Path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return errors.Wrap(err, "creating media dir")
	}

	f, err := os.Create(p)
	if err != nil {
		return errors.Wrapf(err, "creating %s", key)
	}
	if _, err := io.Copy(f, body); err != nil {
		_ = f.Close()
		_ = os.Remove(p)
		return errors.Wrapf(err, "writing %s", key)
	}
	return errors.Wrapf(f.Close(), "closing %s", key)
}

func (s *LocalStorage) sign(key string, expires int64) string {
	mac := hmac.New(sha256.New, s.secretKey)
	_, _ = mac.Write([]byte(key + ":" + strconv.FormatInt(expires, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *LocalStorage) SignedURL(_ context.Context, key string, expiry time.Duration) (string, error) {
	if _, err := s.Path(key); err != nil {
		return "", err
	}
	expires := nowFunc().Add(expiry).Unix()
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("signature", s.sign(key, expires))
	return s.mediaURL + "/" + key + "?" + q.Encode(), nil
}

// Verify checks the query of a URL made by SignedURL.
func (s *LocalStorage) Verify(key, expires, signature string) error {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	if !hmac.Equal([]byte(signature), []byte(s.sign(key, exp))) {
		return ErrInvalidSignature
	}
	if nowFunc().Unix() >= exp {
		return ErrURLExpired
	}
	return nil
}

func (s *LocalStorage) Delete(_ context.Context, key string) error {
	p, err := s.Path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "removing %s", key)
	}
	return nil
}
