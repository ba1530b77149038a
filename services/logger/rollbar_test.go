package logsvc

import (
	"bytes"
	"errors"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/trezcool/lingua/core"
	"github.com/trezcool/lingua/core/user"
)

func TestRollbarLogger_Prepare(t *testing.T) {
	var buf bytes.Buffer
	logger := NewRollbarLogger(log.New(&buf, "", 0), core.NewTestConfig())
	logger.Enable(false)

	usr := user.User{ID: "1", Username: "jane"}
	err := errors.New("boom")
	args := logger.prepare("failed", []interface{}{usr, err, user.User{ID: "2"}})
	assert.Equal(t, []interface{}{"failed", err}, args, "users are not forwarded")

	logger.Warn("billing: event ignored", err)
	assert.Contains(t, buf.String(), "billing: event ignored")
	assert.Contains(t, buf.String(), "boom")
}
