//go:build unix

package kqio

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

// the policy flips delivery shape without touching the (rc, errno) pair
func Test_ErrorPolicy_Switch(t *testing.T) {
	path := tempfile(t)
	assert.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	run(t, func(rt *Runtime, tk *Task) {
		f, _, _ := rt.Open(tk, path, O_RDONLY, 0, 0)
		assert.NotNil(t, f)

		// default: return codes, error stays nil
		w, err := f.Write(tk, 0, []byte("x"), 0)
		assert.NoError(t, err)
		assert.Equal(t, EBADF, w.Errno)

		Configure(Config{ErrorPolicy: Exceptions})
		defer Configure(Config{})

		w, err = f.Write(tk, 0, []byte("x"), 0)
		assert.Equal(t, EBADF, w.Errno)
		assert.Error(t, err)

		var oe *OpError
		assert.True(t, errors.As(err, &oe))
		assert.Equal(t, "write", oe.Op)
		assert.Equal(t, EBADF, oe.Errno)
		assert.True(t, errors.Is(err, EBADF))

		f.Close(tk, 0)
	})
}

func Test_OpError_Timeout(t *testing.T) {
	e := &OpError{Op: "recv", Errno: ETIMEDOUT}
	assert.True(t, e.Timeout())
	assert.Contains(t, e.Error(), "recv")
}
