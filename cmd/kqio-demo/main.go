//go:build unix

package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"kqio"

	"github.com/lmittmann/tint"
)

// Small smoke driver: a file round-trip and a couple of sleepers sharing the
// loop. `go run ./cmd/kqio-demo`
func main() {
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: time.TimeOnly,
	})))

	rt, err := kqio.CreateRuntime()
	if err != nil {
		slog.Error("runtime", "err", err)
		os.Exit(1)
	}

	rt.Go(func(t *kqio.Task) {
		path := filepath.Join(os.TempDir(), "kqio-demo")
		f, res, _ := rt.Open(t, path, kqio.O_CREAT|kqio.O_RDWR|kqio.O_TRUNC, 0o644, 0)
		if f == nil {
			slog.Error("open", "errno", res.Errno)
			return
		}
		w, _ := f.Write(t, 0, []byte("hello"), 0)
		r, _ := f.Read(t, 5, 0, nil, 0)
		slog.Info("roundtrip", "wrote", w.RC, "read", string(r.Data), "offset", r.NewOffset)
		f.Close(t, 0)
		os.Remove(path)
	})

	for i := 0; i < 3; i++ {
		i := i
		rt.Go(func(t *kqio.Task) {
			rt.Sleep(t, 10*time.Millisecond)
			slog.Info("sleeper done", "i", i)
		})
	}

	rt.Wait()
	rt.Close()
}
