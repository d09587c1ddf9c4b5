package health

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/pulsekit/presence/internal/configure"
	"github.com/pulsekit/presence/internal/global"
	"github.com/pulsekit/presence/internal/store/memstore"
	"github.com/pulsekit/presence/internal/testutil"
)

func TestHealth(t *testing.T) {
	t.Parallel()

	config := &configure.Config{}
	config.Health.Enabled = true
	config.Health.Bind = "127.0.1.1:3300"

	gCtx, cancel := global.WithCancel(global.New(context.Background(), config))
	gCtx.Inst().Store = memstore.New(memstore.Options{})

	done := New(gCtx)

	time.Sleep(time.Millisecond * 50)

	resp, err := http.DefaultClient.Get("http://127.0.1.1:3300")
	testutil.IsNil(t, err, "No error")
	_ = resp.Body.Close()
	testutil.Assert(t, http.StatusOK, resp.StatusCode, "response code")

	cancel()

	<-done
}
