package goroutine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSafeGo_RecoversPanic(t *testing.T) {
	done := make(chan struct{})
	SafeGo(func() {
		defer close(done)
		panic("boom")
	})

	select {
	case <-done:
		// panic перехвачена, тестовый процесс жив.
	case <-time.After(time.Second):
		t.Fatal("горутина не завершилась")
	}
}

func TestSafeGoWithContext_PassesContext(t *testing.T) {
	type ctxKey struct{}
	ctx := context.WithValue(context.Background(), ctxKey{}, "значение")

	got := make(chan any, 1)
	SafeGoWithContext(ctx, func(c context.Context) {
		got <- c.Value(ctxKey{})
	})

	select {
	case v := <-got:
		assert.Equal(t, "значение", v)
	case <-time.After(time.Second):
		t.Fatal("горутина не завершилась")
	}
}
