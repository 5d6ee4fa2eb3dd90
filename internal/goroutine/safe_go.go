package goroutine

import (
	"context"
	"runtime/debug"

	"github.com/sirupsen/logrus"
)

// SafeGo запускает горутину, переживающую panic: сбой логируется со стеком,
// процесс продолжает работу.
func SafeGo(fn func()) {
	go func() {
		defer logPanic()
		fn()
	}()
}

// SafeGoWithContext — то же самое для функций, принимающих контекст.
func SafeGoWithContext(ctx context.Context, fn func(context.Context)) {
	go func() {
		defer logPanic()
		fn(ctx)
	}()
}

func logPanic() {
	if r := recover(); r != nil {
		logrus.WithFields(logrus.Fields{
			"panic": r,
			"stack": string(debug.Stack()),
		}).Error("goroutine: перехвачена panic")
	}
}
