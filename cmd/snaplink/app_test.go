package main

import (
	"net/http"
	"testing"
	"time"
)

func TestStartReportsServerError(t *testing.T) {
	a := &app{servers: []*http.Server{{Addr: "127.0.0.1:-1"}}}
	errCh := a.Start()
	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("nil error on server failure channel")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("bind failure never reported")
	}
}
