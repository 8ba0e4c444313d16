package workerpool_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tecnocratoshi/askesis/workerpool"
)

func TestSubmitRunsRegisteredHandler(t *testing.T) {
	p := workerpool.New(workerpool.Config{Workers: 2}, zerolog.Nop())
	p.Register(workerpool.TaskEncrypt, func(ctx context.Context, payload any) (any, error) {
		return "encrypted:" + payload.(string), nil
	})
	p.Start(2)
	defer p.Stop()

	res := <-p.Submit(workerpool.TaskEncrypt, "plaintext")
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Value != "encrypted:plaintext" {
		t.Fatalf("unexpected result: %v", res.Value)
	}
}

func TestSubmitUnregisteredKindErrors(t *testing.T) {
	p := workerpool.New(workerpool.Config{Workers: 1}, zerolog.Nop())
	p.Start(1)
	defer p.Stop()

	res := <-p.Submit(workerpool.TaskArchivePrune, nil)
	if res.Err == nil {
		t.Fatalf("expected error for unregistered task kind")
	}
}

func TestStatsTrackCompletionAndFailure(t *testing.T) {
	p := workerpool.New(workerpool.Config{Workers: 1}, zerolog.Nop())
	p.Register(workerpool.TaskDecrypt, func(ctx context.Context, payload any) (any, error) {
		return nil, context.DeadlineExceeded
	})
	p.Start(1)
	defer p.Stop()

	<-p.Submit(workerpool.TaskDecrypt, nil)
	time.Sleep(10 * time.Millisecond)

	stats := p.Stats()
	if stats.Failed != 1 {
		t.Fatalf("expected 1 failure, got %+v", stats)
	}
}
