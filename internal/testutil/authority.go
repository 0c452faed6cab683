package testutil

import (
	"context"
	"sync"

	"zt-go/internal/authority"
	"zt-go/internal/compliance"
	"zt-go/internal/protocol"
	"zt-go/internal/zt"
)

// NewTestAuthority creates an in-memory authority server using clock.
func NewTestAuthority(clock zt.Clock) *authority.Server {
	return authority.NewServer(clock, nil, compliance.DefaultRule())
}

// FlakyAuthority wraps an authority and fails calls on demand. It is safe
// for concurrent use.
type FlakyAuthority struct {
	zt.Authority

	mu        sync.Mutex
	syncErr   error
	uploadErr error
	calls     int
	block     chan struct{}
}

var _ zt.Authority = (*FlakyAuthority)(nil)

// NewFlakyAuthority wraps inner.
func NewFlakyAuthority(inner zt.Authority) *FlakyAuthority {
	return &FlakyAuthority{Authority: inner}
}

// FailSync makes subsequent Sync calls return err. A nil err restores
// normal behavior.
func (f *FlakyAuthority) FailSync(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncErr = err
}

// FailUploads makes subsequent UploadLocations calls return err.
func (f *FlakyAuthority) FailUploads(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploadErr = err
}

// BlockSync makes Sync wait until the returned function is called.
func (f *FlakyAuthority) BlockSync() (release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.block = ch
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// SyncCalls returns how many times Sync reached the wrapped authority or
// failed on demand.
func (f *FlakyAuthority) SyncCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *FlakyAuthority) Sync(ctx context.Context, req *protocol.SyncRequest) (*protocol.SyncResponse, error) {
	f.mu.Lock()
	f.calls++
	err, block := f.syncErr, f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, zt.Transient(ctx.Err())
		}
	}
	if err != nil {
		return nil, err
	}
	return f.Authority.Sync(ctx, req)
}

func (f *FlakyAuthority) UploadLocations(ctx context.Context, batch *protocol.LocationBatch) (*protocol.LocationBatchResponse, error) {
	f.mu.Lock()
	err := f.uploadErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.Authority.UploadLocations(ctx, batch)
}
