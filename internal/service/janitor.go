package service

import (
	"context"
	"sync"
	"time"

	"github.com/localhub/internal/logger"
	"github.com/localhub/internal/model"
)

const blobDeleteTimeout = 30 * time.Second

// blobJanitor deletes blobs after the owning rows are gone. A blob still attached to another
// message or comment is kept. Failures are logged and never roll anything back: an orphaned
// blob is garbage, not lost data.
type blobJanitor struct {
	blobs BlobStore
	index MediaIndex
	wg    sync.WaitGroup
}

func (j *blobJanitor) remove(media []model.MediaRef) {
	if j.blobs == nil || j.index == nil || len(media) == 0 {
		return
	}
	refs := make([]string, 0, len(media))
	for _, m := range media {
		refs = append(refs, m.URL)
	}
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), blobDeleteTimeout)
		defer cancel()
		inUse, err := j.index.InUse(ctx, refs)
		if err != nil {
			logger.Errorf("blob delete: reference check for %d refs: %v", len(refs), err)
			return
		}
		done := make(map[string]struct{}, len(refs))
		for _, ref := range refs {
			if _, dup := done[ref]; dup {
				continue
			}
			done[ref] = struct{}{}
			if inUse[ref] {
				logger.Debugf("blob %s still referenced, kept", ref)
				continue
			}
			if err := j.blobs.Delete(ctx, ref); err != nil {
				logger.Errorf("blob delete %s: %v", ref, err)
			}
		}
	}()
}

// wait blocks until pending deletions finish.
func (j *blobJanitor) wait() { j.wg.Wait() }
