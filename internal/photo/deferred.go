package photo

import (
	"context"
	"io"
	"log"

	"classroll/internal/metrics"
	"classroll/internal/queue"
)

// DeferredStore saves synchronously but hands deletions to the worker
// through the job queue.
type DeferredStore struct {
	store Store
	q     queue.Queue
}

func NewDeferredStore(store Store, q queue.Queue) *DeferredStore {
	return &DeferredStore{store: store, q: q}
}

func (s *DeferredStore) Save(ctx context.Context, r io.Reader, filename string) (string, error) {
	return s.store.Save(ctx, r, filename)
}

// Delete enqueues a release job for ref.
func (s *DeferredStore) Delete(ctx context.Context, ref string) error {
	if ref == "" || ref == DefaultAvatar {
		return nil
	}
	return s.q.Publish(ctx, queue.Message{Type: queue.TypePhotoRelease, Body: []byte(ref)})
}

// Release performs a queued deletion against the underlying store.
func Release(ctx context.Context, store Store, msg queue.Message) error {
	if msg.Type != queue.TypePhotoRelease {
		return nil
	}
	return store.Delete(ctx, string(msg.Body))
}

// Consume releases queued photos against store until ctx is cancelled or the
// queue closes. Failed releases are logged and counted, never retried.
func Consume(ctx context.Context, store Store, q queue.Queue) error {
	messages, err := q.Consume(ctx)
	if err != nil {
		return err
	}
	for msg := range messages {
		if msg.Type != queue.TypePhotoRelease {
			log.Printf("skipping message of type %q", msg.Type)
			continue
		}
		ref := string(msg.Body)
		if err := Release(ctx, store, msg); err != nil {
			log.Printf("release photo %s failed: %v", ref, err)
			metrics.PhotoReleases.WithLabelValues("error").Inc()
			continue
		}
		metrics.PhotoReleases.WithLabelValues("ok").Inc()
		log.Printf("photo %s released", ref)
	}
	return nil
}
