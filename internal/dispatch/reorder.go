package dispatch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/earshot-audio/earshot/internal/sink"
)

// reorder buffers out-of-order completions and releases them to the sink
// in sequence-number order. Segment sequence numbers are contiguous from 0,
// so delivery is a matter of holding results until every predecessor has
// either completed or been abandoned.
type reorder struct {
	out sink.Sink
	log *slog.Logger

	mu      sync.Mutex
	next    uint64
	pending map[uint64]*sink.Entry
}

func newReorder(out sink.Sink, log *slog.Logger) *reorder {
	return &reorder{
		out:     out,
		log:     log,
		pending: make(map[uint64]*sink.Entry),
	}
}

// complete registers a finished result and flushes everything that is now
// in order. Sink writes happen under the lock, which serialises delivery.
func (r *reorder) complete(ctx context.Context, seq uint64, e sink.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[seq] = &e
	r.flush(ctx)
}

// skip releases a sequence slot without a result, for segments that were
// dropped or whose transcription failed. Ordering must never stall on a
// slot that will not be filled.
func (r *reorder) skip(seq uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[seq] = nil
	r.flush(context.Background())
}

func (r *reorder) flush(ctx context.Context) {
	for {
		e, ok := r.pending[r.next]
		if !ok {
			return
		}
		delete(r.pending, r.next)
		r.next++
		if e == nil {
			continue
		}
		if err := r.out.Write(ctx, *e); err != nil {
			r.log.Error("sink write failed",
				slog.Uint64("seq", e.Seq),
				slog.Any("error", err),
			)
		}
	}
}
