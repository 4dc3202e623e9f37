package embedder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/54b3r/docqa-go/internal/rag"
)

// fakeBackend returns vector [len(text), position] for every input and
// records the size of each call.
type fakeBackend struct {
	// failOn makes the call with this 1-based index fail.
	failOn int
	// dropOne makes every call return one vector too few.
	dropOne bool
	// block makes every call wait for ctx cancellation.
	block bool
	// ragged makes the second vector of each call one element longer.
	ragged bool

	mu    sync.Mutex
	sizes []int
	times []time.Time
}

func (f *fakeBackend) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.sizes = append(f.sizes, len(texts))
	f.times = append(f.times, time.Now())
	call := len(f.sizes)
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if call == f.failOn {
		return nil, errors.New("quota exceeded")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), float32(i)}
		if f.ragged && i == 1 {
			out[i] = append(out[i], 0)
		}
	}
	if f.dropOne {
		out = out[:len(out)-1]
	}
	return out, nil
}

func makeTexts(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%0*d", i+1, 0)
	}
	return out
}

func Test_EmbedMany_PartitionsAndPreservesOrder(t *testing.T) {
	t.Parallel()
	tests := []struct {
		n, limit  int
		wantCalls int
	}{
		{n: 1, limit: 3, wantCalls: 1},
		{n: 3, limit: 3, wantCalls: 1},
		{n: 7, limit: 3, wantCalls: 3},
		{n: 250, limit: 99, wantCalls: 3},
		{n: 99, limit: 99, wantCalls: 1},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("n=%d/limit=%d", tt.n, tt.limit), func(t *testing.T) {
			t.Parallel()
			fb := &fakeBackend{}
			b := NewBatcher(fb, &BatcherConfig{MaxBatch: tt.limit})

			in := makeTexts(tt.n)
			got, err := b.EmbedMany(context.Background(), in)
			if err != nil {
				t.Fatalf("EmbedMany: %v", err)
			}
			if len(fb.sizes) != tt.wantCalls {
				t.Fatalf("calls = %d, want %d", len(fb.sizes), tt.wantCalls)
			}
			total := 0
			for _, s := range fb.sizes {
				if s > tt.limit {
					t.Errorf("sub-batch of %d exceeds limit %d", s, tt.limit)
				}
				total += s
			}
			if total != tt.n {
				t.Errorf("sub-batches cover %d texts, want %d", total, tt.n)
			}
			if len(got) != tt.n {
				t.Fatalf("got %d vectors, want %d", len(got), tt.n)
			}
			for i, v := range got {
				if int(v[0]) != len(in[i]) {
					t.Errorf("vector %d = %v, does not correspond to input %q", i, v, in[i])
				}
			}
		})
	}
}

func Test_EmbedMany_Empty(t *testing.T) {
	t.Parallel()
	fb := &fakeBackend{}
	got, err := NewBatcher(fb, nil).EmbedMany(context.Background(), nil)
	if err != nil {
		t.Fatalf("EmbedMany: %v", err)
	}
	if len(got) != 0 || len(fb.sizes) != 0 {
		t.Errorf("got %d vectors and %d calls, want none", len(got), len(fb.sizes))
	}
}

func Test_EmbedMany_FailureIsWholeBatch(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		backend *fakeBackend
	}{
		{"second sub-batch errors", &fakeBackend{failOn: 2}},
		{"count mismatch", &fakeBackend{dropOne: true}},
		{"ragged dimensions", &fakeBackend{ragged: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b := NewBatcher(tt.backend, &BatcherConfig{MaxBatch: 2})
			got, err := b.EmbedMany(context.Background(), makeTexts(5))
			if !errors.Is(err, rag.ErrEmbeddingBatch) || !errors.Is(err, rag.ErrUpstream) {
				t.Fatalf("err = %v, want ErrEmbeddingBatch and ErrUpstream", err)
			}
			if got != nil {
				t.Errorf("partial result returned: %d vectors", len(got))
			}
		})
	}
}

func Test_EmbedMany_PausesBetweenSubBatches(t *testing.T) {
	t.Parallel()
	fb := &fakeBackend{}
	pause := 40 * time.Millisecond
	b := NewBatcher(fb, &BatcherConfig{MaxBatch: 1, Pause: pause})

	if _, err := b.EmbedMany(context.Background(), makeTexts(3)); err != nil {
		t.Fatalf("EmbedMany: %v", err)
	}
	for i := 1; i < len(fb.times); i++ {
		// Allow a little scheduler slack below the nominal pause.
		if gap := fb.times[i].Sub(fb.times[i-1]); gap < pause-5*time.Millisecond {
			t.Errorf("gap between call %d and %d = %v, want >= %v", i, i+1, gap, pause)
		}
	}
}

func Test_EmbedMany_TimeoutIsHardFailure(t *testing.T) {
	t.Parallel()
	b := NewBatcher(&fakeBackend{block: true}, &BatcherConfig{Timeout: 20 * time.Millisecond})
	_, err := b.EmbedMany(context.Background(), makeTexts(2))
	if !errors.Is(err, rag.ErrEmbeddingBatch) {
		t.Fatalf("err = %v, want ErrEmbeddingBatch", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded in chain", err)
	}
}

func Test_EmbedOne(t *testing.T) {
	t.Parallel()
	b := NewBatcher(&fakeBackend{}, nil)
	v, err := b.EmbedOne(context.Background(), "abc")
	if err != nil {
		t.Fatalf("EmbedOne: %v", err)
	}
	if v[0] != 3 {
		t.Errorf("vector = %v, want [3 ...]", v)
	}

	_, err = NewBatcher(&fakeBackend{failOn: 1}, nil).EmbedOne(context.Background(), "abc")
	if !errors.Is(err, rag.ErrUpstream) {
		t.Errorf("err = %v, want ErrUpstream", err)
	}
	_, err = NewBatcher(&fakeBackend{dropOne: true}, nil).EmbedOne(context.Background(), "abc")
	if !errors.Is(err, rag.ErrUpstream) {
		t.Errorf("malformed err = %v, want ErrUpstream", err)
	}
}

// queryBackend implements QueryEmbedder alongside Embed.
type queryBackend struct{ fakeBackend }

func (q *queryBackend) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	return []float32{42}, nil
}

func Test_EmbedOne_PrefersQueryEmbedder(t *testing.T) {
	t.Parallel()
	qb := &queryBackend{}
	v, err := NewBatcher(qb, nil).EmbedOne(context.Background(), "q")
	if err != nil {
		t.Fatalf("EmbedOne: %v", err)
	}
	if len(v) != 1 || v[0] != 42 {
		t.Errorf("vector = %v, want [42]", v)
	}
	if len(qb.sizes) != 0 {
		t.Errorf("passage path used for query")
	}
}

func Test_NewBatcher_Defaults(t *testing.T) {
	t.Parallel()
	b := NewBatcher(&fakeBackend{}, nil)
	if b.MaxBatch() != DefaultMaxBatch {
		t.Errorf("MaxBatch = %d, want %d", b.MaxBatch(), DefaultMaxBatch)
	}
	if b.pause != DefaultBatchPause {
		t.Errorf("pause = %v, want %v", b.pause, DefaultBatchPause)
	}
	if b.timeout != DefaultTimeout {
		t.Errorf("timeout = %v, want %v", b.timeout, DefaultTimeout)
	}
	if z := NewBatcher(&fakeBackend{}, &BatcherConfig{}); z.pause != 0 {
		t.Errorf("explicit zero pause = %v, want 0", z.pause)
	}
}
