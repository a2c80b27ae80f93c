package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type sinkFunc func(context.Context, []Event) error

func (f sinkFunc) Consume(ctx context.Context, batch []Event) error {
	return f(ctx, batch)
}

func (sinkFunc) Close(context.Context) error {
	return nil
}

// ExampleHub_Emit totals rendered PDF bytes with a custom sink.
func ExampleHub_Emit() {
	var total int64
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 1, MaxBatchWait: time.Second},
		sinkFunc(func(_ context.Context, batch []Event) error {
			for _, evt := range batch {
				if evt.Stage == StagePageDone {
					total += evt.Bytes
				}
			}
			return nil
		}))

	run := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	hub.Emit(Event{RunID: run, TS: time.Unix(0, 0), Stage: StageRunStart, URL: "https://docs.example.com/"})
	hub.Emit(Event{RunID: run, TS: time.Unix(1, 0), Stage: StagePageDone, URL: "https://docs.example.com/a", Bytes: 512})
	hub.Emit(Event{RunID: run, TS: time.Unix(2, 0), Stage: StagePageDone, URL: "https://docs.example.com/b", Bytes: 256})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("pdf bytes: %d\n", total)
	// Output:
	// pdf bytes: 768
}
