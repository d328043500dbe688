// Command tether-worker is a reference worker. It serves the frame protocol
// over stdin/stdout and dispatches on the payload's "op" field:
//
//	echo   — resolve with the payload's value
//	sum    — resolve with the sum of the payload's values
//	sleep  — sleep the given milliseconds, reporting progress in steps
//	fail   — reject with the given message
//	cancel — settle as canceled with the given reason
//
// Build with: go build -o tether-worker ./cmd/tether-worker
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/seantiz/tether/internal/agent"
)

const sleepSteps = 10

type operation struct {
	Op      string          `json:"op"`
	Value   json.RawMessage `json:"value"`
	Values  []float64       `json:"values"`
	Millis  int             `json:"millis"`
	Message string          `json:"message"`
	Reason  string          `json:"reason"`
}

func handle(ctx context.Context, payload json.RawMessage, report func(pct float64)) (json.RawMessage, error) {
	var op operation
	if err := json.Unmarshal(payload, &op); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	switch op.Op {
	case "echo":
		return op.Value, nil

	case "sum":
		var total float64
		for _, v := range op.Values {
			total += v
		}
		return json.Marshal(total)

	case "sleep":
		step := time.Duration(op.Millis) * time.Millisecond / sleepSteps
		for i := 1; i <= sleepSteps; i++ {
			select {
			case <-time.After(step):
			case <-ctx.Done():
				return nil, agent.Canceled("worker shutting down")
			}
			report(float64(i) / sleepSteps * 100)
		}
		return json.Marshal("slept")

	case "fail":
		return nil, fmt.Errorf("%s", op.Message)

	case "cancel":
		return nil, agent.Canceled(op.Reason)

	default:
		return nil, fmt.Errorf("unknown op %q", op.Op)
	}
}

func main() {
	a := agent.New(os.Stdin, os.Stdout, handle)
	if err := a.Serve(context.Background()); err != nil {
		log.Fatalf("serve: %v", err)
	}
}
