package processor

import (
	"context"

	"github.com/openagents/a2a-engine/pkg/a2a"
)

// NewEcho returns a trivial processor that fulfils every task immediately by
// echoing back the first text part.  It demonstrates the contract and makes
// the out-of-the-box server experience pleasant.
func NewEcho() Processor {
	return New(Config{
		Skill: "echo",
		Run: func(ctx context.Context, pctx *Context, stream *Stream) error {
			txt := ""
			if task := pctx.Task(); task != nil {
				if last := task.LastMessage(); last != nil {
					txt = last.String()
				}
			}

			if err := stream.Status(a2a.TaskStateWorking, nil); err != nil {
				return err
			}

			if err := stream.Artifact(ArtifactSignal{
				Parts: []a2a.Part{a2a.NewTextPart("echo: " + txt)},
			}); err != nil {
				return err
			}

			return stream.Status(a2a.TaskStateCompleted, nil)
		},
	})
}
