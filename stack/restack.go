package stack

import (
	"context"

	"github.com/bitcomplete/revup/deps"
	"github.com/bitcomplete/revup/gitops"
)

// RestackOpts configures the restack operation.
type RestackOpts struct {
	BuildOpts
	ResolveOpts
	TopiclessLast bool
}

// Restack rebuilds the local branch so every commit reflects its topic's
// current base, without touching the remote: parse, resolve, synthesize,
// then reset the branch onto the synthesized chain — the local half of
// restack (spec §4.7). When TopiclessLast is set, commits that carry no
// Topic: tag are moved after every topic's commits instead of staying
// interleaved in their original position.
func Restack(ctx context.Context, headers []gitops.CommitHeader, opts RestackOpts) (*TopicStack, error) {
	d := deps.FromContext(ctx)

	s, err := BuildTopicStack(ctx, headers, opts.BuildOpts)
	if err != nil {
		return nil, err
	}
	if opts.TopiclessLast {
		reorderTopicless(s)
	}
	if err := Resolve(ctx, s, opts.ResolveOpts); err != nil {
		return s, err
	}
	if len(s.Topics) == 0 {
		return s, nil
	}

	tip, err := SynthesizeLocal(ctx, s)
	if err != nil {
		return s, err
	}
	if err := d.Git.SoftReset(ctx, tip, nil); err != nil {
		return s, err
	}
	return s, nil
}

// reorderTopicless moves every topicless pseudo-topic to the end of the
// stack, preserving the relative order of both the topicless commits and
// the real topics.
func reorderTopicless(s *TopicStack) {
	var named, topicless []*Topic
	for _, t := range s.Topics {
		if t.Name == "" {
			topicless = append(topicless, t)
		} else {
			named = append(named, t)
		}
	}
	s.Topics = append(named, topicless...)
}
