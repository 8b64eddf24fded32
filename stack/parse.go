package stack

import (
	"bufio"
	"context"
	"regexp"
	"strings"

	"github.com/bitcomplete/revup/errs"
	"github.com/bitcomplete/revup/gitops"
)

var tagLineRe = regexp.MustCompile(`^([A-Za-z-]+):(.*)$`)

// singularTags never get their trailing plural suffix stripped, since their
// value isn't a list of names.
var singularTags = map[string]bool{
	"relative":        true,
	"relative-branch": true,
	"topic":           true,
	"uploader":        true,
}

func normalizeTagName(name string) string {
	name = strings.ToLower(name)
	if singularTags[name] {
		return name
	}
	for _, suffix := range []string{"ees", "es", "s"} {
		if strings.HasSuffix(name, suffix) && len(name) > len(suffix) {
			return strings.TrimSuffix(name, suffix)
		}
	}
	return name
}

func splitValues(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ParseTags scans msg line by line for `Name: value[, value...]` trailers
// and returns the recognized tags plus the message with recognized lines
// optionally stripped.
func ParseTags(msg string, remoteName string, stripRecognized bool) (Tags, string, error) {
	var tags Tags
	var kept []string
	topicsSeen := 0

	scanner := bufio.NewScanner(strings.NewReader(msg))
	for scanner.Scan() {
		line := scanner.Text()
		m := tagLineRe.FindStringSubmatch(line)
		if m == nil {
			kept = append(kept, line)
			continue
		}
		name := normalizeTagName(m[1])
		values := splitValues(m[2])
		recognized := true
		switch name {
		case "topic":
			if len(values) > 0 {
				tags.Topic = values[0]
				topicsSeen++
			}
		case "relative":
			if len(values) > 0 {
				tags.Relative = values[0]
			}
		case "relative-branch":
			if len(values) > 0 {
				tags.RelativeBranch = ensureBranchPrefix(values[0], remoteName)
			}
		case "branch":
			for _, v := range values {
				tags.Branch = append(tags.Branch, ensureBranchPrefix(v, remoteName))
			}
		case "reviewer":
			tags.Reviewers = append(tags.Reviewers, values...)
		case "assignee":
			tags.Assignees = append(tags.Assignees, values...)
		case "label":
			tags.Labels = append(tags.Labels, values...)
		case "uploader":
			if len(values) > 0 {
				tags.Uploader = values[0]
			}
		default:
			recognized = false
		}
		if recognized && stripRecognized {
			continue
		}
		kept = append(kept, line)
	}
	if topicsSeen > 1 {
		return Tags{}, "", errs.Usagef("commit names more than one topic")
	}
	return tags, strings.Join(kept, "\n"), nil
}

func ensureBranchPrefix(branch, remoteName string) string {
	if strings.HasPrefix(branch, remoteName+"/") {
		return branch
	}
	return remoteName + "/" + branch
}

// autoTopicName synthesizes a topic name from the first five lowercased
// words of title, stripping `:`, `[`, `]`.
func autoTopicName(title string) string {
	cleaner := strings.NewReplacer(":", "", "[", "", "]", "")
	words := strings.Fields(cleaner.Replace(strings.ToLower(title)))
	if len(words) > 5 {
		words = words[:5]
	}
	return strings.Join(words, "_")
}

// BuildOpts configures BuildTopicStack.
type BuildOpts struct {
	RemoteName      string
	AutoTopic       bool
	StripRecognized bool
}

// BuildTopicStack parses every first-parent commit in (forkPoint, head]
// (given already in chronological order) into a TopicStack, implementing
// the Topic Parser algorithm.
func BuildTopicStack(ctx context.Context, headers []gitops.CommitHeader, opts BuildOpts) (*TopicStack, error) {
	s := &TopicStack{ByName: map[string]*Topic{}}
	for _, h := range headers {
		tags, _, err := ParseTags(h.CommitMsg, opts.RemoteName, opts.StripRecognized)
		if err != nil {
			return nil, err
		}
		name := tags.Topic
		if name == "" && opts.AutoTopic {
			name = autoTopicName(h.Title)
			tags.Topic = name
		}

		var topic *Topic
		if name == "" {
			// Topicless: group with the previous topicless run rather than
			// indexing by name, since ByName lookups are only meaningful
			// for named topics.
			if n := len(s.Topics); n > 0 && s.Topics[n-1].Name == "" {
				topic = s.Topics[n-1]
			} else {
				topic = &Topic{}
				s.Topics = append(s.Topics, topic)
			}
		} else {
			var ok bool
			topic, ok = s.ByName[name]
			if !ok {
				topic = &Topic{Name: name}
				s.ByName[name] = topic
				s.Topics = append(s.Topics, topic)
			}
		}
		topic.Commits = append(topic.Commits, Commit{Header: h, Tags: tags})
	}
	return s, nil
}
