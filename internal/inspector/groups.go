package inspector

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
)

// Group describes one log group (repository).
type Group struct {
	Name          string
	StoredBytes   int64
	RetentionDays int32
	Created       time.Time
}

// ListGroups returns every log group visible to the client, optionally
// narrowed server-side to names starting with prefix.
func (in *Inspector) ListGroups(ctx context.Context, prefix string) ([]Group, error) {
	input := &cloudwatchlogs.DescribeLogGroupsInput{}
	if prefix != "" {
		input.LogGroupNamePrefix = aws.String(prefix)
	}
	var groups []Group
	p := cloudwatchlogs.NewDescribeLogGroupsPaginator(in.client, input)
	for p.HasMorePages() {
		out, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describe log groups: %w", err)
		}
		for _, g := range out.LogGroups {
			groups = append(groups, Group{
				Name:          aws.ToString(g.LogGroupName),
				StoredBytes:   aws.ToInt64(g.StoredBytes),
				RetentionDays: aws.ToInt32(g.RetentionInDays),
				Created:       time.UnixMilli(aws.ToInt64(g.CreationTime)),
			})
		}
	}
	return groups, nil
}

// FilterGroups keeps groups whose name matches any of the shell-style
// patterns (all groups when patterns is empty) and does not match ignore.
func FilterGroups(groups []Group, patterns []string, ignore *regexp.Regexp) ([]Group, error) {
	matchers := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		re, err := globRegexp(p)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
		}
		matchers[i] = re
	}
	var out []Group
	for _, g := range groups {
		if ignore != nil && ignore.MatchString(g.Name) {
			continue
		}
		if len(matchers) == 0 || anyMatch(matchers, g.Name) {
			out = append(out, g)
		}
	}
	return out, nil
}

func anyMatch(res []*regexp.Regexp, s string) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// globRegexp translates a shell pattern into an anchored expression. Unlike
// path.Match, * and ? also match '/', which log group names are full of.
func globRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}
