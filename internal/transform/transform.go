// Package transform installs ingest-time parsers on log groups as CloudWatch
// Logs transformers.
//
// A parser file is either a JSON array of processors, using the field names
// of the PutTransformer API ([{"grok": {"match": "%{COMMONAPACHELOG}"}}]),
// or a single grok pattern applied to @message. Files named *.json, and
// unnamed input starting with "[", are read as JSON.
package transform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"go.uber.org/zap"
)

// MaxProcessors is the service limit on processors per transformer.
const MaxProcessors = 20

var (
	// ErrEmptyParser reports a parser file without any processor.
	ErrEmptyParser = errors.New("parser has no processors")
	// ErrTooManyProcessors reports a parser over MaxProcessors.
	ErrTooManyProcessors = errors.New("too many processors")
)

// Putter is the part of the CloudWatch Logs API used to install parsers.
type Putter interface {
	PutTransformer(ctx context.Context, params *cloudwatchlogs.PutTransformerInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutTransformerOutput, error)
}

// Parser is a named list of processors read from a parser file.
type Parser struct {
	Name       string
	Processors []types.Processor
}

// ParseFile builds a Parser from the file name and its decoded source. The
// name is the file name without its extension.
func ParseFile(file, source string) (Parser, error) {
	ext := filepath.Ext(file)
	p := Parser{Name: strings.TrimSuffix(filepath.Base(file), ext)}
	trimmed := strings.TrimSpace(source)
	if strings.EqualFold(ext, ".json") || (ext == "" && strings.HasPrefix(trimmed, "[")) {
		if err := json.Unmarshal([]byte(source), &p.Processors); err != nil {
			return p, fmt.Errorf("parser %s: %w", p.Name, err)
		}
	} else if trimmed != "" {
		p.Processors = []types.Processor{{Grok: &types.Grok{Match: aws.String(trimmed)}}}
	}
	switch {
	case len(p.Processors) == 0:
		return p, fmt.Errorf("parser %s: %w", p.Name, ErrEmptyParser)
	case len(p.Processors) > MaxProcessors:
		return p, fmt.Errorf("parser %s: %w: %d, at most %d", p.Name, ErrTooManyProcessors, len(p.Processors), MaxProcessors)
	}
	return p, nil
}

// Installer puts parsers on log groups.
type Installer struct {
	Client Putter
	Dry    bool
	Logger *zap.Logger
}

// Install creates or replaces the transformer of every group with p. It
// stops at the first failing group and returns the groups already done.
func (in *Installer) Install(ctx context.Context, p Parser, groups []string) ([]string, error) {
	logger := in.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var done []string
	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		if in.Dry {
			logger.Info("dry run, not installing parser",
				zap.String("parser", p.Name), zap.String("group", g), zap.Int("processors", len(p.Processors)))
			done = append(done, g)
			continue
		}
		_, err := in.Client.PutTransformer(ctx, &cloudwatchlogs.PutTransformerInput{
			LogGroupIdentifier: aws.String(g),
			TransformerConfig:  p.Processors,
		})
		if err != nil {
			return done, fmt.Errorf("install parser %s on %s: %w", p.Name, g, err)
		}
		logger.Info("parser installed", zap.String("parser", p.Name), zap.String("group", g))
		done = append(done, g)
	}
	return done, nil
}
