// Package arguments injects trusted session context into tool arguments and
// strips everything the target tool does not declare.
package arguments

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/AltairaLabs/mcpchat/internal/orchestrator/config"
	"github.com/AltairaLabs/mcpchat/internal/types"
)

// SessionContext is the trusted per-session input to the pipeline
type SessionContext struct {
	SessionID string
	UserEmail string
	Files     map[string]types.FileRef
}

// Pipeline prepares tool arguments for execution
type Pipeline struct {
	signer URLSigner
	urlTTL time.Duration
	logger *slog.Logger
}

// NewPipeline creates a pipeline. A nil signer leaves file names unresolved.
func NewPipeline(signer URLSigner, urlTTL time.Duration, logger *slog.Logger) *Pipeline {
	if urlTTL <= 0 {
		urlTTL = config.DefaultDownloadURLTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		signer: signer,
		urlTTL: urlTTL,
		logger: logger.With("component", "arguments"),
	}
}

// Prepare runs Inject then FilterToSchema. Arguments edited by an approver
// must go through Prepare again before execution.
func (p *Pipeline) Prepare(ctx context.Context, args map[string]any, schema types.ToolSchema, sc SessionContext) map[string]any {
	return p.FilterToSchema(p.Inject(ctx, args, schema, sc), schema)
}

// Inject returns a copy of args carrying the session identity and signed
// download references in place of uploaded file names
func (p *Pipeline) Inject(ctx context.Context, args map[string]any, schema types.ToolSchema, sc SessionContext) map[string]any {
	out := types.CloneArgs(args)

	if schema.AcceptsParameter(config.UsernameParam) {
		if sc.UserEmail != "" {
			out[config.UsernameParam] = sc.UserEmail
		} else {
			delete(out, config.UsernameParam)
		}
	}

	if name, ok := out[config.FilenameParam].(string); ok {
		if resolved, ok := p.resolveFile(ctx, name, sc); ok {
			out[config.FilenameParam] = resolved
			out[config.OriginalFilenameKey] = name
		}
	}

	if names, ok := stringList(out[config.FileNamesParam]); ok {
		resolved := make([]any, len(names))
		originals := make([]any, 0, len(names))
		changed := false
		for i, name := range names {
			if url, ok := p.resolveFile(ctx, name, sc); ok {
				resolved[i] = url
				originals = append(originals, name)
				changed = true
				continue
			}
			resolved[i] = name
		}
		if changed {
			out[config.FileNamesParam] = resolved
			out[config.OriginalFileNamesKey] = originals
		}
	}

	return out
}

func (p *Pipeline) resolveFile(ctx context.Context, name string, sc SessionContext) (string, bool) {
	if p.signer == nil || name == "" || isURL(name) {
		return "", false
	}
	ref, ok := sc.Files[name]
	if !ok {
		return "", false
	}

	url, err := p.signer.SignedURL(ref.Key, p.urlTTL)
	if err != nil {
		p.logger.WarnContext(ctx, "Failed to sign file reference",
			"session_id", sc.SessionID,
			"file", name,
			"error", err,
		)
		return "", false
	}

	p.logger.DebugContext(ctx, "Resolved file reference",
		"session_id", sc.SessionID,
		"file", name,
	)
	return url, true
}

// FilterToSchema drops every key the schema does not declare. A schema
// without a properties block passes keys through, minus pipeline breadcrumbs.
func (p *Pipeline) FilterToSchema(args map[string]any, schema types.ToolSchema) map[string]any {
	out := make(map[string]any, len(args))

	if !schema.DeclaresProperties() {
		for k, v := range args {
			out[k] = v
		}
		for _, k := range config.BookkeepingKeys() {
			delete(out, k)
		}
		return out
	}

	props := schema.Properties()
	for k, v := range args {
		if _, ok := props[k]; ok {
			out[k] = v
		}
	}
	return out
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func stringList(v any) ([]string, bool) {
	switch list := v.(type) {
	case []string:
		return list, true
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}
