package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/ggoodman/mcp-obsidian-go/tools"
	"github.com/ggoodman/mcp-obsidian-go/vault"
)

// Vault is the subset of *vault.Client the tools use.
type Vault interface {
	ListFilesInVault(ctx context.Context) ([]string, error)
	ListFilesInDir(ctx context.Context, dir string) ([]string, error)
	GetFileContents(ctx context.Context, path string) (string, error)
	GetBatchFileContents(ctx context.Context, paths []string) (string, error)
	Search(ctx context.Context, query string, contextLength int) ([]vault.SearchResult, error)
	SearchJSON(ctx context.Context, query map[string]any) (json.RawMessage, error)
	AppendContent(ctx context.Context, path, content string) error
	PutContent(ctx context.Context, path, content string) error
	PatchContent(ctx context.Context, path string, op vault.PatchOperation, targetType vault.PatchTarget, target, content string) error
	DeleteFile(ctx context.Context, path string) error
	GetPeriodicNote(ctx context.Context, period, noteType string) (string, error)
	GetRecentPeriodicNotes(ctx context.Context, period string, limit int, includeContent bool) (json.RawMessage, error)
	GetRecentChanges(ctx context.Context, limit, days int) (json.RawMessage, error)
}

var _ Vault = (*vault.Client)(nil)

// Option configures the catalog.
type Option func(*config)

type config struct {
	prefix string
}

// WithPrefix prepends p to every tool name.
func WithPrefix(p string) Option {
	return func(c *config) { c.prefix = p }
}

// Register adds every vault tool to reg. Both transports serve whatever reg
// holds, so this is the only place the catalog is assembled.
func Register(reg *tools.Registry, v Vault, opts ...Option) {
	for _, h := range Handlers(v, opts...) {
		reg.Register(h)
	}
}

// Handlers builds the vault tools without registering them.
func Handlers(v Vault, opts ...Option) []tools.Handler {
	cfg := config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	n := func(name string) string { return cfg.prefix + name }
	c := &catalog{v: v}

	return []tools.Handler{
		tools.NewTool(n("list_files_in_vault"), c.listFilesInVault,
			tools.WithDescription("Lists all files and directories in the root directory of your Obsidian vault.")),
		tools.NewTool(n("list_files_in_dir"), c.listFilesInDir,
			tools.WithDescription("Lists all files and directories that exist in a specific Obsidian directory.")),
		tools.NewTool(n("get_file_contents"), c.getFileContents,
			tools.WithDescription("Return the content of a single file in your vault.")),
		tools.NewTool(n("simple_search"), c.simpleSearch,
			tools.WithDescription("Simple search for documents matching a specified text query across all files in the vault. Use this tool when you want to do a simple text search.")),
		tools.NewTool(n("complex_search"), c.complexSearch,
			tools.WithDescription("Complex search for documents using a JsonLogic query. Supports standard JsonLogic operators plus 'glob' and 'regexp' for pattern matching. Results must be non-falsy. Use this tool when you want to do a complex search, e.g. for all documents with certain tags.")),
		tools.NewTool(n("batch_get_file_contents"), c.batchGetFileContents,
			tools.WithDescription("Return the contents of multiple files in your vault, concatenated with headers.")),
		tools.NewTool(n("append_content"), c.appendContent,
			tools.WithDescription("Append content to a new or existing file in the vault.")),
		tools.NewTool(n("put_content"), c.putContent,
			tools.WithDescription("Create a new file in your vault or update the content of an existing one.")),
		tools.NewTool(n("patch_content"), c.patchContent,
			tools.WithDescription("Insert content into an existing note relative to a heading, block reference, or frontmatter field.")),
		tools.NewTool(n("delete_file"), c.deleteFile,
			tools.WithDescription("Delete a file or directory from the vault.")),
		tools.NewTool(n("get_periodic_note"), c.getPeriodicNote,
			tools.WithDescription("Get current periodic note for the specified period.")),
		tools.NewTool(n("get_recent_periodic_notes"), c.getRecentPeriodicNotes,
			tools.WithDescription("Get most recent periodic notes for the specified period type.")),
		tools.NewTool(n("get_recent_changes"), c.getRecentChanges,
			tools.WithDescription("Get recently modified files in the vault.")),
	}
}

var periods = []string{"daily", "weekly", "monthly", "quarterly", "yearly"}

type catalog struct {
	v Vault
}

type noArgs struct{}

type dirArgs struct {
	DirPath string `json:"dirpath" jsonschema:"description=Path to list files from (relative to your vault root). Note that empty directories will not be returned."`
}

type fileArgs struct {
	FilePath string `json:"filepath" jsonschema:"description=Path to the relevant file (relative to your vault root)."`
}

type simpleSearchArgs struct {
	Query         string `json:"query" jsonschema:"description=Text to a simple search for in the vault."`
	ContextLength *int   `json:"context_length,omitempty" jsonschema:"description=How much context to return around the matching string,default=100"`
}

type complexSearchArgs struct {
	Query map[string]any `json:"query" jsonschema:"description=JsonLogic query object. The glob and regexp operators match against vars such as path"`
}

type batchArgs struct {
	FilePaths []string `json:"filepaths" jsonschema:"description=List of file paths to read"`
}

type writeArgs struct {
	FilePath string `json:"filepath" jsonschema:"description=Path to the file (relative to vault root)"`
	Content  string `json:"content" jsonschema:"description=Content to write to the file"`
}

type patchArgs struct {
	FilePath   string `json:"filepath" jsonschema:"description=Path to the file (relative to vault root)"`
	Operation  string `json:"operation" jsonschema:"description=Operation to perform,enum=append,enum=prepend,enum=replace"`
	TargetType string `json:"target_type" jsonschema:"description=Type of target to patch,enum=heading,enum=block,enum=frontmatter"`
	Target     string `json:"target" jsonschema:"description=Target identifier (heading path or block reference or frontmatter field)"`
	Content    string `json:"content" jsonschema:"description=Content to insert"`
}

type deleteArgs struct {
	FilePath string `json:"filepath" jsonschema:"description=Path to the file or directory to delete (relative to vault root)"`
	Confirm  bool   `json:"confirm" jsonschema:"description=Confirmation to delete the file (must be true)"`
}

type periodicArgs struct {
	Period string `json:"period" jsonschema:"description=The period type,enum=daily,enum=weekly,enum=monthly,enum=quarterly,enum=yearly"`
	Type   string `json:"type,omitempty" jsonschema:"description=The type of data to get,enum=content,enum=metadata,default=content"`
}

type recentPeriodicArgs struct {
	Period         string `json:"period" jsonschema:"description=The period type,enum=daily,enum=weekly,enum=monthly,enum=quarterly,enum=yearly"`
	Limit          *int   `json:"limit,omitempty" jsonschema:"description=Maximum number of notes to return,default=5,minimum=1,maximum=50"`
	IncludeContent bool   `json:"include_content,omitempty" jsonschema:"description=Whether to include note content,default=false"`
}

type recentChangesArgs struct {
	Limit *int `json:"limit,omitempty" jsonschema:"description=Maximum number of files to return,default=10,minimum=1,maximum=100"`
	Days  *int `json:"days,omitempty" jsonschema:"description=Only include files modified within this many days,default=90,minimum=1"`
}

func jsonText(v any) ([]tools.Content, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return tools.TextResult(string(b)), nil
}

// rawJSONText re-indents a JSON document returned by the vault.
func rawJSONText(raw json.RawMessage) ([]tools.Content, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return tools.TextResult(string(raw)), nil
	}
	return jsonText(v)
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func checkRange(name string, v, lo, hi int) error {
	if v < lo || (hi > 0 && v > hi) {
		if hi > 0 {
			return fmt.Errorf("%s must be between %d and %d", name, lo, hi)
		}
		return fmt.Errorf("%s must be at least %d", name, lo)
	}
	return nil
}

func required(name, v string) error {
	if v == "" {
		return fmt.Errorf("%s is required", name)
	}
	return nil
}

func (c *catalog) listFilesInVault(ctx context.Context, _ noArgs) ([]tools.Content, error) {
	files, err := c.v.ListFilesInVault(ctx)
	if err != nil {
		return nil, err
	}
	return jsonText(files)
}

func (c *catalog) listFilesInDir(ctx context.Context, a dirArgs) ([]tools.Content, error) {
	if err := required("dirpath", a.DirPath); err != nil {
		return nil, err
	}
	files, err := c.v.ListFilesInDir(ctx, a.DirPath)
	if err != nil {
		return nil, err
	}
	return jsonText(files)
}

func (c *catalog) getFileContents(ctx context.Context, a fileArgs) ([]tools.Content, error) {
	if err := required("filepath", a.FilePath); err != nil {
		return nil, err
	}
	content, err := c.v.GetFileContents(ctx, a.FilePath)
	if err != nil {
		return nil, err
	}
	return tools.TextResult(content), nil
}

type matchPosition struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type formattedMatch struct {
	Context       string        `json:"context"`
	MatchPosition matchPosition `json:"match_position"`
}

type formattedResult struct {
	Filename string           `json:"filename"`
	Score    float64          `json:"score"`
	Matches  []formattedMatch `json:"matches"`
}

func (c *catalog) simpleSearch(ctx context.Context, a simpleSearchArgs) ([]tools.Content, error) {
	if err := required("query", a.Query); err != nil {
		return nil, err
	}
	contextLength := intOr(a.ContextLength, 100)
	if contextLength < 0 {
		return nil, errors.New("context_length must not be negative")
	}
	results, err := c.v.Search(ctx, a.Query, contextLength)
	if err != nil {
		return nil, err
	}
	out := make([]formattedResult, 0, len(results))
	for _, r := range results {
		fr := formattedResult{Filename: r.Filename, Score: r.Score, Matches: make([]formattedMatch, 0, len(r.Matches))}
		for _, m := range r.Matches {
			fr.Matches = append(fr.Matches, formattedMatch{
				Context:       m.Context,
				MatchPosition: matchPosition{Start: m.Match.Start, End: m.Match.End},
			})
		}
		out = append(out, fr)
	}
	return jsonText(out)
}

func (c *catalog) complexSearch(ctx context.Context, a complexSearchArgs) ([]tools.Content, error) {
	if len(a.Query) == 0 {
		return nil, errors.New("query is required")
	}
	raw, err := c.v.SearchJSON(ctx, a.Query)
	if err != nil {
		return nil, err
	}
	return rawJSONText(raw)
}

func (c *catalog) batchGetFileContents(ctx context.Context, a batchArgs) ([]tools.Content, error) {
	if len(a.FilePaths) == 0 {
		return nil, errors.New("filepaths must not be empty")
	}
	content, err := c.v.GetBatchFileContents(ctx, a.FilePaths)
	if err != nil {
		return nil, err
	}
	return tools.TextResult(content), nil
}

func (c *catalog) appendContent(ctx context.Context, a writeArgs) ([]tools.Content, error) {
	if err := required("filepath", a.FilePath); err != nil {
		return nil, err
	}
	if err := c.v.AppendContent(ctx, a.FilePath, a.Content); err != nil {
		return nil, err
	}
	return tools.TextResultf("Successfully appended content to %s", a.FilePath), nil
}

func (c *catalog) putContent(ctx context.Context, a writeArgs) ([]tools.Content, error) {
	if err := required("filepath", a.FilePath); err != nil {
		return nil, err
	}
	if err := c.v.PutContent(ctx, a.FilePath, a.Content); err != nil {
		return nil, err
	}
	return tools.TextResultf("Successfully uploaded content to %s", a.FilePath), nil
}

func (c *catalog) patchContent(ctx context.Context, a patchArgs) ([]tools.Content, error) {
	if err := required("filepath", a.FilePath); err != nil {
		return nil, err
	}
	if err := required("target", a.Target); err != nil {
		return nil, err
	}
	op := vault.PatchOperation(a.Operation)
	if !slices.Contains([]vault.PatchOperation{vault.PatchAppend, vault.PatchPrepend, vault.PatchReplace}, op) {
		return nil, fmt.Errorf("invalid operation %q: must be append, prepend or replace", a.Operation)
	}
	tt := vault.PatchTarget(a.TargetType)
	if !slices.Contains([]vault.PatchTarget{vault.TargetHeading, vault.TargetBlock, vault.TargetFrontmatter}, tt) {
		return nil, fmt.Errorf("invalid target_type %q: must be heading, block or frontmatter", a.TargetType)
	}
	if err := c.v.PatchContent(ctx, a.FilePath, op, tt, a.Target, a.Content); err != nil {
		return nil, err
	}
	return tools.TextResultf("Successfully patched content in %s", a.FilePath), nil
}

func (c *catalog) deleteFile(ctx context.Context, a deleteArgs) ([]tools.Content, error) {
	if err := required("filepath", a.FilePath); err != nil {
		return nil, err
	}
	if !a.Confirm {
		return nil, errors.New("confirm must be set to true to delete a file")
	}
	if err := c.v.DeleteFile(ctx, a.FilePath); err != nil {
		return nil, err
	}
	return tools.TextResultf("Successfully deleted %s", a.FilePath), nil
}

func checkPeriod(p string) error {
	if !slices.Contains(periods, p) {
		return fmt.Errorf("invalid period %q: must be one of daily, weekly, monthly, quarterly, yearly", p)
	}
	return nil
}

func (c *catalog) getPeriodicNote(ctx context.Context, a periodicArgs) ([]tools.Content, error) {
	if err := checkPeriod(a.Period); err != nil {
		return nil, err
	}
	noteType := a.Type
	if noteType == "" {
		noteType = "content"
	}
	if noteType != "content" && noteType != "metadata" {
		return nil, fmt.Errorf("invalid type %q: must be content or metadata", a.Type)
	}
	content, err := c.v.GetPeriodicNote(ctx, a.Period, noteType)
	if err != nil {
		return nil, err
	}
	return tools.TextResult(content), nil
}

func (c *catalog) getRecentPeriodicNotes(ctx context.Context, a recentPeriodicArgs) ([]tools.Content, error) {
	if err := checkPeriod(a.Period); err != nil {
		return nil, err
	}
	limit := intOr(a.Limit, 5)
	if err := checkRange("limit", limit, 1, 50); err != nil {
		return nil, err
	}
	raw, err := c.v.GetRecentPeriodicNotes(ctx, a.Period, limit, a.IncludeContent)
	if err != nil {
		return nil, err
	}
	return rawJSONText(raw)
}

func (c *catalog) getRecentChanges(ctx context.Context, a recentChangesArgs) ([]tools.Content, error) {
	limit := intOr(a.Limit, 10)
	if err := checkRange("limit", limit, 1, 100); err != nil {
		return nil, err
	}
	days := intOr(a.Days, 90)
	if err := checkRange("days", days, 1, 0); err != nil {
		return nil, err
	}
	raw, err := c.v.GetRecentChanges(ctx, limit, days)
	if err != nil {
		return nil, err
	}
	return rawJSONText(raw)
}
