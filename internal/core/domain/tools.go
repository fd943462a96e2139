package domain

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// AccessLevel orders what a caller may touch. Higher values include lower ones.
type AccessLevel int

const (
	AccessVisitor AccessLevel = iota
	AccessCollaborator
	AccessOwner
)

func (a AccessLevel) String() string {
	switch a {
	case AccessOwner:
		return "owner"
	case AccessCollaborator:
		return "collaborator"
	default:
		return "visitor"
	}
}

// ParseAccessLevel maps the stored string form back to a level. Unknown
// values degrade to visitor.
func ParseAccessLevel(s string) AccessLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "owner":
		return AccessOwner
	case "collaborator":
		return AccessCollaborator
	default:
		return AccessVisitor
	}
}

// CallerScope is forwarded untouched to every tool call so the tool can
// enforce its own authorization.
type CallerScope struct {
	UserID      string      `json:"user_id"`
	AccessLevel AccessLevel `json:"access_level"`
	JobID       JobID       `json:"job_id"`
	SandboxID   string      `json:"sandbox_id,omitempty"`
}

// Tool represents an executable capability available to the agent
type Tool struct {
	Name        string
	Description string
	Parameters  ToolParameters
	Execute     ToolExecutor
	// MinAccess is the lowest access level that sees and may call the tool.
	MinAccess AccessLevel
	// Timeout bounds a single call. Zero means the tool manages its own.
	Timeout time.Duration
}

// ToolParameters defines the schema for tool inputs
type ToolParameters struct {
	Type       string                 `json:"type"`       // "object"
	Properties map[string]interface{} `json:"properties"` // param definitions
	Required   []string               `json:"required"`   // required param names
}

// ToolExecutor is the function signature for tool execution
type ToolExecutor func(ctx context.Context, scope CallerScope, params map[string]interface{}) (interface{}, error)

// ToolSchema is the provider-facing description of a tool.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema ToolParameters `json:"input_schema"`
}

// ToolRegistry manages available tools
type ToolRegistry struct {
	tools map[string]*Tool
}

// NewToolRegistry creates a new empty registry
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: make(map[string]*Tool),
	}
}

// Register adds a tool to the registry
func (r *ToolRegistry) Register(tool *Tool) error {
	if tool.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if tool.Execute == nil {
		return fmt.Errorf("tool %s has no executor", tool.Name)
	}
	if tool.Parameters.Type == "" {
		tool.Parameters.Type = "object"
	}
	r.tools[tool.Name] = tool
	return nil
}

// Lookup returns the tool for name. Unknown names come back with the closest
// registered name as a suggestion, or "" when nothing is close.
func (r *ToolRegistry) Lookup(name string) (*Tool, string, bool) {
	if tool, ok := r.tools[name]; ok {
		return tool, "", true
	}
	return nil, r.fuzzyMatch(name), false
}

// fuzzyMatch finds the best matching tool name for a hallucinated/wrong name.
// It uses word-overlap scoring + Levenshtein distance as tiebreaker.
func (r *ToolRegistry) fuzzyMatch(input string) string {
	inputWords := splitToolWords(input)

	bestName := ""
	bestScore := 0

	for _, name := range r.names() {
		score := wordOverlapScore(inputWords, splitToolWords(name))
		if score > bestScore {
			bestScore = score
			bestName = name
		} else if score == bestScore && score > 0 {
			if levenshtein(input, name) < levenshtein(input, bestName) {
				bestName = name
			}
		}
	}

	if bestScore >= 1 {
		return bestName
	}
	return ""
}

func splitToolWords(name string) []string {
	parts := []string{}
	for _, p := range strings.Split(strings.ToLower(name), "_") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

func wordOverlapScore(a, b []string) int {
	set := make(map[string]bool, len(b))
	for _, w := range b {
		set[w] = true
	}
	score := 0
	for _, w := range a {
		if set[w] {
			score++
		}
	}
	return score
}

func levenshtein(a, b string) int {
	la, lb := len(a), len(b)
	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}
	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		curr[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(curr[j-1]+1, min(prev[j]+1, prev[j-1]+cost))
		}
		prev, curr = curr, prev
	}
	return prev[lb]
}

func (r *ToolRegistry) names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListTools returns all registered tools sorted by name
func (r *ToolRegistry) ListTools() []*Tool {
	tools := make([]*Tool, 0, len(r.tools))
	for _, name := range r.names() {
		tools = append(tools, r.tools[name])
	}
	return tools
}

// SchemasFor exports the tools visible at the given access level, sorted by
// name so the provider sees the same order on every turn.
func (r *ToolRegistry) SchemasFor(level AccessLevel) []ToolSchema {
	schemas := make([]ToolSchema, 0, len(r.tools))
	for _, tool := range r.ListTools() {
		if level < tool.MinAccess {
			continue
		}
		schemas = append(schemas, ToolSchema{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.Parameters,
		})
	}
	return schemas
}
