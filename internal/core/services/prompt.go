package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/manthysbr/aule-agent/internal/core/domain"
)

// basePrompt is the identity shared by every job type.
const basePrompt = `You are Aule, an engineering agent with access to tools.
You work on software projects: reading and writing files, running commands and reviewing code.
Prefer small verifiable steps. Call a tool when you need information you do not have.
Never invent tool names; use only the tools you were given.`

const autonomousBlock = `

## Autonomous Execution Mode
You are running as an AUTONOMOUS AGENT.
- Execute the task completely without user interaction
- Use tools as needed to accomplish the goal
- Report progress clearly
- When complete, provide a comprehensive summary
`

// codeIterationDefaultCap is what the prompt advertises when a code
// iteration job sets no cap of its own.
const codeIterationDefaultCap = 5

var specialistPrompts = map[domain.Specialist]string{
	domain.SpecialistCodeReviewer: `You are an expert code reviewer. Your job is to:
- Review code for bugs, security issues, and maintainability
- Suggest improvements and best practices
- Identify potential performance bottlenecks
- Check for proper error handling
Be thorough but constructive.`,

	domain.SpecialistSecurityAuditor: `You are a security auditor. Your job is to:
- Identify security vulnerabilities (OWASP Top 10)
- Check for injection risks, XSS, CSRF
- Review authentication and authorization logic
- Audit secrets management and data exposure
Flag severity levels: CRITICAL, HIGH, MEDIUM, LOW.`,

	domain.SpecialistPerformanceAnalyst: `You are a performance analyst. Your job is to:
- Identify performance bottlenecks
- Analyze algorithmic complexity
- Review database query efficiency
- Look for needless allocations and blocking calls
Provide specific, actionable recommendations.`,

	domain.SpecialistDocumentationWriter: `You are a documentation writer. Your job is to:
- Write clear, comprehensive documentation
- Create API documentation with examples
- Write README files and getting started guides
Use clear language and include examples.`,

	domain.SpecialistTestGenerator: `You are a test generator. Your job is to:
- Write comprehensive unit tests
- Create integration tests
- Cover edge cases and error scenarios
Use the project's existing testing framework.`,

	domain.SpecialistRefactoringExpert: `You are a refactoring expert. Your job is to:
- Identify code that needs refactoring
- Apply SOLID principles
- Simplify complex logic
- Improve code readability
Make incremental, testable changes.`,
}

// SpecialistPrompt returns the role block for a specialist, if one exists.
func SpecialistPrompt(s domain.Specialist) (string, bool) {
	p, ok := specialistPrompts[s]
	return p, ok
}

// BuildSystemPrompt composes the base prompt with the job-type specific
// block and the optional task context, serialized verbatim.
func BuildSystemPrompt(input domain.TaskInput) string {
	var b strings.Builder
	b.WriteString(basePrompt)
	b.WriteString(autonomousBlock)

	var taskContext domain.TaskContext
	switch in := input.(type) {
	case domain.SpecialistDelegationTask:
		if role, ok := SpecialistPrompt(in.Specialist); ok {
			b.WriteString("\n## Specialist Role\n")
			b.WriteString(role)
			b.WriteString("\n")
		}
		taskContext = in.Context
	case domain.CodeIterationTask:
		writeCodeIterationBlock(&b, in)
	case domain.GeneralTask:
		if in.Label != "" || in.Category != "" || in.Priority != "" {
			b.WriteString("\n## Task\n")
			if in.Label != "" {
				fmt.Fprintf(&b, "Label: %s\n", in.Label)
			}
			if in.Category != "" {
				fmt.Fprintf(&b, "Category: %s\n", in.Category)
			}
			if in.Priority != "" {
				fmt.Fprintf(&b, "Priority: %s\n", in.Priority)
			}
		}
		taskContext = in.Context
	}

	if ctxBlock := formatTaskContext(taskContext); ctxBlock != "" {
		b.WriteString("\n## Task Context\n")
		b.WriteString(ctxBlock)
		b.WriteString("\n")
	}

	return b.String()
}

func writeCodeIterationBlock(b *strings.Builder, in domain.CodeIterationTask) {
	maxIters := in.MaxIterations
	if maxIters <= 0 {
		maxIters = codeIterationDefaultCap
	}
	b.WriteString("\n## Code Iteration Mode\n")
	fmt.Fprintf(b, "Goal: %s\n", in.Goal)
	fmt.Fprintf(b, "Sandbox ID: %s\n", in.SandboxID)
	fmt.Fprintf(b, "Max iterations: %d\n", maxIters)
	if in.TestCommand != "" {
		fmt.Fprintf(b, "Test command: %s\n", in.TestCommand)
	}
	if in.CommitChanges {
		b.WriteString("Commit changes when successful\n")
	}
	if in.StopOnSuccess {
		b.WriteString("Stop as soon as the tests pass\n")
	}
	b.WriteString("\nLoop: Analyze -> Modify -> Test -> Repeat until goal achieved.\n")
}

// formatTaskContext indents the raw context without decoding it, so keys
// keep the order the caller sent them in.
func formatTaskContext(raw domain.TaskContext) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var out bytes.Buffer
	if err := json.Indent(&out, trimmed, "", "  "); err != nil {
		return string(trimmed)
	}
	return out.String()
}
