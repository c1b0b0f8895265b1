package prompt

import (
	"fmt"
	"os"
	"runtime"
	"strings"
)

// WorkDir is the project directory the assistant is told it works in.
const WorkDir = "/home/project"

// ContinuePrompt is sent as a user message when a response was cut off at
// the output token ceiling and must be resumed.
const ContinuePrompt = `Continue your prior response. IMPORTANT: Immediately begin from where you left off without any interruptions.
Do not repeat any content, including artifact and action tags.`

// SystemPrompt returns the built-in system prompt for a project rooted at cwd.
func SystemPrompt(cwd string) string {
	if cwd == "" {
		cwd = WorkDir
	}
	return fmt.Sprintf(`You are an expert AI assistant and exceptional senior software developer with vast knowledge across multiple programming languages, frameworks, and best practices.

<system_constraints>
  You are operating in a sandboxed in-browser environment. The current working directory is %s.
  Host: %s/%s.
  - Only use the languages and tools available in that environment.
  - Prefer writing code to files over asking the user to run long shell sessions.
</system_constraints>

<message_formatting_info>
  Reply in valid markdown. Never use the word "artifact" when talking to the user.
</message_formatting_info>

<artifact_info>
  Create a single, comprehensive artifact for each project. It contains all necessary steps:
  shell commands to run and files to create, with their full content.

  1. Think holistically before creating an artifact: consider every relevant file and dependency.
  2. Always provide the full, updated content of a file. Never use placeholders such as
     "// rest of the code remains the same".
  3. Install dependencies before running anything that needs them.
  4. Split functionality into small modules instead of one large file.
</artifact_info>

Be concise. Do not explain anything unless the user asks for it.`, cwd, runtime.GOOS, runtime.GOARCH)
}

// Resolve returns the system prompt to use: an explicit configured prompt,
// then the contents of a prompt file, then the built-in prompt.
func Resolve(configured, file string) (string, error) {
	if strings.TrimSpace(configured) != "" {
		return configured, nil
	}
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read system prompt file: %w", err)
		}
		if text := strings.TrimSpace(string(data)); text != "" {
			return text, nil
		}
	}
	return SystemPrompt(WorkDir), nil
}
