package llm

import "strings"

const openRouterBaseURL = "https://openrouter.ai/api/v1"

// openRouterHeaders sets the optional attribution headers OpenRouter uses for app rankings.
func openRouterHeaders(env Env) map[string]string {
	headers := map[string]string{}
	if env == nil {
		return nil
	}
	if v, ok := env.Lookup("OPEN_ROUTER_APP_URL"); ok && strings.TrimSpace(v) != "" {
		headers["HTTP-Referer"] = strings.TrimSpace(v)
	}
	if v, ok := env.Lookup("OPEN_ROUTER_APP_TITLE"); ok && strings.TrimSpace(v) != "" {
		headers["X-Title"] = strings.TrimSpace(v)
	}
	if len(headers) == 0 {
		return nil
	}
	return headers
}
