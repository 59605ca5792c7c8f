package secrets

import "os"

// Service secret environment variables.
const (
	KeyGitHubToken   = "GITHUB_ACCESS_TOKEN"
	KeyWebhookSecret = "DEVITALIK_WEBHOOK_SECRET"
	KeyDiscordToken  = "DISCORD_TOKEN"
	KeyLLMAPIKey     = "LLM_API_KEY"
)

// DefaultKeys lists every secret the service reads from the environment.
func DefaultKeys() []string {
	return []string{KeyGitHubToken, KeyWebhookSecret, KeyDiscordToken, KeyLLMAPIKey}
}

// EnvLoader returns a Loader that reads the given environment variables,
// omitting ones that are unset or empty.
func EnvLoader(keys ...string) Loader {
	return func() (map[string]string, error) {
		vals := make(map[string]string, len(keys))
		for _, k := range keys {
			if v := os.Getenv(k); v != "" {
				vals[k] = v
			}
		}
		return vals, nil
	}
}
