package config

import (
	"maps"
	"os"
	"slices"

	"github.com/neulab/pr-arena/internal/envfile"
)

// Key is a value that can be kept in the config file.
type Key struct {
	Name     string
	Desc     string
	Required bool
	Secret   bool
}

// Keys lists the config file values in display order.
var Keys = []Key{
	{Name: "GITHUB_TOKEN", Desc: "GitHub token (repo scope)", Required: true, Secret: true},
	{Name: "GITHUB_USERNAME", Desc: "GitHub username used for pushes"},
	{Name: "LLM_API_KEY", Desc: "LLM API key (fetched from remote config when unset)", Secret: true},
	{Name: "LLM_BASE_URL", Desc: "LLM base URL"},
	{Name: "LLM_MODELS", Desc: "Comma-separated model pool"},
	{Name: "PRARENA_PR_TYPE", Desc: "branch, draft or ready"},
	{Name: "PRARENA_AGENT_COMMAND", Desc: "Resolver command"},
	{Name: "PRARENA_RUNTIME_IMAGE", Desc: "Container image for the resolver"},
	{Name: "PRARENA_MODELS_FILE", Desc: "YAML file mapping model names to IDs"},
	{Name: "PRARENA_ADDR", Desc: "API server listen address"},
	{Name: "GITHUB_WEBHOOK_SECRET", Desc: "Secret for GitHub webhook signatures", Secret: true},
	{Name: "SLACK_BOT_TOKEN", Desc: "Slack Bot User OAuth Token (xoxb-...)", Secret: true},
	{Name: "SLACK_CHANNEL", Desc: "Slack channel for arena notices"},
	{Name: "TELEGRAM_BOT_TOKEN", Desc: "Telegram bot token (from @BotFather)", Secret: true},
	{Name: "TELEGRAM_CHAT_ID", Desc: "Telegram chat for arena notices"},
}

// LookupKey returns the Key called name.
func LookupKey(name string) (Key, bool) {
	i := slices.IndexFunc(Keys, func(k Key) bool { return k.Name == name })
	if i < 0 {
		return Key{Name: name}, false
	}
	return Keys[i], true
}

var fileHeader = []string{
	"PR Arena configuration, managed by `prarena config`.",
	"Environment variables override these values.",
}

// ReadFile returns the values stored in the config file at path. A missing
// file has no values.
func ReadFile(path string) (map[string]string, error) {
	return envfile.Read(path)
}

// SetFileValue stores key=value in the config file at path. An empty value
// removes the key. Known keys are written in Keys order, others after them
// sorted by name.
func SetFileValue(path, key, value string) error {
	vals, err := ReadFile(path)
	if err != nil {
		return err
	}
	vals[key] = value

	var pairs []envfile.Pair
	for _, k := range Keys {
		if v := vals[k.Name]; v != "" {
			pairs = append(pairs, envfile.Pair{Key: k.Name, Value: v})
		}
		delete(vals, k.Name)
	}
	for _, name := range slices.Sorted(maps.Keys(vals)) {
		if v := vals[name]; v != "" {
			pairs = append(pairs, envfile.Pair{Key: name, Value: v})
		}
	}
	return envfile.Write(path, fileHeader, pairs)
}

// applyFile exports the values in the config file at path that the
// environment does not already set.
func applyFile(path string) error {
	vals, err := ReadFile(path)
	if err != nil {
		return err
	}
	for k, v := range vals {
		if os.Getenv(k) == "" {
			os.Setenv(k, v)
		}
	}
	return nil
}
