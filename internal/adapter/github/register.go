package github

import "github.com/devitalik/devitalik/internal/port/gitprovider"

func init() {
	gitprovider.Register(providerName, func(config map[string]string) (gitprovider.Provider, error) {
		return New(config["access_token"], config["api_base_url"])
	})
}
