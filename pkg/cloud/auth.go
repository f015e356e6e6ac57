package cloud

import "github.com/matzehuels/storagex/pkg/config"

// AuthConfig carries the credentials a backend needs to connect. Each
// provider reads only the fields relevant to it.
type AuthConfig struct {
	DropboxAccessToken    string
	GDriveCredentialsFile string
	RedisPassword         string
	MongoURI              string
}

// AuthConfigFromCloudConfig returns one AuthConfig per resolved Dropbox
// token. Empty tokens (unset or unresolved) are skipped.
func AuthConfigFromCloudConfig(cfg *config.CloudConfig) []AuthConfig {
	var out []AuthConfig
	for _, t := range cfg.DropboxAccessTokens {
		if t == "" {
			continue
		}
		out = append(out, AuthConfig{DropboxAccessToken: t})
	}
	return out
}
