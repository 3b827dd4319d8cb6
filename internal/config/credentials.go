package config

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/JakeFAU/article-harvester/internal/retrieval"
)

// Credentials reads realm logins from credentials.<realm>.username and
// credentials.<realm>.password, or from HARVESTER_CREDENTIALS_<REALM>_USERNAME
// and HARVESTER_CREDENTIALS_<REALM>_PASSWORD.
type Credentials struct {
	v *viper.Viper
}

// Credentials implements retrieval.CredentialSource.
func (c *Credentials) Credentials(_ context.Context, realm string) (retrieval.Credentials, error) {
	key := "credentials." + strings.ToLower(realm)
	creds := retrieval.Credentials{
		Username: c.v.GetString(key + ".username"),
		Password: c.v.GetString(key + ".password"),
	}
	if creds.Username == "" || creds.Password == "" {
		return retrieval.Credentials{}, fmt.Errorf("credentials for realm %q are not configured", realm)
	}
	return creds, nil
}
