// internal/targets/identities.go
package targets

import (
	"fmt"
	"os"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/xkilldash9x/courier-cli/api/schemas"
)

// identityEntry is the on-disk shape of a campaign identity. The secret
// itself never appears in the file; secret_env names the variable that
// holds it.
type identityEntry struct {
	Principal string `mapstructure:"principal"`
	SecretEnv string `mapstructure:"secret_env"`
}

// LoadIdentities reads a campaign identities file and resolves each secret
// through its named environment variable. Secrets live only in the returned
// values; nothing is written back.
func LoadIdentities(path string) ([]schemas.Identity, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("expanding identities path: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(expanded)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading identities file: %w", err)
	}

	var entries []identityEntry
	if err := v.UnmarshalKey("identities", &entries); err != nil {
		return nil, fmt.Errorf("parsing identities file: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("identities file %s lists no identities", path)
	}

	seen := make(map[string]struct{}, len(entries))
	out := make([]schemas.Identity, 0, len(entries))
	for i, e := range entries {
		if e.Principal == "" {
			return nil, fmt.Errorf("identity %d has no principal", i+1)
		}
		if e.SecretEnv == "" {
			return nil, fmt.Errorf("identity %q names no secret_env", e.Principal)
		}
		if _, dup := seen[e.Principal]; dup {
			return nil, fmt.Errorf("identity %q listed twice", e.Principal)
		}
		seen[e.Principal] = struct{}{}

		secret := os.Getenv(e.SecretEnv)
		if secret == "" {
			return nil, fmt.Errorf("identity %q: environment variable %s is empty or unset", e.Principal, e.SecretEnv)
		}
		out = append(out, schemas.Identity{Principal: e.Principal, Secret: secret})
	}
	return out, nil
}
