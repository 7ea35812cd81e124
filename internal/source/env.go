package source

import "github.com/couchcryptid/humanitarian-data-etl/internal/domain"

// Credential is a named setting an adapter needs before it may call out.
type Credential struct {
	Env   string
	Value string
}

// RequireEnv returns a *domain.ConfigurationError naming every empty credential.
func RequireEnv(source string, creds ...Credential) error {
	var missing []string
	for _, c := range creds {
		if c.Value == "" {
			missing = append(missing, c.Env)
		}
	}
	if len(missing) > 0 {
		return &domain.ConfigurationError{Source: source, Missing: missing}
	}
	return nil
}
