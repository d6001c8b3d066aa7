// Package gitenv builds the git-specific process environment for the agent:
// host-scoped HTTP auth via git config overrides, commit identity variables,
// and SSH key materialization with a generated ssh config.
package gitenv

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/gitwarden/gitwarden/internal/settings"
)

// AuthDirective is one git config key/value pair injected via the indexed
// GIT_CONFIG_* environment override mechanism.
type AuthDirective struct {
	Key   string
	Value string
}

// BuildGitEnv renders host-scoped auth headers for every usable PAT
// credential. Credentials missing a host or token are skipped, never fatal.
//
// The output is the indexed form git reads directly:
//
//	GIT_CONFIG_COUNT=1
//	GIT_CONFIG_KEY_0=http.https://github.com/.extraheader
//	GIT_CONFIG_VALUE_0=Authorization: basic <b64(user:token)>
func BuildGitEnv(creds []*settings.GitCredential) []string {
	directives := AuthDirectives(creds)
	if len(directives) == 0 {
		return nil
	}

	env := make([]string, 0, len(directives)+1)
	env = append(env, fmt.Sprintf("GIT_CONFIG_COUNT=%d", len(directives)))
	for i, d := range directives {
		env = append(env, fmt.Sprintf("GIT_CONFIG_KEY_%d=%s", i, d.Key))
		env = append(env, fmt.Sprintf("GIT_CONFIG_VALUE_%d=%s", i, d.Value))
	}
	return env
}

// AuthDirectives returns the config override pairs for the given credentials.
func AuthDirectives(creds []*settings.GitCredential) []AuthDirective {
	var directives []AuthDirective
	for _, cred := range creds {
		if cred.AuthKind != settings.AuthKindPAT {
			continue
		}
		if cred.Host == "" || cred.Token == "" {
			continue
		}
		user := resolveUsername(cred)
		basic := base64.StdEncoding.EncodeToString([]byte(user + ":" + cred.Token))
		directives = append(directives, AuthDirective{
			Key:   fmt.Sprintf("http.https://%s/.extraheader", cred.Host),
			Value: "Authorization: basic " + basic,
		})
	}
	return directives
}

// resolveUsername picks the basic-auth username for a token credential.
// Explicit usernames win; github.com tokens use the x-access-token
// convention; everything else authenticates as oauth2.
func resolveUsername(cred *settings.GitCredential) string {
	if cred.Username != "" {
		return cred.Username
	}
	host := cred.Host
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	if host == "github.com" {
		return "x-access-token"
	}
	return "oauth2"
}
