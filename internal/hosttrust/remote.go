package hosttrust

import (
	"net/url"
	"strconv"
	"strings"

	apperrors "github.com/gitwarden/gitwarden/internal/common/errors"
)

// ParseRemoteHost extracts the SSH host and port from a git remote
// reference. Supported forms:
//
//	git@github.com:org/repo.git       (scp-like)
//	ssh://git@github.com:2222/repo    (URL)
//	github.com:org/repo.git           (scp-like, no user)
//	[git.internal]:2222               (bracketed host:port)
//
// Port 0 means the default port 22.
func ParseRemoteHost(remoteRef string) (string, int, error) {
	ref := strings.TrimSpace(remoteRef)
	if ref == "" {
		return "", 0, apperrors.Validation("remote reference is empty")
	}

	if strings.HasPrefix(ref, "ssh://") {
		u, err := url.Parse(ref)
		if err != nil || u.Hostname() == "" {
			return "", 0, apperrors.Validation("malformed ssh:// remote reference")
		}
		port := 0
		if p := u.Port(); p != "" {
			port, err = strconv.Atoi(p)
			if err != nil {
				return "", 0, apperrors.Validation("malformed port in remote reference")
			}
		}
		return u.Hostname(), port, nil
	}

	// Unsupported transports are not SSH verification targets.
	if strings.Contains(ref, "://") {
		return "", 0, apperrors.Validation("remote reference is not an ssh remote")
	}

	// Strip the scp-like user@ prefix.
	if i := strings.IndexByte(ref, '@'); i >= 0 {
		ref = ref[i+1:]
	}

	if strings.HasPrefix(ref, "[") {
		end := strings.Index(ref, "]:")
		if end < 0 {
			return "", 0, apperrors.Validation("malformed bracketed remote reference")
		}
		host := ref[1:end]
		rest := ref[end+2:]
		if i := strings.IndexByte(rest, ':'); i >= 0 {
			rest = rest[:i]
		}
		port, err := strconv.Atoi(rest)
		if err != nil || host == "" {
			return "", 0, apperrors.Validation("malformed bracketed remote reference")
		}
		return host, port, nil
	}

	// scp-like: everything before the first ':' is the host.
	host := ref
	if i := strings.IndexByte(ref, ':'); i >= 0 {
		host = ref[:i]
	}
	if host == "" || strings.ContainsAny(host, "/ ") {
		return "", 0, apperrors.Validation("could not parse host from remote reference")
	}
	return host, 0, nil
}

// CanonicalHostKey renders the known-hosts host field: bare hostname for the
// default port, "[host]:port" otherwise.
func CanonicalHostKey(host string, port int) string {
	if port == 0 || port == 22 {
		return host
	}
	return "[" + host + "]:" + strconv.Itoa(port)
}
