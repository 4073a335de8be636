package httpadapter

import "github.com/kirillkom/repo-assistant/internal/config"

// AccessPolicy decides which projects a caller may touch. An empty allow list
// admits everyone; otherwise the project must be listed or the caller must
// present an admin token.
type AccessPolicy struct {
	allowed map[string]struct{}
	admins  map[string]struct{}
}

func NewAccessPolicy(cfg config.Config) AccessPolicy {
	return AccessPolicy{
		allowed: toSet(cfg.AllowedProjects),
		admins:  toSet(cfg.AdminTokens),
	}
}

func (p AccessPolicy) IsAdmin(token string) bool {
	if token == "" {
		return false
	}
	_, ok := p.admins[token]
	return ok
}

func (p AccessPolicy) CanAccessProject(projectID, token string) bool {
	if len(p.allowed) == 0 {
		return true
	}
	if _, ok := p.allowed[projectID]; ok {
		return true
	}
	return p.IsAdmin(token)
}

func toSet(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[v] = struct{}{}
	}
	return out
}
