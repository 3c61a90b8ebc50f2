package rules

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Whitelist holds the role and user names exempt from deletion logging and,
// separately, those granting moderator-command authorization. All name
// comparisons are case-insensitive.
type Whitelist struct {
	staff   map[string]struct{}
	trusted map[string]struct{}
	users   map[string]struct{}
}

func NewWhitelist(staffRoles, trustedRoles, users []string) *Whitelist {
	return &Whitelist{
		staff:   lowerSet(staffRoles),
		trusted: lowerSet(trustedRoles),
		users:   lowerSet(users),
	}
}

// IsLoggingExempt reports whether deletions authored by this user are kept
// out of the delete relay: whitelisted username, or any staff or trusted role.
func (w *Whitelist) IsLoggingExempt(username string, roleNames []string) bool {
	if _, ok := w.users[strings.ToLower(username)]; ok {
		return true
	}
	for _, role := range roleNames {
		lower := strings.ToLower(role)
		if _, ok := w.staff[lower]; ok {
			return true
		}
		if _, ok := w.trusted[lower]; ok {
			return true
		}
	}
	return false
}

// IsStaff gates privileged commands: staff role membership or whitelisted
// username. Trusted roles are exempt from logging but carry no authority.
func (w *Whitelist) IsStaff(username string, roleNames []string) bool {
	if _, ok := w.users[strings.ToLower(username)]; ok {
		return true
	}
	for _, role := range roleNames {
		if _, ok := w.staff[strings.ToLower(role)]; ok {
			return true
		}
	}
	return false
}

// Pattern is one named moderation rule; Regex is matched case-insensitively
// against message text in file order.
type Pattern struct {
	Name  string
	Regex string
}

// Snapshot is one immutable load of every rule topic.
type Snapshot struct {
	Whitelist      *Whitelist
	Patterns       []Pattern
	BlockedDomains map[string]struct{}
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		Whitelist:      NewWhitelist(nil, nil, nil),
		BlockedDomains: map[string]struct{}{},
	}
}

// Store loads rule topics from a directory, one file per topic keyed by file
// stem, and serves the latest snapshot. Reload replaces the whole snapshot
// atomically; it never merges.
type Store struct {
	mu     sync.RWMutex
	path   string
	logger *zap.Logger
	snap   *Snapshot
}

func NewStore(path string, logger *zap.Logger) *Store {
	return &Store{path: path, logger: logger, snap: emptySnapshot()}
}

func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

type roleWhitelistFile struct {
	StaffRoles   []string `yaml:"guild_staff_roles"`
	TrustedRoles []string `yaml:"guild_trusted_roles"`
}

type userWhitelistFile struct {
	Users []string `yaml:"whitelisted_users"`
}

type blockedFormatsFile struct {
	// blocked_patterns is an ordered mapping, decoded via yaml.Node to keep
	// file order; map decoding would lose it.
	BlockedPatterns yaml.Node `yaml:"blocked_patterns"`
	BlockedDomains  []string  `yaml:"blocked_domains"`
}

// Load reads every rule file under the store path and swaps in a fresh
// snapshot. A file that fails to parse is skipped; the rest still load.
func (s *Store) Load() error {
	entries, err := os.ReadDir(s.path)
	if err != nil {
		return err
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" && ext != ".json" {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)

	snap := emptySnapshot()
	var roles roleWhitelistFile
	var users userWhitelistFile

	for _, file := range files {
		data, err := os.ReadFile(filepath.Join(s.path, file))
		if err != nil {
			s.logger.Warn("rule file unreadable", zap.String("file", file), zap.Error(err))
			continue
		}

		stem := strings.TrimSuffix(file, filepath.Ext(file))
		switch stem {
		case "RoleWhitelist":
			var parsed roleWhitelistFile
			if err := yaml.Unmarshal(data, &parsed); err != nil {
				s.logger.Warn("rule file skipped", zap.String("file", file), zap.Error(err))
				continue
			}
			roles = parsed
		case "UserWhitelist":
			var parsed userWhitelistFile
			if err := yaml.Unmarshal(data, &parsed); err != nil {
				s.logger.Warn("rule file skipped", zap.String("file", file), zap.Error(err))
				continue
			}
			users = parsed
		case "blockedFormats":
			var parsed blockedFormatsFile
			if err := yaml.Unmarshal(data, &parsed); err != nil {
				s.logger.Warn("rule file skipped", zap.String("file", file), zap.Error(err))
				continue
			}
			snap.Patterns = decodePatterns(parsed.BlockedPatterns, s.logger)
			for _, domain := range parsed.BlockedDomains {
				snap.BlockedDomains[strings.ToLower(domain)] = struct{}{}
			}
		default:
			s.logger.Debug("rule file ignored", zap.String("file", file))
		}
	}

	snap.Whitelist = NewWhitelist(roles.StaffRoles, roles.TrustedRoles, users.Users)

	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
	return nil
}

func decodePatterns(node yaml.Node, logger *zap.Logger) []Pattern {
	if node.Kind != yaml.MappingNode {
		return nil
	}
	patterns := make([]Pattern, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		var body struct {
			Regex string `yaml:"regex"`
		}
		if err := node.Content[i+1].Decode(&body); err != nil {
			logger.Warn("blocked pattern skipped", zap.String("name", name), zap.Error(err))
			continue
		}
		patterns = append(patterns, Pattern{Name: name, Regex: body.Regex})
	}
	return patterns
}

func lowerSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, value := range values {
		set[strings.ToLower(value)] = struct{}{}
	}
	return set
}
