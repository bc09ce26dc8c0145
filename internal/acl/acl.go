// Package acl decides whether a tenancy may see a cluster type, based on
// optional annotations carried by the type's backing resource.
package acl

import (
	"log/slog"
	"regexp"
	"strings"
)

// Annotation keys. All four are optional; absence of all of them means the
// item is visible to every tenancy.
const (
	AllowIDsAnnotation   = "portal.azimuth-cloud.io/allow-tenancy-ids"
	DenyIDsAnnotation    = "portal.azimuth-cloud.io/deny-tenancy-ids"
	AllowRegexAnnotation = "portal.azimuth-cloud.io/allow-tenancy-name-regex"
	DenyRegexAnnotation  = "portal.azimuth-cloud.io/deny-tenancy-name-regex"
)

// Allowed evaluates the annotation set against a tenancy, in priority order:
//
//  1. no ACL annotations at all: allow
//  2. deny-id list contains the tenancy id: deny, overriding everything
//  3. allow-id list, when present, tentatively allows only listed ids
//  4. deny-regex matching the tenancy name: deny, overriding allow outcomes
//  5. allow-regex, when present, tentatively allows only matching names
//  6. default: allow, unless an allow annotation was present and did not match
//
// Regexes match at the start of the name (prefix semantics, not full-string).
func Allowed(annotations map[string]string, tenancyID, tenancyName string) bool {
	allowIDs, hasAllowIDs := annotations[AllowIDsAnnotation]
	denyIDs, hasDenyIDs := annotations[DenyIDsAnnotation]
	allowRegex, hasAllowRegex := annotations[AllowRegexAnnotation]
	denyRegex, hasDenyRegex := annotations[DenyRegexAnnotation]

	if !hasAllowIDs && !hasDenyIDs && !hasAllowRegex && !hasDenyRegex {
		return true
	}

	if hasDenyIDs && containsID(denyIDs, tenancyID) {
		return false
	}

	tentativeAllow := false
	allowKeyPresent := false

	if hasAllowIDs {
		allowKeyPresent = true
		tentativeAllow = containsID(allowIDs, tenancyID)
	}

	if hasDenyRegex && prefixMatch(denyRegex, tenancyName) {
		return false
	}

	if hasAllowRegex {
		allowKeyPresent = true
		tentativeAllow = tentativeAllow || prefixMatch(allowRegex, tenancyName)
	}

	if !allowKeyPresent {
		// Only deny annotations were present and none matched.
		return true
	}
	return tentativeAllow
}

// containsID checks a comma-separated id list for an exact entry.
func containsID(list, id string) bool {
	for _, item := range strings.Split(list, ",") {
		if strings.TrimSpace(item) == id {
			return true
		}
	}
	return false
}

// prefixMatch anchors the pattern at the start of the name. An invalid
// pattern never matches; it is a configuration mistake on the backing
// resource, not a request error.
func prefixMatch(pattern, name string) bool {
	re, err := regexp.Compile("^(?:" + pattern + ")")
	if err != nil {
		slog.Warn("invalid tenancy ACL regex", "pattern", pattern, "error", err)
		return false
	}
	return re.MatchString(name)
}
