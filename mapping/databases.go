package mapping

import (
	"strings"

	"github.com/jinzhu/inflection"
)

// Collection naming rules
const (
	NamingNone   = "none"   // use names exactly as written
	NamingPlural = "plural" // lower-case and pluralize (user -> users)
)

// CollectionNamingRules lists the accepted naming rules.
var CollectionNamingRules = []string{NamingNone, NamingPlural}

// IsSupportedNaming checks if a naming rule is supported
func IsSupportedNaming(rule string) bool {
	for _, r := range CollectionNamingRules {
		if r == rule {
			return true
		}
	}
	return false
}

// CollectionName applies a naming rule to an entity name.
func CollectionName(entity string, rule string) string {
	if rule == NamingPlural {
		return inflection.Plural(strings.ToLower(entity))
	}
	return entity
}
